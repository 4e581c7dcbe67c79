// Package gateway holds the narrow external capability interfaces the
// pipeline depends on: the text-completion gateway and the OCR
// collaborator. Concrete completion clients for Anthropic and OpenAI live
// here; the pipeline itself only sees the Completer interface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnavailable marks gateway failures (unreachable, timeout, exhausted
// retries). Callers degrade to their lowest-confidence fallback path
// instead of propagating it; it is distinct from an empty or low-quality
// success.
var ErrUnavailable = errors.New("completion gateway unavailable")

// Completer generates a text completion for a prompt. The reference date
// is injected into every prompt so relative-date resolution never depends
// on the model's internal notion of "today".
type Completer interface {
	Complete(ctx context.Context, prompt string, ref time.Time) (string, error)

	// Available reports whether the completer is configured and ready.
	Available() bool
}

// OCR extracts text from image bytes. Implemented by an external
// collaborator; the output is fed into the text extractor unchanged.
type OCR interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// Config holds provider-specific completion settings.
type Config struct {
	Provider  string `koanf:"provider"` // "disabled", "anthropic", "openai"
	Model     string `koanf:"model"`
	APIKey    string `koanf:"api_key"`
	BaseURL   string `koanf:"base_url"`
	MaxTokens int    `koanf:"max_tokens"`
	Timeout   int    `koanf:"timeout"` // seconds
}

// NewCompleter creates a completion client based on configuration. A
// disabled or empty provider yields a NoOpCompleter, which reports
// unavailable and makes every completion-tier caller take its degraded
// path.
func NewCompleter(cfg Config) (Completer, error) {
	switch cfg.Provider {
	case "", "disabled":
		return &NoOpCompleter{}, nil
	case "anthropic":
		return newAnthropicCompleter(cfg)
	case "openai":
		return newOpenAICompleter(cfg)
	default:
		return nil, fmt.Errorf("unknown completion provider: %s", cfg.Provider)
	}
}

// NoOpCompleter is used when no provider is configured.
type NoOpCompleter struct{}

func (n *NoOpCompleter) Complete(ctx context.Context, prompt string, ref time.Time) (string, error) {
	return "", ErrUnavailable
}

func (n *NoOpCompleter) Available() bool { return false }

// referencePreamble prepends the explicit current-date context required by
// every prompt that could involve relative dates.
func referencePreamble(prompt string, ref time.Time) string {
	return fmt.Sprintf("Current date: %s (%s).\n\n%s",
		ref.Format("2006-01-02"), ref.Weekday(), prompt)
}

// StripFences removes markdown code fences that models sometimes wrap
// around JSON replies.
func StripFences(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// Ensure interfaces are implemented.
var _ Completer = (*NoOpCompleter)(nil)
