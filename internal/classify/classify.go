// Package classify assigns an input category (url, text, image, unknown)
// with a confidence score. Three tiers run in strict order, short-circuiting
// on the first confident hit: deterministic patterns, lightweight
// heuristics, then the completion gateway. Each tier is an explicit
// strategy so thresholds and tie-breaks stay unit-testable in isolation.
package classify

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eventd/internal/event"
	"github.com/fyrsmithlabs/eventd/internal/gateway"
)

const (
	patternConfidence    = 0.95
	heuristicFloor       = 0.5
	heuristicCeiling     = 0.85
	completionConfidence = 0.7
)

// strategy inspects the input and either produces a classification or
// signals that the next tier should run.
type strategy interface {
	Classify(ctx context.Context, raw event.RawInput) (event.ClassificationResult, bool)
}

// Classifier runs the tier list in order.
type Classifier struct {
	strategies []strategy
	log        *zap.Logger
}

// New builds the standard three-tier classifier. A nil or unavailable
// completer leaves the completion tier degrading to unknown.
func New(completer gateway.Completer, log *zap.Logger) *Classifier {
	log = log.Named("classify")
	return &Classifier{
		strategies: []strategy{
			&patternStrategy{},
			&heuristicStrategy{},
			&completionStrategy{completer: completer, log: log},
		},
		log: log,
	}
}

// Classify returns the first tier's confident answer. Empty input and a
// full fall-through both yield unknown at confidence 0.0, which the router
// rejects downstream. Gateway failure never surfaces as an error.
func (c *Classifier) Classify(ctx context.Context, raw event.RawInput) event.ClassificationResult {
	if raw.Empty() {
		return event.NewClassification(event.CategoryUnknown, 0.0, event.TierPattern)
	}

	for _, s := range c.strategies {
		if result, ok := s.Classify(ctx, raw); ok {
			c.log.Debug("classified input",
				zap.String("category", string(result.Category)),
				zap.String("tier", string(result.Tier)),
				zap.Float64("confidence", result.Confidence))
			return result
		}
	}

	return event.NewClassification(event.CategoryUnknown, 0.0, event.TierCompletion)
}

// ImageConfidence scores an input already known to be an image (the
// caller received image bytes). The category is certain; the confidence
// reflects whether OCR produced any text to work with.
func ImageConfidence(raw event.RawInput) float64 {
	if raw.Empty() {
		return 0.0
	}
	return patternConfidence
}

// patternStrategy handles the unambiguous shapes: the whole trimmed input
// is a single well-formed URL, or it is clearly prose.
type patternStrategy struct{}

var urlShapeRe = regexp.MustCompile(`^https?://\S+$`)

func (p *patternStrategy) Classify(_ context.Context, raw event.RawInput) (event.ClassificationResult, bool) {
	payload := raw.Payload

	if urlShapeRe.MatchString(payload) {
		if u, err := url.Parse(payload); err == nil && u.Host != "" {
			return event.NewClassification(event.CategoryURL, patternConfidence, event.TierPattern), true
		}
	}

	// Multi-sentence prose with no embedded URL is unambiguously text.
	if !strings.Contains(payload, "://") && strings.Count(payload, " ") >= 4 {
		return event.NewClassification(event.CategoryText, patternConfidence, event.TierPattern), true
	}

	return event.ClassificationResult{}, false
}

// heuristicStrategy scores short or mixed inputs on length, punctuation
// density, and keyword presence. Scores below the floor fall through to
// the completion tier.
type heuristicStrategy struct{}

var eventKeywords = []string{
	"event", "show", "concert", "workshop", "class", "meeting",
	"festival", "party", "session", "tonight", "tomorrow", "pm", "am",
}

func (h *heuristicStrategy) Classify(_ context.Context, raw event.RawInput) (event.ClassificationResult, bool) {
	payload := raw.Payload
	lower := strings.ToLower(payload)

	if strings.Contains(payload, "://") {
		// Prose wrapping a link still reads as text when the link is a
		// small part of it; a link plus a few words reads as URL intent.
		score := heuristicFloor
		if len(payload) < 120 {
			score += 0.2
		}
		if strings.Count(payload, " ") <= 6 {
			score += 0.15
		}
		if score > heuristicCeiling {
			score = heuristicCeiling
		}
		if score >= heuristicFloor {
			return event.NewClassification(event.CategoryURL, score, event.TierHeuristic), true
		}
	}

	hits := 0
	for _, kw := range eventKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}

	score := 0.0
	if len(payload) >= 10 {
		score += 0.45
	}
	if strings.ContainsAny(payload, ".,!?:") {
		score += 0.1
	}
	score += float64(hits) * 0.1
	if score > heuristicCeiling {
		score = heuristicCeiling
	}

	if score >= heuristicFloor {
		return event.NewClassification(event.CategoryText, score, event.TierHeuristic), true
	}

	return event.ClassificationResult{}, false
}

// completionStrategy asks the gateway to pick a category. It always
// resolves: a successful reply maps at fixed confidence, any failure
// degrades to unknown at 0.0.
type completionStrategy struct {
	completer gateway.Completer
	log       *zap.Logger
}

const classifyPrompt = `Classify the following input as exactly one of: url, text, image.
Reply with only the single category word.

Input:
%s`

func (c *completionStrategy) Classify(ctx context.Context, raw event.RawInput) (event.ClassificationResult, bool) {
	if c.completer == nil || !c.completer.Available() {
		return event.NewClassification(event.CategoryUnknown, 0.0, event.TierCompletion), true
	}

	reply, err := c.completer.Complete(ctx, fmt.Sprintf(classifyPrompt, raw.Payload), time.Now())
	if err != nil {
		c.log.Debug("completion classification unavailable", zap.Error(err))
		return event.NewClassification(event.CategoryUnknown, 0.0, event.TierCompletion), true
	}

	switch strings.ToLower(strings.TrimSpace(gateway.StripFences(reply))) {
	case "url":
		return event.NewClassification(event.CategoryURL, completionConfidence, event.TierCompletion), true
	case "text":
		return event.NewClassification(event.CategoryText, completionConfidence, event.TierCompletion), true
	case "image":
		return event.NewClassification(event.CategoryImage, completionConfidence, event.TierCompletion), true
	default:
		return event.NewClassification(event.CategoryUnknown, 0.0, event.TierCompletion), true
	}
}

// Compile-time interface checks.
var (
	_ strategy = (*patternStrategy)(nil)
	_ strategy = (*heuristicStrategy)(nil)
	_ strategy = (*completionStrategy)(nil)
)
