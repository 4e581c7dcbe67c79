package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompleter(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantNoOp  bool
		wantError bool
	}{
		{
			name:     "empty provider yields noop",
			cfg:      Config{},
			wantNoOp: true,
		},
		{
			name:     "disabled provider yields noop",
			cfg:      Config{Provider: "disabled"},
			wantNoOp: true,
		},
		{
			name: "anthropic with key",
			cfg:  Config{Provider: "anthropic", APIKey: "test-key"},
		},
		{
			name:      "anthropic without key",
			cfg:       Config{Provider: "anthropic"},
			wantError: true,
		},
		{
			name: "openai with key",
			cfg:  Config{Provider: "openai", APIKey: "test-key"},
		},
		{
			name:      "openai without key",
			cfg:       Config{Provider: "openai"},
			wantError: true,
		},
		{
			name:      "unknown provider",
			cfg:       Config{Provider: "bedrock"},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCompleter(tt.cfg)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNoOp {
				assert.IsType(t, &NoOpCompleter{}, c)
				assert.False(t, c.Available())
			} else {
				assert.True(t, c.Available())
			}
		})
	}
}

func TestNoOpCompleterReturnsUnavailable(t *testing.T) {
	c := &NoOpCompleter{}
	_, err := c.Complete(context.Background(), "anything", time.Now())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestReferencePreamble(t *testing.T) {
	ref := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	got := referencePreamble("extract the date", ref)
	assert.Contains(t, got, "Current date: 2025-06-01 (Sunday).")
	assert.Contains(t, got, "extract the date")
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain json", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFences(tt.input))
		})
	}
}

func TestStaticCompleterRecordsPrompts(t *testing.T) {
	s := &StaticCompleter{Reply: "ok"}
	ref := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := s.Complete(context.Background(), "first", ref)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	require.Len(t, s.Prompts, 1)
	assert.Equal(t, "first", s.Prompts[0])
	assert.Equal(t, ref, s.Refs[0])
}

func TestAnthropicCompleterSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","content":[{"type":"text","text":"hello"}]}`))
	}))
	defer server.Close()

	c, err := newAnthropicCompleter(Config{
		Provider: "anthropic",
		APIKey:   "test-key",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)

	got, err := c.Complete(context.Background(), "say hello", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestAnthropicCompleterRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"id":"msg_1","content":[{"type":"text","text":"recovered"}]}`))
	}))
	defer server.Close()

	c, err := newAnthropicCompleter(Config{
		Provider: "anthropic",
		APIKey:   "test-key",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)

	got, err := c.Complete(context.Background(), "prompt", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAnthropicCompleterBadRequestIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad prompt"}}`))
	}))
	defer server.Close()

	c, err := newAnthropicCompleter(Config{
		Provider: "anthropic",
		APIKey:   "test-key",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "prompt", time.Now())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "bad prompt")
}

func TestOpenAICompleterSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Write([]byte(`{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	c, err := newOpenAICompleter(Config{
		Provider: "openai",
		APIKey:   "test-key",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)

	got, err := c.Complete(context.Background(), "say hi", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(&retryableError{err: errors.New("boom")}))
	assert.False(t, isRetryableError(errors.New("boom")))
}
