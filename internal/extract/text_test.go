package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eventd/internal/dateparse"
	"github.com/fyrsmithlabs/eventd/internal/event"
	"github.com/fyrsmithlabs/eventd/internal/gateway"
)

var testRef = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func refDate() time.Time { return testRef }

func newTextExtractor(c gateway.Completer) *TextExtractor {
	log := zap.NewNop()
	return NewTextExtractor(dateparse.NewResolver(c, log), c, refDate, log)
}

func TestTextExtractPatternFields(t *testing.T) {
	e := newTextExtractor(nil)
	raw := event.NewRawInput("Jazz Night at The Blue Room\nJune 25th, 8pm. Free entry.", "test")

	got := e.Extract(context.Background(), raw, event.ClassificationResult{Category: event.CategoryText})

	assert.Equal(t, "Jazz Night at The Blue Room", got.Title)
	assert.Equal(t, "The Blue Room", got.Location)
	require.Len(t, got.Dates, 1)
	assert.Equal(t, time.Date(2025, 6, 25, 20, 0, 0, 0, time.UTC), got.Dates[0].When)
	assert.Equal(t, event.MethodPattern, got.Method)
	assert.InDelta(t, textBaseConfidence+3*textFieldConfidence, got.Confidence, 1e-9)
	assert.False(t, got.MultiSession)
}

func TestTextExtractDescriptionAlwaysPopulated(t *testing.T) {
	e := newTextExtractor(nil)
	raw := event.NewRawInput("Lecture June 25", "test")

	got := e.Extract(context.Background(), raw, event.ClassificationResult{Category: event.CategoryText})

	assert.Equal(t, raw.Payload, got.Description)
}

func TestTextExtractEmptyInput(t *testing.T) {
	e := newTextExtractor(nil)

	got := e.Extract(context.Background(), event.NewRawInput("", "test"), event.ClassificationResult{})

	assert.Equal(t, 0.0, got.Confidence)
	assert.Empty(t, got.Dates)
}

func TestTextExtractCompletionMergePrefersPatternFields(t *testing.T) {
	stub := &gateway.StaticCompleter{
		Reply: `{"title":"Completion Title","dates":["2025-07-01T10:00"],"location":"Completion Hall","description":"A talk."}`,
	}
	e := newTextExtractor(stub)
	// Title resolves by pattern; date and location do not. One field at
	// confidence 0.45 triggers the merge.
	raw := event.NewRawInput("somethinghappening soon", "test")

	got := e.Extract(context.Background(), raw, event.ClassificationResult{Category: event.CategoryText})

	assert.Equal(t, "somethinghappening soon", got.Title)
	assert.Equal(t, "Completion Hall", got.Location)
	require.Len(t, got.Dates, 1)
	assert.Equal(t, event.DateCompletionInferred, got.Dates[0].Method)
	assert.Equal(t, event.MethodCompletionFallback, got.Method)
	assert.Equal(t, mergedConfidence, got.Confidence)
}

func TestTextExtractNoMergeWhenConfident(t *testing.T) {
	stub := &gateway.StaticCompleter{Reply: `{"title":"x","dates":[],"location":"","description":""}`}
	e := newTextExtractor(stub)
	raw := event.NewRawInput("Jazz Night at The Blue Room\nJune 25th, 8pm.", "test")

	got := e.Extract(context.Background(), raw, event.ClassificationResult{Category: event.CategoryText})

	assert.Equal(t, event.MethodPattern, got.Method)
	assert.NotContains(t, stub.Prompts, got.Description)
	// The resolver never needed the gateway either.
	assert.Empty(t, stub.Prompts)
}

func TestTextExtractGatewayFailureKeepsPatternResult(t *testing.T) {
	stub := &gateway.StaticCompleter{Err: gateway.ErrUnavailable}
	e := newTextExtractor(stub)
	raw := event.NewRawInput("somethingvague", "test")

	got := e.Extract(context.Background(), raw, event.ClassificationResult{Category: event.CategoryText})

	assert.Equal(t, event.MethodPattern, got.Method)
	assert.Less(t, got.Confidence, textCompletionCutoff)
}

func TestLocationFromText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"venue after at", "concert at Riverside Park tonight", "Riverside Park"},
		{"venue after in", "meetup in Downtown Library", "Downtown Library"},
		{"time is not a venue", "show at 2PM", ""},
		{"month is not a venue", "festival in June downtown", ""},
		{"no location", "just some words", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, locationFromText(tt.input))
		})
	}
}

func TestTitleFromText(t *testing.T) {
	assert.Equal(t, "First line", titleFromText("\n\nFirst line\nsecond"))
	assert.Equal(t, "", titleFromText("   \n  "))

	long := make([]rune, 120)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, titleFromText(string(long)), maxTitleLen)
}
