package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eventd/internal/dateparse"
	"github.com/fyrsmithlabs/eventd/internal/event"
	"github.com/fyrsmithlabs/eventd/internal/gateway"
)

const (
	// Pattern-derived confidence: a base for having any signal at all,
	// plus a share per populated field (title, date, location).
	textBaseConfidence  = 0.3
	textFieldConfidence = 0.15

	// Below this the completion gateway is consulted and merged.
	textCompletionCutoff = 0.6
	mergedConfidence     = 0.7

	maxTitleLen    = 80
	maxPromptChars = 4000
)

// locationRe captures a capitalized phrase after a location preposition.
// Case-sensitive on the first capture letter so "at 2PM" does not read as
// a venue.
var locationRe = regexp.MustCompile(`\b(?:[Aa]t|[Ii]n|@) +([A-Z][A-Za-z0-9'&.-]*(?: +[A-Z][A-Za-z0-9'&.-]*){0,4})`)

// TextExtractor runs pattern heuristics over free text, merging in
// completion-sourced fields only when pattern confidence is low.
type TextExtractor struct {
	resolver  *dateparse.Resolver
	completer gateway.Completer
	ref       func() time.Time
	log       *zap.Logger
}

// NewTextExtractor builds the free-text extractor. refDate supplies the
// reference date for relative-date resolution; pass nil to use the wall
// clock.
func NewTextExtractor(resolver *dateparse.Resolver, completer gateway.Completer, refDate func() time.Time, log *zap.Logger) *TextExtractor {
	if refDate == nil {
		refDate = time.Now
	}
	return &TextExtractor{
		resolver:  resolver,
		completer: completer,
		ref:       refDate,
		log:       log.Named("extract.text"),
	}
}

func (t *TextExtractor) Extract(ctx context.Context, raw event.RawInput, cls event.ClassificationResult) event.ExtractionResult {
	if raw.Empty() {
		return event.Degraded(raw)
	}

	ref := t.ref()
	res := event.NewExtractionResult(raw, event.MethodPattern)

	resolution := t.resolver.Resolve(ctx, raw.Payload, ref)
	res.Dates = resolution.Dates
	res.MultiSession = resolution.MultiSession
	res.Recurrence = resolution.Recurrence

	res.Title = titleFromText(raw.Payload)
	res.Location = locationFromText(raw.Payload)
	res.Confidence = patternConfidence(res)

	if res.Confidence >= textCompletionCutoff {
		return res
	}

	merged, ok := t.mergeCompletion(ctx, raw.Payload, ref, res)
	if !ok {
		// Gateway unavailable: the pattern result stands on its own.
		return res
	}
	return merged
}

// mergeCompletion asks the gateway for the full field set and fills only
// the holes the pattern pass left. Pattern-sourced fields always win.
func (t *TextExtractor) mergeCompletion(ctx context.Context, text string, ref time.Time, pattern event.ExtractionResult) (event.ExtractionResult, bool) {
	if t.completer == nil || !t.completer.Available() {
		return event.ExtractionResult{}, false
	}

	prompt := fmt.Sprintf(extractPromptTemplate, truncateForPrompt(text, maxPromptChars))
	reply, err := t.completer.Complete(ctx, prompt, ref)
	if err != nil {
		t.log.Debug("completion merge unavailable", zap.Error(err))
		return event.ExtractionResult{}, false
	}

	parsed, ok := parseCompletionReply(reply)
	if !ok {
		t.log.Warn("completion merge reply not parseable")
		return event.ExtractionResult{}, false
	}

	merged := pattern
	contributed := false
	if merged.Title == "" && parsed.Title != "" {
		merged.Title = parsed.Title
		contributed = true
	}
	if merged.Location == "" && parsed.Location != "" {
		merged.Location = parsed.Location
		contributed = true
	}
	if len(merged.Dates) == 0 {
		if dates := completionDates(parsed.Dates); len(dates) > 0 {
			merged.Dates = dates
			merged.MultiSession = len(dates) > 1
			contributed = true
		}
	}
	if parsed.Description != "" {
		merged.Description = parsed.Description
	}

	if contributed {
		merged.Method = event.MethodCompletionFallback
		merged.Confidence = mergedConfidence
	}
	return merged, true
}

// patternConfidence scores a pattern-pass result by how many of the three
// key fields it populated with at least one resolved date counting for the
// date field.
func patternConfidence(res event.ExtractionResult) float64 {
	fields := 0
	if res.Title != "" {
		fields++
	}
	if res.Location != "" {
		fields++
	}
	for _, d := range res.Dates {
		if d.Resolved {
			fields++
			break
		}
	}
	if fields == 0 {
		return 0.0
	}
	return textBaseConfidence + textFieldConfidence*float64(fields)
}

// titleFromText takes the first non-empty line, capped.
func titleFromText(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > maxTitleLen {
			return strings.TrimSpace(string(runes[:maxTitleLen]))
		}
		return line
	}
	return ""
}

// Capitalized words after "in"/"at" that are dates, not venues.
var notVenues = map[string]bool{
	"january": true, "february": true, "march": true, "april": true,
	"may": true, "june": true, "july": true, "august": true,
	"september": true, "october": true, "november": true, "december": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true,
}

func locationFromText(text string) string {
	for _, m := range locationRe.FindAllStringSubmatch(text, -1) {
		candidate := strings.TrimSpace(m[1])
		first := strings.ToLower(strings.Fields(candidate)[0])
		if notVenues[first] {
			continue
		}
		return candidate
	}
	return ""
}

var _ Extractor = (*TextExtractor)(nil)
