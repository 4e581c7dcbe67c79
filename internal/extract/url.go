package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eventd/internal/dateparse"
	"github.com/fyrsmithlabs/eventd/internal/event"
	"github.com/fyrsmithlabs/eventd/internal/fetch"
	"github.com/fyrsmithlabs/eventd/internal/gateway"
)

const (
	structuredConfidence = 0.9
	urlPatternConfidence = 0.7
	urlCompletionBase    = 0.6
	missingFieldPenalty  = 0.1
)

// URLExtractor extracts event fields from a fetched page: structured
// markup is authoritative, then regex over the visible text, then the
// completion gateway.
type URLExtractor struct {
	fetcher   fetch.Fetcher
	resolver  *dateparse.Resolver
	completer gateway.Completer
	ref       func() time.Time
	log       *zap.Logger
}

func NewURLExtractor(fetcher fetch.Fetcher, resolver *dateparse.Resolver, completer gateway.Completer, refDate func() time.Time, log *zap.Logger) *URLExtractor {
	if refDate == nil {
		refDate = time.Now
	}
	return &URLExtractor{
		fetcher:   fetcher,
		resolver:  resolver,
		completer: completer,
		ref:       refDate,
		log:       log.Named("extract.url"),
	}
}

func (u *URLExtractor) Extract(ctx context.Context, raw event.RawInput, cls event.ClassificationResult) event.ExtractionResult {
	if raw.Empty() {
		return event.Degraded(raw)
	}

	ref := u.ref()

	page, err := u.fetcher.Fetch(ctx, raw.Payload)
	if err != nil {
		u.log.Debug("fetch failed, falling back to completion", zap.Error(err))
		return u.completionTier(ctx, raw, raw.Payload, ref)
	}

	if res, ok := u.structuredTier(raw, page); ok {
		return res
	}

	if res, ok := u.patternTier(ctx, raw, page, ref); ok {
		return res
	}

	content := page.Content
	if content == "" {
		content = raw.Payload
	}
	return u.completionTier(ctx, raw, content, ref)
}

// jsonLDEvent is the subset of a schema.org Event this extractor reads.
type jsonLDEvent struct {
	Type        string          `json:"@type"`
	Name        string          `json:"name"`
	StartDate   string          `json:"startDate"`
	Description string          `json:"description"`
	Location    json.RawMessage `json:"location"`
	Graph       []jsonLDEvent   `json:"@graph"`
}

// structuredTier reads schema.org Event markup. It succeeds only when at
// least one Event node carries a name and a parseable startDate, which is
// what "internally consistent" means here.
func (u *URLExtractor) structuredTier(raw event.RawInput, page fetch.Page) (event.ExtractionResult, bool) {
	var events []jsonLDEvent
	for _, block := range page.JSONLD {
		events = append(events, decodeJSONLD([]byte(block))...)
	}
	if len(events) == 0 {
		return event.ExtractionResult{}, false
	}

	res := event.NewExtractionResult(raw, event.MethodStructured)
	seen := make(map[time.Time]bool)
	for _, ev := range events {
		when, ok := dateparse.ParseStamp(ev.StartDate)
		if !ok || seen[when] {
			continue
		}
		seen[when] = true
		res.Dates = append(res.Dates, event.NewCandidateDate(when, ev.StartDate, event.DateExplicitISO, confStructuredDate))

		if res.Title == "" {
			res.Title = strings.TrimSpace(ev.Name)
		}
		if res.Location == "" {
			res.Location = locationName(ev.Location)
		}
		if desc := strings.TrimSpace(ev.Description); desc != "" && res.Description == raw.Payload {
			res.Description = desc
		}
	}

	if res.Title == "" || len(res.Dates) == 0 {
		return event.ExtractionResult{}, false
	}

	res.Confidence = structuredConfidence
	res.MultiSession = len(res.Dates) > 1
	return res, true
}

const confStructuredDate = 0.95

// decodeJSONLD accepts a single node, an array of nodes, or an @graph
// wrapper, returning every Event-typed node found.
func decodeJSONLD(block []byte) []jsonLDEvent {
	var single jsonLDEvent
	if err := json.Unmarshal(block, &single); err == nil {
		return collectEvents(single)
	}

	var list []jsonLDEvent
	if err := json.Unmarshal(block, &list); err == nil {
		var out []jsonLDEvent
		for _, n := range list {
			out = append(out, collectEvents(n)...)
		}
		return out
	}

	return nil
}

func collectEvents(node jsonLDEvent) []jsonLDEvent {
	var out []jsonLDEvent
	if strings.Contains(node.Type, "Event") {
		out = append(out, node)
	}
	for _, g := range node.Graph {
		out = append(out, collectEvents(g)...)
	}
	return out
}

// locationName handles the two schema.org location shapes: a bare string
// or a Place node with a name.
func locationName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var place struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &place); err == nil {
		return strings.TrimSpace(place.Name)
	}
	return ""
}

// patternTier applies the free-text heuristics to the fetched page body.
// It succeeds only when at least one date resolves.
func (u *URLExtractor) patternTier(ctx context.Context, raw event.RawInput, page fetch.Page, ref time.Time) (event.ExtractionResult, bool) {
	if page.Content == "" {
		return event.ExtractionResult{}, false
	}

	resolution := u.resolver.Resolve(ctx, page.Content, ref)
	resolved := false
	for _, d := range resolution.Dates {
		if d.Resolved {
			resolved = true
			break
		}
	}
	if !resolved {
		return event.ExtractionResult{}, false
	}

	res := event.NewExtractionResult(raw, event.MethodPattern)
	res.Dates = resolution.Dates
	res.MultiSession = resolution.MultiSession
	res.Recurrence = resolution.Recurrence
	res.Title = strings.TrimSpace(page.Title)
	if res.Title == "" {
		res.Title = titleFromText(page.Content)
	}
	res.Location = locationFromText(page.Content)
	res.Confidence = urlPatternConfidence
	return res, true
}

// completionTier is the last resort: ask the gateway, then dock the base
// confidence for every required field (title, date, location) still null.
func (u *URLExtractor) completionTier(ctx context.Context, raw event.RawInput, content string, ref time.Time) event.ExtractionResult {
	if u.completer == nil || !u.completer.Available() {
		return event.Degraded(raw)
	}

	prompt := fmt.Sprintf(extractPromptTemplate, truncateForPrompt(content, maxPromptChars))
	reply, err := u.completer.Complete(ctx, prompt, ref)
	if err != nil {
		u.log.Debug("completion extraction unavailable", zap.Error(err))
		return event.Degraded(raw)
	}

	parsed, ok := parseCompletionReply(reply)
	if !ok {
		u.log.Warn("completion extraction reply not parseable")
		return event.Degraded(raw)
	}

	res := event.NewExtractionResult(raw, event.MethodCompletionFallback)
	res.Title = parsed.Title
	res.Location = parsed.Location
	res.Dates = completionDates(parsed.Dates)
	res.MultiSession = len(res.Dates) > 1
	if parsed.Description != "" {
		res.Description = parsed.Description
	}

	confidence := urlCompletionBase
	if res.Title == "" {
		confidence -= missingFieldPenalty
	}
	if len(res.Dates) == 0 {
		confidence -= missingFieldPenalty
	}
	if res.Location == "" {
		confidence -= missingFieldPenalty
	}
	res.Confidence = confidence
	return res
}

var _ Extractor = (*URLExtractor)(nil)
