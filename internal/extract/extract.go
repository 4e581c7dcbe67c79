// Package extract turns classified raw input into structured event fields.
// Each input category has its own extractor: URL extraction walks
// structured markup, then regex over fetched content, then the completion
// gateway; text extraction runs pattern heuristics and merges in completion
// fields only when pattern confidence is low. Extraction never errors on
// bad input, it returns a zero-confidence result for the router to reject.
package extract

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/fyrsmithlabs/eventd/internal/dateparse"
	"github.com/fyrsmithlabs/eventd/internal/event"
	"github.com/fyrsmithlabs/eventd/internal/gateway"
)

// Extractor produces an ExtractionResult for one category of input.
type Extractor interface {
	Extract(ctx context.Context, raw event.RawInput, cls event.ClassificationResult) event.ExtractionResult
}

// completionReply is the JSON shape every extraction prompt asks the
// gateway to produce.
type completionReply struct {
	Title       string   `json:"title"`
	Dates       []string `json:"dates"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
}

const extractPromptTemplate = `Extract event details from the content below.
Reply with only a JSON object: {"title": string, "dates": [ISO 8601 timestamps], "location": string, "description": string}.
Use empty strings and an empty array for anything the content does not state.

Content:
%s`

// parseCompletionReply decodes a gateway extraction reply, tolerating
// markdown fences. Malformed replies return ok=false.
func parseCompletionReply(reply string) (completionReply, bool) {
	var out completionReply
	if err := json.Unmarshal([]byte(gateway.StripFences(reply)), &out); err != nil {
		return completionReply{}, false
	}
	out.Title = strings.TrimSpace(out.Title)
	out.Location = strings.TrimSpace(out.Location)
	out.Description = strings.TrimSpace(out.Description)
	return out, true
}

// completionDates converts reply timestamps into candidate dates, skipping
// anything unparseable. The reference date is applied upstream via the
// prompt, so stamps arrive absolute.
func completionDates(stamps []string) []event.CandidateDate {
	var out []event.CandidateDate
	seen := make(map[time.Time]bool)
	for _, s := range stamps {
		when, ok := dateparse.ParseStamp(s)
		if !ok || seen[when] {
			continue
		}
		seen[when] = true
		out = append(out, event.NewCandidateDate(when, s, event.DateCompletionInferred, dateparse.CompletionConfidence))
	}
	return out
}

// truncateForPrompt caps content fed to the gateway.
func truncateForPrompt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
