// Package event defines the data model shared by the ingestion pipeline:
// raw inputs, classification results, candidate dates, extraction results,
// and the EventRecord handed to the persistence layer. The types are tagged
// variants with explicit constructors so that confidence propagation and
// session-count invariants are enforced by construction rather than by
// convention.
package event

import (
	"strings"
	"time"
)

// Category is the input category assigned by the classifier.
type Category string

const (
	CategoryURL     Category = "url"
	CategoryText    Category = "text"
	CategoryImage   Category = "image"
	CategoryUnknown Category = "unknown"
)

// Tier records which classifier stage produced a result.
type Tier string

const (
	TierPattern    Tier = "pattern"
	TierHeuristic  Tier = "heuristic"
	TierCompletion Tier = "completion"
)

// Method tags how an extraction result was produced.
type Method string

const (
	MethodStructured         Method = "structured-data"
	MethodPattern            Method = "pattern"
	MethodCompletionFallback Method = "completion-fallback"
)

// DateMethod tags how a candidate date was resolved.
type DateMethod string

const (
	DateExplicitISO        DateMethod = "explicit-iso"
	DateRelativeExpression DateMethod = "relative-expression"
	DateCompletionInferred DateMethod = "completion-inferred"
)

// RawInput is an opaque input payload plus a source tag. Image bytes are
// converted to text by the OCR collaborator before entering the pipeline,
// so the payload here is always text or a URL string. Immutable once
// received.
type RawInput struct {
	Payload string
	Source  string
}

// NewRawInput trims the payload and applies a default source tag.
func NewRawInput(payload, source string) RawInput {
	if source == "" {
		source = "unknown"
	}
	return RawInput{Payload: strings.TrimSpace(payload), Source: source}
}

// Empty reports whether the input carries no usable payload.
func (r RawInput) Empty() bool {
	return strings.TrimSpace(r.Payload) == ""
}

// ClassificationResult is produced once per RawInput and never mutated.
type ClassificationResult struct {
	Category   Category
	Confidence float64
	Tier       Tier
}

// NewClassification clamps confidence into [0,1].
func NewClassification(cat Category, confidence float64, tier Tier) ClassificationResult {
	return ClassificationResult{
		Category:   cat,
		Confidence: clamp01(confidence),
		Tier:       tier,
	}
}

// CandidateDate is one parsed point in time, the raw substring it came
// from, and the method that resolved it. An unresolved candidate keeps its
// raw text and a penalized confidence instead of being dropped.
type CandidateDate struct {
	When       time.Time
	Resolved   bool
	Raw        string
	Method     DateMethod
	Confidence float64
}

// NewCandidateDate builds a resolved candidate.
func NewCandidateDate(when time.Time, raw string, method DateMethod, confidence float64) CandidateDate {
	return CandidateDate{
		When:       when,
		Resolved:   true,
		Raw:        raw,
		Method:     method,
		Confidence: clamp01(confidence),
	}
}

// NewUnresolvedDate keeps an irreconcilable date token with a penalized
// confidence.
func NewUnresolvedDate(raw string, method DateMethod, confidence float64) CandidateDate {
	return CandidateDate{
		Resolved:   false,
		Raw:        raw,
		Method:     method,
		Confidence: clamp01(confidence),
	}
}

// ExtractionResult is owned exclusively by the pipeline run that created
// it. Description is always populated, falling back to the raw input.
type ExtractionResult struct {
	Title        string
	Dates        []CandidateDate
	Location     string
	Description  string
	Confidence   float64
	Method       Method
	MultiSession bool
	// Recurrence is an opaque machine-parsable recurrence rule (RRULE
	// text) when the input described a recurring pattern.
	Recurrence string
}

// NewExtractionResult enforces the always-populated description invariant.
func NewExtractionResult(raw RawInput, method Method) ExtractionResult {
	return ExtractionResult{
		Description: raw.Payload,
		Method:      method,
	}
}

// Degraded returns a terminal low-quality extraction for malformed or
// empty input. Confidence 0.0 routes to reject downstream.
func Degraded(raw RawInput) ExtractionResult {
	return ExtractionResult{
		Description: raw.Payload,
		Confidence:  0,
		Method:      MethodPattern,
	}
}

// SeriesMetadata links one record to its series. A single-occurrence event
// has TotalSessions 1 and needs no series identifier.
type SeriesMetadata struct {
	SeriesID      string
	SessionIndex  int
	TotalSessions int
	Recurrence    string
}

// EventRecord is the unit handed to the persistence collaborator.
type EventRecord struct {
	Title       string
	Date        time.Time
	DateKnown   bool
	Location    string
	Description string
	Category    Category
	Source      string
	Confidence  float64
	Series      SeriesMetadata
}

const fallbackTitleLen = 50

// FallbackTitle builds a deterministic title when extraction found none.
func FallbackTitle(cat Category, raw RawInput) string {
	switch cat {
	case CategoryURL:
		return "URL: " + truncate(raw.Payload, fallbackTitleLen)
	case CategoryImage:
		return "Image from " + raw.Source
	case CategoryText:
		return truncate(raw.Payload, fallbackTitleLen)
	default:
		return capitalizeFirst(string(cat)) + " from " + raw.Source
	}
}

// NewEventRecord applies the non-null title and description invariants.
func NewEventRecord(raw RawInput, cls ClassificationResult, ext ExtractionResult, series SeriesMetadata) EventRecord {
	title := ext.Title
	if title == "" {
		title = FallbackTitle(cls.Category, raw)
	}
	desc := ext.Description
	if desc == "" {
		desc = raw.Payload
	}
	if series.TotalSessions < 1 {
		series.TotalSessions = 1
	}
	if series.SessionIndex < 1 {
		series.SessionIndex = 1
	}
	return EventRecord{
		Title:       title,
		Location:    ext.Location,
		Description: desc,
		Category:    cls.Category,
		Source:      raw.Source,
		Confidence:  ext.Confidence,
		Series:      series,
	}
}

func capitalizeFirst(s string) string {
	if len(s) == 0 {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
