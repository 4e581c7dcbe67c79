// Package series links one extraction result with 0..N candidate dates
// into finished event records. Multi-date inputs become one record per
// distinct date sharing a deterministic series identifier; single-date and
// dateless inputs become exactly one record.
package series

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/eventd/internal/event"
)

// seriesIDLen is the hex length of a series identifier. Collisions across
// unrelated inputs are best effort, not globally unique.
const seriesIDLen = 16

// sessionMarkerRe detects titles that already distinguish sessions, so
// the linker does not stack a second marker on them.
var sessionMarkerRe = regexp.MustCompile(`(?i)\b(?:session|part|day|week)\s*#?\d+`)

// Link produces the final records for one pipeline run. The candidate
// dates come from the extraction result; only resolved candidates spawn
// sessions, and identical timestamps collapse into one.
func Link(raw event.RawInput, cls event.ClassificationResult, ext event.ExtractionResult) []event.EventRecord {
	resolved := distinctResolved(ext.Dates)

	if len(resolved) <= 1 {
		record := event.NewEventRecord(raw, cls, ext, event.SeriesMetadata{
			SessionIndex:  1,
			TotalSessions: 1,
			Recurrence:    ext.Recurrence,
		})
		if len(resolved) == 1 {
			record.Date = resolved[0].When
			record.DateKnown = true
		}
		return []event.EventRecord{record}
	}

	total := len(resolved)
	id := SeriesID(effectiveTitle(raw, cls, ext), raw.Source, resolved[0].When)
	markTitles := !sessionMarkerRe.MatchString(ext.Title)

	records := make([]event.EventRecord, 0, total)
	for i, d := range resolved {
		record := event.NewEventRecord(raw, cls, ext, event.SeriesMetadata{
			SeriesID:      id,
			SessionIndex:  i + 1,
			TotalSessions: total,
			Recurrence:    ext.Recurrence,
		})
		record.Date = d.When
		record.DateKnown = true
		if markTitles {
			record.Title = fmt.Sprintf("%s (Session %d of %d)", record.Title, i+1, total)
		}
		records = append(records, record)
	}
	return records
}

// distinctResolved filters to resolved candidates, deduplicates identical
// timestamps, and sorts chronologically so session indices follow date
// order.
func distinctResolved(dates []event.CandidateDate) []event.CandidateDate {
	seen := make(map[int64]bool)
	var out []event.CandidateDate
	for _, d := range dates {
		if !d.Resolved {
			continue
		}
		key := d.When.UnixNano()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].When.Before(out[j].When) })
	return out
}

// SeriesID derives the stable identifier shared by every session of one
// series: a hash of the normalized title, the source tag, and the earliest
// session date. Identical input on an identical reference date always
// produces the same identifier.
func SeriesID(title, source string, earliest time.Time) string {
	normalized := normalizeTitle(title)
	sum := sha256.Sum256([]byte(normalized + "|" + source + "|" + earliest.Format("2006-01-02T15:04")))
	return hex.EncodeToString(sum[:])[:seriesIDLen]
}

func effectiveTitle(raw event.RawInput, cls event.ClassificationResult, ext event.ExtractionResult) string {
	if ext.Title != "" {
		return ext.Title
	}
	return event.FallbackTitle(cls.Category, raw)
}

// normalizeTitle lowercases and collapses whitespace so cosmetic title
// differences do not change series identity.
func normalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
