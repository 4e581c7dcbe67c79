// Package dateparse resolves date expressions in free text into normalized
// candidate dates with session-count semantics. Pattern families are tried
// in priority order (explicit ISO, month-day text, numeric dates, then
// weekday and relative expressions); relative expressions resolve against
// the supplied reference date, never against the model's notion of today.
// When no pattern matches, the completion gateway is consulted with the
// reference date stated explicitly, at a fixed confidence penalty.
package dateparse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eventd/internal/event"
	"github.com/fyrsmithlabs/eventd/internal/gateway"
)

// Confidence per resolution family. Completion-inferred dates take the
// standard completion confidence reduced by a fixed penalty.
const (
	confISO          = 0.95
	confMonthDayYear = 0.9
	confMonthDay     = 0.85
	confNumeric      = 0.85
	confRelative     = 0.75

	confCompletionBase = 0.7
	completionPenalty  = 0.2

	// CompletionConfidence is the confidence carried by any
	// completion-inferred candidate date, here and in the extractors.
	CompletionConfidence = confCompletionBase - completionPenalty
)

// Resolution is the outcome of resolving one input text.
type Resolution struct {
	// Dates is ordered by position of the matched substring in the input.
	Dates []event.CandidateDate
	// MultiSession is true when more than one distinct date resolved.
	MultiSession bool
	// Recurrence holds an RRULE descriptor when the text contained a
	// recurring-pattern phrase, for single and multi-session inputs alike.
	Recurrence string
}

// Resolver parses date expressions, falling back to the completion gateway
// for text no pattern family can handle.
type Resolver struct {
	completer gateway.Completer
	log       *zap.Logger
}

func NewResolver(completer gateway.Completer, log *zap.Logger) *Resolver {
	return &Resolver{completer: completer, log: log.Named("dateparse")}
}

var (
	isoRe = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})(?:[T ](\d{1,2}):(\d{2}))?`)

	monthDayRe = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)

	numericRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)

	relativeRe = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow)\b`)

	weekdayRe = regexp.MustCompile(`(?i)\b(next\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)

	meridiemRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*([ap])\.?m\.?\b`)
	clockRe    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

// match is one date-like token before conversion to a CandidateDate.
type match struct {
	when       time.Time
	resolved   bool
	hasTime    bool
	raw        string
	pos        int
	method     event.DateMethod
	confidence float64
}

// Resolve tokenizes the text for date-like substrings, resolves them
// against ref, and decides single vs multi-session. Recurrence phrases are
// detected first and removed from the text so their weekday names are not
// also counted as standalone dates.
func (r *Resolver) Resolve(ctx context.Context, text string, ref time.Time) Resolution {
	text = strings.TrimSpace(text)
	if text == "" {
		return Resolution{}
	}

	rule, anchor, work := detectRecurrence(text, ref)

	matches := explicitMatches(work, ref)
	matches = append(matches, relativeMatches(work, ref, matches)...)
	attachTimeOfDay(work, matches)

	if len(matches) == 0 && rule == "" {
		matches = r.completionMatches(ctx, text, ref)
	}

	if len(matches) == 0 && rule != "" {
		// A bare recurrence phrase anchors at its first occurrence.
		matches = append(matches, match{
			when:       anchor,
			resolved:   true,
			raw:        strings.TrimSpace(text[:min(len(text), 50)]),
			method:     event.DateRelativeExpression,
			confidence: confRelative,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })

	res := Resolution{Recurrence: rule}
	seen := make(map[time.Time]bool)
	distinct := 0
	for _, m := range matches {
		if !m.resolved {
			res.Dates = append(res.Dates, event.NewUnresolvedDate(m.raw, m.method, m.confidence))
			continue
		}
		if seen[m.when] {
			continue
		}
		seen[m.when] = true
		distinct++
		res.Dates = append(res.Dates, event.NewCandidateDate(m.when, m.raw, m.method, m.confidence))
	}
	res.MultiSession = distinct > 1

	return res
}

// explicitMatches collects the high-priority families: ISO, month-day
// text, and numeric month/day dates.
func explicitMatches(text string, ref time.Time) []match {
	var out []match

	for _, idx := range isoRe.FindAllStringSubmatchIndex(text, -1) {
		raw := text[idx[0]:idx[1]]
		year := atoiGroup(text, idx, 1)
		month := atoiGroup(text, idx, 2)
		day := atoiGroup(text, idx, 3)
		m := match{raw: raw, pos: idx[0], method: event.DateExplicitISO, confidence: confISO}
		hour, minute := 0, 0
		if idx[8] >= 0 {
			hour = atoiGroup(text, idx, 4)
			minute = atoiGroup(text, idx, 5)
			m.hasTime = true
		}
		when, ok := makeDate(year, month, day, hour, minute)
		if !ok {
			m.confidence -= completionPenalty
			out = append(out, m)
			continue
		}
		m.when = when
		m.resolved = true
		out = append(out, m)
	}

	for _, idx := range monthDayRe.FindAllStringSubmatchIndex(text, -1) {
		if insideAny(out, idx[0]) {
			continue
		}
		raw := text[idx[0]:idx[1]]
		monthName := strings.ToLower(text[idx[2]:idx[3]])
		month := months[monthName[:3]]
		day := atoiGroup(text, idx, 2)
		m := match{raw: raw, pos: idx[0], method: event.DateExplicitISO}
		year := 0
		if idx[6] >= 0 {
			year = atoiGroup(text, idx, 3)
			m.confidence = confMonthDayYear
		} else {
			year = inferYear(month, day, ref)
			m.confidence = confMonthDay
		}
		when, ok := makeDate(year, int(month), day, 0, 0)
		if !ok {
			m.confidence -= completionPenalty
			out = append(out, m)
			continue
		}
		m.when = when
		m.resolved = true
		out = append(out, m)
	}

	for _, idx := range numericRe.FindAllStringSubmatchIndex(text, -1) {
		if insideAny(out, idx[0]) {
			continue
		}
		raw := text[idx[0]:idx[1]]
		month := atoiGroup(text, idx, 1)
		day := atoiGroup(text, idx, 2)
		m := match{raw: raw, pos: idx[0], method: event.DateExplicitISO, confidence: confNumeric}
		year := 0
		if idx[6] >= 0 {
			year = atoiGroup(text, idx, 3)
			if year < 100 {
				year += 2000
			}
		} else {
			year = inferYear(time.Month(month), day, ref)
		}
		when, ok := makeDate(year, month, day, 0, 0)
		if !ok {
			m.confidence -= completionPenalty
			out = append(out, m)
			continue
		}
		m.when = when
		m.resolved = true
		out = append(out, m)
	}

	return out
}

// relativeMatches handles the lower-priority family: today, tonight,
// tomorrow, and weekday names. Explicit-date spans are blanked first so
// "tomorrow" alongside "June 24" still resolves. Weekday names are only
// consulted when no explicit family matched at all: a weekday next to an
// explicit date labels it ("Tuesday, June 24") and must not spawn a
// second candidate.
func relativeMatches(text string, ref time.Time, explicit []match) []match {
	blanked := []byte(text)
	for _, m := range explicit {
		for i := m.pos; i < m.pos+len(m.raw) && i < len(blanked); i++ {
			blanked[i] = ' '
		}
	}
	work := string(blanked)

	var out []match
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())

	for _, idx := range relativeRe.FindAllStringSubmatchIndex(work, -1) {
		raw := work[idx[0]:idx[1]]
		when := day
		if strings.EqualFold(raw, "tomorrow") {
			when = day.AddDate(0, 0, 1)
		}
		out = append(out, match{
			when:       when,
			resolved:   true,
			raw:        raw,
			pos:        idx[0],
			method:     event.DateRelativeExpression,
			confidence: confRelative,
		})
	}

	if len(explicit) > 0 {
		return out
	}

	for _, idx := range weekdayRe.FindAllStringSubmatchIndex(work, -1) {
		raw := work[idx[0]:idx[1]]
		forceNext := idx[2] >= 0
		wd := weekdays[strings.ToLower(work[idx[4]:idx[5]])]
		out = append(out, match{
			when:       nextWeekday(day, wd, forceNext),
			resolved:   true,
			raw:        raw,
			pos:        idx[0],
			method:     event.DateRelativeExpression,
			confidence: confRelative,
		})
	}

	return out
}

// attachTimeOfDay finds a bare time expression and applies it to every
// match that carries no time component of its own. The date-family spans
// are blanked first so an ISO timestamp's own clock digits are not read
// back as a separate time.
func attachTimeOfDay(text string, matches []match) {
	blanked := []byte(text)
	for _, m := range matches {
		for i := m.pos; i < m.pos+len(m.raw) && i < len(blanked); i++ {
			blanked[i] = ' '
		}
	}
	work := string(blanked)

	hour, minute, ok := parseMeridiem(work)
	if !ok {
		hour, minute, ok = parseClock(work)
	}
	if !ok {
		return
	}

	for i := range matches {
		if !matches[i].resolved || matches[i].hasTime {
			continue
		}
		w := matches[i].when
		matches[i].when = time.Date(w.Year(), w.Month(), w.Day(), hour, minute, 0, 0, w.Location())
		matches[i].hasTime = true
	}
}

func parseMeridiem(text string) (int, int, bool) {
	idx := meridiemRe.FindStringSubmatchIndex(text)
	if idx == nil {
		return 0, 0, false
	}
	hour := atoiGroup(text, idx, 1)
	minute := 0
	if idx[4] >= 0 {
		minute = atoiGroup(text, idx, 2)
	}
	if hour < 1 || hour > 12 || minute > 59 {
		return 0, 0, false
	}
	pm := strings.EqualFold(text[idx[6]:idx[7]], "p")
	if pm && hour < 12 {
		hour += 12
	}
	if !pm && hour == 12 {
		hour = 0
	}
	return hour, minute, true
}

func parseClock(text string) (int, int, bool) {
	idx := clockRe.FindStringSubmatchIndex(text)
	if idx == nil {
		return 0, 0, false
	}
	hour := atoiGroup(text, idx, 1)
	minute := atoiGroup(text, idx, 2)
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// completionMatches asks the gateway for dates when no pattern family
// produced any. The reference date is stated explicitly in the prompt so
// the model never falls back to an ambiguous "today". Gateway failure
// degrades to an empty result.
func (r *Resolver) completionMatches(ctx context.Context, text string, ref time.Time) []match {
	if r.completer == nil || !r.completer.Available() {
		return nil
	}

	prompt := fmt.Sprintf(
		"The current date is %s. Extract every event date mentioned in the text below, "+
			"resolving relative expressions against the current date. "+
			"Reply with only a JSON array of ISO 8601 timestamps (YYYY-MM-DDTHH:MM), or [] if none.\n\nText:\n%s",
		ref.Format("2006-01-02"), text)

	reply, err := r.completer.Complete(ctx, prompt, ref)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			r.log.Debug("completion date fallback unavailable", zap.Error(err))
		} else {
			r.log.Warn("completion date fallback failed", zap.Error(err))
		}
		return nil
	}

	var stamps []string
	if err := json.Unmarshal([]byte(gateway.StripFences(reply)), &stamps); err != nil {
		r.log.Warn("completion date reply not parseable", zap.String("reply", reply))
		return nil
	}

	var out []match
	for i, s := range stamps {
		when, ok := ParseStamp(s)
		if !ok {
			r.log.Debug("skipping malformed completion timestamp", zap.String("stamp", s))
			continue
		}
		out = append(out, match{
			when:       when,
			resolved:   true,
			hasTime:    true,
			raw:        s,
			pos:        i,
			method:     event.DateCompletionInferred,
			confidence: CompletionConfidence,
		})
	}
	return out
}

var stampLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseStamp parses one timestamp in any of the accepted ISO layouts.
func ParseStamp(s string) (time.Time, bool) {
	for _, layout := range stampLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// inferYear fills in a missing year from the reference date, rolling
// forward one year when the month/day has already passed. This keeps
// "June 25th" seen on 2025-06-01 in 2025 instead of drifting backward.
func inferYear(month time.Month, day int, ref time.Time) int {
	year := ref.Year()
	refDay := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	candidate := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if candidate.Before(refDay) {
		year++
	}
	return year
}

// makeDate validates calendar components. time.Date normalizes overflow
// (June 45 becomes July 15), so the result is compared back against the
// inputs to reject impossible dates.
func makeDate(year, month, day, hour, minute int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// nextWeekday returns the first occurrence of wd on or after day.
// forceNext ("next Tuesday") skips a same-day hit to the following week.
func nextWeekday(day time.Time, wd time.Weekday, forceNext bool) time.Time {
	days := (int(wd) - int(day.Weekday()) + 7) % 7
	if days == 0 && forceNext {
		days = 7
	}
	return day.AddDate(0, 0, days)
}

func insideAny(matches []match, pos int) bool {
	for _, m := range matches {
		if pos >= m.pos && pos < m.pos+len(m.raw) {
			return true
		}
	}
	return false
}

func atoiGroup(text string, idx []int, group int) int {
	start, end := idx[2*group], idx[2*group+1]
	if start < 0 {
		return 0
	}
	n, _ := strconv.Atoi(text[start:end])
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
