package dateparse

import (
	"regexp"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var (
	everyWeekdayRe = regexp.MustCompile(`(?i)\bevery\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)s?\b`)
	everyPeriodRe  = regexp.MustCompile(`(?i)\b(?:every\s+(day|week|month)|(daily|weekly|monthly))\b`)
)

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// detectRecurrence looks for a recurring-pattern phrase ("every Tuesday",
// "weekly"). It returns the RRULE descriptor, the first occurrence on or
// after ref to anchor a session when no explicit date accompanies the
// phrase, and the text with the phrase blanked out so its weekday name is
// not also tokenized as a standalone date.
func detectRecurrence(text string, ref time.Time) (string, time.Time, string) {
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())

	if idx := everyWeekdayRe.FindStringSubmatchIndex(text); idx != nil {
		name := strings.ToLower(text[idx[2]:idx[3]])
		wd := weekdays[name]
		anchor := nextWeekday(day, wd, false)
		opt := rrule.ROption{
			Freq:      rrule.WEEKLY,
			Byweekday: []rrule.Weekday{rruleWeekdays[wd]},
			Dtstart:   anchor,
		}
		return opt.RRuleString(), anchor, blank(text, idx[0], idx[1])
	}

	if idx := everyPeriodRe.FindStringSubmatchIndex(text); idx != nil {
		word := ""
		if idx[2] >= 0 {
			word = strings.ToLower(text[idx[2]:idx[3]])
		} else {
			word = strings.ToLower(text[idx[4]:idx[5]])
		}
		freq := rrule.WEEKLY
		switch word {
		case "day", "daily":
			freq = rrule.DAILY
		case "month", "monthly":
			freq = rrule.MONTHLY
		}
		opt := rrule.ROption{Freq: freq, Dtstart: day}
		return opt.RRuleString(), day, blank(text, idx[0], idx[1])
	}

	return "", day, text
}

// blank replaces text[start:end] with spaces, preserving the positions of
// everything around it.
func blank(text string, start, end int) string {
	b := []byte(text)
	for i := start; i < end && i < len(b); i++ {
		b[i] = ' '
	}
	return string(b)
}
