package dateparse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eventd/internal/event"
	"github.com/fyrsmithlabs/eventd/internal/gateway"
)

func newTestResolver(c gateway.Completer) *Resolver {
	return NewResolver(c, zap.NewNop())
}

func TestResolveISO(t *testing.T) {
	r := newTestResolver(nil)
	ref := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	res := r.Resolve(context.Background(), "Concert on 2025-06-24T19:30 at the hall", ref)

	require.Len(t, res.Dates, 1)
	d := res.Dates[0]
	assert.True(t, d.Resolved)
	assert.Equal(t, time.Date(2025, 6, 24, 19, 30, 0, 0, time.UTC), d.When)
	assert.Equal(t, event.DateExplicitISO, d.Method)
	assert.Equal(t, confISO, d.Confidence)
	assert.False(t, res.MultiSession)
}

func TestResolveMonthDayInfersReferenceYear(t *testing.T) {
	r := newTestResolver(nil)
	ref := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	res := r.Resolve(context.Background(), "event on June 25th", ref)

	require.Len(t, res.Dates, 1)
	assert.Equal(t, 2025, res.Dates[0].When.Year())
	assert.Equal(t, time.June, res.Dates[0].When.Month())
	assert.Equal(t, 25, res.Dates[0].When.Day())
}

func TestResolveMonthDayRollsForwardPastDates(t *testing.T) {
	r := newTestResolver(nil)
	ref := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	res := r.Resolve(context.Background(), "gala on January 5", ref)

	require.Len(t, res.Dates, 1)
	assert.Equal(t, 2026, res.Dates[0].When.Year())
}

func TestResolveMultiDateSharedTime(t *testing.T) {
	r := newTestResolver(nil)
	ref := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	res := r.Resolve(context.Background(), "Workshop June 24, June 26, and June 28 at 2PM", ref)

	require.Len(t, res.Dates, 3)
	assert.True(t, res.MultiSession)
	want := []time.Time{
		time.Date(2025, 6, 24, 14, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 26, 14, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 28, 14, 0, 0, 0, time.UTC),
	}
	for i, d := range res.Dates {
		assert.True(t, d.Resolved)
		assert.Equal(t, want[i], d.When)
	}
}

func TestResolveDeduplicatesIdenticalTimestamps(t *testing.T) {
	r := newTestResolver(nil)
	ref := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	res := r.Resolve(context.Background(), "June 24 and 6/24 again", ref)

	require.Len(t, res.Dates, 1)
	assert.False(t, res.MultiSession)
}

func TestResolveRelativeExpressions(t *testing.T) {
	// 2025-06-01 is a Sunday.
	ref := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	r := newTestResolver(nil)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"today", "meeting today", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"tomorrow", "meeting tomorrow", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)},
		{"weekday on or after", "open mic Tuesday", time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)},
		{"same weekday stays", "brunch Sunday", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"next forces following week", "brunch next Sunday", time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)},
		{"tonight with time", "show tonight at 7pm", time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(context.Background(), tt.input, ref)
			require.Len(t, res.Dates, 1)
			assert.True(t, res.Dates[0].Resolved)
			assert.Equal(t, tt.want, res.Dates[0].When)
			assert.Equal(t, event.DateRelativeExpression, res.Dates[0].Method)
		})
	}
}

func TestResolveExplicitDateSuppressesWeekdayLabel(t *testing.T) {
	r := newTestResolver(nil)
	ref := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// June 24 2025 is a Tuesday; the weekday label must not become a
	// second candidate.
	res := r.Resolve(context.Background(), "Tuesday, June 24 at 6pm", ref)

	require.Len(t, res.Dates, 1)
	assert.Equal(t, time.Date(2025, 6, 24, 18, 0, 0, 0, time.UTC), res.Dates[0].When)
	assert.False(t, res.MultiSession)
}

func TestResolveExplicitAndRelativeDatesCombine(t *testing.T) {
	r := newTestResolver(nil)
	ref := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	res := r.Resolve(context.Background(), "Dinner June 24 and tomorrow at 7pm", ref)

	require.Len(t, res.Dates, 2)
	assert.True(t, res.MultiSession)
	assert.Equal(t, time.Date(2025, 6, 24, 19, 0, 0, 0, time.UTC), res.Dates[0].When)
	assert.Equal(t, event.DateExplicitISO, res.Dates[0].Method)
	assert.Equal(t, time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC), res.Dates[1].When)
	assert.Equal(t, event.DateRelativeExpression, res.Dates[1].Method)
}

func TestResolveRecurrencePhrase(t *testing.T) {
	r := newTestResolver(nil)
	// Sunday.
	ref := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	res := r.Resolve(context.Background(), "Trivia night every Tuesday", ref)

	assert.Contains(t, res.Recurrence, "FREQ=WEEKLY")
	assert.Contains(t, res.Recurrence, "BYDAY=TU")
	assert.False(t, res.MultiSession)
	require.Len(t, res.Dates, 1)
	assert.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), res.Dates[0].When)
}

func TestResolveMixedRecurrenceAndExplicitDates(t *testing.T) {
	r := newTestResolver(nil)
	ref := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	res := r.Resolve(context.Background(), "Class every Monday: June 2 and June 9", ref)

	assert.Contains(t, res.Recurrence, "FREQ=WEEKLY")
	assert.True(t, res.MultiSession)
	require.Len(t, res.Dates, 2)
}

func TestResolveCompletionFallback(t *testing.T) {
	stub := &gateway.StaticCompleter{Reply: `["2025-07-04T18:00"]`}
	r := newTestResolver(stub)
	ref := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	res := r.Resolve(context.Background(), "the annual fireworks thing downtown", ref)

	require.Len(t, res.Dates, 1)
	d := res.Dates[0]
	assert.Equal(t, event.DateCompletionInferred, d.Method)
	assert.Equal(t, time.Date(2025, 7, 4, 18, 0, 0, 0, time.UTC), d.When)
	assert.InDelta(t, confCompletionBase-completionPenalty, d.Confidence, 1e-9)

	require.Len(t, stub.Prompts, 1)
	assert.Contains(t, stub.Prompts[0], "current date is 2025-06-01")
}

func TestResolveCompletionNotCalledWhenPatternsMatch(t *testing.T) {
	stub := &gateway.StaticCompleter{Reply: `["2020-01-01T00:00"]`}
	r := newTestResolver(stub)
	ref := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	res := r.Resolve(context.Background(), "party on June 25th", ref)

	require.Len(t, res.Dates, 1)
	assert.Equal(t, event.DateExplicitISO, res.Dates[0].Method)
	assert.Empty(t, stub.Prompts)
}

func TestResolveGatewayFailureDegrades(t *testing.T) {
	stub := &gateway.StaticCompleter{Err: gateway.ErrUnavailable}
	r := newTestResolver(stub)
	ref := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	res := r.Resolve(context.Background(), "no dates in here", ref)

	assert.Empty(t, res.Dates)
	assert.False(t, res.MultiSession)
}

func TestResolveEmptyInput(t *testing.T) {
	r := newTestResolver(nil)
	res := r.Resolve(context.Background(), "   ", time.Now())
	assert.Empty(t, res.Dates)
	assert.False(t, res.MultiSession)
}

func TestResolveImpossibleDateIsPenalizedNotDropped(t *testing.T) {
	r := newTestResolver(nil)
	ref := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	res := r.Resolve(context.Background(), "deadline 2025-02-30", ref)

	require.Len(t, res.Dates, 1)
	assert.False(t, res.Dates[0].Resolved)
	assert.InDelta(t, confISO-completionPenalty, res.Dates[0].Confidence, 1e-9)
}

func TestInferYear(t *testing.T) {
	ref := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 2025, inferYear(time.June, 25, ref))
	assert.Equal(t, 2025, inferYear(time.June, 1, ref))
	assert.Equal(t, 2026, inferYear(time.May, 31, ref))
}
