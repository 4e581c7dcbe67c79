// Package route is the pipeline's final gate. It reduces every confidence
// signal from one run to its minimum and maps that aggregate onto a
// routing decision: persist automatically, queue for review, or reject
// with a reason naming the weakest stage.
package route

import (
	"fmt"

	"github.com/fyrsmithlabs/eventd/internal/event"
)

// Outcome is the routing decision for one pipeline run.
type Outcome string

const (
	AutoPersist Outcome = "auto_persist"
	NeedsReview Outcome = "needs_review"
	Reject      Outcome = "reject"
)

// Thresholds are the tunable decision boundaries. Both bounds are
// inclusive on their upper side: an aggregate of exactly AutoPersist
// persists, exactly Review goes to review.
type Thresholds struct {
	AutoPersist float64 `koanf:"auto_persist"`
	Review      float64 `koanf:"review"`
}

// DefaultThresholds returns the standard boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoPersist: 0.85, Review: 0.4}
}

// Validate rejects inverted or out-of-range boundaries.
func (t Thresholds) Validate() error {
	if t.AutoPersist <= 0 || t.AutoPersist > 1 {
		return fmt.Errorf("auto_persist threshold %v outside (0,1]", t.AutoPersist)
	}
	if t.Review < 0 || t.Review >= t.AutoPersist {
		return fmt.Errorf("review threshold %v must be in [0, auto_persist)", t.Review)
	}
	return nil
}

// Decision is the router's output. Reason is populated for rejections so
// they are observable, never silently dropped.
type Decision struct {
	Outcome   Outcome
	Aggregate float64
	Reason    string
}

// Router applies thresholds to aggregated confidence.
type Router struct {
	thresholds Thresholds
}

func New(thresholds Thresholds) *Router {
	return &Router{thresholds: thresholds}
}

// signal is one confidence contribution with a human-readable label.
type signal struct {
	label      string
	confidence float64
}

// Route aggregates the run's confidence signals and applies the
// thresholds. The aggregate is the minimum of classification confidence,
// extraction confidence, and every candidate date's confidence; a later
// stage can lower the aggregate but never raise it.
func (r *Router) Route(cls event.ClassificationResult, ext event.ExtractionResult) Decision {
	signals := []signal{
		{
			label:      fmt.Sprintf("classification (tier %s)", cls.Tier),
			confidence: cls.Confidence,
		},
		{
			label:      fmt.Sprintf("extraction (method %s)", ext.Method),
			confidence: ext.Confidence,
		},
	}
	for _, d := range ext.Dates {
		signals = append(signals, signal{
			label:      fmt.Sprintf("date resolution (%q, method %s)", d.Raw, d.Method),
			confidence: d.Confidence,
		})
	}

	lowest := signals[0]
	for _, s := range signals[1:] {
		if s.confidence < lowest.confidence {
			lowest = s
		}
	}

	decision := Decision{Aggregate: lowest.confidence}
	switch {
	case lowest.confidence >= r.thresholds.AutoPersist:
		decision.Outcome = AutoPersist
	case lowest.confidence >= r.thresholds.Review:
		decision.Outcome = NeedsReview
	default:
		decision.Outcome = Reject
		decision.Reason = fmt.Sprintf("confidence %.4f below %.2f at %s",
			lowest.confidence, r.thresholds.Review, lowest.label)
	}
	return decision
}
