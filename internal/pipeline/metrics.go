package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/eventd/internal/pipeline"

// pipelineMetrics counts processed inputs, classifier tier hits, routing
// decisions, and emitted records.
type pipelineMetrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	processed metric.Int64Counter
	tierHits  metric.Int64Counter
	decisions metric.Int64Counter
	records   metric.Int64Counter
}

func newPipelineMetrics(logger *zap.Logger) *pipelineMetrics {
	m := &pipelineMetrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *pipelineMetrics) init() {
	var err error

	m.processed, err = m.meter.Int64Counter(
		"eventd.pipeline.processed_total",
		metric.WithDescription("Total inputs processed, labeled by classified category."),
		metric.WithUnit("{input}"),
	)
	if err != nil {
		m.logger.Warn("failed to create processed counter", zap.Error(err))
	}

	m.tierHits, err = m.meter.Int64Counter(
		"eventd.pipeline.classifier_tier_hits_total",
		metric.WithDescription("Classifier answers by tier (pattern, heuristic, completion)."),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		m.logger.Warn("failed to create tier hits counter", zap.Error(err))
	}

	m.decisions, err = m.meter.Int64Counter(
		"eventd.pipeline.decisions_total",
		metric.WithDescription("Routing decisions by outcome (auto_persist, needs_review, reject)."),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		m.logger.Warn("failed to create decisions counter", zap.Error(err))
	}

	m.records, err = m.meter.Int64Counter(
		"eventd.pipeline.records_total",
		metric.WithDescription("Event records emitted, labeled by multi_session."),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		m.logger.Warn("failed to create records counter", zap.Error(err))
	}
}

func (m *pipelineMetrics) observe(ctx context.Context, out Outcome) {
	if m.processed != nil {
		m.processed.Add(ctx, 1, metric.WithAttributes(
			attribute.String("category", string(out.Classification.Category)),
		))
	}
	if m.tierHits != nil {
		m.tierHits.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tier", string(out.Classification.Tier)),
		))
	}
	if m.decisions != nil {
		m.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(out.Decision.Outcome)),
		))
	}
	if m.records != nil {
		m.records.Add(ctx, int64(len(out.Records)), metric.WithAttributes(
			attribute.Bool("multi_session", out.Extraction.MultiSession),
		))
	}
}
