// Package pipeline wires the stages into a single-pass computation:
// classify, extract, link, route, persist. Each run owns its results
// exclusively; independent inputs may be processed concurrently.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eventd/internal/classify"
	"github.com/fyrsmithlabs/eventd/internal/event"
	"github.com/fyrsmithlabs/eventd/internal/extract"
	"github.com/fyrsmithlabs/eventd/internal/gateway"
	"github.com/fyrsmithlabs/eventd/internal/route"
	"github.com/fyrsmithlabs/eventd/internal/series"
	"github.com/fyrsmithlabs/eventd/internal/store"
)

// Outcome is everything one run produced, for callers and for tests.
type Outcome struct {
	RunID          string
	Classification event.ClassificationResult
	Extraction     event.ExtractionResult
	Records        []event.EventRecord
	Decision       route.Decision
	Persisted      bool
}

// Pipeline holds the wired stages. Construct once, share across runs.
type Pipeline struct {
	classifier *classify.Classifier
	text       *extract.TextExtractor
	url        *extract.URLExtractor
	router     *route.Router
	store      store.Store
	ocr        gateway.OCR
	metrics    *pipelineMetrics
	log        *zap.Logger
}

// Options are the pipeline's collaborators. OCR may be nil when image
// input is not supported by the deployment.
type Options struct {
	Classifier *classify.Classifier
	Text       *extract.TextExtractor
	URL        *extract.URLExtractor
	Router     *route.Router
	Store      store.Store
	OCR        gateway.OCR
}

func New(opts Options, log *zap.Logger) *Pipeline {
	log = log.Named("pipeline")
	return &Pipeline{
		classifier: opts.Classifier,
		text:       opts.Text,
		url:        opts.URL,
		router:     opts.Router,
		store:      opts.Store,
		ocr:        opts.OCR,
		metrics:    newPipelineMetrics(log),
		log:        log,
	}
}

// Process runs one input through every stage. Degraded conditions (empty
// input, gateway down) come back as low-confidence rejections, not errors;
// the returned error covers persistence failures only.
func (p *Pipeline) Process(ctx context.Context, raw event.RawInput) (Outcome, error) {
	out := Outcome{RunID: uuid.NewString()}

	out.Classification = p.classifier.Classify(ctx, raw)
	out.Extraction = p.extract(ctx, raw, out.Classification)
	out.Records = series.Link(raw, out.Classification, out.Extraction)
	out.Decision = p.router.Route(out.Classification, out.Extraction)

	if out.Decision.Outcome != route.Reject {
		if err := p.store.Save(ctx, out.Records, out.Decision); err != nil {
			return out, fmt.Errorf("persisting records: %w", err)
		}
		out.Persisted = true
	}

	p.metrics.observe(ctx, out)
	p.log.Info("processed input",
		zap.String("run_id", out.RunID),
		zap.String("source", raw.Source),
		zap.String("category", string(out.Classification.Category)),
		zap.String("tier", string(out.Classification.Tier)),
		zap.Int("records", len(out.Records)),
		zap.Float64("aggregate", out.Decision.Aggregate),
		zap.String("decision", string(out.Decision.Outcome)),
	)
	return out, nil
}

// Classify runs only the classification stage, sharing the pipeline's
// gateway client so a classify-only caller draws on the same rate limit.
func (p *Pipeline) Classify(ctx context.Context, raw event.RawInput) event.ClassificationResult {
	return p.classifier.Classify(ctx, raw)
}

// ProcessImage runs OCR and feeds the text through Process. The
// classification is forced to the image category so records carry it.
func (p *Pipeline) ProcessImage(ctx context.Context, image []byte, source string) (Outcome, error) {
	text := ""
	if p.ocr == nil {
		p.log.Warn("image input received with no ocr collaborator configured")
	} else if ocrText, err := p.ocr.ExtractText(ctx, image); err != nil {
		p.log.Warn("ocr failed", zap.Error(err))
	} else {
		text = ocrText
	}

	raw := event.NewRawInput(text, source)
	cls := event.NewClassification(event.CategoryImage, classify.ImageConfidence(raw), event.TierPattern)

	out := Outcome{RunID: uuid.NewString(), Classification: cls}
	out.Extraction = p.extractText(ctx, raw, cls)
	out.Records = series.Link(raw, cls, out.Extraction)
	out.Decision = p.router.Route(cls, out.Extraction)

	if out.Decision.Outcome != route.Reject {
		if err := p.store.Save(ctx, out.Records, out.Decision); err != nil {
			return out, fmt.Errorf("persisting records: %w", err)
		}
		out.Persisted = true
	}

	p.metrics.observe(ctx, out)
	return out, nil
}

// extract dispatches to the category's extractor. Unknown input never
// reaches an extractor; it degrades straight to confidence 0.0.
func (p *Pipeline) extract(ctx context.Context, raw event.RawInput, cls event.ClassificationResult) event.ExtractionResult {
	switch cls.Category {
	case event.CategoryURL:
		return p.url.Extract(ctx, raw, cls)
	case event.CategoryText, event.CategoryImage:
		return p.extractText(ctx, raw, cls)
	default:
		return event.Degraded(raw)
	}
}

func (p *Pipeline) extractText(ctx context.Context, raw event.RawInput, cls event.ClassificationResult) event.ExtractionResult {
	return p.text.Extract(ctx, raw, cls)
}
