// Package server provides the HTTP ingestion API for eventd.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eventd/internal/event"
	"github.com/fyrsmithlabs/eventd/internal/pipeline"
)

// Processor runs one raw input through the full pipeline.
type Processor interface {
	Process(ctx context.Context, raw event.RawInput) (pipeline.Outcome, error)
}

// Classifier assigns a category without running extraction.
type Classifier interface {
	Classify(ctx context.Context, raw event.RawInput) event.ClassificationResult
}

// Server provides HTTP endpoints for eventd.
type Server struct {
	echo       *echo.Echo
	processor  Processor
	classifier Classifier
	logger     *zap.Logger
	config     *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(processor Processor, classifier Classifier, logger *zap.Logger, cfg *Config) (*Server, error) {
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}
	if classifier == nil {
		return nil, fmt.Errorf("classifier cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 8085,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:       e,
		processor:  processor,
		classifier: classifier,
		logger:     logger,
		config:     cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/ingest", s.handleIngest)
	v1.POST("/classify", s.handleClassify)
}

// IngestRequest is the request body for POST /api/v1/ingest.
type IngestRequest struct {
	Payload string `json:"payload"`
	Source  string `json:"source"`
}

// RecordPayload is the wire shape of one finished event record.
type RecordPayload struct {
	Title         string     `json:"title"`
	Date          *time.Time `json:"date,omitempty"`
	Location      string     `json:"location,omitempty"`
	Description   string     `json:"description,omitempty"`
	Category      string     `json:"category"`
	Source        string     `json:"source"`
	Confidence    float64    `json:"confidence"`
	SeriesID      string     `json:"series_id,omitempty"`
	SessionIndex  int        `json:"session_index"`
	TotalSessions int        `json:"total_sessions"`
	Recurrence    string     `json:"recurrence,omitempty"`
}

// DecisionPayload is the wire shape of a routing decision.
type DecisionPayload struct {
	Outcome   string  `json:"outcome"`
	Aggregate float64 `json:"aggregate"`
	Reason    string  `json:"reason,omitempty"`
}

// IngestResponse is the response body for POST /api/v1/ingest.
type IngestResponse struct {
	RunID     string          `json:"run_id"`
	Category  string          `json:"category"`
	Tier      string          `json:"tier"`
	Records   []RecordPayload `json:"records"`
	Decision  DecisionPayload `json:"decision"`
	Persisted bool            `json:"persisted"`
}

// ClassifyRequest is the request body for POST /api/v1/classify.
type ClassifyRequest struct {
	Payload string `json:"payload"`
	Source  string `json:"source"`
}

// ClassifyResponse is the response body for POST /api/v1/classify.
type ClassifyResponse struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Tier       string  `json:"tier"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleIngest runs the payload through classification, extraction, and
// routing, persisting the resulting records when the decision allows.
func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Payload == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "payload field is required")
	}
	if req.Source == "" {
		req.Source = "api"
	}

	out, err := s.processor.Process(c.Request().Context(), event.NewRawInput(req.Payload, req.Source))
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "processing failed")
	}

	return c.JSON(http.StatusOK, buildIngestResponse(out))
}

// handleClassify assigns a category to the payload without extracting.
func (s *Server) handleClassify(c echo.Context) error {
	var req ClassifyRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid classify request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Source == "" {
		req.Source = "api"
	}

	cls := s.classifier.Classify(c.Request().Context(), event.NewRawInput(req.Payload, req.Source))

	return c.JSON(http.StatusOK, ClassifyResponse{
		Category:   string(cls.Category),
		Confidence: cls.Confidence,
		Tier:       string(cls.Tier),
	})
}

func buildIngestResponse(out pipeline.Outcome) IngestResponse {
	records := make([]RecordPayload, 0, len(out.Records))
	for _, r := range out.Records {
		p := RecordPayload{
			Title:         r.Title,
			Location:      r.Location,
			Description:   r.Description,
			Category:      string(r.Category),
			Source:        r.Source,
			Confidence:    r.Confidence,
			SeriesID:      r.Series.SeriesID,
			SessionIndex:  r.Series.SessionIndex,
			TotalSessions: r.Series.TotalSessions,
			Recurrence:    r.Series.Recurrence,
		}
		if r.DateKnown {
			d := r.Date
			p.Date = &d
		}
		records = append(records, p)
	}

	return IngestResponse{
		RunID:    out.RunID,
		Category: string(out.Classification.Category),
		Tier:     string(out.Classification.Tier),
		Records:  records,
		Decision: DecisionPayload{
			Outcome:   string(out.Decision.Outcome),
			Aggregate: out.Decision.Aggregate,
			Reason:    out.Decision.Reason,
		},
		Persisted: out.Persisted,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
