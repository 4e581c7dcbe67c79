package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eventd/internal/classify"
	"github.com/fyrsmithlabs/eventd/internal/dateparse"
	"github.com/fyrsmithlabs/eventd/internal/event"
	"github.com/fyrsmithlabs/eventd/internal/extract"
	"github.com/fyrsmithlabs/eventd/internal/fetch"
	"github.com/fyrsmithlabs/eventd/internal/pipeline"
	"github.com/fyrsmithlabs/eventd/internal/route"
	"github.com/fyrsmithlabs/eventd/internal/store"
)

type failingFetcher struct{}

func (failingFetcher) Fetch(_ context.Context, _ string) (fetch.Page, error) {
	return fetch.Page{}, fetch.ErrFetchFailed
}

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := &Config{
			Host: "localhost",
			Port: 8085,
		}

		server, err := NewServer(testProcessor(t), testClassifier(), zap.NewNop(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, server)
		assert.NotNil(t, server.echo)
		assert.Equal(t, cfg, server.config)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(testProcessor(t), testClassifier(), zap.NewNop(), nil)
		require.NoError(t, err)
		assert.NotNil(t, server)
		assert.Equal(t, "127.0.0.1", server.config.Host)
		assert.Equal(t, 8085, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(testProcessor(t), testClassifier(), nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when processor is nil", func(t *testing.T) {
		_, err := NewServer(nil, testClassifier(), zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "processor cannot be nil")
	})

	t.Run("returns error when classifier is nil", func(t *testing.T) {
		_, err := NewServer(testProcessor(t), nil, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "classifier cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.Unmarshal(rec.Body.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleIngest(t *testing.T) {
	t.Run("processes a multi-date announcement", func(t *testing.T) {
		server := setupTestServer(t)

		resp := postIngest(t, server, IngestRequest{
			Payload: "Workshop June 24, June 26, and June 28 at 2PM",
			Source:  "chat",
		}, http.StatusOK)

		assert.NotEmpty(t, resp.RunID)
		assert.Equal(t, string(event.CategoryText), resp.Category)
		require.Len(t, resp.Records, 3)
		for i, r := range resp.Records {
			assert.Equal(t, i+1, r.SessionIndex)
			assert.Equal(t, 3, r.TotalSessions)
			assert.Equal(t, resp.Records[0].SeriesID, r.SeriesID)
			require.NotNil(t, r.Date)
		}
		assert.Equal(t, string(route.NeedsReview), resp.Decision.Outcome)
		assert.True(t, resp.Persisted)
	})

	t.Run("rejects without persisting when confidence collapses", func(t *testing.T) {
		server := setupTestServer(t)

		resp := postIngest(t, server, IngestRequest{Payload: "zzz", Source: "chat"}, http.StatusOK)

		assert.Equal(t, string(route.Reject), resp.Decision.Outcome)
		assert.NotEmpty(t, resp.Decision.Reason)
		assert.False(t, resp.Persisted)
	})

	t.Run("defaults the source tag", func(t *testing.T) {
		server := setupTestServer(t)

		resp := postIngest(t, server, IngestRequest{Payload: "Concert on June 25th at City Hall tonight."}, http.StatusOK)

		for _, r := range resp.Records {
			assert.Equal(t, "api", r.Source)
		}
	})

	t.Run("handles empty payload field", func(t *testing.T) {
		server := setupTestServer(t)

		body, err := json.Marshal(IngestRequest{Payload: ""})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp map[string]interface{}
		err = json.Unmarshal(rec.Body.Bytes(), &resp)
		require.NoError(t, err)
		assert.Contains(t, resp["message"], "payload field is required")
	})

	t.Run("handles invalid json", func(t *testing.T) {
		server := setupTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewReader([]byte("invalid json")))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleClassify(t *testing.T) {
	t.Run("classifies a url payload", func(t *testing.T) {
		server := setupTestServer(t)

		body, err := json.Marshal(ClassifyRequest{Payload: "https://example.com/events/1"})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/classify", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp ClassifyResponse
		err = json.Unmarshal(rec.Body.Bytes(), &resp)
		require.NoError(t, err)
		assert.Equal(t, string(event.CategoryURL), resp.Category)
		assert.Equal(t, 0.95, resp.Confidence)
	})

	t.Run("empty payload classifies as unknown", func(t *testing.T) {
		server := setupTestServer(t)

		body, err := json.Marshal(ClassifyRequest{Payload: ""})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/classify", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp ClassifyResponse
		err = json.Unmarshal(rec.Body.Bytes(), &resp)
		require.NoError(t, err)
		assert.Equal(t, string(event.CategoryUnknown), resp.Category)
		assert.Equal(t, 0.0, resp.Confidence)
	})
}

func TestServerLifecycle(t *testing.T) {
	t.Run("starts and shuts down gracefully", func(t *testing.T) {
		cfg := &Config{
			Host: "localhost",
			Port: 0, // Use random available port
		}

		server, err := NewServer(testProcessor(t), testClassifier(), zap.NewNop(), cfg)
		require.NoError(t, err)

		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Start()
		}()

		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err = server.Shutdown(ctx)
		assert.NoError(t, err)

		select {
		case err := <-errChan:
			assert.True(t, err == nil || err == http.ErrServerClosed)
		case <-time.After(6 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		server := setupTestServer(t)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		server.echo.ServeHTTP(rec, req)

		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		server := setupTestServer(t)

		server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		rec := httptest.NewRecorder()

		assert.NotPanics(t, func() {
			server.echo.ServeHTTP(rec, req)
		})

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func postIngest(t *testing.T, server *Server, req IngestRequest, wantStatus int) IngestResponse {
	t.Helper()

	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewReader(body))
	httpReq.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	server.echo.ServeHTTP(rec, httpReq)
	require.Equal(t, wantStatus, rec.Code, rec.Body.String())

	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// testProcessor wires the full pipeline against a dry-run store with the
// language gateway disabled.
func testProcessor(t *testing.T) Processor {
	t.Helper()

	log := zap.NewNop()
	ref := func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	resolver := dateparse.NewResolver(nil, log)

	return pipeline.New(pipeline.Options{
		Classifier: classify.New(nil, log),
		Text:       extract.NewTextExtractor(resolver, nil, ref, log),
		URL:        extract.NewURLExtractor(failingFetcher{}, resolver, nil, ref, log),
		Router:     route.New(route.DefaultThresholds()),
		Store:      store.NewDryRunStore(),
	}, log)
}

func testClassifier() Classifier {
	return classify.New(nil, zap.NewNop())
}

// setupTestServer creates a test server with default configuration.
func setupTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &Config{
		Host: "localhost",
		Port: 8085,
	}

	server, err := NewServer(testProcessor(t), testClassifier(), zap.NewNop(), cfg)
	require.NoError(t, err)

	return server
}
