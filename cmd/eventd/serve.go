package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eventd/internal/config"
	"github.com/fyrsmithlabs/eventd/internal/logging"
	"github.com/fyrsmithlabs/eventd/internal/server"
	"github.com/fyrsmithlabs/eventd/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP ingestion server",
	Long: `Start the eventd HTTP server.

Endpoints:
  POST /api/v1/ingest    run a payload through the full pipeline
  POST /api/v1/classify  classify a payload without extracting
  GET  /health           health check

Examples:
  # Start with defaults (127.0.0.1:8085, sqlite store, gateway disabled)
  eventd serve

  # Start with a config file
  eventd serve --config eventd.yaml

  # Configure via environment
  EVENTD_SERVER_PORT=9000 EVENTD_GATEWAY_PROVIDER=anthropic eventd serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logging.Sync(log)

	log.Info("starting eventd",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("gateway_provider", cfg.Gateway.Provider),
		zap.String("store_driver", cfg.Store.Driver))

	tel, err := telemetry.New(cmd.Context(), &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if terr := tel.Shutdown(context.Background()); terr != nil {
			log.Warn("telemetry shutdown", zap.Error(terr))
		}
	}()

	p, st, err := buildPipeline(cfg, time.Now, false, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Warn("closing store", zap.Error(cerr))
		}
	}()

	// The pipeline doubles as the classify handler so both endpoints
	// share one gateway client and its rate limit.
	srv, err := server.NewServer(p, p, log, &server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	if err := <-errChan; err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}
