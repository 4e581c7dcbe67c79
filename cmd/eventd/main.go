// Package main implements the eventd daemon and its one-shot CLI.
//
// eventd ingests raw announcements (chat text, URLs, OCR output),
// classifies them, extracts structured event data, resolves dates,
// links multi-session series, and routes each result by confidence.
//
// Usage:
//
//	# Start the HTTP ingestion server
//	eventd serve --config eventd.yaml
//
//	# Process a single input without a server
//	echo "Workshop June 24 at 2PM" | eventd process -
//
//	# Show version information
//	eventd version
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/eventd/internal/classify"
	"github.com/fyrsmithlabs/eventd/internal/config"
	"github.com/fyrsmithlabs/eventd/internal/dateparse"
	"github.com/fyrsmithlabs/eventd/internal/extract"
	"github.com/fyrsmithlabs/eventd/internal/fetch"
	"github.com/fyrsmithlabs/eventd/internal/gateway"
	"github.com/fyrsmithlabs/eventd/internal/logging"
	"github.com/fyrsmithlabs/eventd/internal/pipeline"
	"github.com/fyrsmithlabs/eventd/internal/route"
	"github.com/fyrsmithlabs/eventd/internal/store"

	"go.uber.org/zap"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "eventd",
	Short: "Event announcement ingestion pipeline",
	Long: `eventd turns raw announcements into structured event records.

Inputs are classified (url, text, image), run through per-category
extractors with tiered date resolution, linked into multi-session
series, and routed by aggregate confidence: persisted automatically,
queued for review, or rejected.`,
	Version: version,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("eventd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildPipeline wires every pipeline collaborator from configuration.
// The returned store must be closed by the caller.
func buildPipeline(cfg *config.Config, refDate func() time.Time, dryRun bool, log *zap.Logger) (*pipeline.Pipeline, store.Store, error) {
	completer, err := gateway.NewCompleter(cfg.Gateway)
	if err != nil {
		return nil, nil, fmt.Errorf("creating completion gateway: %w", err)
	}

	storeCfg := cfg.Store
	if dryRun {
		storeCfg.DryRun = true
	}
	st, err := store.New(storeCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	resolver := dateparse.NewResolver(completer, log)
	fetcher := fetch.NewHTTPFetcher(cfg.Fetch, log)

	p := pipeline.New(pipeline.Options{
		Classifier: classify.New(completer, log),
		Text:       extract.NewTextExtractor(resolver, completer, refDate, log),
		URL:        extract.NewURLExtractor(fetcher, resolver, completer, refDate, log),
		Router:     route.New(cfg.Router),
		Store:      st,
	}, log)

	return p, st, nil
}

// newLogger builds the process logger from configuration.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return log, nil
}
