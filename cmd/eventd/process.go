package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/eventd/internal/config"
	"github.com/fyrsmithlabs/eventd/internal/dateparse"
	"github.com/fyrsmithlabs/eventd/internal/event"
	"github.com/fyrsmithlabs/eventd/internal/logging"
	"github.com/fyrsmithlabs/eventd/internal/pipeline"
)

var (
	processSource  string
	processRefDate string
	processDryRun  bool
)

var processCmd = &cobra.Command{
	Use:   "process [input]",
	Short: "Run one input through the pipeline",
	Long: `Process a single announcement without starting a server.

The input is the announcement text or URL, or "-" to read from stdin.
The result is printed as JSON.

Examples:
  # Process inline text
  eventd process "Workshop June 24, June 26, and June 28 at 2PM"

  # Process a URL
  eventd process https://example.com/events/summer-concert

  # Process from stdin without persisting
  cat announcement.txt | eventd process --dry-run -

  # Resolve relative dates against a fixed reference date
  eventd process --ref-date 2025-06-01 "Concert next Tuesday at 7pm"`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processSource, "source", "cli", "source tag recorded on the event")
	processCmd.Flags().StringVar(&processRefDate, "ref-date", "", "reference date for relative resolution (YYYY-MM-DD, default today)")
	processCmd.Flags().BoolVar(&processDryRun, "dry-run", false, "route and print without persisting")
}

// processResult is the JSON printed for one run.
type processResult struct {
	RunID     string          `json:"run_id"`
	Category  string          `json:"category"`
	Tier      string          `json:"tier"`
	Records   []processRecord `json:"records"`
	Decision  processDecision `json:"decision"`
	Persisted bool            `json:"persisted"`
	Dates     []processDate   `json:"dates,omitempty"`
}

type processRecord struct {
	Title         string     `json:"title"`
	Date          *time.Time `json:"date,omitempty"`
	Location      string     `json:"location,omitempty"`
	Category      string     `json:"category"`
	Source        string     `json:"source"`
	Confidence    float64    `json:"confidence"`
	SeriesID      string     `json:"series_id,omitempty"`
	SessionIndex  int        `json:"session_index"`
	TotalSessions int        `json:"total_sessions"`
	Recurrence    string     `json:"recurrence,omitempty"`
}

type processDecision struct {
	Outcome   string  `json:"outcome"`
	Aggregate float64 `json:"aggregate"`
	Reason    string  `json:"reason,omitempty"`
}

type processDate struct {
	Raw        string  `json:"raw"`
	Resolved   bool    `json:"resolved"`
	When       string  `json:"when,omitempty"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
}

func runProcess(cmd *cobra.Command, args []string) error {
	payload, err := readInput(args[0])
	if err != nil {
		return err
	}

	ref, err := resolveRefDate(processRefDate)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logging.Sync(log)

	p, st, err := buildPipeline(cfg, func() time.Time { return ref }, processDryRun, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Warn("closing store", zap.Error(cerr))
		}
	}()

	out, err := p.Process(context.Background(), event.NewRawInput(payload, processSource))
	if err != nil {
		return fmt.Errorf("processing input: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(buildProcessResult(out))
}

// readInput returns the trimmed payload from the argument, or from stdin
// when the argument is "-".
func readInput(arg string) (string, error) {
	if arg != "-" {
		return strings.TrimSpace(arg), nil
	}
	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	return strings.TrimSpace(string(content)), nil
}

// resolveRefDate parses the --ref-date flag, defaulting to now.
func resolveRefDate(flag string) (time.Time, error) {
	if flag == "" {
		return time.Now(), nil
	}
	ref, ok := dateparse.ParseStamp(flag)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid --ref-date %q (want YYYY-MM-DD)", flag)
	}
	return ref, nil
}

func buildProcessResult(out pipeline.Outcome) processResult {
	result := processResult{
		RunID:    out.RunID,
		Category: string(out.Classification.Category),
		Tier:     string(out.Classification.Tier),
		Decision: processDecision{
			Outcome:   string(out.Decision.Outcome),
			Aggregate: out.Decision.Aggregate,
			Reason:    out.Decision.Reason,
		},
		Persisted: out.Persisted,
	}

	for _, r := range out.Records {
		rec := processRecord{
			Title:         r.Title,
			Location:      r.Location,
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
			rec.Date = &d
		}
		result.Records = append(result.Records, rec)
	}

	for _, d := range out.Extraction.Dates {
		pd := processDate{
			Raw:        d.Raw,
			Resolved:   d.Resolved,
			Method:     string(d.Method),
			Confidence: d.Confidence,
		}
		if d.Resolved {
			pd.When = d.When.Format("2006-01-02T15:04")
		}
		result.Dates = append(result.Dates, pd)
	}

	return result
}
