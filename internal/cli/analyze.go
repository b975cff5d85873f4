package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reglens/reglens/internal/ingest"
	"github.com/reglens/reglens/internal/logging"
	"github.com/reglens/reglens/internal/match"
	"github.com/reglens/reglens/internal/model"
	"github.com/reglens/reglens/internal/storage"
)

var (
	analyzeTenant  string
	analyzeDeltas  string
	analyzeOut     string
	analyzeTimeout time.Duration
	analyzeNoSave  bool
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Match regulatory deltas against the ingested procedure corpus",
	Long: `Analyze reads a JSON file of regulatory deltas (clauses that changed)
and reports which ingested procedure sections are impacted:
- Stage 1 matches explicit citations stored during ingestion
- Stage 2 falls back to embedding similarity when no citation matches
- Every impact carries a confidence score and a human-readable rationale

The completed run is persisted to the run store and written as JSON to
stdout (or --out). Deltas where the embedding provider was unavailable
are listed in the run summary as degraded; they never abort the run.

Example:
  reglens --db reglens.db analyze --tenant acme --deltas deltas.json
  reglens analyze --tenant acme --deltas deltas.json --out run.json
  reglens analyze --tenant acme --deltas deltas.json --top-k 5 --threshold 0.8`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeTenant, "tenant", "", "tenant whose corpus is analyzed (required)")
	analyzeCmd.Flags().StringVar(&analyzeDeltas, "deltas", "", "JSON file of regulatory deltas (required)")
	analyzeCmd.Flags().StringVar(&analyzeOut, "out", "", "write the run JSON to this file instead of stdout")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 5*time.Minute, "overall analysis timeout")
	analyzeCmd.Flags().BoolVar(&analyzeNoSave, "no-save", false, "do not persist the run to the run store")

	// Matching tunables layer over the config file through viper
	analyzeCmd.Flags().Float64("threshold", 0.75, "minimum cosine score for semantic impacts")
	analyzeCmd.Flags().Int("top-k", 3, "semantic impact cap")
	analyzeCmd.Flags().String("top-k-scope", model.TopKPerDelta, "semantic cap scope: per_delta or per_run")
	_ = viper.BindPFlag("matching.impact_threshold", analyzeCmd.Flags().Lookup("threshold"))
	_ = viper.BindPFlag("matching.top_k", analyzeCmd.Flags().Lookup("top-k"))
	_ = viper.BindPFlag("matching.top_k_scope", analyzeCmd.Flags().Lookup("top-k-scope"))

	_ = analyzeCmd.MarkFlagRequired("tenant")
	_ = analyzeCmd.MarkFlagRequired("deltas")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logging.New(cfg.Logging, os.Stderr)
	ctx, cancel := context.WithTimeout(context.Background(), analyzeTimeout)
	defer cancel()

	deltas, err := readDeltas(analyzeDeltas)
	if err != nil {
		return err
	}
	if cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "✓ Loaded %d deltas from %s\n", len(deltas), analyzeDeltas)
	}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("closing storage")
		}
	}()

	ix, err := buildIndex(cfg, log)
	if err != nil {
		return fmt.Errorf("configuring embeddings: %w", err)
	}

	// Stage 2 ranks whatever the index holds, and the index lives in process
	// memory: warm it from the stored corpus before matching. The
	// content-addressed cache keeps re-warming off the provider.
	if ix != nil {
		sections, err := store.ListSections(ctx, analyzeTenant)
		if err != nil {
			return fmt.Errorf("loading corpus: %w", err)
		}
		ing := ingest.NewIngestor(store, store, ix, cfg.Concurrency.EmbedWorkers, log)
		warmed, degraded := ing.WarmIndex(ctx, sections)
		if cfg.Output.Verbose {
			fmt.Fprintf(os.Stderr, "✓ Warmed embedding index: %d of %d sections\n", warmed, len(sections))
		}
		if len(degraded) > 0 {
			fmt.Fprintf(os.Stderr, "⚠️  %d sections unavailable for semantic matching\n", len(degraded))
		}
	} else if cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "⚠️  Semantic matching disabled (no embedding provider configured)\n")
	}

	// Run the matcher
	matcher := match.NewMatcher(store, store, ix, cfg.Matching, log)
	run, err := matcher.Analyze(ctx, analyzeTenant, deltas)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	if !analyzeNoSave {
		if err := store.SaveRun(ctx, run); err != nil {
			return fmt.Errorf("saving run: %w", err)
		}
	}

	printRunSummary(run)

	if analyzeOut == "" {
		return writeJSON(os.Stdout, run)
	}
	if err := writeRunFile(analyzeOut, run); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ Run written: %s\n", analyzeOut)
	return nil
}

func writeRunFile(path string, run *model.AnalysisRun) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, closeErr)
		}
	}()
	return writeJSON(f, run)
}

func printRunSummary(run *model.AnalysisRun) {
	s := run.Summary
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Analysis Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Run:        %s\n", run.RunID)
	fmt.Fprintf(os.Stderr, "  Deltas:     %d\n", s.Deltas)
	fmt.Fprintf(os.Stderr, "  Impacts:    %d explicit, %d semantic\n", s.ExplicitImpacts, s.SemanticImpacts)
	fmt.Fprintf(os.Stderr, "  Sections:   %d distinct\n", s.Sections)
	if len(s.DegradedDeltas) > 0 {
		fmt.Fprintf(os.Stderr, "  Degraded:   %s\n", strings.Join(s.DegradedDeltas, ", "))
	}
	fmt.Fprintf(os.Stderr, "  Duration:   %dms\n", s.DurationMS)
	fmt.Fprintf(os.Stderr, "\n")
}

// readDeltas parses and validates the delta input file.
func readDeltas(path string) ([]model.RegulatoryDelta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading deltas: %w", err)
	}
	var deltas []model.RegulatoryDelta
	if err := json.Unmarshal(data, &deltas); err != nil {
		return nil, fmt.Errorf("parsing deltas: %w", err)
	}
	if len(deltas) == 0 {
		return nil, fmt.Errorf("%s contains no deltas", path)
	}
	for i, d := range deltas {
		if d.Standard == "" {
			return nil, fmt.Errorf("delta %d: missing standard", i)
		}
		switch d.ChangeType {
		case model.ChangeNew, model.ChangeModified, model.ChangeDeleted:
		default:
			return nil, fmt.Errorf("delta %d: change_type must be new, modified, or deleted; got %q", i, d.ChangeType)
		}
	}
	return deltas, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
