package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reglens/reglens/internal/storage"
)

var runsTenant string

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored analysis runs",
	Long: `Read persisted analysis runs back out of the run store as JSON.
The JSON field names are the export contract; downstream reporting
tools consume this output directly.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a tenant's runs, newest first",
	Long: `List run summaries for a tenant, newest first. Impacts are omitted;
use 'reglens runs show <run-id>' for the full run.`,
	RunE: runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print one run in full, impacts included",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsListCmd.Flags().StringVar(&runsTenant, "tenant", "", "tenant whose runs to list (required)")
	_ = runsListCmd.MarkFlagRequired("tenant")
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openRunStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	listings, err := store.ListRuns(context.Background(), runsTenant)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	return writeJSON(os.Stdout, listings)
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openRunStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	run, err := store.GetRun(context.Background(), args[0])
	if errors.Is(err, storage.ErrRunNotFound) {
		return fmt.Errorf("no run with id %s", args[0])
	}
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}
	return writeJSON(os.Stdout, run)
}

func openRunStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Backend == "memory" {
		fmt.Fprintf(os.Stderr, "⚠️  The memory backend holds no runs from previous invocations; use --db or storage.backend=sqlite\n")
	}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}
