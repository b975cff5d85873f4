package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/reglens/reglens/internal/ingest"
	"github.com/reglens/reglens/internal/logging"
	"github.com/reglens/reglens/internal/model"
	"github.com/reglens/reglens/internal/storage"
)

var (
	ingestTenant  string
	ingestFile    string
	ingestDir     string
	ingestWorkers int
	ingestTimeout time.Duration
	ingestNoEmbed bool
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load procedure sections, extract citations, warm the embedding index",
	Long: `Ingest loads internal procedure documents into the corpus:
- Store each section under its (tenant, document, section) identity
- Extract explicit regulatory citations from the section text
- Compute section embeddings through the configured provider

Re-ingesting a document fully replaces its stored citations.

Supported inputs: .json section manifests, .md/.txt split on markdown
headings, .html split on heading elements.

Sections persist between invocations only with the sqlite backend
(--db, or storage.backend in the config file).

Example:
  reglens --db reglens.db ingest --tenant acme --file sections.json
  reglens --db reglens.db ingest --tenant acme --dir ./procedures
  reglens ingest --tenant acme --file sop.md --no-embed`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestTenant, "tenant", "", "tenant the sections belong to (required)")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "section file to ingest")
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "directory of section files to ingest")
	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", 0, "concurrent embedding workers (default from config)")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 10*time.Minute, "overall ingestion timeout")
	ingestCmd.Flags().BoolVar(&ingestNoEmbed, "no-embed", false, "skip embedding (sections stay matchable by explicit citations)")

	_ = ingestCmd.MarkFlagRequired("tenant")
}

func runIngest(cmd *cobra.Command, args []string) error {
	if (ingestFile == "") == (ingestDir == "") {
		return fmt.Errorf("exactly one of --file or --dir is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if ingestWorkers > 0 {
		cfg.Concurrency.EmbedWorkers = ingestWorkers
	}
	if ingestNoEmbed {
		cfg.Embedding.Provider = ""
	}

	log := logging.New(cfg.Logging, os.Stderr)
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

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
	if ix == nil {
		fmt.Fprintf(os.Stderr, "⚠️  No embedding provider configured: sections will not be semantically matchable\n")
	}

	// Load sections from disk
	loader := ingest.NewLoader(log)
	sections, err := loadSections(loader)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ Loaded %d sections\n", len(sections))

	// Ingest
	ing := ingest.NewIngestor(store, store, ix, cfg.Concurrency.EmbedWorkers, log)
	report, err := ing.IngestSections(ctx, sections)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "✓ Stored %d sections with %d extracted citations\n", report.Sections, report.References)
	if ix != nil {
		fmt.Fprintf(os.Stderr, "✓ Embedded %d sections\n", report.Embedded)
	}
	if len(report.Degraded) > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  %d sections could not be embedded:\n", len(report.Degraded))
		for _, id := range report.Degraded {
			fmt.Fprintf(os.Stderr, "   ✗ %s\n", id)
		}
	}

	return nil
}

func loadSections(loader *ingest.Loader) ([]model.Section, error) {
	if ingestFile != "" {
		return loader.LoadFile(ingestTenant, ingestFile)
	}
	return loader.LoadDir(ingestTenant, ingestDir)
}
