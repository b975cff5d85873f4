// Package ingest brings procedure sections into the system: it stores them,
// re-extracts their regulatory references, and warms the embedding index.
package ingest

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/reglens/reglens/internal/extract"
	"github.com/reglens/reglens/internal/index"
	"github.com/reglens/reglens/internal/model"
	"github.com/reglens/reglens/internal/storage"
	"github.com/reglens/reglens/internal/worker"
)

// Ingestor processes section batches. Re-ingesting a document fully replaces
// its stored references; readers never observe a half-replaced set.
type Ingestor struct {
	sections  storage.SectionRepository
	refs      storage.ReferenceRepository
	extractor *extract.ReferenceExtractor
	index     *index.Index // nil skips embedding
	workers   int
	log       zerolog.Logger
}

// NewIngestor creates an ingestor over the given stores. Pass a nil index
// to skip embedding (sections remain matchable by explicit references).
func NewIngestor(sections storage.SectionRepository, refs storage.ReferenceRepository, ix *index.Index, workers int, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		sections:  sections,
		refs:      refs,
		extractor: extract.NewReferenceExtractor(),
		index:     ix,
		workers:   workers,
		log:       log,
	}
}

// Report summarizes one ingestion batch.
type Report struct {
	Sections   int      `json:"sections"`
	References int      `json:"references"`
	Embedded   int      `json:"embedded"`
	Degraded   []string `json:"degraded,omitempty"` // Sections whose embedding failed
}

// IngestSections stores the sections, replaces their documents' references,
// and embeds each section concurrently. Embedding failures degrade individual
// sections; storage failures abort the batch.
func (ing *Ingestor) IngestSections(ctx context.Context, sections []model.Section) (*Report, error) {
	report := &Report{Sections: len(sections)}

	// 1. Clear stored references for every document in the batch, so
	// sections dropped from a document do not leave citations behind
	for _, doc := range distinctDocuments(sections) {
		if _, err := ing.refs.DeleteReferencesByDocument(ctx, doc.TenantID, doc.DocumentID); err != nil {
			return nil, fmt.Errorf("clearing references for %s: %w", doc.DocumentID, err)
		}
	}

	// 2. Store each section and its freshly extracted references
	for _, sec := range sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := ing.sections.UpsertSection(ctx, sec); err != nil {
			return nil, fmt.Errorf("storing section %s/%s: %w", sec.DocumentID, sec.SectionPath, err)
		}

		refs := ing.extractor.Extract(sec.Text)
		for i := range refs {
			refs[i].TenantID = sec.TenantID
			refs[i].DocumentID = sec.DocumentID
			refs[i].SectionPath = sec.SectionPath
		}
		if err := ing.refs.ReplaceReferences(ctx, sec.SectionID, refs); err != nil {
			return nil, fmt.Errorf("storing references for %s/%s: %w", sec.DocumentID, sec.SectionPath, err)
		}
		report.References += len(refs)
	}

	// 3. Warm the embedding index with bounded concurrency
	report.Embedded, report.Degraded = ing.WarmIndex(ctx, sections)

	ing.log.Info().
		Int("sections", report.Sections).
		Int("references", report.References).
		Int("embedded", report.Embedded).
		Int("degraded", len(report.Degraded)).
		Msg("ingestion complete")

	return report, nil
}

// WarmIndex computes vectors for the sections through the worker pool. The
// index lives in process memory, so a fresh process re-warms it from stored
// sections before analysis; the content-addressed cache keeps that cheap.
// Failed sections are reported, not fatal; they fall out of semantic
// matching until a later attempt succeeds.
func (ing *Ingestor) WarmIndex(ctx context.Context, sections []model.Section) (int, []string) {
	if ing.index == nil {
		return 0, nil
	}
	pool := worker.NewEmbedPool(ing.workers, func(ctx context.Context, sec model.Section) error {
		_, err := ing.index.GetOrCompute(ctx, sec)
		return err
	})
	pool.Start(ctx)

	for _, sec := range sections {
		pool.Submit(sec)
	}

	embedded := 0
	var degraded []string
	for _, res := range pool.Wait() {
		if res.Err != nil {
			ing.log.Warn().
				Err(res.Err).
				Str("document_id", res.ID.DocumentID).
				Str("section_path", res.ID.SectionPath).
				Msg("embedding failed, section degraded")
			degraded = append(degraded, res.ID.DocumentID+"/"+res.ID.SectionPath)
			continue
		}
		embedded++
	}
	sort.Strings(degraded)
	return embedded, degraded
}

type documentKey struct {
	TenantID   string
	DocumentID string
}

func distinctDocuments(sections []model.Section) []documentKey {
	seen := make(map[documentKey]bool)
	var docs []documentKey
	for _, sec := range sections {
		key := documentKey{TenantID: sec.TenantID, DocumentID: sec.DocumentID}
		if !seen[key] {
			seen[key] = true
			docs = append(docs, key)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].TenantID != docs[j].TenantID {
			return docs[i].TenantID < docs[j].TenantID
		}
		return docs[i].DocumentID < docs[j].DocumentID
	})
	return docs
}
