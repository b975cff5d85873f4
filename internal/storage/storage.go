// Package storage persists procedure sections, extracted regulatory
// references, and completed analysis runs. Two backends are provided:
// an in-memory store for tests and one-shot runs, and a SQLite store
// for durable multi-invocation use.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/reglens/reglens/internal/model"
)

var (
	// ErrSectionNotFound is returned when a section id resolves to nothing.
	ErrSectionNotFound = errors.New("section not found")

	// ErrRunNotFound is returned when a run id resolves to nothing.
	ErrRunNotFound = errors.New("run not found")

	// ErrDuplicateRun is returned when saving a run id that already exists.
	// Runs are append-only; a run is never overwritten.
	ErrDuplicateRun = errors.New("run already exists")
)

// SectionRepository stores procedure sections keyed by (tenant, document, path).
type SectionRepository interface {
	// UpsertSection inserts or fully replaces a section.
	UpsertSection(ctx context.Context, s model.Section) error

	// GetSection returns the section for id, or ErrSectionNotFound.
	GetSection(ctx context.Context, id model.SectionID) (model.Section, error)

	// ListSections returns a tenant's sections ordered by (document_id, section_path).
	ListSections(ctx context.Context, tenantID string) ([]model.Section, error)
}

// ReferenceRepository stores the regulatory references extracted from sections.
type ReferenceRepository interface {
	// ReplaceReferences atomically swaps the full reference set for one
	// section. Readers never observe a partially replaced set.
	ReplaceReferences(ctx context.Context, id model.SectionID, refs []model.RegulatoryReference) error

	// ListReferencesByStandard returns a tenant's references whose standard
	// matches after normalization, ordered by (document_id, section_path,
	// line_number, clause).
	ListReferencesByStandard(ctx context.Context, tenantID, standard string) ([]model.RegulatoryReference, error)

	// DeleteReferencesByDocument removes every reference extracted from the
	// given document and reports how many were removed.
	DeleteReferencesByDocument(ctx context.Context, tenantID, documentID string) (int, error)
}

// RunStore persists completed analysis runs.
type RunStore interface {
	// SaveRun appends a run. Saving an existing run id fails with ErrDuplicateRun.
	SaveRun(ctx context.Context, run *model.AnalysisRun) error

	// GetRun returns the full run, impacts included, or ErrRunNotFound.
	GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error)

	// ListRuns returns a tenant's runs newest first, without impacts.
	ListRuns(ctx context.Context, tenantID string) ([]model.RunListing, error)
}

// Store is the full persistence surface used by the CLI.
type Store interface {
	SectionRepository
	ReferenceRepository
	RunStore

	Close() error
}

// Open builds the store selected by cfg.
func Open(cfg model.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (supported: memory, sqlite)", cfg.Backend)
	}
}
