package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/reglens/reglens/internal/model"
)

// MemoryStore keeps everything in maps guarded by one RWMutex. Sections and
// references are keyed by SectionID.Key, runs by run id. It hands out copies,
// so callers can mutate results without corrupting the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sections map[string]model.Section
	refs     map[string][]model.RegulatoryReference
	runs     map[string]model.AnalysisRun
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sections: make(map[string]model.Section),
		refs:     make(map[string][]model.RegulatoryReference),
		runs:     make(map[string]model.AnalysisRun),
	}
}

func (m *MemoryStore) UpsertSection(_ context.Context, s model.Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sections[s.Key()] = s
	return nil
}

func (m *MemoryStore) GetSection(_ context.Context, id model.SectionID) (model.Section, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sections[id.Key()]
	if !ok {
		return model.Section{}, ErrSectionNotFound
	}
	return s, nil
}

func (m *MemoryStore) ListSections(_ context.Context, tenantID string) ([]model.Section, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Section
	for _, s := range m.sections {
		if s.TenantID == tenantID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].SectionPath < out[j].SectionPath
	})
	return out, nil
}

func (m *MemoryStore) ReplaceReferences(_ context.Context, id model.SectionID, refs []model.RegulatoryReference) error {
	cp := append([]model.RegulatoryReference(nil), refs...)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(cp) == 0 {
		delete(m.refs, id.Key())
		return nil
	}
	m.refs[id.Key()] = cp
	return nil
}

func (m *MemoryStore) ListReferencesByStandard(_ context.Context, tenantID, standard string) ([]model.RegulatoryReference, error) {
	want := model.NormalizeStandard(standard)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.RegulatoryReference
	for _, section := range m.refs {
		for _, r := range section {
			if r.TenantID == tenantID && model.NormalizeStandard(r.Standard) == want {
				out = append(out, r)
			}
		}
	}
	sortReferences(out)
	return out, nil
}

func (m *MemoryStore) DeleteReferencesByDocument(_ context.Context, tenantID, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, section := range m.refs {
		if len(section) == 0 {
			continue
		}
		if section[0].TenantID == tenantID && section[0].DocumentID == documentID {
			removed += len(section)
			delete(m.refs, key)
		}
	}
	return removed, nil
}

func (m *MemoryStore) SaveRun(_ context.Context, run *model.AnalysisRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.RunID]; exists {
		return ErrDuplicateRun
	}
	m.runs[run.RunID] = copyRun(*run)
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, runID string) (*model.AnalysisRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	cp := copyRun(run)
	return &cp, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, tenantID string) ([]model.RunListing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.RunListing
	for _, run := range m.runs {
		if run.TenantID != tenantID {
			continue
		}
		out = append(out, model.RunListing{
			RunID:     run.RunID,
			TenantID:  run.TenantID,
			CreatedAt: run.CreatedAt,
			Summary:   run.Summary,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func copyRun(run model.AnalysisRun) model.AnalysisRun {
	run.Impacts = append([]model.Impact(nil), run.Impacts...)
	run.Summary.DegradedDeltas = append([]string(nil), run.Summary.DegradedDeltas...)
	return run
}

func sortReferences(refs []model.RegulatoryReference) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].DocumentID != refs[j].DocumentID {
			return refs[i].DocumentID < refs[j].DocumentID
		}
		if refs[i].SectionPath != refs[j].SectionPath {
			return refs[i].SectionPath < refs[j].SectionPath
		}
		if refs[i].LineNumber != refs[j].LineNumber {
			return refs[i].LineNumber < refs[j].LineNumber
		}
		return refs[i].Clause < refs[j].Clause
	})
}
