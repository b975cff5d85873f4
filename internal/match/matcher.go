// Package match implements the two-stage impact analysis linking regulatory
// deltas to the procedure sections they affect. Stage 1 matches explicit
// citations extracted at ingestion; stage 2 falls back to embedding
// similarity and runs only for deltas stage 1 could not place.
package match

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reglens/reglens/internal/index"
	"github.com/reglens/reglens/internal/model"
	"github.com/reglens/reglens/internal/rationale"
	"github.com/reglens/reglens/internal/semantic"
	"github.com/reglens/reglens/internal/storage"
)

// excerptLimit bounds the section excerpt carried on each impact.
const excerptLimit = 240

// Matcher orchestrates one analysis run. It never mutates stored sections
// or references; concurrent runs over the same tenant are safe.
type Matcher struct {
	sections storage.SectionRepository
	refs     storage.ReferenceRepository
	index    *index.Index // nil disables semantic matching
	cfg      model.MatchingConfig
	log      zerolog.Logger
}

// NewMatcher creates a matcher over the given stores. Pass a nil index to
// run stage 1 only.
func NewMatcher(sections storage.SectionRepository, refs storage.ReferenceRepository, ix *index.Index, cfg model.MatchingConfig, log zerolog.Logger) *Matcher {
	return &Matcher{
		sections: sections,
		refs:     refs,
		index:    ix,
		cfg:      cfg,
		log:      log,
	}
}

// semanticHit is a threshold-passing stage-2 candidate awaiting the top-k cap.
type semanticHit struct {
	deltaIdx int
	score    float64
	id       model.SectionID
}

// Analyze runs both stages over every delta and assembles the run.
// Cancellation aborts the whole analysis; no partial run is returned.
// A failing embedding provider degrades individual deltas instead.
func (m *Matcher) Analyze(ctx context.Context, tenantID string, deltas []model.RegulatoryDelta) (*model.AnalysisRun, error) {
	start := time.Now()

	perDelta := make([][]model.Impact, len(deltas))
	var (
		hits          []semanticHit
		degraded      []string
		explicitCount int
	)

	for i, delta := range deltas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// 1. Explicit reference matching
		impacts, err := m.explicitImpacts(ctx, tenantID, delta)
		if err != nil {
			return nil, fmt.Errorf("matching references for %s: %w", delta.ClauseLabel(), err)
		}
		if len(impacts) > 0 {
			perDelta[i] = impacts
			explicitCount += len(impacts)
			continue
		}

		// 2. Semantic fallback, only when stage 1 found nothing
		if m.index == nil {
			m.log.Debug().Str("delta", delta.ClauseLabel()).Msg("semantic matching disabled, skipping stage 2")
			continue
		}
		deltaHits, err := m.semanticHits(ctx, tenantID, i, delta)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Provider failure degrades this delta only; the run completes
			m.log.Warn().Err(err).Str("delta", delta.ClauseLabel()).Msg("embedding unavailable, delta degraded")
			degraded = append(degraded, delta.ClauseLabel())
			continue
		}
		hits = append(hits, deltaHits...)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 3. Apply the top-k cap and build semantic impacts
	semanticCount := 0
	for i, selected := range m.capTopK(hits, len(deltas)) {
		for _, h := range selected {
			perDelta[i] = append(perDelta[i], m.semanticImpact(ctx, deltas[i], h))
			semanticCount++
		}
	}

	// 4. Flatten, preserving delta input order
	impacts := make([]model.Impact, 0)
	sectionsSeen := make(map[string]bool)
	for _, list := range perDelta {
		impacts = append(impacts, list...)
		for _, imp := range list {
			id := model.SectionID{TenantID: imp.TenantID, DocumentID: imp.DocumentID, SectionPath: imp.SectionPath}
			sectionsSeen[id.Key()] = true
		}
	}

	run := &model.AnalysisRun{
		RunID:     uuid.NewString(),
		TenantID:  tenantID,
		CreatedAt: time.Now().UTC(),
		Impacts:   impacts,
		Summary: model.RunSummary{
			Deltas:          len(deltas),
			ExplicitImpacts: explicitCount,
			SemanticImpacts: semanticCount,
			Sections:        len(sectionsSeen),
			DegradedDeltas:  degraded,
			DurationMS:      time.Since(start).Milliseconds(),
		},
	}

	m.log.Info().
		Str("run_id", run.RunID).
		Int("deltas", len(deltas)).
		Int("explicit", explicitCount).
		Int("semantic", semanticCount).
		Int("degraded", len(degraded)).
		Msg("analysis complete")

	return run, nil
}

// explicitImpacts runs stage 1 for one delta: every stored reference to the
// delta's standard and clause with confidence at or above the floor yields
// one impact with confidence 1.0.
func (m *Matcher) explicitImpacts(ctx context.Context, tenantID string, delta model.RegulatoryDelta) ([]model.Impact, error) {
	refs, err := m.refs.ListReferencesByStandard(ctx, tenantID, delta.Standard)
	if err != nil {
		return nil, err
	}

	var matched []model.RegulatoryReference
	for _, ref := range refs {
		if ref.Confidence < m.cfg.ExplicitConfidenceFloor {
			continue
		}
		if !m.clauseMatches(delta.ClauseID, ref) {
			continue
		}
		matched = append(matched, ref)
	}

	// Highest-confidence citations first; section_path breaks ties
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Confidence != matched[j].Confidence {
			return matched[i].Confidence > matched[j].Confidence
		}
		if matched[i].SectionPath != matched[j].SectionPath {
			return matched[i].SectionPath < matched[j].SectionPath
		}
		if matched[i].DocumentID != matched[j].DocumentID {
			return matched[i].DocumentID < matched[j].DocumentID
		}
		return matched[i].LineNumber < matched[j].LineNumber
	})

	impacts := make([]model.Impact, 0, len(matched))
	for _, ref := range matched {
		impacts = append(impacts, m.explicitImpact(ctx, delta, ref))
	}
	return impacts, nil
}

// clauseMatches reports whether a reference covers the delta's clause id.
// An empty delta clause means the whole standard changed and matches every
// reference to it. "Annex X" ids match on the annex label. Otherwise the
// reference clause must equal the delta clause or, when prefix matching is
// enabled, sit beneath it: "5.1" covers "5.1.2" and "820.30" covers
// "820.30(g)", but "5.1" never covers "5.10". The cited edition is not part
// of the match; a citation of any version matches on standard and clause.
func (m *Matcher) clauseMatches(deltaClause string, ref model.RegulatoryReference) bool {
	deltaClause = strings.TrimSpace(deltaClause)
	deltaClause = strings.TrimSpace(strings.TrimPrefix(deltaClause, "Clause"))
	if deltaClause == "" {
		return true
	}

	if label, ok := strings.CutPrefix(deltaClause, "Annex"); ok {
		return ref.Annex != "" && strings.EqualFold(strings.TrimSpace(label), ref.Annex)
	}

	if ref.Clause == deltaClause {
		return true
	}
	if !m.cfg.ClausePrefixMatch || ref.Clause == "" {
		return false
	}
	rest, ok := strings.CutPrefix(ref.Clause, deltaClause)
	if !ok || rest == "" {
		return false
	}
	return rest[0] == '.' || rest[0] == '('
}

// semanticHits runs stage 2 for one delta and returns every candidate at or
// above the impact threshold, ordered by descending score with section_path
// breaking ties.
func (m *Matcher) semanticHits(ctx context.Context, tenantID string, deltaIdx int, delta model.RegulatoryDelta) ([]semanticHit, error) {
	query, err := m.index.EmbedText(ctx, delta.ChangeText)
	if err != nil {
		return nil, err
	}

	ranked := semantic.Rank(query, m.index.Candidates(tenantID))
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].ID.SectionPath != ranked[j].ID.SectionPath {
			return ranked[i].ID.SectionPath < ranked[j].ID.SectionPath
		}
		return ranked[i].ID.DocumentID < ranked[j].ID.DocumentID
	})

	var hits []semanticHit
	for _, s := range ranked {
		if s.Score < m.cfg.ImpactThreshold {
			break
		}
		hits = append(hits, semanticHit{deltaIdx: deltaIdx, score: s.Score, id: s.ID})
	}
	return hits, nil
}

// capTopK applies the configured cap to the threshold-passing hits, either
// per delta or across the whole run, and returns them grouped by delta.
func (m *Matcher) capTopK(hits []semanticHit, deltaCount int) [][]semanticHit {
	grouped := make([][]semanticHit, deltaCount)

	if m.cfg.TopKScope == model.TopKPerRun {
		// Keep the k best across every delta. The grouping loop below is
		// order-preserving, so each group stays score-descending.
		sort.SliceStable(hits, func(i, j int) bool {
			if hits[i].score != hits[j].score {
				return hits[i].score > hits[j].score
			}
			if hits[i].deltaIdx != hits[j].deltaIdx {
				return hits[i].deltaIdx < hits[j].deltaIdx
			}
			return hits[i].id.SectionPath < hits[j].id.SectionPath
		})
		if len(hits) > m.cfg.TopK {
			hits = hits[:m.cfg.TopK]
		}
		for _, h := range hits {
			grouped[h.deltaIdx] = append(grouped[h.deltaIdx], h)
		}
		return grouped
	}

	for _, h := range hits {
		if len(grouped[h.deltaIdx]) < m.cfg.TopK {
			grouped[h.deltaIdx] = append(grouped[h.deltaIdx], h)
		}
	}
	return grouped
}

func (m *Matcher) explicitImpact(ctx context.Context, delta model.RegulatoryDelta, ref model.RegulatoryReference) model.Impact {
	imp := model.Impact{
		RegulatoryClause: delta.ClauseLabel(),
		ClauseID:         delta.ClauseID,
		ChangeType:       delta.ChangeType,
		MatchType:        model.MatchExplicitReference,
		Confidence:       1.0,

		TenantID:    ref.TenantID,
		DocumentID:  ref.DocumentID,
		SectionPath: ref.SectionPath,

		OldText: delta.OldText,
		NewText: delta.NewText,

		ReferenceStandard: ref.Standard,
		ReferenceVersion:  ref.Version,
		ReferenceClause:   ref.Clause,
		ReferenceAnnex:    ref.Annex,
		ReferenceContext:  ref.Context,
		ReferenceLine:     ref.LineNumber,
	}
	m.attachSection(ctx, &imp)
	imp.Rationale = rationale.Generate(imp)
	return imp
}

func (m *Matcher) semanticImpact(ctx context.Context, delta model.RegulatoryDelta, hit semanticHit) model.Impact {
	imp := model.Impact{
		RegulatoryClause: delta.ClauseLabel(),
		ClauseID:         delta.ClauseID,
		ChangeType:       delta.ChangeType,
		MatchType:        model.MatchSemanticSimilarity,
		Confidence:       hit.score,

		TenantID:    hit.id.TenantID,
		DocumentID:  hit.id.DocumentID,
		SectionPath: hit.id.SectionPath,

		OldText: delta.OldText,
		NewText: delta.NewText,
	}
	m.attachSection(ctx, &imp)
	imp.Rationale = rationale.Generate(imp)
	return imp
}

// attachSection fills DocName and Excerpt from the stored section when it
// still exists; a missing section leaves them empty rather than failing.
func (m *Matcher) attachSection(ctx context.Context, imp *model.Impact) {
	id := model.SectionID{TenantID: imp.TenantID, DocumentID: imp.DocumentID, SectionPath: imp.SectionPath}
	sec, err := m.sections.GetSection(ctx, id)
	if err != nil {
		m.log.Warn().
			Str("document_id", id.DocumentID).
			Str("section_path", id.SectionPath).
			Msg("impacted section missing from store")
		return
	}
	imp.DocName = sec.DocName
	imp.Excerpt = excerpt(sec.Text)
}

// excerpt returns the leading slice of a section's text with whitespace
// collapsed, cut on a rune boundary.
func excerpt(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) <= excerptLimit {
		return collapsed
	}
	return string(runes[:excerptLimit]) + "..."
}
