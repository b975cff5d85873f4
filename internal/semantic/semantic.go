// Package semantic ranks embedded sections against a query vector.
package semantic

import (
	"math"
	"sort"

	"github.com/reglens/reglens/internal/model"
)

// Candidate is one embedded section eligible for ranking
type Candidate struct {
	ID     model.SectionID
	Vector []float32
}

// Scored is a candidate with its similarity to the query
type Scored struct {
	ID    model.SectionID
	Score float64
}

// Cosine computes cosine similarity between two vectors, clamped to [-1, 1].
// Mismatched, empty, and zero-norm inputs score 0; there is no error path
// and no division by zero. Accumulation runs in float64 so long vectors do
// not lose precision.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}

	sim := dot / denom
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim
}

// Rank scores every candidate against the query, highest first. Equal scores
// keep the candidates' input order, so callers that pass candidates in a
// canonical order get deterministic results.
func Rank(query []float32, candidates []Candidate) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, Scored{ID: c.ID, Score: Cosine(query, c.Vector)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	return scored
}
