package extract

import (
	"strings"

	"github.com/reglens/reglens/internal/model"
)

// Additive confidence model. Every extracted citation starts at the base;
// specificity raises it. The ceiling is exactly reachable: a versioned
// sub-clause citation introduced by compliance language scores 1.0.
const (
	baseConfidence  = 0.60
	versionBonus    = 0.15 // citation pins a year or regulation number
	subClauseBonus  = 0.15 // clause has a dot, e.g. "4.1" not "4"
	actionVerbBonus = 0.10 // line reads "per", "according to", ...
	maxConfidence   = 1.0
)

// scoreReference computes extraction confidence for one citation. hasVerb is
// precomputed per line since it is a property of the line, not the citation.
func scoreReference(ref model.RegulatoryReference, hasVerb bool) float64 {
	score := baseConfidence
	if ref.Version != "" {
		score += versionBonus
	}
	if strings.Contains(ref.Clause, ".") {
		score += subClauseBonus
	}
	if hasVerb {
		score += actionVerbBonus
	}
	if score > maxConfidence {
		score = maxConfidence
	}
	return score
}
