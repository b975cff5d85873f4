// Package rationale renders the justification prose attached to every
// impact. Generation is pure string formatting; wording is deterministic
// so identical runs produce identical reports.
package rationale

import (
	"fmt"
	"math"

	"github.com/reglens/reglens/internal/model"
)

// Generate returns the rationale for an impact. Explicit matches cite the
// reference verbatim; semantic matches carry an expert-review warning.
func Generate(imp model.Impact) string {
	switch imp.MatchType {
	case model.MatchExplicitReference:
		return explicitRationale(imp)
	case model.MatchSemanticSimilarity:
		return semanticRationale(imp)
	default:
		return ""
	}
}

func explicitRationale(imp model.Impact) string {
	ref := imp.Reference()
	return fmt.Sprintf(
		"HIGH CONFIDENCE: This section explicitly references %s. The regulatory requirement was %s. Reference found at line %d: \"%s\"",
		ref.Label(), imp.ChangeType, ref.LineNumber, ref.Context)
}

func semanticRationale(imp model.Impact) string {
	// Integer percentage, rounded rather than truncated
	pct := int(math.Round(imp.Confidence * 100))
	return fmt.Sprintf(
		"MODERATE MATCH (%d%%): Regulatory clause %s was %s. Section '%s' may require review. ⚠️ Based on semantic similarity only — expert review recommended.",
		pct, imp.ClauseID, imp.ChangeType, imp.SectionPath)
}
