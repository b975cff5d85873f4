package model

// MatchType distinguishes how an impact was established
type MatchType string

const (
	MatchExplicitReference  MatchType = "explicit_reference"  // The section cites the changed standard
	MatchSemanticSimilarity MatchType = "semantic_similarity" // Embedding similarity above threshold
)

// Impact links one regulatory delta to one procedure section. Impacts are
// immutable once produced and belong to exactly one analysis run.
type Impact struct {
	RegulatoryClause string     `json:"regulatory_clause"` // Display label, e.g. "ISO 14971:2020 Clause 5.1"
	ClauseID         string     `json:"clause_id"`         // Bare clause id from the delta, e.g. "5.1"
	ChangeType       ChangeType `json:"change_type"`
	MatchType        MatchType  `json:"match_type"`
	Confidence       float64    `json:"confidence"` // 1.0 for explicit; cosine score for semantic

	TenantID    string `json:"tenant_id"`
	DocumentID  string `json:"document_id"`
	SectionPath string `json:"section_path"`
	DocName     string `json:"doc_name,omitempty"`
	Excerpt     string `json:"excerpt,omitempty"` // Leading slice of the section text

	OldText string `json:"old_text,omitempty"`
	NewText string `json:"new_text,omitempty"`

	Rationale string `json:"rationale"`

	// Populated for explicit_reference matches only
	ReferenceStandard string `json:"reference_standard,omitempty"`
	ReferenceVersion  string `json:"reference_version,omitempty"`
	ReferenceClause   string `json:"reference_clause,omitempty"`
	ReferenceAnnex    string `json:"reference_annex,omitempty"`
	ReferenceContext  string `json:"reference_context,omitempty"`
	ReferenceLine     int    `json:"reference_line,omitempty"`
}

// Reference reconstructs the citation view of an explicit impact,
// mainly for rationale templating.
func (i Impact) Reference() RegulatoryReference {
	return RegulatoryReference{
		TenantID:    i.TenantID,
		DocumentID:  i.DocumentID,
		SectionPath: i.SectionPath,
		Standard:    i.ReferenceStandard,
		Version:     i.ReferenceVersion,
		Clause:      i.ReferenceClause,
		Annex:       i.ReferenceAnnex,
		Context:     i.ReferenceContext,
		LineNumber:  i.ReferenceLine,
	}
}
