package model

// RegulatoryReference is an explicit citation found inside a section's text.
// References are regenerated wholesale whenever their document is re-ingested;
// there is no partial update.
type RegulatoryReference struct {
	TenantID    string `json:"tenant_id"`
	DocumentID  string `json:"document_id"`
	SectionPath string `json:"section_path"`

	Standard string `json:"standard"`          // As cited, e.g. "ISO 14971"
	Version  string `json:"version,omitempty"` // Year if cited, e.g. "2019"
	Clause   string `json:"clause,omitempty"`  // e.g. "5.1.2"
	Annex    string `json:"annex,omitempty"`   // e.g. "II"

	Context    string  `json:"context"`     // Surrounding text, ±200 chars
	LineNumber int     `json:"line_number"` // 1-based line in the section text
	Confidence float64 `json:"confidence"`  // Extractor floor is 0.6
}

// Label renders the citation as the section states it,
// e.g. "ISO 14971:2019 Clause 4.1" or "EU MDR Annex II".
func (r RegulatoryReference) Label() string {
	label := r.Standard
	if r.Version != "" {
		label += ":" + r.Version
	}
	if r.Clause != "" {
		return label + " Clause " + r.Clause
	}
	if r.Annex != "" {
		return label + " Annex " + r.Annex
	}
	return label
}
