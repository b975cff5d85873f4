package model

// SectionID identifies a procedure section within a tenant's corpus.
// The triple is unique per tenant; document ids may repeat across tenants.
type SectionID struct {
	TenantID    string `json:"tenant_id"`
	DocumentID  string `json:"document_id"`
	SectionPath string `json:"section_path"` // e.g. "4.2.3"
}

// Key renders the composite key used by the embedding index and repositories.
// Unit separators keep the parts unambiguous even when ids contain slashes.
func (id SectionID) Key() string {
	return id.TenantID + "\x1f" + id.DocumentID + "\x1f" + id.SectionPath
}

// Section is one unit of internal procedure text (e.g. SOP-002 §4.2.3).
// Text is carried in full; nothing downstream may truncate it.
type Section struct {
	SectionID
	DocName string `json:"doc_name,omitempty"` // Display label (e.g. "Design Control SOP")
	Text    string `json:"text"`               // Full section content, unbounded
}
