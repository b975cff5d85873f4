package model

import "strings"

// ChangeType classifies what happened to a regulatory clause
type ChangeType string

const (
	ChangeNew      ChangeType = "new"      // Clause added in the new version
	ChangeModified ChangeType = "modified" // Clause text changed
	ChangeDeleted  ChangeType = "deleted"  // Clause removed
)

// RegulatoryDelta is one detected change in a regulatory standard.
// Deltas are read-only inputs to analysis and are never mutated.
type RegulatoryDelta struct {
	ClauseID   string     `json:"clause_id"`         // e.g. "5.1" or "Annex II"
	Standard   string     `json:"standard"`          // e.g. "ISO 14971"
	Version    string     `json:"version,omitempty"` // e.g. "2020"
	ChangeType ChangeType `json:"change_type"`
	ChangeText string     `json:"change_text"` // Full text of the changed requirement
	OldText    string     `json:"old_text,omitempty"`
	NewText    string     `json:"new_text,omitempty"`
}

// ClauseLabel renders the delta the way impact records display it,
// e.g. "ISO 14971:2020 Clause 5.1" or "EU MDR Annex II".
func (d RegulatoryDelta) ClauseLabel() string {
	label := d.Standard
	if d.Version != "" {
		label += ":" + d.Version
	}
	switch {
	case d.ClauseID == "":
		return label
	case strings.HasPrefix(d.ClauseID, "Annex"), strings.HasPrefix(d.ClauseID, "Clause"):
		return label + " " + d.ClauseID
	default:
		return label + " Clause " + d.ClauseID
	}
}
