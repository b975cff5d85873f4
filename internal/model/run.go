package model

import "time"

// AnalysisRun is one complete execution of impact analysis for a tenant.
// Runs are immutable once saved; the run store is append-only.
type AnalysisRun struct {
	RunID     string     `json:"run_id"`
	TenantID  string     `json:"tenant_id"`
	CreatedAt time.Time  `json:"created_at"`
	Impacts   []Impact   `json:"impacts"`
	Summary   RunSummary `json:"summary"`
}

// RunSummary aggregates run statistics for listings and operator output
type RunSummary struct {
	Deltas          int      `json:"deltas"`
	ExplicitImpacts int      `json:"explicit_impacts"`
	SemanticImpacts int      `json:"semantic_impacts"`
	Sections        int      `json:"sections"`                  // Distinct sections impacted
	DegradedDeltas  []string `json:"degraded_deltas,omitempty"` // Clause labels where embeddings were unavailable
	DurationMS      int64    `json:"duration_ms"`
}

// RunListing is the impact-free view of a run returned by list operations
type RunListing struct {
	RunID     string     `json:"run_id"`
	TenantID  string     `json:"tenant_id"`
	CreatedAt time.Time  `json:"created_at"`
	Summary   RunSummary `json:"summary"`
}
