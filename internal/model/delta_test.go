package model

import "testing"

func TestRegulatoryDelta_ClauseLabel(t *testing.T) {
	tests := []struct {
		name  string
		delta RegulatoryDelta
		want  string
	}{
		{
			name:  "standard version and clause",
			delta: RegulatoryDelta{Standard: "ISO 14971", Version: "2020", ClauseID: "5.1"},
			want:  "ISO 14971:2020 Clause 5.1",
		},
		{
			name:  "no version",
			delta: RegulatoryDelta{Standard: "21 CFR", ClauseID: "820.30"},
			want:  "21 CFR Clause 820.30",
		},
		{
			name:  "annex clause id",
			delta: RegulatoryDelta{Standard: "EU MDR", Version: "2017/745", ClauseID: "Annex II"},
			want:  "EU MDR:2017/745 Annex II",
		},
		{
			name:  "no clause",
			delta: RegulatoryDelta{Standard: "ISO 13485", Version: "2016"},
			want:  "ISO 13485:2016",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.delta.ClauseLabel(); got != tt.want {
				t.Errorf("ClauseLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRegulatoryReference_Label(t *testing.T) {
	tests := []struct {
		name string
		ref  RegulatoryReference
		want string
	}{
		{
			name: "full citation",
			ref:  RegulatoryReference{Standard: "ISO 14971", Version: "2019", Clause: "4.1"},
			want: "ISO 14971:2019 Clause 4.1",
		},
		{
			name: "annex citation",
			ref:  RegulatoryReference{Standard: "EU MDR", Annex: "II"},
			want: "EU MDR Annex II",
		},
		{
			name: "bare standard",
			ref:  RegulatoryReference{Standard: "ISO 14971"},
			want: "ISO 14971",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ref.Label(); got != tt.want {
				t.Errorf("Label() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSectionID_Key(t *testing.T) {
	a := SectionID{TenantID: "t1", DocumentID: "sop-002", SectionPath: "4.2.3"}
	b := SectionID{TenantID: "t1", DocumentID: "sop-002", SectionPath: "4.2.4"}
	if a.Key() == b.Key() {
		t.Error("distinct sections should have distinct keys")
	}
	if a.Key() != a.Key() {
		t.Error("Key() must be stable")
	}

	// Composite keys must not collide when ids contain separator-like runes
	c := SectionID{TenantID: "t", DocumentID: "a/b", SectionPath: "c"}
	d := SectionID{TenantID: "t", DocumentID: "a", SectionPath: "b/c"}
	if c.Key() == d.Key() {
		t.Error("keys must disambiguate ids containing slashes")
	}
}
