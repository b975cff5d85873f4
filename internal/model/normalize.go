package model

import "strings"

// standardAliases folds well-known synonyms into one canonical designation
// so citations and deltas agree regardless of how an author wrote them.
var standardAliases = map[string]string{
	"REGULATION (EU) 2017/745": "EU MDR",
	"REGULATION (EU) 2017/746": "EU IVDR",
	"MDR":                      "EU MDR",
	"IVDR":                     "EU IVDR",
	"EU MDR":                   "EU MDR",
	"EU IVDR":                  "EU IVDR",
}

// NormalizeStandard returns the canonical matching key for a standard
// designation: uppercased, whitespace collapsed, synonyms folded.
// Matching never compares raw designations.
func NormalizeStandard(s string) string {
	key := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	if canon, ok := standardAliases[key]; ok {
		return canon
	}
	return key
}
