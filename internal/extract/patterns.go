package extract

import "regexp"

// patternSpec is one recognized citation family. Supporting a new family
// is a table edit, not new scanning code.
//
// Capture groups are named so the scanner stays family-agnostic:
// std (standard designation), ver (version or year), clause, annex.
type patternSpec struct {
	family string
	re     *regexp.Regexp
}

// citationPatterns match standard designations, optionally with an inline
// version or clause (CFR subsections carry the clause in the citation itself).
var citationPatterns = []patternSpec{
	{
		// ISO 14971:2019, IEC 62304:2006, EN ISO 13485:2016, ISO 10993-1:2018
		family: "iso",
		re:     regexp.MustCompile(`\b(?P<std>(?:EN\s+)?(?:ISO(?:/IEC)?|IEC|ASTM|AAMI)\s+\d{3,5}(?:-\d{1,3})?)(?::(?P<ver>\d{4}))?\b`),
	},
	{
		// 21 CFR 820.30, 21 CFR Part 820, 21 CFR § 820.30, 21 CFR 820.30(g)
		family: "cfr",
		re:     regexp.MustCompile(`\b(?P<std>\d{1,2}\s+CFR)(?:\s+Part|\s*§)?\s*(?P<clause>\d+(?:\.\d+)*(?:\([a-z]\))?)`),
	},
	{
		// Regulation (EU) 2017/745, EU MDR, MDR, EU IVDR
		family: "eu",
		re:     regexp.MustCompile(`\b(?P<std>Regulation\s+\(EU\)\s+(?P<ver>\d{4}/\d+)|EU\s+MDR|EU\s+IVDR|MDR|IVDR)\b`),
	},
}

// attachmentPatterns match clause and annex mentions that bind to the
// nearest standard citation to their left on the same line.
var attachmentPatterns = []patternSpec{
	{
		// Clause 4.1, clause 5, Section 7.3, § 820.30, section 4.1(a)
		family: "clause",
		re:     regexp.MustCompile(`(?:\b[Cc]lause|\b[Ss]ection|§)\s*(?P<clause>\d+(?:\.\d+)*(?:\([a-z]\))?)\b`),
	},
	{
		// Annex II, Annex A, annex 3
		family: "annex",
		re:     regexp.MustCompile(`\b[Aa]nnex\s+(?P<annex>[A-Z]{1,4}|\d{1,2})\b`),
	},
}

// actionVerbs raise extraction confidence: a citation introduced by
// compliance language is almost never incidental.
var actionVerbs = regexp.MustCompile(`(?i)\b(?:per|pursuant to|according to|in accordance with|complies with|comply with|in compliance with|conforms to|conform to|consistent with|as required by|as specified in|as defined in|subject to)\b`)

// submatch returns the named group's text for one match index set,
// or "" when the group did not participate.
func submatch(re *regexp.Regexp, text string, idx []int, name string) string {
	for i, n := range re.SubexpNames() {
		if n == name && 2*i < len(idx) && idx[2*i] >= 0 {
			return text[idx[2*i]:idx[2*i+1]]
		}
	}
	return ""
}
