package extract

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/reglens/reglens/internal/model"
)

// contextRadius is how many characters of surrounding text are kept on
// each side of a citation.
const contextRadius = 200

// ReferenceExtractor finds explicit regulatory citations in section text.
// It is stateless; one instance serves all goroutines.
type ReferenceExtractor struct {
	citations   []patternSpec
	attachments []patternSpec
}

// NewReferenceExtractor creates an extractor with the built-in pattern table
func NewReferenceExtractor() *ReferenceExtractor {
	return &ReferenceExtractor{
		citations:   citationPatterns,
		attachments: attachmentPatterns,
	}
}

// stdHit is one standard designation found on a line
type stdHit struct {
	standard string // normalized designation
	version  string
	clause   string // inline clause (CFR style), may be empty
	pos, end int    // byte offsets within the line
	attached bool   // a clause/annex mention bound to this hit
}

// Extract scans text for regulatory citations. It is deterministic, never
// fails, and returns nil when nothing is found; spans that do not parse are
// skipped silently.
func (e *ReferenceExtractor) Extract(text string) []model.RegulatoryReference {
	var refs []model.RegulatoryReference

	offset := 0
	for i, line := range strings.Split(text, "\n") {
		refs = append(refs, e.extractLine(text, line, i+1, offset)...)
		offset += len(line) + 1
	}

	return refs
}

// extractLine finds citations on one line. lineStart is the line's byte
// offset within the full text, used to cut context windows.
func (e *ReferenceExtractor) extractLine(full, line string, lineNo, lineStart int) []model.RegulatoryReference {
	var hits []stdHit
	for _, p := range e.citations {
		for _, idx := range p.re.FindAllStringSubmatchIndex(line, -1) {
			hits = append(hits, stdHit{
				standard: model.NormalizeStandard(submatch(p.re, line, idx, "std")),
				version:  submatch(p.re, line, idx, "ver"),
				clause:   submatch(p.re, line, idx, "clause"),
				pos:      idx[0],
				end:      idx[1],
			})
		}
	}
	if len(hits) == 0 {
		return nil
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	hasVerb := actionVerbs.MatchString(line)

	var refs []model.RegulatoryReference
	emit := func(h stdHit, clause, annex string, spanEnd int) {
		ref := model.RegulatoryReference{
			Standard:   h.standard,
			Version:    h.version,
			Clause:     clause,
			Annex:      annex,
			Context:    contextAround(full, lineStart+h.pos, lineStart+spanEnd),
			LineNumber: lineNo,
		}
		ref.Confidence = scoreReference(ref, hasVerb)
		refs = append(refs, ref)
	}

	// Clause/§/Annex mentions bind to the nearest standard on their left.
	// Several mentions may bind to the same standard, one reference each.
	for _, p := range e.attachments {
		for _, idx := range p.re.FindAllStringSubmatchIndex(line, -1) {
			target := -1
			for i := range hits {
				if hits[i].end <= idx[0] {
					target = i
				}
			}
			if target < 0 {
				continue // no standard to anchor this mention
			}
			hits[target].attached = true
			emit(hits[target], submatch(p.re, line, idx, "clause"), submatch(p.re, line, idx, "annex"), idx[1])
		}
	}

	// Standards with an inline clause always count; bare standards count
	// only if nothing bound to them (the bound form is more specific).
	for _, h := range hits {
		if h.clause != "" || !h.attached {
			emit(h, h.clause, "", h.end)
		}
	}

	return dedupeRefs(refs)
}

// contextAround cuts ±contextRadius characters around a span, snapped to
// rune boundaries so multi-byte text never splits mid-rune.
func contextAround(text string, start, end int) string {
	lo := start - contextRadius
	if lo < 0 {
		lo = 0
	}
	hi := end + contextRadius
	if hi > len(text) {
		hi = len(text)
	}
	for lo > 0 && !utf8.RuneStart(text[lo]) {
		lo--
	}
	for hi < len(text) && !utf8.RuneStart(text[hi]) {
		hi++
	}
	return strings.TrimSpace(text[lo:hi])
}

// dedupeRefs drops same-line duplicates of one citation
func dedupeRefs(refs []model.RegulatoryReference) []model.RegulatoryReference {
	seen := make(map[string]bool)
	var unique []model.RegulatoryReference

	for _, ref := range refs {
		key := ref.Standard + "|" + ref.Version + "|" + ref.Clause + "|" + ref.Annex
		if !seen[key] {
			seen[key] = true
			unique = append(unique, ref)
		}
	}

	return unique
}
