package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/reglens/reglens/internal/model"
)

// Loader reads procedure documents from disk and slices them into sections.
// JSON files carry pre-sectioned records; markdown and plain text split on
// markdown headings; HTML splits on heading elements.
type Loader struct {
	log zerolog.Logger
}

// NewLoader creates a loader.
func NewLoader(log zerolog.Logger) *Loader {
	return &Loader{log: log}
}

var mdHeading = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// rawSection is a sliced section before document identity is stamped.
type rawSection struct {
	path string
	text string
}

// LoadFile reads sections from one file. The document id defaults to the
// file name without its extension.
func (l *Loader) LoadFile(tenantID, path string) ([]model.Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return l.jsonSections(tenantID, base, data)
	case ".md", ".txt":
		return l.textSections(tenantID, base, string(data)), nil
	case ".html", ".htm":
		return l.htmlSections(tenantID, base, data)
	default:
		return nil, fmt.Errorf("%s: unsupported file type %q", path, filepath.Ext(path))
	}
}

// LoadDir loads every supported file under dir, lexically ordered.
func (l *Loader) LoadDir(tenantID, dir string) ([]model.Section, error) {
	var all []model.Section
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".md", ".txt", ".html", ".htm":
		default:
			l.log.Debug().Str("path", path).Msg("skipping unsupported file")
			return nil
		}
		sections, err := l.LoadFile(tenantID, path)
		if err != nil {
			return err
		}
		all = append(all, sections...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no ingestible sections under %s", dir)
	}
	return all, nil
}

// jsonSections parses an array of section records. Records may omit
// document_id (defaults to the file name) but never section_path.
func (l *Loader) jsonSections(tenantID, base string, data []byte) ([]model.Section, error) {
	var records []model.Section
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing sections: %w", err)
	}
	for i := range records {
		records[i].TenantID = tenantID
		if records[i].DocumentID == "" {
			records[i].DocumentID = base
		}
		if records[i].SectionPath == "" {
			return nil, fmt.Errorf("section record %d: missing section_path", i)
		}
	}
	return records, nil
}

// textSections splits markdown or plain text on headings. A level-1 heading
// names the document; a file without headings becomes a single section "1".
func (l *Loader) textSections(tenantID, base, text string) []model.Section {
	docName := base
	paths := make(map[string]int)

	var raw []rawSection
	current := rawSection{path: "introduction"}
	var buf strings.Builder

	flush := func() {
		current.text = strings.TrimSpace(buf.String())
		if current.text != "" {
			raw = append(raw, current)
		}
		buf.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		m := mdHeading.FindStringSubmatch(line)
		if m == nil {
			buf.WriteString(line)
			buf.WriteString("\n")
			continue
		}
		flush()
		title := strings.TrimSpace(m[2])
		if title == "" {
			title = "untitled"
		}
		if len(m[1]) == 1 && docName == base {
			docName = title
		}
		current = rawSection{path: uniquePath(paths, title)}
	}
	flush()

	if len(raw) == 1 && raw[0].path == "introduction" {
		raw[0].path = "1"
	}
	return stamp(tenantID, base, docName, raw)
}

// htmlSections slices an HTML document on h1-h4 elements. Script, style,
// and head content never reach the section text.
func (l *Loader) htmlSections(tenantID, base string, data []byte) ([]model.Section, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	docName := base
	paths := make(map[string]int)

	var raw []rawSection
	current := rawSection{path: "introduction"}
	var buf strings.Builder

	flush := func() {
		current.text = cleanLines(buf.String())
		if current.text != "" {
			raw = append(raw, current)
		}
		buf.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				if t := nodeText(n); t != "" {
					docName = t
				}
				return
			case "h1", "h2", "h3", "h4":
				flush()
				title := nodeText(n)
				if title == "" {
					title = "untitled"
				}
				current = rawSection{path: uniquePath(paths, title)}
				return
			}
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		// Block boundaries end a line so reference line numbers stay usable
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "li", "br", "tr", "section", "article":
				buf.WriteString("\n")
			}
		}
	}
	walk(doc)
	flush()

	return stamp(tenantID, base, docName, raw), nil
}

func stamp(tenantID, documentID, docName string, raw []rawSection) []model.Section {
	sections := make([]model.Section, 0, len(raw))
	for _, r := range raw {
		sections = append(sections, model.Section{
			SectionID: model.SectionID{
				TenantID:    tenantID,
				DocumentID:  documentID,
				SectionPath: r.path,
			},
			DocName: docName,
			Text:    r.text,
		})
	}
	return sections
}

// uniquePath disambiguates repeated headings within one document.
func uniquePath(paths map[string]int, title string) string {
	paths[title]++
	if n := paths[title]; n > 1 {
		return fmt.Sprintf("%s (%d)", title, n)
	}
	return title
}

// nodeText collects the visible text beneath a node.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// cleanLines tidies whitespace inside each line and collapses runs of blank
// lines, preserving line structure.
func cleanLines(text string) string {
	var out []string
	blank := true
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
