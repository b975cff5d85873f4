package match

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/reglens/reglens/internal/index"
	"github.com/reglens/reglens/internal/logging"
	"github.com/reglens/reglens/internal/model"
	"github.com/reglens/reglens/internal/storage"
)

// fakeProvider returns canned vectors per input text and counts calls.
type fakeProvider struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
	err     error
}

func (p *fakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if v, ok := p.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

func (p *fakeProvider) ModelName() string { return "fake" }
func (p *fakeProvider) Dimensions() int   { return 2 }

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// unitVec builds a vector whose cosine against [1,0] is score.
func unitVec(score float64) []float32 {
	return []float32{float32(score), float32(math.Sqrt(1 - score*score))}
}

func testCfg() model.MatchingConfig {
	return model.MatchingConfig{
		ImpactThreshold:         0.75,
		TopK:                    3,
		ExplicitConfidenceFloor: 0.7,
		ClausePrefixMatch:       true,
		TopKScope:               model.TopKPerDelta,
	}
}

type fixture struct {
	store    *storage.MemoryStore
	provider *fakeProvider
	ix       *index.Index
}

func newFixture() *fixture {
	p := &fakeProvider{vectors: map[string][]float32{}}
	return &fixture{
		store:    storage.NewMemoryStore(),
		provider: p,
		ix:       index.New(p, nil, model.MinEmbedChars, logging.Nop()),
	}
}

func (f *fixture) matcher(cfg model.MatchingConfig) *Matcher {
	return NewMatcher(f.store, f.store, f.ix, cfg, logging.Nop())
}

// addSection stores the section, indexes it with a fixed vector, and stores
// any references.
func (f *fixture) addSection(t *testing.T, sec model.Section, vec []float32, refs ...model.RegulatoryReference) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.UpsertSection(ctx, sec); err != nil {
		t.Fatal(err)
	}
	if vec != nil {
		f.ix.Put(sec, vec)
	}
	if err := f.store.ReplaceReferences(ctx, sec.SectionID, refs); err != nil {
		t.Fatal(err)
	}
}

func sec(doc, path, name, text string) model.Section {
	return model.Section{
		SectionID: model.SectionID{TenantID: "acme", DocumentID: doc, SectionPath: path},
		DocName:   name,
		Text:      text,
	}
}

func ref(s model.Section, standard, version, clause, annex, context string, line int, conf float64) model.RegulatoryReference {
	return model.RegulatoryReference{
		TenantID:    s.TenantID,
		DocumentID:  s.DocumentID,
		SectionPath: s.SectionPath,
		Standard:    standard,
		Version:     version,
		Clause:      clause,
		Annex:       annex,
		Context:     context,
		LineNumber:  line,
		Confidence:  conf,
	}
}

func TestAnalyze_ExplicitMatch(t *testing.T) {
	f := newFixture()
	s := sec("sop-001", "4.1", "Design Control SOP", "Risk analysis shall follow ISO 14971:2019 Clause 4.1.")
	f.addSection(t, s, unitVec(1.0),
		ref(s, "ISO 14971", "2019", "4.1", "", "Risk analysis shall follow ISO 14971:2019 Clause 4.1.", 12, 1.0))

	delta := model.RegulatoryDelta{
		ClauseID:   "4.1",
		Standard:   "ISO 14971",
		Version:    "2020",
		ChangeType: model.ChangeModified,
		ChangeText: "Risk management process requirements were restructured.",
	}

	run, err := f.matcher(testCfg()).Analyze(context.Background(), "acme", []model.RegulatoryDelta{delta})
	if err != nil {
		t.Fatalf("Analyze() failed: %v", err)
	}

	if len(run.Impacts) != 1 {
		t.Fatalf("got %d impacts, want 1", len(run.Impacts))
	}
	imp := run.Impacts[0]
	if imp.MatchType != model.MatchExplicitReference {
		t.Errorf("MatchType = %s, want explicit_reference", imp.MatchType)
	}
	if imp.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", imp.Confidence)
	}
	if imp.RegulatoryClause != "ISO 14971:2020 Clause 4.1" {
		t.Errorf("RegulatoryClause = %q", imp.RegulatoryClause)
	}
	if imp.ReferenceLine != 12 || imp.ReferenceVersion != "2019" {
		t.Errorf("reference fields = line %d version %q, want 12/2019", imp.ReferenceLine, imp.ReferenceVersion)
	}
	if imp.DocName != "Design Control SOP" || imp.Excerpt == "" {
		t.Errorf("section enrichment missing: doc_name=%q excerpt=%q", imp.DocName, imp.Excerpt)
	}
	wantRationale := `HIGH CONFIDENCE: This section explicitly references ISO 14971:2019 Clause 4.1. ` +
		`The regulatory requirement was modified. ` +
		`Reference found at line 12: "Risk analysis shall follow ISO 14971:2019 Clause 4.1."`
	if imp.Rationale != wantRationale {
		t.Errorf("Rationale =\n%s\nwant\n%s", imp.Rationale, wantRationale)
	}

	// A citation of the 2019 edition matches a 2020 delta; stage 2 never ran
	if f.provider.callCount() != 0 {
		t.Errorf("provider called %d times, want 0 (explicit match must skip stage 2)", f.provider.callCount())
	}
	if run.Summary.ExplicitImpacts != 1 || run.Summary.SemanticImpacts != 0 || run.Summary.Sections != 1 {
		t.Errorf("summary = %+v", run.Summary)
	}
}

func TestAnalyze_SemanticFallback(t *testing.T) {
	f := newFixture()
	f.addSection(t, sec("sop-001", "7.3", "Design SOP", "Verification planning and reports."), unitVec(1.0))
	f.addSection(t, sec("sop-001", "7.4", "Design SOP", "Purchasing controls."), unitVec(0.8))
	f.addSection(t, sec("sop-002", "2.0", "Training SOP", "Annual training refresh."), unitVec(0.1))

	delta := model.RegulatoryDelta{
		ClauseID:   "5.1",
		Standard:   "ISO 14971",
		Version:    "2020",
		ChangeType: model.ChangeModified,
		ChangeText: "Design verification requirements expanded.",
	}
	f.provider.vectors[delta.ChangeText] = []float32{1, 0}

	run, err := f.matcher(testCfg()).Analyze(context.Background(), "acme", []model.RegulatoryDelta{delta})
	if err != nil {
		t.Fatalf("Analyze() failed: %v", err)
	}

	if len(run.Impacts) != 2 {
		t.Fatalf("got %d impacts, want 2 (one candidate is below threshold)", len(run.Impacts))
	}
	first, second := run.Impacts[0], run.Impacts[1]
	if first.SectionPath != "7.3" || second.SectionPath != "7.4" {
		t.Errorf("order = %s, %s; want 7.3 then 7.4 (descending score)", first.SectionPath, second.SectionPath)
	}
	if first.MatchType != model.MatchSemanticSimilarity {
		t.Errorf("MatchType = %s, want semantic_similarity", first.MatchType)
	}
	if math.Abs(first.Confidence-1.0) > 1e-6 || math.Abs(second.Confidence-0.8) > 1e-6 {
		t.Errorf("confidences = %v, %v; want ~1.0, ~0.8", first.Confidence, second.Confidence)
	}
	if !strings.Contains(second.Rationale, "MODERATE MATCH (80%)") {
		t.Errorf("Rationale = %s", second.Rationale)
	}
	if !strings.Contains(first.Rationale, "expert review recommended") {
		t.Errorf("Rationale = %s", first.Rationale)
	}
	if run.Summary.SemanticImpacts != 2 || run.Summary.ExplicitImpacts != 0 {
		t.Errorf("summary = %+v", run.Summary)
	}
}

func TestAnalyze_ExplicitSuppressesSemantic(t *testing.T) {
	f := newFixture()
	s := sec("sop-001", "4.1", "SOP", "Complies with ISO 13485:2016 Clause 7.3.")
	f.addSection(t, s, unitVec(1.0),
		ref(s, "ISO 13485", "2016", "7.3", "", "Complies with ISO 13485:2016 Clause 7.3.", 1, 1.0))
	// Semantically identical section with no citation
	f.addSection(t, sec("sop-002", "1.0", "SOP 2", "Design and development procedure."), unitVec(1.0))

	delta := model.RegulatoryDelta{
		ClauseID:   "7.3",
		Standard:   "ISO 13485",
		ChangeType: model.ChangeModified,
		ChangeText: "Design and development requirements changed.",
	}

	run, err := f.matcher(testCfg()).Analyze(context.Background(), "acme", []model.RegulatoryDelta{delta})
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Impacts) != 1 || run.Impacts[0].MatchType != model.MatchExplicitReference {
		t.Fatalf("impacts = %+v, want exactly the explicit match", run.Impacts)
	}
	if f.provider.callCount() != 0 {
		t.Errorf("provider called %d times, want 0", f.provider.callCount())
	}
}

func TestAnalyze_WeakReferenceFallsThrough(t *testing.T) {
	f := newFixture()
	// Bare citation scored at the extractor floor, below the 0.7 eligibility bar
	s := sec("sop-001", "3.0", "SOP", "See ISO 14971 for guidance.")
	f.addSection(t, s, unitVec(0.9),
		ref(s, "ISO 14971", "", "", "", "See ISO 14971 for guidance.", 1, 0.6))

	delta := model.RegulatoryDelta{
		ClauseID:   "4.1",
		Standard:   "ISO 14971",
		ChangeType: model.ChangeModified,
		ChangeText: "Risk file requirements.",
	}
	f.provider.vectors[delta.ChangeText] = []float32{1, 0}

	run, err := f.matcher(testCfg()).Analyze(context.Background(), "acme", []model.RegulatoryDelta{delta})
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Impacts) != 1 || run.Impacts[0].MatchType != model.MatchSemanticSimilarity {
		t.Fatalf("impacts = %+v, want one semantic impact", run.Impacts)
	}
	if f.provider.callCount() == 0 {
		t.Error("provider never called; weak reference should not satisfy stage 1")
	}
}

func TestAnalyze_TopKPerDelta(t *testing.T) {
	f := newFixture()
	scores := []float64{0.99, 0.95, 0.9, 0.85, 0.8}
	for i, score := range scores {
		f.addSection(t, sec("sop-001", "4."+string(rune('1'+i)), "SOP", "section text"), unitVec(score))
	}

	delta := model.RegulatoryDelta{
		ClauseID:   "5.1",
		Standard:   "ISO 14971",
		ChangeType: model.ChangeModified,
		ChangeText: "change",
	}
	f.provider.vectors[delta.ChangeText] = []float32{1, 0}

	run, err := f.matcher(testCfg()).Analyze(context.Background(), "acme", []model.RegulatoryDelta{delta})
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Impacts) != 3 {
		t.Fatalf("got %d impacts, want top_k=3", len(run.Impacts))
	}
	want := []string{"4.1", "4.2", "4.3"}
	for i, imp := range run.Impacts {
		if imp.SectionPath != want[i] {
			t.Errorf("impact[%d] = %s, want %s (highest scores win)", i, imp.SectionPath, want[i])
		}
	}
}

func TestAnalyze_TopKPerRun(t *testing.T) {
	f := newFixture()
	f.addSection(t, sec("sop-001", "4.1", "SOP", "a"), unitVec(0.9))
	f.addSection(t, sec("sop-001", "4.2", "SOP", "b"), unitVec(0.8))

	deltas := []model.RegulatoryDelta{
		{ClauseID: "1.0", Standard: "ISO 14971", ChangeType: model.ChangeModified, ChangeText: "first change"},
		{ClauseID: "2.0", Standard: "ISO 14971", ChangeType: model.ChangeModified, ChangeText: "second change"},
	}
	f.provider.vectors["first change"] = []float32{1, 0}
	f.provider.vectors["second change"] = []float32{1, 0}

	cfg := testCfg()
	cfg.TopKScope = model.TopKPerRun

	run, err := f.matcher(cfg).Analyze(context.Background(), "acme", deltas)
	if err != nil {
		t.Fatal(err)
	}

	// Four candidates pass the threshold; the run-wide cap keeps the best 3,
	// grouped back into delta input order.
	if len(run.Impacts) != 3 {
		t.Fatalf("got %d impacts, want 3 across the whole run", len(run.Impacts))
	}
	type key struct {
		clause string
		path   string
	}
	var got []key
	for _, imp := range run.Impacts {
		got = append(got, key{imp.ClauseID, imp.SectionPath})
	}
	want := []key{{"1.0", "4.1"}, {"1.0", "4.2"}, {"2.0", "4.1"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("impacts = %v, want %v", got, want)
	}
}

func TestAnalyze_DegradedDelta(t *testing.T) {
	f := newFixture()
	s := sec("sop-001", "4.1", "SOP", "Per ISO 13485:2016 Clause 7.3.")
	f.addSection(t, s, nil,
		ref(s, "ISO 13485", "2016", "7.3", "", "Per ISO 13485:2016 Clause 7.3.", 1, 1.0))
	f.provider.err = errors.New("provider down")

	deltas := []model.RegulatoryDelta{
		{ClauseID: "7.3", Standard: "ISO 13485", ChangeType: model.ChangeModified, ChangeText: "x"},
		{ClauseID: "5.1", Standard: "ISO 14971", Version: "2020", ChangeType: model.ChangeModified, ChangeText: "y"},
	}

	run, err := f.matcher(testCfg()).Analyze(context.Background(), "acme", deltas)
	if err != nil {
		t.Fatalf("Analyze() failed: %v (a failing provider must degrade, not abort)", err)
	}

	if len(run.Impacts) != 1 || run.Impacts[0].MatchType != model.MatchExplicitReference {
		t.Fatalf("impacts = %+v, want the explicit match to survive", run.Impacts)
	}
	if len(run.Summary.DegradedDeltas) != 1 || run.Summary.DegradedDeltas[0] != "ISO 14971:2020 Clause 5.1" {
		t.Errorf("DegradedDeltas = %v", run.Summary.DegradedDeltas)
	}
}

func TestAnalyze_CancelledContext(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := f.matcher(testCfg()).Analyze(ctx, "acme", []model.RegulatoryDelta{
		{ClauseID: "4.1", Standard: "ISO 14971", ChangeType: model.ChangeModified, ChangeText: "x"},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Analyze() error = %v, want context.Canceled", err)
	}
	if run != nil {
		t.Error("cancelled analysis must not return a partial run")
	}
}

// cancellingProvider cancels the run from inside the embedding call,
// simulating a caller abort mid-flight.
type cancellingProvider struct {
	cancel context.CancelFunc
}

func (p *cancellingProvider) Embed(context.Context, string) ([]float32, error) {
	p.cancel()
	return nil, context.Canceled
}

func (p *cancellingProvider) ModelName() string { return "fake" }
func (p *cancellingProvider) Dimensions() int   { return 2 }

func TestAnalyze_CancelledDuringEmbedding(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := storage.NewMemoryStore()
	ix := index.New(&cancellingProvider{cancel: cancel}, nil, model.MinEmbedChars, logging.Nop())
	m := NewMatcher(store, store, ix, testCfg(), logging.Nop())

	run, err := m.Analyze(ctx, "acme", []model.RegulatoryDelta{
		{ClauseID: "4.1", Standard: "ISO 14971", ChangeType: model.ChangeModified, ChangeText: "x"},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Analyze() error = %v, want context.Canceled, not a degraded run", err)
	}
	if run != nil {
		t.Error("cancelled analysis must not return a partial run")
	}
}

func TestAnalyze_NoMatchIsNotAnError(t *testing.T) {
	f := newFixture()
	f.addSection(t, sec("sop-001", "4.1", "SOP", "unrelated text"), unitVec(0.1))

	delta := model.RegulatoryDelta{
		ClauseID:   "9.9",
		Standard:   "ASTM F2100",
		ChangeType: model.ChangeNew,
		ChangeText: "novel requirement",
	}
	f.provider.vectors[delta.ChangeText] = []float32{1, 0}

	run, err := f.matcher(testCfg()).Analyze(context.Background(), "acme", []model.RegulatoryDelta{delta})
	if err != nil {
		t.Fatalf("Analyze() failed: %v", err)
	}
	if len(run.Impacts) != 0 {
		t.Errorf("got %d impacts, want 0", len(run.Impacts))
	}
	if run.RunID == "" || run.CreatedAt.IsZero() {
		t.Error("run identity must be populated even with no impacts")
	}
	if run.Summary.Deltas != 1 || run.Summary.Sections != 0 {
		t.Errorf("summary = %+v", run.Summary)
	}
}

func TestAnalyze_AnnexAndAliasMatching(t *testing.T) {
	f := newFixture()
	s := sec("sop-003", "2.0", "Tech File SOP", "Technical documentation per EU MDR Annex II.")
	f.addSection(t, s, nil,
		ref(s, "EU MDR", "", "", "II", "Technical documentation per EU MDR Annex II.", 4, 0.7))

	delta := model.RegulatoryDelta{
		ClauseID:   "Annex II",
		Standard:   "Regulation (EU) 2017/745",
		ChangeType: model.ChangeModified,
		ChangeText: "Technical documentation requirements updated.",
	}

	run, err := f.matcher(testCfg()).Analyze(context.Background(), "acme", []model.RegulatoryDelta{delta})
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Impacts) != 1 {
		t.Fatalf("got %d impacts, want 1 (alias must fold to the stored standard)", len(run.Impacts))
	}
	if !strings.Contains(run.Impacts[0].Rationale, "EU MDR Annex II") {
		t.Errorf("Rationale = %s", run.Impacts[0].Rationale)
	}
}

func TestAnalyze_ImpactsFollowDeltaOrder(t *testing.T) {
	f := newFixture()
	s := sec("sop-001", "4.1", "SOP", "Per ISO 13485:2016 Clause 7.3.")
	f.addSection(t, s, unitVec(0.9),
		ref(s, "ISO 13485", "2016", "7.3", "", "Per ISO 13485:2016 Clause 7.3.", 1, 1.0))

	deltas := []model.RegulatoryDelta{
		{ClauseID: "5.1", Standard: "ISO 14971", ChangeType: model.ChangeModified, ChangeText: "semantic change"},
		{ClauseID: "7.3", Standard: "ISO 13485", ChangeType: model.ChangeModified, ChangeText: "explicit change"},
	}
	f.provider.vectors["semantic change"] = []float32{1, 0}

	run, err := f.matcher(testCfg()).Analyze(context.Background(), "acme", deltas)
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Impacts) != 2 {
		t.Fatalf("got %d impacts, want 2", len(run.Impacts))
	}
	if run.Impacts[0].ClauseID != "5.1" || run.Impacts[1].ClauseID != "7.3" {
		t.Errorf("impact order = %s, %s; semantic impacts of an earlier delta come first",
			run.Impacts[0].ClauseID, run.Impacts[1].ClauseID)
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	f := newFixture()
	s1 := sec("sop-001", "4.1", "SOP", "Per ISO 13485:2016 Clause 7.3.")
	f.addSection(t, s1, unitVec(0.9),
		ref(s1, "ISO 13485", "2016", "7.3", "", "Per ISO 13485:2016 Clause 7.3.", 1, 1.0))
	f.addSection(t, sec("sop-002", "1.0", "SOP", "a"), unitVec(0.85))
	f.addSection(t, sec("sop-002", "2.0", "SOP", "b"), unitVec(0.85))

	deltas := []model.RegulatoryDelta{
		{ClauseID: "7.3", Standard: "ISO 13485", ChangeType: model.ChangeModified, ChangeText: "x"},
		{ClauseID: "5.1", Standard: "ISO 14971", ChangeType: model.ChangeModified, ChangeText: "y"},
	}

	m := f.matcher(testCfg())
	first, err := m.Analyze(context.Background(), "acme", deltas)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		again, err := m.Analyze(context.Background(), "acme", deltas)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first.Impacts, again.Impacts) {
			t.Fatalf("run %d produced different impacts", i)
		}
		if again.RunID == first.RunID {
			t.Error("distinct analyses must have distinct run ids")
		}
	}
}

func TestClauseMatches(t *testing.T) {
	m := &Matcher{cfg: testCfg()}

	tests := []struct {
		name        string
		deltaClause string
		ref         model.RegulatoryReference
		prefix      bool
		want        bool
	}{
		{"exact", "5.1", model.RegulatoryReference{Clause: "5.1"}, true, true},
		{"sub-clause", "5.1", model.RegulatoryReference{Clause: "5.1.2"}, true, true},
		{"dot boundary", "5.1", model.RegulatoryReference{Clause: "5.10"}, true, false},
		{"cfr paragraph", "820.30", model.RegulatoryReference{Clause: "820.30(g)"}, true, true},
		{"parent not covered", "5.1.2", model.RegulatoryReference{Clause: "5.1"}, true, false},
		{"prefix disabled", "5.1", model.RegulatoryReference{Clause: "5.1.2"}, false, false},
		{"exact with prefix disabled", "5.1", model.RegulatoryReference{Clause: "5.1"}, false, true},
		{"empty delta clause matches all", "", model.RegulatoryReference{Clause: "7.3"}, true, true},
		{"empty delta clause matches bare ref", "", model.RegulatoryReference{}, true, true},
		{"annex", "Annex II", model.RegulatoryReference{Annex: "II"}, true, true},
		{"annex case fold", "Annex ii", model.RegulatoryReference{Annex: "II"}, true, true},
		{"annex does not match clause", "Annex II", model.RegulatoryReference{Clause: "2"}, true, false},
		{"clause does not match annex-only ref", "5.1", model.RegulatoryReference{Annex: "II"}, true, false},
		{"clause prefix form tolerated", "Clause 5.1", model.RegulatoryReference{Clause: "5.1"}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.cfg.ClausePrefixMatch = tt.prefix
			if got := m.clauseMatches(tt.deltaClause, tt.ref); got != tt.want {
				t.Errorf("clauseMatches(%q, %+v) = %v, want %v", tt.deltaClause, tt.ref, got, tt.want)
			}
		})
	}
}

func TestExcerpt(t *testing.T) {
	if got := excerpt("  a\tb\nc  "); got != "a b c" {
		t.Errorf("excerpt() = %q, want collapsed whitespace", got)
	}
	long := strings.Repeat("word ", 100)
	got := excerpt(long)
	if len([]rune(got)) != excerptLimit+3 {
		t.Errorf("excerpt() length = %d, want %d plus ellipsis", len([]rune(got)), excerptLimit)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("excerpt() = %q, want trailing ellipsis", got)
	}
}
