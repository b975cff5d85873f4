// Package index holds the embedding vectors for ingested sections and
// answers candidate queries for semantic matching.
package index

import (
	"context"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/reglens/reglens/internal/cache"
	"github.com/reglens/reglens/internal/embed"
	"github.com/reglens/reglens/internal/model"
	"github.com/reglens/reglens/internal/semantic"
)

// entry is one indexed section vector. The content key records which text
// the vector was computed from, so edited sections never serve stale vectors.
type entry struct {
	id  model.SectionID
	key string
	vec []float32
}

// Index maps sections to their embedding vectors. Reads run concurrently
// during analysis; writes swap whole entries during ingestion.
type Index struct {
	mu       sync.RWMutex
	entries  map[string]entry // keyed by SectionID.Key()
	provider embed.Provider
	vectors  cache.Cache // optional persistent layer, may be nil
	maxChars int
	log      zerolog.Logger
}

// New creates an index over the given provider. vectors may be nil to skip
// cross-restart persistence.
func New(provider embed.Provider, vectors cache.Cache, maxChars int, log zerolog.Logger) *Index {
	return &Index{
		entries:  make(map[string]entry),
		provider: provider,
		vectors:  vectors,
		maxChars: maxChars,
		log:      log.With().Str("component", "index").Logger(),
	}
}

// GetOrCompute returns the section's vector, computing it at most once per
// distinct text. Identical text never re-hits the provider: hits come from
// the in-memory map first, then the persistent cache.
func (ix *Index) GetOrCompute(ctx context.Context, section model.Section) ([]float32, error) {
	text := ix.bounded(section.Text, section.Key())
	contentKey := cache.VectorKey(ix.provider.ModelName(), text)

	ix.mu.RLock()
	if e, ok := ix.entries[section.Key()]; ok && e.key == contentKey {
		ix.mu.RUnlock()
		return e.vec, nil
	}
	ix.mu.RUnlock()

	vec, err := ix.lookupOrEmbed(ctx, contentKey, text)
	if err != nil {
		return nil, err
	}

	ix.mu.Lock()
	ix.entries[section.Key()] = entry{id: section.SectionID, key: contentKey, vec: vec}
	ix.mu.Unlock()

	return vec, nil
}

// EmbedText embeds free text (a delta's change description) through the same
// caches as section text.
func (ix *Index) EmbedText(ctx context.Context, text string) ([]float32, error) {
	text = ix.bounded(text, "query")
	return ix.lookupOrEmbed(ctx, cache.VectorKey(ix.provider.ModelName(), text), text)
}

// lookupOrEmbed serves from the persistent cache or calls the provider
func (ix *Index) lookupOrEmbed(ctx context.Context, key, text string) ([]float32, error) {
	if ix.vectors != nil {
		if data, ok := ix.vectors.Get(key); ok {
			if vec, err := decodeVector(data); err == nil {
				return vec, nil
			}
			// Corrupt entry: drop it and recompute
			_ = ix.vectors.Delete(key)
		}
	}

	vec, err := ix.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if ix.vectors != nil {
		if err := ix.vectors.Set(key, encodeVector(vec), cache.NoExpiration); err != nil {
			ix.log.Warn().Err(err).Msg("vector cache write failed")
		}
	}

	return vec, nil
}

// Put inserts a vector directly, bypassing the provider
func (ix *Index) Put(section model.Section, vec []float32) {
	text := ix.bounded(section.Text, section.Key())
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[section.Key()] = entry{
		id:  section.SectionID,
		key: cache.VectorKey(ix.provider.ModelName(), text),
		vec: vec,
	}
}

// Invalidate drops all vectors for one document and reports how many
func (ix *Index) Invalidate(tenantID, documentID string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	removed := 0
	for k, e := range ix.entries {
		if e.id.TenantID == tenantID && e.id.DocumentID == documentID {
			delete(ix.entries, k)
			removed++
		}
	}
	return removed
}

// Candidates returns every indexed section for the tenant in canonical order
// (document id, then section path). Rank ties then resolve deterministically.
func (ix *Index) Candidates(tenantID string) []semantic.Candidate {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out []semantic.Candidate
	for _, e := range ix.entries {
		if e.id.TenantID == tenantID {
			out = append(out, semantic.Candidate{ID: e.id, Vector: e.vec})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.DocumentID != out[j].ID.DocumentID {
			return out[i].ID.DocumentID < out[j].ID.DocumentID
		}
		return out[i].ID.SectionPath < out[j].ID.SectionPath
	})

	return out
}

// Len reports how many sections are indexed
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// bounded enforces the embedding character cap. Text at or under the cap
// passes through untouched; anything longer is cut at a rune boundary and
// logged, never silently.
func (ix *Index) bounded(text, unit string) string {
	if ix.maxChars <= 0 || len(text) <= ix.maxChars {
		return text
	}

	cut := ix.maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	ix.log.Warn().
		Str("unit", unit).
		Int("chars", len(text)).
		Int("max_chars", ix.maxChars).
		Msg("text exceeds embedding cap, truncating")

	return text[:cut]
}
