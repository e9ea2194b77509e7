package store

import (
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
)

// entry is one indexed chunk. vector is nil until the knowledge base binds an
// embedder and materializes it; vectorless entries are skipped by Search but
// still count toward Len and appear in Snapshot.
type entry struct {
	text     string
	vector   []float32
	metadata Metadata
	seq      uint64
}

// MemoryIndex is an exact cosine-similarity index keyed by chunk text.
// All methods are safe for concurrent use.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]*entry
	dims    int
	nextSeq uint64
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty index. The vector width is fixed by the
// first vector-bearing insert.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]*entry)}
}

// Insert adds or overwrites the entry for text. The first insert fixes the
// index dimensionality; later vectors must match or a DimensionError is
// returned. Overwrites keep the original insertion rank.
func (ix *MemoryIndex) Insert(text string, vector []float32, metadata Metadata) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("insert: empty text")
	}
	if len(vector) == 0 {
		return errors.New("insert: empty vector")
	}
	if err := ValidateReserved(metadata); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dims == 0 {
		ix.dims = len(vector)
	} else if len(vector) != ix.dims {
		return &DimensionError{Expected: ix.dims, Got: len(vector)}
	}

	if prev, ok := ix.entries[text]; ok {
		prev.vector = vector
		prev.metadata = metadata.Clone()
		return nil
	}

	ix.entries[text] = &entry{
		text:     text,
		vector:   vector,
		metadata: metadata.Clone(),
		seq:      ix.nextSeq,
	}
	ix.nextSeq++
	return nil
}

// Search returns up to k entries ranked by cosine similarity, ties broken by
// insertion order. k <= 0 or an empty index yields an empty result, never an
// error. A query of the wrong width returns a DimensionError.
func (ix *MemoryIndex) Search(query []float32, k int) ([]SearchResult, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if k <= 0 || len(ix.entries) == 0 {
		return nil, nil
	}
	if ix.dims != 0 && len(query) != ix.dims {
		return nil, &DimensionError{Expected: ix.dims, Got: len(query)}
	}

	type scored struct {
		ent   *entry
		score float64
	}
	candidates := make([]scored, 0, len(ix.entries))
	for _, e := range ix.entries {
		if e.vector == nil {
			continue
		}
		candidates = append(candidates, scored{ent: e, score: cosine(query, e.vector)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].ent.seq < candidates[j].ent.seq
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]SearchResult, 0, k)
	for _, c := range candidates[:k] {
		results = append(results, SearchResult{
			Text:     c.ent.text,
			Score:    c.score,
			Metadata: c.ent.metadata.Clone(),
		})
	}
	return results, nil
}

// GetMetadata returns a copy of the metadata stored for text.
func (ix *MemoryIndex) GetMetadata(text string) (Metadata, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	e, ok := ix.entries[strings.TrimSpace(text)]
	if !ok {
		return nil, false
	}
	return e.metadata.Clone(), true
}

// DeleteByFilename removes every entry whose filename metadata matches,
// atomically, and returns the removed count. The index dimensionality is
// retained even when the index empties.
func (ix *MemoryIndex) DeleteByFilename(filename string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	removed := 0
	for text, e := range ix.entries {
		if e.metadata.GetString(KeyFilename) == filename {
			delete(ix.entries, text)
			removed++
		}
	}
	return removed
}

// Snapshot enumerates (text, metadata) pairs in insertion order. Vectors are
// deliberately excluded; they are rebuilt at bind time.
func (ix *MemoryIndex) Snapshot() []SnapshotEntry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ordered := make([]*entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	out := make([]SnapshotEntry, 0, len(ordered))
	for _, e := range ordered {
		out = append(out, SnapshotEntry{Text: e.text, Metadata: e.metadata.Clone()})
	}
	return out
}

// Restore replaces the index contents with vectorless entries in the given
// order. Validation runs over the whole slice before any mutation, so a bad
// entry leaves the index untouched. Duplicate texts keep their first rank
// with the last metadata, mirroring Insert.
func (ix *MemoryIndex) Restore(entries []SnapshotEntry) error {
	texts := make([]string, len(entries))
	for i, se := range entries {
		t := strings.TrimSpace(se.Text)
		if t == "" {
			return errors.New("restore: empty text")
		}
		if err := ValidateReserved(se.Metadata); err != nil {
			return err
		}
		texts[i] = t
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.entries = make(map[string]*entry, len(entries))
	ix.dims = 0
	ix.nextSeq = 0
	for i, se := range entries {
		text := texts[i]
		if prev, ok := ix.entries[text]; ok {
			prev.metadata = se.Metadata.Clone()
			continue
		}
		ix.entries[text] = &entry{
			text:     text,
			metadata: se.Metadata.Clone(),
			seq:      ix.nextSeq,
		}
		ix.nextSeq++
	}
	return nil
}

// Len returns the number of entries, materialized or not.
func (ix *MemoryIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Dimensions returns the fixed vector width, or 0 before the first insert.
func (ix *MemoryIndex) Dimensions() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dims
}

// cosine computes cosine similarity with float64 accumulation. Zero-norm
// inputs score 0 rather than NaN.
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
