package archive

import (
	"context"
	"math"
	"slices"
	"sync"
)

var _ ChunkStore = (*MemoryStore)(nil)

// MemoryStore is an in-process [ChunkStore] using exhaustive cosine search.
// It is meant for local runs with a few hundred transcripts.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string][]Chunk // by file ID
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string][]Chunk)}
}

// Upsert implements ChunkStore.
func (m *MemoryStore) Upsert(_ context.Context, chunks []Chunk) error {
	byFile := make(map[string][]Chunk)
	for _, c := range chunks {
		c.Embedding = slices.Clone(c.Embedding)
		byFile[c.FileID] = append(byFile[c.FileID], c)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cs := range byFile {
		m.chunks[id] = cs
	}
	return nil
}

// Nearest implements ChunkStore.
func (m *MemoryStore) Nearest(_ context.Context, vec []float32, limit int) ([]ScoredChunk, error) {
	m.mu.RLock()
	var scored []ScoredChunk
	for _, cs := range m.chunks {
		for _, c := range cs {
			scored = append(scored, ScoredChunk{Chunk: c, Distance: cosineDistance(vec, c.Embedding)})
		}
	}
	m.mu.RUnlock()

	slices.SortStableFunc(scored, func(a, b ScoredChunk) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		if a.FileID != b.FileID {
			if a.FileID < b.FileID {
				return -1
			}
			return 1
		}
		return a.Seq - b.Seq
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// FileIDs implements ChunkStore.
func (m *MemoryStore) FileIDs(_ context.Context) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make(map[string]bool, len(m.chunks))
	for id := range m.chunks {
		ids[id] = true
	}
	return ids, nil
}

// cosineDistance matches pgvector's <=> operator: 1 - cosine similarity.
// Vectors of different length or zero norm are maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
