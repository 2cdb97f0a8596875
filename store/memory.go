package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sweetpotato0/policyqa/document"
	"github.com/sweetpotato0/policyqa/llm"
)

// MemoryStore implements VectorStore with in-process storage and brute
// force cosine ranking.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks []*document.Chunk
	seen   map[string]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]bool)}
}

// Add inserts chunks, skipping duplicates by chunk ID.
func (s *MemoryStore) Add(ctx context.Context, chunks ...*document.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if c == nil || c.ID == "" {
			return fmt.Errorf("chunk must have an id")
		}
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		if s.seen[c.ID] {
			continue
		}
		s.seen[c.ID] = true
		s.chunks = append(s.chunks, c)
	}
	return nil
}

// SimilaritySearch implements VectorStore. The query is not embedded
// when no candidate matches the filter.
func (s *MemoryStore) SimilaritySearch(ctx context.Context, query string, k int, embedder llm.Embedder, filter *Filter) ([]*document.Chunk, []float64, error) {
	s.mu.RLock()
	candidates := make([]*document.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		if filter.Match(c) {
			candidates = append(candidates, c)
		}
	}
	s.mu.RUnlock()

	if len(candidates) == 0 || k <= 0 {
		return nil, nil, nil
	}

	vectors, err := embedder.EmbedDocuments(ctx, []string{query})
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil, fmt.Errorf("embedder returned no vector for query")
	}
	queryVec := vectors[0]

	return RankBySimilarity(candidates, queryVec, k)
}

// BulkFetch implements VectorStore.
func (s *MemoryStore) BulkFetch(ctx context.Context, filter *Filter) ([]*document.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*document.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		if filter.Match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Clear implements VectorStore.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.seen = make(map[string]bool)
	return nil
}

// Len returns the number of stored chunks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// RankBySimilarity scores candidates against queryVec and returns the
// top k, descending. Shared by the in-process backends.
func RankBySimilarity(candidates []*document.Chunk, queryVec []float32, k int) ([]*document.Chunk, []float64, error) {
	type scored struct {
		chunk *document.Chunk
		score float64
	}
	results := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, scored{chunk: c, score: CosineSimilarity(queryVec, c.Embedding)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if k > len(results) {
		k = len(results)
	}
	chunks := make([]*document.Chunk, k)
	scores := make([]float64, k)
	for i := 0; i < k; i++ {
		chunks[i] = results[i].chunk
		scores[i] = results[i].score
	}
	return chunks, scores, nil
}
