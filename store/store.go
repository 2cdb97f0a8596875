// Package store provides the vector-search contract over the chunk
// corpus: nearest-neighbor similarity search, bulk fetch, and MMR
// re-ranking on top of either.
package store

import (
	"context"
	"math"

	"github.com/sweetpotato0/policyqa/document"
	"github.com/sweetpotato0/policyqa/llm"
)

// Filter restricts a search to a set of documents. A nil filter matches
// every chunk. Backends push the dockey set into their query where they
// can.
type Filter struct {
	Dockeys []string
}

// Match reports whether the chunk passes the filter.
func (f *Filter) Match(c *document.Chunk) bool {
	if f == nil || len(f.Dockeys) == 0 {
		return true
	}
	if c.Doc == nil {
		return false
	}
	for _, key := range f.Dockeys {
		if c.Doc.Dockey == key {
			return true
		}
	}
	return false
}

// VectorStore is the similarity-search/storage service the engine talks
// to. Implementations: MemoryStore, contrib/store/pg, contrib/store/mongo.
type VectorStore interface {
	// Add inserts chunks with their embeddings.
	Add(ctx context.Context, chunks ...*document.Chunk) error

	// SimilaritySearch embeds the query and returns up to k chunks with
	// their cosine similarity scores, descending. An empty corpus
	// returns empty results without embedding the query.
	SimilaritySearch(ctx context.Context, query string, k int, embedder llm.Embedder, filter *Filter) ([]*document.Chunk, []float64, error)

	// BulkFetch returns every chunk matching the filter.
	BulkFetch(ctx context.Context, filter *Filter) ([]*document.Chunk, error)

	// Clear removes all chunks.
	Clear(ctx context.Context) error
}

// CosineSimilarity computes the cosine similarity of two vectors. NaN
// results (zero vectors, mismatched lengths) are mapped to -Inf so they
// rank last.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(-1)
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) {
		return math.Inf(-1)
	}
	return sim
}
