package store

import (
	"context"
	"math"
	"testing"

	"github.com/sweetpotato0/policyqa/document"
)

// fakeEmbedder returns a fixed vector for every input.
type fakeEmbedder struct {
	vec    []float32
	called int
}

func (e *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.called++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

func (e *fakeEmbedder) Dimension() int { return len(e.vec) }

func makeChunk(id, dockey string, embedding []float32) *document.Chunk {
	return &document.Chunk{
		ID:        id,
		Name:      id,
		Doc:       &document.Document{Dockey: dockey, Docname: id},
		Text:      "text of " + id,
		Embedding: embedding,
	}
}

func TestMemoryStoreAddDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	c := makeChunk("a", "doc1", []float32{1, 0})
	if err := s.Add(ctx, c, c); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.Add(ctx, c); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 chunk after duplicate adds, got %d", s.Len())
	}
}

func TestMemoryStoreAddRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Add(ctx, &document.Chunk{}); err == nil {
		t.Error("Expected error for chunk without id, got nil")
	}
	if err := s.Add(ctx, makeChunk("a", "doc1", nil)); err == nil {
		t.Error("Expected error for chunk without embedding, got nil")
	}
}

func TestMemoryStoreSimilaritySearchRanking(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.Add(ctx,
		makeChunk("far", "doc1", []float32{0, 1}),
		makeChunk("near", "doc1", []float32{1, 0}),
		makeChunk("mid", "doc1", []float32{1, 1}),
	)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	chunks, scores, err := s.SimilaritySearch(ctx, "q", 2, embedder, nil)
	if err != nil {
		t.Fatalf("SimilaritySearch failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].ID != "near" || chunks[1].ID != "mid" {
		t.Errorf("Expected [near mid], got [%s %s]", chunks[0].ID, chunks[1].ID)
	}
	if scores[0] < scores[1] {
		t.Errorf("Expected descending scores, got %v", scores)
	}
}

func TestMemoryStoreEmptyCorpusSkipsEmbedding(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	chunks, scores, err := s.SimilaritySearch(ctx, "q", 5, embedder, nil)
	if err != nil {
		t.Fatalf("SimilaritySearch failed: %v", err)
	}
	if len(chunks) != 0 || len(scores) != 0 {
		t.Errorf("Expected empty results, got %d chunks", len(chunks))
	}
	if embedder.called != 0 {
		t.Errorf("Expected embedder not to be called on empty corpus, called %d times", embedder.called)
	}
}

func TestMemoryStoreFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.Add(ctx,
		makeChunk("a", "doc1", []float32{1, 0}),
		makeChunk("b", "doc2", []float32{1, 0}),
	)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	filter := &Filter{Dockeys: []string{"doc2"}}

	chunks, _, err := s.SimilaritySearch(ctx, "q", 5, embedder, filter)
	if err != nil {
		t.Fatalf("SimilaritySearch failed: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ID != "b" {
		t.Errorf("Expected only chunk b, got %v", chunks)
	}

	fetched, err := s.BulkFetch(ctx, filter)
	if err != nil {
		t.Fatalf("BulkFetch failed: %v", err)
	}
	if len(fetched) != 1 || fetched[0].ID != "b" {
		t.Errorf("Expected only chunk b from BulkFetch, got %d chunks", len(fetched))
	}
}

func TestFilterMatch(t *testing.T) {
	chunk := makeChunk("a", "doc1", []float32{1})

	var nilFilter *Filter
	if !nilFilter.Match(chunk) {
		t.Error("nil filter should match everything")
	}
	if !(&Filter{}).Match(chunk) {
		t.Error("empty filter should match everything")
	}
	if (&Filter{Dockeys: []string{"doc2"}}).Match(chunk) {
		t.Error("filter for doc2 should not match doc1")
	}
	if !(&Filter{Dockeys: []string{"doc1", "doc2"}}).Match(chunk) {
		t.Error("filter listing doc1 should match")
	}
	if (&Filter{Dockeys: []string{"doc1"}}).Match(&document.Chunk{ID: "x"}) {
		t.Error("chunk without document should not match a non-empty filter")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if sim := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); sim < 0.999 {
		t.Errorf("Expected similarity ~1 for identical vectors, got %f", sim)
	}
	if sim := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); sim > 0.001 {
		t.Errorf("Expected similarity ~0 for orthogonal vectors, got %f", sim)
	}
	if sim := CosineSimilarity([]float32{0, 0}, []float32{1, 0}); !math.IsInf(sim, -1) {
		t.Errorf("Expected -Inf for zero vector, got %f", sim)
	}
	if sim := CosineSimilarity([]float32{1}, []float32{1, 0}); !math.IsInf(sim, -1) {
		t.Errorf("Expected -Inf for mismatched lengths, got %f", sim)
	}
}

func TestMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Add(ctx, makeChunk("a", "doc1", []float32{1})); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty store after Clear, got %d chunks", s.Len())
	}
	// A cleared chunk ID can be re-added.
	if err := s.Add(ctx, makeChunk("a", "doc1", []float32{1})); err != nil {
		t.Fatalf("Add after Clear failed: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 chunk after re-add, got %d", s.Len())
	}
}
