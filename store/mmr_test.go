package store

import (
	"context"
	"errors"
	"testing"

	pqerrors "github.com/sweetpotato0/policyqa/errors"
)

func TestMMRRejectsFetchKSmallerThanK(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	embedder := &fakeEmbedder{vec: []float32{1, 0}}

	_, _, err := MaxMarginalRelevanceSearch(ctx, s, "q", 5, 3, 0.9, embedder, nil)
	if err == nil {
		t.Fatal("Expected error for fetchK < k, got nil")
	}
	if !errors.Is(err, pqerrors.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
	if embedder.called != 0 {
		t.Error("Expected no embedding call when the contract is violated")
	}
}

func TestMMRPassthroughWhenPoolFitsK(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	err := s.Add(ctx,
		makeChunk("a", "doc1", []float32{1, 0}),
		makeChunk("b", "doc1", []float32{0, 1}),
	)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	chunks, _, err := MaxMarginalRelevanceSearch(ctx, s, "q", 5, 10, 0.5, embedder, nil)
	if err != nil {
		t.Fatalf("MMR search failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Errorf("Expected 2 chunks back unchanged, got %d", len(chunks))
	}
	if chunks[0].ID != "a" {
		t.Errorf("Expected plain similarity order, got %s first", chunks[0].ID)
	}
}

func TestMMRLambdaOnePassthrough(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	err := s.Add(ctx,
		makeChunk("a", "doc1", []float32{0.9, 0.436}),
		makeChunk("b", "doc1", []float32{0.9, 0.436}),
		makeChunk("c", "doc1", []float32{0.9, -0.436}),
	)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	chunks, scores, err := MaxMarginalRelevanceSearch(ctx, s, "q", 2, 3, 1.0, embedder, nil)
	if err != nil {
		t.Fatalf("MMR search failed: %v", err)
	}
	// lambda >= 1 disables the diversity term but still returns only k.
	if len(chunks) != 2 || len(scores) != 2 {
		t.Fatalf("Expected 2 chunks and scores, got %d and %d", len(chunks), len(scores))
	}
	if chunks[0].ID != "a" || chunks[1].ID != "b" {
		t.Errorf("Expected similarity order [a b], got [%s %s]", chunks[0].ID, chunks[1].ID)
	}
}

func TestMMRLambdaOneTruncatesToK(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	err := s.Add(ctx,
		makeChunk("a", "doc1", []float32{1, 0}),
		makeChunk("b", "doc1", []float32{0.9, 0.436}),
		makeChunk("c", "doc1", []float32{0.9, -0.436}),
		makeChunk("d", "doc1", []float32{0, 1}),
	)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	chunks, scores, err := MaxMarginalRelevanceSearch(ctx, s, "q", 2, 4, 1.0, embedder, nil)
	if err != nil {
		t.Fatalf("MMR search failed: %v", err)
	}
	if len(chunks) != 2 || len(scores) != 2 {
		t.Fatalf("Expected the top 2 of the 4 fetched, got %d chunks and %d scores", len(chunks), len(scores))
	}
	if chunks[0].ID != "a" {
		t.Errorf("Expected the most similar chunk first, got %s", chunks[0].ID)
	}
}

func TestMMRPrefersDiverseCandidates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	// a and b are duplicates; c is equally relevant but points elsewhere.
	err := s.Add(ctx,
		makeChunk("a", "doc1", []float32{0.9, 0.436}),
		makeChunk("b", "doc1", []float32{0.9, 0.436}),
		makeChunk("c", "doc1", []float32{0.9, -0.436}),
	)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	chunks, scores, err := MaxMarginalRelevanceSearch(ctx, s, "q", 2, 3, 0.5, embedder, nil)
	if err != nil {
		t.Fatalf("MMR search failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].ID != "c" {
		t.Errorf("Expected the diverse candidate c second, got %s", chunks[1].ID)
	}
	if len(scores) != 2 {
		t.Errorf("Expected 2 scores, got %d", len(scores))
	}
}

func TestMMRDefaultLambda(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	err := s.Add(ctx,
		makeChunk("a", "doc1", []float32{1, 0}),
		makeChunk("b", "doc1", []float32{0, 1}),
	)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	chunks, _, err := MaxMarginalRelevanceSearch(ctx, s, "q", 1, 2, 0, embedder, nil)
	if err != nil {
		t.Fatalf("MMR search failed: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ID != "a" {
		t.Errorf("Expected most relevant chunk with defaulted lambda, got %v", chunks)
	}
}
