package store

import (
	"context"
	"fmt"
	"math"

	"github.com/sweetpotato0/policyqa/document"
	pqerrors "github.com/sweetpotato0/policyqa/errors"
	"github.com/sweetpotato0/policyqa/llm"
)

// DefaultMMRLambda biases strongly toward relevance with mild
// diversity.
const DefaultMMRLambda = 0.9

// MaxMarginalRelevanceSearch fetches fetchK candidates by similarity
// and re-ranks them down to k with Maximal Marginal Relevance:
//
//	mmr = lambda*sim(query, c) - (1-lambda)*max sim(c, selected)
//
// When fetchK == k, or lambda >= 1.0, or the pool is no larger than k,
// the plain similarity ranking is returned, truncated to the top k.
// fetchK < k is a contract violation and is rejected before any query
// runs.
func MaxMarginalRelevanceSearch(
	ctx context.Context,
	s VectorStore,
	query string,
	k, fetchK int,
	lambda float64,
	embedder llm.Embedder,
	filter *Filter,
) ([]*document.Chunk, []float64, error) {
	if fetchK < k {
		return nil, nil, fmt.Errorf("%w: fetch_k (%d) must be greater or equal to k (%d)", pqerrors.ErrInvalidInput, fetchK, k)
	}
	if lambda <= 0 {
		lambda = DefaultMMRLambda
	}

	chunks, scores, err := s.SimilaritySearch(ctx, query, fetchK, embedder, filter)
	if err != nil {
		return nil, nil, err
	}
	if len(chunks) <= k || lambda >= 1.0 {
		// The similarity ranking stands, but the output contract still
		// caps the result at k.
		if len(chunks) > k {
			chunks, scores = chunks[:k], scores[:k]
		}
		return chunks, scores, nil
	}

	// Pairwise similarities between candidate embeddings.
	n := len(chunks)
	simMatrix := make([][]float64, n)
	for i := range simMatrix {
		simMatrix[i] = make([]float64, n)
		for j := range simMatrix[i] {
			simMatrix[i][j] = CosineSimilarity(chunks[i].Embedding, chunks[j].Embedding)
		}
	}

	selected := []int{0}
	for len(selected) < k {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i := 0; i < n; i++ {
			if containsInt(selected, i) {
				continue
			}
			maxSimToSelected := math.Inf(-1)
			for _, j := range selected {
				if simMatrix[i][j] > maxSimToSelected {
					maxSimToSelected = simMatrix[i][j]
				}
			}
			score := lambda*scores[i] - (1-lambda)*maxSimToSelected
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		selected = append(selected, bestIdx)
	}

	outChunks := make([]*document.Chunk, 0, len(selected))
	outScores := make([]float64, 0, len(selected))
	for _, i := range selected {
		outChunks = append(outChunks, chunks[i])
		outScores = append(outScores, scores[i])
	}
	return outChunks, outScores, nil
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
