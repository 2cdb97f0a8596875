// Package gemini implements llm.Embedder against Google's embedding
// models.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sweetpotato0/policyqa/llm"
)

const defaultBatchSize = 16

// Embedder implements llm.Embedder by using a Gemini embedding model.
type Embedder struct {
	client    *genai.Client
	model     string
	dimension int
	batchSize int
}

// New creates a Gemini embedder for the given model.
func New(ctx context.Context, apiKey, model string, dimension int) (*Embedder, error) {
	if model == "" {
		model = "text-embedding-004"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &Embedder{
		client:    client,
		model:     model,
		dimension: dimension,
		batchSize: defaultBatchSize,
	}, nil
}

// Close releases the underlying client.
func (e *Embedder) Close() error {
	return e.client.Close()
}

// Dimension returns the number of embedding dimensions.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// EmbedDocuments converts texts to embeddings in batches.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := e.client.EmbeddingModel(e.model)
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(len(texts), start+e.batchSize)
		batch := em.NewBatch()
		for _, text := range texts[start:end] {
			batch.AddContent(genai.Text(text))
		}
		resp, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, wrapErr(err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("expected %d embeddings, got %d", end-start, len(resp.Embeddings))
		}
		for _, emb := range resp.Embeddings {
			out = append(out, emb.Values)
		}
	}
	return out, nil
}

// wrapErr marks an API failure transient only when its HTTP status is
// retryable.
func wrapErr(err error) error {
	wrapped := fmt.Errorf("embed contents: %w", err)
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && llm.RetryableStatus(apiErr.Code) {
		return llm.Transient(wrapped)
	}
	return wrapped
}
