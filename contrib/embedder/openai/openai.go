// Package openai implements llm.Embedder against the OpenAI embeddings
// API, with batching and token-budget truncation.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/sweetpotato0/policyqa/contrib/tokenizer/tiktoken"
	"github.com/sweetpotato0/policyqa/llm"
)

const (
	// defaultBatchSize bounds texts per embeddings request.
	defaultBatchSize = 16

	// defaultMaxInputTokens is the input budget for the small embedding
	// models; oversize texts are truncated, not rejected.
	defaultMaxInputTokens = 8191
)

// Embedder implements llm.Embedder by using OpenAI.
type Embedder struct {
	client    openaisdk.Client
	model     openaisdk.EmbeddingModel
	dimension int
	batchSize int
	maxTokens int
	tokenizer *tiktoken.Tokenizer
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithBatchSize sets the number of texts per request.
func WithBatchSize(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMaxInputTokens sets the per-text token budget.
func WithMaxInputTokens(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// New creates an OpenAI embedder.
func New(apiKey, baseURL string, model openaisdk.EmbeddingModel, dimension int, opts ...Option) *Embedder {
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	// Encoder resolution can fail offline; the char-ratio fallback
	// covers that.
	tokenizer, _ := tiktoken.NewTokenizer("cl100k_base")

	e := &Embedder{
		client:    openaisdk.NewClient(clientOpts...),
		model:     model,
		dimension: dimension,
		batchSize: defaultBatchSize,
		maxTokens: defaultMaxInputTokens,
		tokenizer: tokenizer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dimension returns the number of embedding dimensions.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// EmbedDocuments converts texts to embeddings in batches, truncating
// any text exceeding the token budget.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = e.truncate(t)
	}

	out := make([][]float32, 0, len(truncated))
	for start := 0; start < len(truncated); start += e.batchSize {
		end := min(len(truncated), start+e.batchSize)
		batch, err := e.embedBatch(ctx, truncated[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openaisdk.EmbeddingNewParams{
		Model: e.model,
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(resp.Data))
	for i, emb := range resp.Data {
		out[i] = convertVector(emb.Embedding, e.dimension)
	}
	return out, nil
}

func (e *Embedder) truncate(text string) string {
	if e.tokenizer != nil {
		return e.tokenizer.Truncate(text, e.maxTokens)
	}
	return tiktoken.TruncateChars(text, e.maxTokens)
}

// wrapErr marks an API failure transient only when its HTTP status is
// retryable.
func wrapErr(err error) error {
	wrapped := fmt.Errorf("create embeddings: %w", err)
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) && llm.RetryableStatus(apiErr.StatusCode) {
		return llm.Transient(wrapped)
	}
	return wrapped
}

func convertVector(input []float64, expected int) []float32 {
	vec := make([]float32, expected)
	for i := 0; i < len(input) && i < expected; i++ {
		vec[i] = float32(input[i])
	}
	return vec
}
