// Package llm defines the provider-facing contracts for chat and
// embedding calls. Providers live under contrib/provider and
// contrib/embedder; the core only depends on these interfaces.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"

	pqerrors "github.com/sweetpotato0/policyqa/errors"
	"github.com/sweetpotato0/policyqa/message"
)

// Usage carries per-response token and cost metadata.
type Usage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
}

// Result is a complete, non-streaming chat response.
type Result struct {
	Text  string
	Usage Usage
}

// ChatClient is a chat/completion provider. StreamChat yields
// incremental text deltas; Chat is the non-streaming variant used for
// summarization and suggestion calls.
type ChatClient interface {
	Chat(ctx context.Context, msgs []*message.Message) (*Result, error)
	StreamChat(ctx context.Context, msgs []*message.Message) iter.Seq2[string, error]
}

// Embedder converts texts to vector embeddings. Implementations must
// pre-truncate inputs exceeding the provider token budget.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Transient wraps err so callers can recognize it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", pqerrors.ErrTransient, err)
}

// IsTransient reports whether err represents a retryable network or
// provider failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, pqerrors.ErrTransient) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// RetryableStatus reports whether an HTTP status from a provider should
// be treated as transient.
func RetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}
