// Package evidence turns retrieved chunks into scored summaries and
// assembles them into the context block the answering model cites from.
package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sweetpotato0/policyqa/document"
	"github.com/sweetpotato0/policyqa/llm"
	"github.com/sweetpotato0/policyqa/message"
	"github.com/sweetpotato0/policyqa/pkg/logging"
	"github.com/sweetpotato0/policyqa/prompt"
)

const (
	// DefaultConcurrency bounds the fan-out of per-chunk provider
	// calls, protecting the gateway from burst overload.
	DefaultConcurrency = 4

	// defaultScore is used when a parsed summary carries no relevance
	// signal at all. Zero scores are filtered out downstream, so the
	// neutral midpoint keeps the chunk visible.
	defaultScore = 5

	maxPoints = 10
)

// Summary holds one chunk's summary with respect to a question.
type Summary struct {
	Chunk *document.Chunk
	// Text is the summary produced by the model, or the raw chunk text
	// when summarization was skipped.
	Text string
	// Score is the relevance of the summary to the question, 0-10.
	// Zero means "not relevant" and excludes the summary from context.
	Score int
	// Points are quote/point pairs supporting the summary.
	Points []document.Point
}

// Name returns the citation key for the summarized chunk.
func (s *Summary) Name() string { return s.Chunk.Name }

// Summarizer maps chunks to summaries with bounded concurrency.
type Summarizer struct {
	client       llm.ChatClient
	prompts      *prompt.Manager
	width        int
	verifyQuotes bool
	costs        *llm.CostTracker
	logger       *slog.Logger
}

// SummarizerOption configures a Summarizer.
type SummarizerOption func(*Summarizer)

// WithConcurrency sets the fan-out bound.
func WithConcurrency(n int) SummarizerOption {
	return func(s *Summarizer) {
		if n > 0 {
			s.width = n
		}
	}
}

// WithQuoteVerification toggles dropping points whose quote is not an
// exact substring of the source chunk.
func WithQuoteVerification(enable bool) SummarizerOption {
	return func(s *Summarizer) { s.verifyQuotes = enable }
}

// WithCostTracker records usage metadata for each summarization call.
func WithCostTracker(t *llm.CostTracker) SummarizerOption {
	return func(s *Summarizer) { s.costs = t }
}

// NewSummarizer creates a summarizer backed by the given chat client.
func NewSummarizer(client llm.ChatClient, opts ...SummarizerOption) *Summarizer {
	s := &Summarizer{
		client:       client,
		prompts:      prompt.Defaults(),
		width:        DefaultConcurrency,
		verifyQuotes: true,
		logger:       logging.WithComponent("summarizer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize produces one summary per chunk. Calls run concurrently up
// to the configured width; results are joined before returning, so
// callers always observe a complete batch. Output order matches the
// input chunks, not completion order. A parse failure for one chunk
// degrades that chunk to heuristic scoring instead of failing the
// batch.
func (s *Summarizer) Summarize(ctx context.Context, question string, chunks []*document.Chunk) ([]*Summary, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	results := make([]*Summary, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.width)
	for i, chunk := range chunks {
		g.Go(func() error {
			summary, err := s.summarizeOne(gctx, question, chunk)
			if err != nil {
				// Provider failure: keep the raw text so the chunk is
				// still usable, score it heuristically.
				s.logger.Warn("summarization degraded to raw text",
					"chunk", chunk.Name, "error", err)
				summary = &Summary{
					Chunk: chunk,
					Text:  StripCitations(chunk.Text),
					Score: defaultScore,
				}
			}
			results[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Summarizer) summarizeOne(ctx context.Context, question string, chunk *document.Chunk) (*Summary, error) {
	citation := chunk.Name + ": " + chunk.Doc.Citation
	system, err := s.prompts.Render(prompt.SummarySystemTemplate, map[string]any{
		"summary_length": "about 100 words",
	})
	if err != nil {
		return nil, err
	}
	user, err := s.prompts.Render(prompt.SummaryUserTemplate, map[string]any{
		"citation": citation,
		"text":     chunk.Text,
		"question": question,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.client.Chat(ctx, []*message.Message{
		message.NewMessage(message.RoleSystem, system),
		message.NewMessage(message.RoleUser, user),
	})
	if err != nil {
		return nil, fmt.Errorf("summarize %s: %w", chunk.Name, err)
	}
	s.costs.Record(result.Usage)

	return s.buildSummary(chunk, result.Text), nil
}

// buildSummary parses the model output into a Summary, falling back to
// heuristic scoring over the raw text when the JSON cannot be read.
func (s *Summarizer) buildSummary(chunk *document.Chunk, raw string) *Summary {
	parsed, err := ParseLooseObject(raw)
	if err != nil {
		text := StripCitations(raw)
		return &Summary{Chunk: chunk, Text: text, Score: ExtractScore(text)}
	}

	summaryText, ok := parsed["summary"].(string)
	if !ok || summaryText == "" {
		text := StripCitations(raw)
		return &Summary{Chunk: chunk, Text: text, Score: ExtractScore(text)}
	}

	score, found := coerceScore(parsed["relevance_score"])
	if !found {
		score = ExtractScore(summaryText)
	}

	return &Summary{
		Chunk:  chunk,
		Text:   StripCitations(summaryText),
		Score:  score,
		Points: s.parsePoints(chunk, parsed["points"]),
	}
}

func (s *Summarizer) parsePoints(chunk *document.Chunk, raw any) []document.Point {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	points := make([]document.Point, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		quote, _ := obj["quote"].(string)
		claim, _ := obj["point"].(string)
		if quote == "" {
			continue
		}
		if s.verifyQuotes && !strings.Contains(chunk.Text, quote) {
			s.logger.Debug("dropping unverifiable quote", "chunk", chunk.Name)
			continue
		}
		points = append(points, document.Point{Quote: quote, Point: claim})
		if len(points) == maxPoints {
			break
		}
	}
	return points
}

// coerceScore reads a relevance score out of whatever JSON type the
// model produced for it.
func coerceScore(v any) (int, bool) {
	switch val := v.(type) {
	case float64:
		s := int(val)
		if s > 10 {
			s /= 10
		}
		return s, true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			if n > 10 {
				n /= 10
			}
			return n, true
		}
		if val != "" {
			return ExtractScore(val), true
		}
	}
	return 0, false
}
