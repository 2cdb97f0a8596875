// Package engine assembles the answering pipeline: retrieval,
// summarization, the control loop, and citation normalization behind a
// single Ask entry point.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/policyqa/agent"
	"github.com/sweetpotato0/policyqa/cite"
	"github.com/sweetpotato0/policyqa/evidence"
	"github.com/sweetpotato0/policyqa/llm"
	"github.com/sweetpotato0/policyqa/pkg/logging"
	"github.com/sweetpotato0/policyqa/pkg/telemetry"
	"github.com/sweetpotato0/policyqa/policy"
	"github.com/sweetpotato0/policyqa/prompt"
	"github.com/sweetpotato0/policyqa/session"
	"github.com/sweetpotato0/policyqa/store"
	"github.com/sweetpotato0/policyqa/tool"
)

const (
	// DefaultSearchK is how many chunks each gather_evidence call keeps.
	DefaultSearchK = 5

	answerLength = "about 200 words, but can be longer"
)

// Engine wires a vector store, embedder, summarizer and chat client
// into the answering pipeline. One Engine serves many sessions.
type Engine struct {
	store      store.VectorStore
	embedder   llm.Embedder
	client     llm.ChatClient
	summarizer *evidence.Summarizer
	policies   *policy.Registry
	prompts    *prompt.Manager
	searchK    int
	mmrLambda  float64
	loopOpts   []agent.LoopOption
	extraTools []*tool.Tool
	tracer     trace.Tracer
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithSummarizer overrides the evidence summarizer.
func WithSummarizer(s *evidence.Summarizer) Option {
	return func(e *Engine) { e.summarizer = s }
}

// WithPolicies sets the policy catalog for scoped retrieval.
func WithPolicies(r *policy.Registry) Option {
	return func(e *Engine) { e.policies = r }
}

// WithSearchK sets how many chunks each evidence search keeps.
func WithSearchK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.searchK = k
		}
	}
}

// WithMMRLambda sets the relevance/diversity trade-off for retrieval.
func WithMMRLambda(lambda float64) Option {
	return func(e *Engine) { e.mmrLambda = lambda }
}

// WithExtraTools exposes additional tools, such as ones bridged from an
// MCP server, to every question's control loop.
func WithExtraTools(ts ...*tool.Tool) Option {
	return func(e *Engine) { e.extraTools = append(e.extraTools, ts...) }
}

// WithLoopOptions forwards options to each question's control loop.
func WithLoopOptions(opts ...agent.LoopOption) Option {
	return func(e *Engine) { e.loopOpts = append(e.loopOpts, opts...) }
}

// New creates an engine over the given store, embedder and chat client.
func New(s store.VectorStore, embedder llm.Embedder, client llm.ChatClient, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		embedder:  embedder,
		client:    client,
		policies:  policy.NewRegistry(),
		prompts:   prompt.Defaults(),
		searchK:   DefaultSearchK,
		mmrLambda: store.DefaultMMRLambda,
		tracer:    otel.Tracer("policyqa/engine"),
		logger:    logging.WithComponent("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// summarizerFor returns the configured summarizer, or a default one
// recording spend against the session's cost tracker.
func (e *Engine) summarizerFor(sess *session.Session) *evidence.Summarizer {
	if e.summarizer != nil {
		return e.summarizer
	}
	return evidence.NewSummarizer(e.client, evidence.WithCostTracker(sess.Costs))
}

// Ask answers one question within a session. Progress events are
// forwarded to onEvent as they happen; the normalized answer with
// resolved references is returned once the loop completes. A malformed
// answer is retried once with a corrective instruction before degrading
// to the fallback response.
func (e *Engine) Ask(ctx context.Context, sess *session.Session, query, currentPolicy string, onEvent func(agent.Event)) (result *cite.Result, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.ask",
		trace.WithAttributes(attribute.String("session.id", sess.ID)))
	defer func() { telemetry.End(span, err) }()

	var filter *store.Filter
	if currentPolicy != "" {
		f, ok := e.policies.Filter(currentPolicy)
		if !ok {
			e.logger.Warn("unknown policy, searching unscoped", "policy", currentPolicy)
		} else {
			filter = f
		}
	}

	loop := agent.NewLoop(e.client, e.buildTools(sess, filter),
		append([]agent.LoopOption{agent.WithHistory(sess.History.All())}, e.loopOpts...)...)

	answer, err := e.runLoop(ctx, loop, query, onEvent)
	if err != nil {
		return nil, err
	}

	result, err = cite.Normalize(query, answer, sess.Cache.Filtered())
	if errors.Is(err, cite.ErrMalformed) {
		e.logger.Warn("malformed answer, retrying once", "error", err)
		retryQuery := query + "\nYour previous answer leaked reasoning or cited sources outside citation keys. Answer again, citing only valid keys."
		answer, err = e.runLoop(ctx, loop, retryQuery, onEvent)
		if err != nil {
			return nil, err
		}
		result, err = cite.Normalize(query, answer, sess.Cache.Filtered())
		if errors.Is(err, cite.ErrMalformed) {
			e.logger.Error("answer still malformed, falling back")
			result = &cite.Result{Question: query, Text: agent.FallbackResponse}
			err = nil
		}
	}
	if err != nil {
		return nil, err
	}

	sess.History.Set(loop.History())
	return result, nil
}

// Suggest proposes up to two follow-up replies for the session.
func (e *Engine) Suggest(ctx context.Context, sess *session.Session) []string {
	loop := agent.NewLoop(e.client, tool.NewRegistry(),
		agent.WithHistory(sess.History.All()))
	return loop.SuggestFollowUp(ctx, e.policies.Names())
}

func (e *Engine) runLoop(ctx context.Context, loop *agent.Loop, query string, onEvent func(agent.Event)) (string, error) {
	var answer string
	for event, err := range loop.Ask(ctx, query) {
		if err != nil {
			return "", err
		}
		if final, ok := event.(agent.FinalAnswer); ok {
			answer = final.Text
		}
		if onEvent != nil {
			onEvent(event)
		}
	}
	return answer, nil
}

// buildTools creates the per-question tool registry bound to the
// session's evidence cache and the policy filter.
func (e *Engine) buildTools(sess *session.Session, filter *store.Filter) *tool.Registry {
	tools := tool.NewRegistry()

	gather := &tool.Tool{
		Name: "gather_evidence",
		Description: `Find and return pieces of evidence that are relevant
to a given query.
This can be called multiple times with varying search terms
if insufficient information was found.

Args:
    query (str): the query to be used`,
		OutputDesc: `Gathering evidence on "{{.query}}"`,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("gather_evidence requires a query")
			}
			return e.gatherEvidence(ctx, sess, query, filter)
		},
	}

	retrieve := &tool.Tool{
		Name: "retrieve_evidence",
		Description: `Retrieves the evidence and summaries from earlier steps and
combine them with the user's question to form an instruction
to generate the final response.

Args:
    question (str): the question to be answered`,
		OutputDesc: "Retrieving gathered evidence",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			question, _ := args["question"].(string)
			if question == "" {
				question, _ = args["query"].(string)
			}
			return e.retrieveEvidence(sess, question)
		},
	}

	// Registration cannot fail for freshly built tools.
	_ = tools.Register(gather)
	_ = tools.Register(retrieve)
	for _, t := range e.extraTools {
		_ = tools.Upsert(t)
	}
	return tools
}

// gatherEvidence runs retrieval plus summarization and appends the
// resulting batch to the session cache in one step.
func (e *Engine) gatherEvidence(ctx context.Context, sess *session.Session, query string, filter *store.Filter) (string, error) {
	ctx, span := e.tracer.Start(ctx, "engine.gather_evidence",
		trace.WithAttributes(attribute.String("query", query)))
	var err error
	defer func() { telemetry.End(span, err) }()

	chunks, _, err := store.MaxMarginalRelevanceSearch(
		ctx, e.store, query, e.searchK, 2*e.searchK, e.mmrLambda, e.embedder, filter)
	if err != nil {
		return "", fmt.Errorf("gather evidence: %w", err)
	}

	summaries, err := e.summarizerFor(sess).Summarize(ctx, query, chunks)
	if err != nil {
		return "", fmt.Errorf("summarize evidence: %w", err)
	}
	sess.Cache.Append(summaries...)

	e.logger.Info("evidence gathered", "query", query, "chunks", len(chunks))
	return fmt.Sprintf("Found %d pieces of evidence. Call retrieve_evidence to view the evidence.", len(chunks)), nil
}

// retrieveEvidence renders the QA instruction over everything gathered
// so far.
func (e *Engine) retrieveEvidence(sess *session.Session, question string) (string, error) {
	return e.prompts.Render(prompt.QATemplate, map[string]any{
		"context":                sess.Cache.RenderContext(),
		"question":               question,
		"example_citation":       prompt.ExampleCitation,
		"example_citation_quote": prompt.ExampleCitationQuote,
		"answer_length":          answerLength,
	})
}
