// Package agent drives the answering control loop: a text-protocol
// reasoning loop that alternates model turns with tool invocations
// until the model produces a final answer.
package agent

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sweetpotato0/policyqa/llm"
	"github.com/sweetpotato0/policyqa/message"
	"github.com/sweetpotato0/policyqa/pkg/logging"
	"github.com/sweetpotato0/policyqa/pkg/telemetry"
	"github.com/sweetpotato0/policyqa/prompt"
	"github.com/sweetpotato0/policyqa/tool"
)

const (
	// DefaultMaxIterations caps reasoning turns per question.
	DefaultMaxIterations = 10

	// DefaultStreamRetries is the number of stream attempts before the
	// loop gives up and emits the fallback response.
	DefaultStreamRetries = 3

	// DefaultRetryDelay is the fixed pause between stream attempts.
	DefaultRetryDelay = 5 * time.Second

	// FallbackResponse is emitted when the provider cannot be reached
	// after all retries. Callers should treat it as a complete answer.
	FallbackResponse = "Sorry, something seems to have gone wrong."

	queryReminder = "\nRemember to call gather_evidence if the user is asking about insurance, especially if you are citing anything."
)

const parseFailureObservation = `Error: Could not parse output. Please follow the thought-action-input format. Try again.
Maybe you should try calling the gather_evidence tool.
Remember that the format should be
` + "```" + `
Thought: I need to use a tool to help me answer the question.
Action: tool name if using a tool.
Action Input: the input to the tool, in a JSON format representing the kwargs (e.g. {"input": "hello world", "num_beams": 5})
` + "```"

// Loop runs the reasoning protocol against a chat client and a tool
// registry. A Loop carries conversation history across questions and is
// not safe for concurrent use.
type Loop struct {
	client        llm.ChatClient
	tools         *tool.Registry
	prompts       *prompt.Manager
	history       []*message.Message
	maxIterations int
	streamRetries int
	retryDelay    time.Duration
	fallback      string
	tracer        trace.Tracer
	logger        *slog.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxIterations caps the number of reasoning turns.
func WithMaxIterations(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithStreamRetries sets the number of stream attempts per turn.
func WithStreamRetries(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.streamRetries = n
		}
	}
}

// WithRetryDelay sets the pause between stream attempts.
func WithRetryDelay(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.retryDelay = d
		}
	}
}

// WithFallback overrides the degraded-mode response text.
func WithFallback(text string) LoopOption {
	return func(l *Loop) {
		if text != "" {
			l.fallback = text
		}
	}
}

// WithHistory seeds the conversation history.
func WithHistory(history []*message.Message) LoopOption {
	return func(l *Loop) {
		l.history = message.CloneMessages(history)
	}
}

// NewLoop creates a loop over the given client and tools.
func NewLoop(client llm.ChatClient, tools *tool.Registry, opts ...LoopOption) *Loop {
	l := &Loop{
		client:        client,
		tools:         tools,
		prompts:       prompt.Defaults(),
		maxIterations: DefaultMaxIterations,
		streamRetries: DefaultStreamRetries,
		retryDelay:    DefaultRetryDelay,
		fallback:      FallbackResponse,
		tracer:        otel.Tracer("policyqa/agent"),
		logger:        logging.WithComponent("agent"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// History returns the accumulated conversation history.
func (l *Loop) History() []*message.Message {
	return message.CloneMessages(l.history)
}

// SetHistory replaces the conversation history.
func (l *Loop) SetHistory(history []*message.Message) {
	l.history = message.CloneMessages(history)
}

// Ask runs the loop for one question, yielding progress events as they
// happen. Exactly one FinalAnswer is yielded per run; provider outages
// degrade to the fallback response instead of failing. The returned
// sequence is single-use.
func (l *Loop) Ask(ctx context.Context, query string) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		ctx, span := l.tracer.Start(ctx, "agent.ask",
			trace.WithAttributes(attribute.Int("agent.max_iterations", l.maxIterations)))
		var runErr error
		defer func() { telemetry.End(span, runErr) }()

		system, err := l.prompts.Render(prompt.SystemTemplate, map[string]any{
			"tool_desc":  l.tools.Describe(),
			"tool_names": strings.Join(l.tools.Names(), ", "),
		})
		if err != nil {
			runErr = err
			yield(nil, err)
			return
		}

		var reasoning []ReasoningStep
		var buffer string
		for i := 0; i < l.maxIterations; i++ {
			msgs := l.formatChatInput(system, query, reasoning)

			var alive bool
			buffer, alive, err = l.streamWithRetry(ctx, msgs, yield)
			if !alive {
				return
			}
			if err != nil {
				l.logger.Error("stream attempts exhausted, falling back",
					"iteration", i+1, "error", err)
				l.finish(query, l.fallback)
				yield(FinalAnswer{Text: l.fallback}, nil)
				return
			}

			if classifyBuffer(buffer) == bufferFinal {
				answer := extractAnswer(buffer)
				l.finish(query, answer)
				yield(FinalAnswer{Text: answer}, nil)
				return
			}

			step, err := parseReasoning(buffer)
			if err != nil {
				l.logger.Warn("malformed reasoning output", "iteration", i+1)
				reasoning = append(reasoning,
					&ObservationStep{Observation: parseFailureObservation, IsError: true})
				continue
			}

			switch s := step.(type) {
			case *ResponseStep:
				l.finish(query, s.Text)
				yield(FinalAnswer{Text: s.Text}, nil)
				return
			case *ActionStep:
				reasoning = append(reasoning, s)
				obs, done := l.dispatch(ctx, s, yield)
				if obs == nil {
					return
				}
				reasoning = append(reasoning, obs)
				if done {
					l.finish(query, obs.Observation)
					yield(FinalAnswer{Text: obs.Observation}, nil)
					return
				}
			}
		}

		// Iteration cap reached: surface whatever the model last said.
		answer := extractAnswer(buffer)
		if answer == "" {
			answer = l.fallback
		}
		l.logger.Warn("iteration cap reached", "max_iterations", l.maxIterations)
		l.finish(query, answer)
		yield(FinalAnswer{Text: answer}, nil)
	}
}

// dispatch runs one tool call and converts the outcome into an
// observation. A nil observation means the consumer stopped iterating.
// done reports whether the tool's output is the final answer.
func (l *Loop) dispatch(ctx context.Context, step *ActionStep, yield func(Event, error) bool) (*ObservationStep, bool) {
	t, err := l.tools.Get(step.Tool)
	if err != nil {
		l.logger.Warn("unknown tool requested", "tool", step.Tool)
		return &ObservationStep{
			Observation: fmt.Sprintf("Error: tool %s does not exist. Valid tools are: %s.",
				step.Tool, strings.Join(l.tools.Names(), ", ")),
			IsError: true,
		}, false
	}

	if !yield(ToolStarted{Tool: t.Name, Desc: t.Narration(step.Input)}, nil) {
		return nil, false
	}

	ctx, span := l.tracer.Start(ctx, "agent.tool",
		trace.WithAttributes(attribute.String("tool.name", t.Name)))
	output, err := t.Execute(ctx, step.Input)
	telemetry.End(span, err)
	if err != nil {
		l.logger.Warn("tool call failed", "tool", t.Name, "error", err)
		return &ObservationStep{
			Observation: fmt.Sprintf("Error: %s", err),
			IsError:     true,
		}, false
	}

	if !yield(ToolFinished{Tool: t.Name, Output: digest(output)}, nil) {
		return nil, false
	}
	return &ObservationStep{
		Observation:  output,
		ReturnDirect: t.ReturnDirect,
	}, t.ReturnDirect
}

// streamWithRetry streams one model turn, forwarding deltas to the
// consumer. Transient provider errors are retried with a fixed delay;
// the error return is non-nil only when all attempts failed. alive is
// false when the consumer stopped iterating.
func (l *Loop) streamWithRetry(ctx context.Context, msgs []*message.Message, yield func(Event, error) bool) (buffer string, alive bool, err error) {
	for attempt := 1; ; attempt++ {
		var b strings.Builder
		streamErr := error(nil)
		for delta, err := range l.client.StreamChat(ctx, msgs) {
			if err != nil {
				streamErr = err
				break
			}
			b.WriteString(delta)
			if !yield(TokenDelta{Text: delta}, nil) {
				return b.String(), false, nil
			}
		}
		if streamErr == nil {
			return b.String(), true, nil
		}
		if attempt >= l.streamRetries || !llm.IsTransient(streamErr) {
			return "", true, streamErr
		}
		l.logger.Warn("stream attempt failed, retrying",
			"attempt", attempt, "delay", l.retryDelay, "error", streamErr)
		select {
		case <-ctx.Done():
			return "", true, ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
}

// formatChatInput assembles the full prompt: system message, prior
// conversation, the user query, then the reasoning trace replayed as
// alternating assistant and user turns.
func (l *Loop) formatChatInput(system, query string, reasoning []ReasoningStep) []*message.Message {
	msgs := make([]*message.Message, 0, len(l.history)+len(reasoning)+2)
	msgs = append(msgs, message.NewMessage(message.RoleSystem, system))
	msgs = append(msgs, l.history...)
	msgs = append(msgs, message.NewMessage(message.RoleUser, query+queryReminder))
	for _, step := range reasoning {
		switch step.(type) {
		case *ObservationStep:
			msgs = append(msgs, message.NewMessage(message.RoleUser, step.Content()))
		default:
			msgs = append(msgs, message.NewMessage(message.RoleAssistant, step.Content()))
		}
	}
	return msgs
}

// finish records the completed exchange in the conversation history.
func (l *Loop) finish(query, answer string) {
	l.history = append(l.history,
		message.NewMessage(message.RoleUser, query),
		message.NewMessage(message.RoleAssistant, answer),
	)
}

// extractAnswer strips the reasoning preamble, keeping only the text
// after the last "Answer:" marker.
func extractAnswer(buffer string) string {
	if idx := strings.LastIndex(buffer, "Answer:"); idx >= 0 {
		return strings.TrimSpace(buffer[idx+len("Answer:"):])
	}
	return strings.TrimSpace(buffer)
}

// digest trims a tool output down to its first sentence for progress
// events.
func digest(output string) string {
	if idx := strings.Index(output, "."); idx >= 0 {
		return output[:idx] + "..."
	}
	return output
}
