package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/sweetpotato0/policyqa/llm"
	"github.com/sweetpotato0/policyqa/message"
	"github.com/sweetpotato0/policyqa/tool"
)

// scriptedClient replays canned responses, one per model turn, and
// records every request it sees.
type scriptedClient struct {
	responses []string
	chatText  string
	err       error
	calls     [][]*message.Message
	turn      int
}

func (c *scriptedClient) Chat(ctx context.Context, msgs []*message.Message) (*llm.Result, error) {
	c.calls = append(c.calls, message.CloneMessages(msgs))
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Result{Text: c.chatText}, nil
}

func (c *scriptedClient) StreamChat(ctx context.Context, msgs []*message.Message) iter.Seq2[string, error] {
	c.calls = append(c.calls, message.CloneMessages(msgs))
	return func(yield func(string, error) bool) {
		if c.err != nil {
			yield("", c.err)
			return
		}
		if c.turn >= len(c.responses) {
			yield("", fmt.Errorf("no scripted response for turn %d", c.turn))
			return
		}
		response := c.responses[c.turn]
		c.turn++
		// Stream in two deltas to exercise buffer accumulation.
		mid := len(response) / 2
		if !yield(response[:mid], nil) {
			return
		}
		yield(response[mid:], nil)
	}
}

func collectEvents(t *testing.T, l *Loop, query string) []Event {
	t.Helper()
	var events []Event
	for event, err := range l.Ask(context.Background(), query) {
		if err != nil {
			t.Fatalf("Ask failed: %v", err)
		}
		events = append(events, event)
	}
	return events
}

func finalAnswer(events []Event) (FinalAnswer, bool) {
	for _, e := range events {
		if final, ok := e.(FinalAnswer); ok {
			return final, true
		}
	}
	return FinalAnswer{}, false
}

func newTestTools(t *testing.T, gatherOutput string) *tool.Registry {
	t.Helper()
	tools := tool.NewRegistry()
	err := tools.Register(&tool.Tool{
		Name:       "gather_evidence",
		OutputDesc: `Gathering evidence on "{{.query}}"`,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return gatherOutput, nil
		},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return tools
}

func TestLoopToolCallThenAnswer(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"Thought: I need evidence.\nAction: gather_evidence\nAction Input: {\"query\": \"luggage\"}",
		"Thought: I can answer.\nAnswer: You are covered.",
	}}
	loop := NewLoop(client, newTestTools(t, "Found 3 pieces of evidence. Call retrieve_evidence to view the evidence."))

	events := collectEvents(t, loop, "Am I covered for lost luggage?")

	var started, finished bool
	for _, e := range events {
		switch ev := e.(type) {
		case ToolStarted:
			started = true
			if ev.Desc != `Gathering evidence on "luggage"` {
				t.Errorf("Unexpected narration: %q", ev.Desc)
			}
		case ToolFinished:
			finished = true
			if !strings.HasPrefix(ev.Output, "Found 3 pieces of evidence...") {
				t.Errorf("Unexpected digest: %q", ev.Output)
			}
		}
	}
	if !started || !finished {
		t.Error("Expected ToolStarted and ToolFinished events")
	}

	final, ok := finalAnswer(events)
	if !ok {
		t.Fatal("Expected a FinalAnswer event")
	}
	if final.Text != "You are covered." {
		t.Errorf("Unexpected answer: %q", final.Text)
	}

	history := loop.History()
	if len(history) != 2 {
		t.Fatalf("Expected 2 history messages, got %d", len(history))
	}
	if history[0].Role != message.RoleUser || history[1].Role != message.RoleAssistant {
		t.Error("Expected user then assistant in history")
	}
	if history[1].Content != "You are covered." {
		t.Errorf("Unexpected history content: %q", history[1].Content)
	}

	// The second model turn must carry the reasoning trace: the action
	// replayed as an assistant turn and the observation as a user turn.
	second := client.calls[1]
	var sawObservation bool
	for _, m := range second {
		if m.Role == message.RoleUser && strings.HasPrefix(m.Content, "Observation: Found 3 pieces") {
			sawObservation = true
		}
	}
	if !sawObservation {
		t.Error("Expected the tool observation in the second request")
	}
}

func TestLoopQueryReminderAppended(t *testing.T) {
	client := &scriptedClient{responses: []string{"Plain answer without protocol."}}
	loop := NewLoop(client, tool.NewRegistry())
	collectEvents(t, loop, "What is covered?")

	first := client.calls[0]
	var sawReminder bool
	for _, m := range first {
		if m.Role == message.RoleUser && strings.Contains(m.Content, "Remember to call gather_evidence") {
			sawReminder = true
		}
	}
	if !sawReminder {
		t.Error("Expected the gather_evidence reminder on the user query")
	}
	// The reminder is for the model only; history keeps the raw query.
	if loop.History()[0].Content != "What is covered?" {
		t.Errorf("Unexpected history query: %q", loop.History()[0].Content)
	}
}

func TestLoopParseFailureSendsCorrection(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"Thought: hmm\nAction: gather_evidence",
		"Thought: I can answer.\nAnswer: Done.",
	}}
	loop := NewLoop(client, newTestTools(t, "ok"))

	events := collectEvents(t, loop, "q")
	final, ok := finalAnswer(events)
	if !ok || final.Text != "Done." {
		t.Fatalf("Expected final answer Done., got %v", events)
	}

	second := client.calls[1]
	var sawCorrection bool
	for _, m := range second {
		if m.Role == message.RoleUser && strings.Contains(m.Content, "Could not parse output") {
			sawCorrection = true
		}
	}
	if !sawCorrection {
		t.Error("Expected the corrective observation after a parse failure")
	}
}

func TestLoopUnknownToolObservation(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"Thought: try this\nAction: nonexistent_tool\nAction Input: {\"query\": \"x\"}",
		"Thought: I can answer.\nAnswer: Done.",
	}}
	loop := NewLoop(client, newTestTools(t, "ok"))

	events := collectEvents(t, loop, "q")
	if final, ok := finalAnswer(events); !ok || final.Text != "Done." {
		t.Fatalf("Expected recovery to Done., got %v", events)
	}

	second := client.calls[1]
	var sawError bool
	for _, m := range second {
		if m.Role == message.RoleUser &&
			strings.Contains(m.Content, "tool nonexistent_tool does not exist") &&
			strings.Contains(m.Content, "gather_evidence") {
			sawError = true
		}
	}
	if !sawError {
		t.Error("Expected an error observation naming the valid tools")
	}
}

func TestLoopReturnDirect(t *testing.T) {
	tools := tool.NewRegistry()
	err := tools.Register(&tool.Tool{
		Name:         "final_tool",
		ReturnDirect: true,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "direct output", nil
		},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	client := &scriptedClient{responses: []string{
		"Thought: done after this\nAction: final_tool\nAction Input: {}",
	}}
	loop := NewLoop(client, tools)

	events := collectEvents(t, loop, "q")
	final, ok := finalAnswer(events)
	if !ok {
		t.Fatal("Expected a FinalAnswer event")
	}
	if final.Text != "direct output" {
		t.Errorf("Expected the tool output as the final answer, got %q", final.Text)
	}
	if len(client.calls) != 1 {
		t.Errorf("Expected no further model turns after ReturnDirect, got %d", len(client.calls))
	}
}

func TestLoopRetryExhaustionFallsBack(t *testing.T) {
	client := &scriptedClient{err: llm.Transient(errors.New("gateway timeout"))}
	loop := NewLoop(client, tool.NewRegistry(),
		WithStreamRetries(2), WithRetryDelay(time.Millisecond))

	events := collectEvents(t, loop, "q")
	final, ok := finalAnswer(events)
	if !ok {
		t.Fatal("Expected a FinalAnswer event despite provider outage")
	}
	if final.Text != FallbackResponse {
		t.Errorf("Expected the fallback response, got %q", final.Text)
	}
	if len(client.calls) != 2 {
		t.Errorf("Expected 2 stream attempts, got %d", len(client.calls))
	}
}

func TestLoopNonTransientErrorNotRetried(t *testing.T) {
	client := &scriptedClient{err: errors.New("invalid api key")}
	loop := NewLoop(client, tool.NewRegistry(),
		WithStreamRetries(3), WithRetryDelay(time.Millisecond))

	events := collectEvents(t, loop, "q")
	if final, ok := finalAnswer(events); !ok || final.Text != FallbackResponse {
		t.Fatal("Expected the fallback response")
	}
	if len(client.calls) != 1 {
		t.Errorf("Expected a single attempt for a non-transient error, got %d", len(client.calls))
	}
}

func TestLoopIterationCap(t *testing.T) {
	client := &scriptedClient{responses: []string{
		"Thought: step\nAction: gather_evidence\nAction Input: {\"query\": \"a\"}",
		"Thought: step\nAction: gather_evidence\nAction Input: {\"query\": \"b\"}",
	}}
	loop := NewLoop(client, newTestTools(t, "ok"), WithMaxIterations(2))

	events := collectEvents(t, loop, "q")
	if _, ok := finalAnswer(events); !ok {
		t.Fatal("Expected a FinalAnswer even at the iteration cap")
	}
}

func TestLoopTokenDeltasForwarded(t *testing.T) {
	client := &scriptedClient{responses: []string{"Plain final answer text."}}
	loop := NewLoop(client, tool.NewRegistry())

	events := collectEvents(t, loop, "q")
	var streamed strings.Builder
	for _, e := range events {
		if delta, ok := e.(TokenDelta); ok {
			streamed.WriteString(delta.Text)
		}
	}
	if streamed.String() != "Plain final answer text." {
		t.Errorf("Expected the full response streamed as deltas, got %q", streamed.String())
	}
}

func TestSuggestFollowUp(t *testing.T) {
	client := &scriptedClient{
		chatText: "Thought: two fit.\n```json\n[\"How does this compare to Acme Travel\", \"Simplify your response\", \"a third one\"]\n```",
	}
	loop := NewLoop(client, tool.NewRegistry())

	suggestions := loop.SuggestFollowUp(context.Background(), []string{"Acme Travel", "Acme Home"})
	if len(suggestions) != 2 {
		t.Fatalf("Expected suggestions capped at 2, got %d", len(suggestions))
	}
	if suggestions[0] != "How does this compare to Acme Travel" {
		t.Errorf("Unexpected first suggestion: %q", suggestions[0])
	}

	request := client.calls[len(client.calls)-1]
	prompt := request[len(request)-1].Content
	if !strings.Contains(prompt, "- Acme Travel\n- Acme Home") {
		t.Errorf("Expected the policy list in the prompt, got %q", prompt)
	}
}

func TestSuggestFollowUpFailuresYieldNil(t *testing.T) {
	client := &scriptedClient{err: errors.New("provider down")}
	loop := NewLoop(client, tool.NewRegistry())
	if got := loop.SuggestFollowUp(context.Background(), nil); got != nil {
		t.Errorf("Expected nil suggestions on failure, got %v", got)
	}
}
