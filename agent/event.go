package agent

// Event is a typed progress notification emitted while the loop runs.
// Consumers switch on the concrete type; unknown types should be ignored
// so new events can be added without breaking callers.
type Event interface {
	event()
}

// TokenDelta is a raw streamed token from the model, including reasoning
// text that precedes any final answer.
type TokenDelta struct {
	Text string
}

// ToolStarted announces an imminent tool invocation with a human-readable
// description rendered from the tool's narration template.
type ToolStarted struct {
	Tool string
	Desc string
}

// ToolFinished carries a short digest of a completed tool call.
type ToolFinished struct {
	Tool   string
	Output string
}

// FinalAnswer is the loop's terminal event. Exactly one is emitted per
// run, including degraded runs that end in the fallback response.
type FinalAnswer struct {
	Text string
}

func (TokenDelta) event()   {}
func (ToolStarted) event()  {}
func (ToolFinished) event() {}
func (FinalAnswer) event()  {}
