package agent

import "fmt"

// ReasoningStep is one entry in the loop's reasoning trace. The trace is
// replayed into the prompt on every iteration so the model sees its own
// prior actions and their observations.
type ReasoningStep interface {
	// Content renders the step back into the text protocol.
	Content() string
}

// ActionStep is a parsed tool invocation request.
type ActionStep struct {
	Thought string
	Tool    string
	Input   map[string]any
	// Raw is the unparsed model output the step was extracted from.
	Raw string
}

func (s *ActionStep) Content() string { return s.Raw }

// ObservationStep carries a tool's output back to the model.
type ObservationStep struct {
	Observation  string
	IsError      bool
	ReturnDirect bool
}

func (s *ObservationStep) Content() string {
	return fmt.Sprintf("Observation: %s", s.Observation)
}

// ResponseStep is the model's final answer.
type ResponseStep struct {
	Thought string
	Text    string
}

func (s *ResponseStep) Content() string { return s.Text }
