package agent

import "strings"

// bufferState is the loop's reading of a partially streamed response.
type bufferState int

const (
	// bufferUndecided means too little text has arrived to classify.
	bufferUndecided bufferState = iota
	// bufferReasoning means the buffer follows the thought-action format
	// and a tool call is expected once the stream completes.
	bufferReasoning
	// bufferFinal means the buffer is (or will become) the final answer.
	bufferFinal
)

// classifyBuffer decides whether the accumulated stream text is headed
// for a tool call or a final answer. A buffer shorter than "Thought"
// stays undecided; text that does not open with the thought-action
// format is treated as a direct final answer, and an explicit "Answer:"
// marker is final regardless of what precedes it.
func classifyBuffer(buffer string) bufferState {
	if buffer == "" {
		return bufferUndecided
	}
	if len(buffer) < len("Thought") {
		return bufferUndecided
	}
	if !strings.HasPrefix(buffer, "Thought") && !strings.Contains(buffer, "\nThought:") {
		return bufferFinal
	}
	if strings.Contains(buffer, "Answer:") {
		return bufferFinal
	}
	return bufferReasoning
}
