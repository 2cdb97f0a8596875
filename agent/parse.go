package agent

import (
	"fmt"
	"regexp"
	"strings"

	pqerrors "github.com/sweetpotato0/policyqa/errors"
	"github.com/sweetpotato0/policyqa/evidence"
)

var actionRe = regexp.MustCompile(`(?s)Thought:(.*?)\n+\s*Action:\s*([^\n() ]+).*?\n+\s*Action\s*Input:\s*(\{.*)`)

// parseReasoning turns one complete model response into a reasoning
// step. Responses carrying an "Answer:" marker (or no thought-action
// structure at all) become a ResponseStep; responses requesting a tool
// become an ActionStep. Anything else is a protocol violation reported
// via ErrParse so the loop can send a corrective observation.
func parseReasoning(output string) (ReasoningStep, error) {
	if idx := strings.Index(output, "Answer:"); idx >= 0 {
		thought := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(output[:idx]), "Thought:"))
		return &ResponseStep{
			Thought: thought,
			Text:    strings.TrimSpace(output[idx+len("Answer:"):]),
		}, nil
	}

	if !strings.Contains(output, "Thought") {
		// No protocol markers at all: the model answered directly.
		return &ResponseStep{Text: strings.TrimSpace(output)}, nil
	}

	m := actionRe.FindStringSubmatch(output)
	if m == nil {
		return nil, fmt.Errorf("%w: could not parse output: %s", pqerrors.ErrParse, output)
	}
	input, err := evidence.ParseLooseObject(m[3])
	if err != nil {
		return nil, fmt.Errorf("%w: could not parse action input: %s", pqerrors.ErrParse, output)
	}
	return &ActionStep{
		Thought: strings.TrimSpace(m[1]),
		Tool:    strings.TrimSpace(m[2]),
		Input:   input,
		Raw:     output,
	}, nil
}
