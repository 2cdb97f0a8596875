// Package tiktoken wraps the tiktoken-go encoder for token counting and
// budget-aware truncation.
package tiktoken

import (
	"github.com/pkoukk/tiktoken-go"
)

// charsPerTokenAssumption is the conservative character/token ratio used
// when no encoder is available for a model.
const charsPerTokenAssumption = 3

type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer resolves an encoder by model name, falling back to
// treating the name as an encoding name.
func NewTokenizer(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		// try by name
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	return &Tokenizer{enc: enc}, nil
}

func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tokenizer) CountTokens(text string) int {
	return len(t.Encode(text))
}

func (t *Tokenizer) Decode(ids []int) string {
	return t.enc.Decode(ids)
}

// Truncate cuts text down to at most maxTokens tokens.
func (t *Tokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	ids := t.Encode(text)
	if len(ids) <= maxTokens {
		return text
	}
	return t.Decode(ids[:maxTokens])
}

// TruncateChars is the encoder-free fallback, cutting on the
// conservative character/token ratio.
func TruncateChars(text string, maxTokens int) string {
	limit := maxTokens * charsPerTokenAssumption
	if maxTokens <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit]
}
