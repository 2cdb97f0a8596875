package openai

import (
	"errors"
	"testing"

	openaisdk "github.com/openai/openai-go/v3"

	"github.com/sweetpotato0/policyqa/llm"
)

func TestWrapErrRetryableStatus(t *testing.T) {
	for _, status := range []int{429, 500, 502, 503, 504} {
		err := wrapErr("OpenAI API error", &openaisdk.Error{StatusCode: status})
		if !llm.IsTransient(err) {
			t.Errorf("Expected status %d classified transient, got %v", status, err)
		}
	}
}

func TestWrapErrNonRetryableStatus(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404} {
		err := wrapErr("OpenAI API error", &openaisdk.Error{StatusCode: status})
		if llm.IsTransient(err) {
			t.Errorf("Expected status %d classified non-transient, got %v", status, err)
		}
	}
}

func TestWrapErrPreservesSDKError(t *testing.T) {
	orig := &openaisdk.Error{StatusCode: 429}
	err := wrapErr("OpenAI API error", orig)

	var apiErr *openaisdk.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 429 {
		t.Errorf("Expected the SDK error preserved in the chain, got %v", err)
	}
}

func TestWrapErrNonSDKError(t *testing.T) {
	err := wrapErr("OpenAI API error", errors.New("parse failure"))
	if llm.IsTransient(err) {
		t.Errorf("Expected a non-SDK error classified non-transient, got %v", err)
	}
}
