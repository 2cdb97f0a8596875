// Package openai adapts the official OpenAI SDK to the llm.ChatClient
// interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/sweetpotato0/policyqa/llm"
	"github.com/sweetpotato0/policyqa/message"
)

// Config holds OpenAI provider configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64
	// PromptPrice and CompletionPrice are USD per million tokens, used
	// for cost accounting. Zero disables cost estimates.
	PromptPrice     float64
	CompletionPrice float64
}

// DefaultConfig returns default OpenAI configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:       "gpt-4o-mini",
		MaxTokens:   2000,
		Temperature: 0.7,
	}
}

// Provider implements llm.ChatClient for OpenAI.
type Provider struct {
	config *Config
	client openaisdk.Client
}

// New creates a new OpenAI provider using the official SDK.
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &Provider{
		config: config,
		client: openaisdk.NewClient(opts...),
	}
}

// Chat implements llm.ChatClient.
func (p *Provider) Chat(ctx context.Context, msgs []*message.Message) (*llm.Result, error) {
	completion, err := p.client.Chat.Completions.New(ctx, p.params(msgs))
	if err != nil {
		return nil, wrapErr("OpenAI API error", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from OpenAI")
	}

	usage := llm.Usage{
		Model:            p.config.Model,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
	}
	usage.Cost = p.cost(usage)
	return &llm.Result{Text: completion.Choices[0].Message.Content, Usage: usage}, nil
}

// StreamChat implements llm.ChatClient, yielding text deltas.
func (p *Provider) StreamChat(ctx context.Context, msgs []*message.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(msgs))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			if len(event.Choices) == 0 {
				continue
			}
			if delta := event.Choices[0].Delta.Content; delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", wrapErr("OpenAI streaming error", err))
		}
	}
}

func (p *Provider) params(msgs []*message.Message) openaisdk.ChatCompletionNewParams {
	openAIMessages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case message.RoleSystem:
			openAIMessages = append(openAIMessages, openaisdk.SystemMessage(msg.Content))
		case message.RoleUser:
			openAIMessages = append(openAIMessages, openaisdk.UserMessage(msg.Content))
		case message.RoleAssistant:
			openAIMessages = append(openAIMessages, openaisdk.AssistantMessage(msg.Content))
		}
	}

	params := openaisdk.ChatCompletionNewParams{
		Messages: openAIMessages,
		Model:    openaisdk.ChatModel(p.config.Model),
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(p.config.MaxTokens)
	}
	return params
}

func (p *Provider) cost(usage llm.Usage) float64 {
	return float64(usage.PromptTokens)/1e6*p.config.PromptPrice +
		float64(usage.CompletionTokens)/1e6*p.config.CompletionPrice
}

// wrapErr marks an API failure transient only when its HTTP status is
// retryable. Auth and request errors stay non-transient so the loop
// fails fast instead of retrying them. Transport-level failures carry no
// SDK error and are classified by llm.IsTransient's net.Error check.
func wrapErr(msg string, err error) error {
	wrapped := fmt.Errorf("%s: %w", msg, err)
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) && llm.RetryableStatus(apiErr.StatusCode) {
		return llm.Transient(wrapped)
	}
	return wrapped
}
