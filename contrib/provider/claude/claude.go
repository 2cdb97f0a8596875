// Package claude adapts the official Anthropic SDK to the
// llm.ChatClient interface.
package claude

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/sweetpotato0/policyqa/llm"
	"github.com/sweetpotato0/policyqa/message"
)

// Config holds Claude provider configuration.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int64
	Temperature float64
	// PromptPrice and CompletionPrice are USD per million tokens.
	PromptPrice     float64
	CompletionPrice float64
}

// DefaultConfig returns default Claude configuration.
func DefaultConfig(apiKey, baseURL string) *Config {
	return &Config{
		APIKey:      apiKey,
		BaseURL:     baseURL,
		Model:       "claude-3-5-sonnet-20241022",
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// Provider implements llm.ChatClient for Claude.
type Provider struct {
	config *Config
	client anthropic.Client
}

// New creates a new Claude provider using the official SDK.
func New(config *Config) *Provider {
	if config.Model == "" {
		config.Model = "claude-3-5-sonnet-20241022"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	return &Provider{
		config: config,
		client: anthropic.NewClient(options...),
	}
}

// Chat implements llm.ChatClient.
func (p *Provider) Chat(ctx context.Context, msgs []*message.Message) (*llm.Result, error) {
	apiMessage, err := p.client.Messages.New(ctx, p.params(msgs))
	if err != nil {
		return nil, wrapErr("Claude API error", err)
	}

	var text strings.Builder
	for _, content := range apiMessage.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}

	usage := llm.Usage{
		Model:            p.config.Model,
		PromptTokens:     int(apiMessage.Usage.InputTokens),
		CompletionTokens: int(apiMessage.Usage.OutputTokens),
	}
	usage.Cost = p.cost(usage)
	return &llm.Result{Text: text.String(), Usage: usage}, nil
}

// StreamChat implements llm.ChatClient, yielding text deltas.
func (p *Provider) StreamChat(ctx context.Context, msgs []*message.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := p.client.Messages.NewStreaming(ctx, p.params(msgs))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			if event.Type != "content_block_delta" {
				continue
			}
			delta := event.AsContentBlockDelta()
			if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
				if !yield(delta.Delta.Text, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", wrapErr("Claude streaming error", err))
		}
	}
}

// params builds the request, hoisting system messages into the system
// prompt slot the API requires.
func (p *Provider) params(msgs []*message.Message) anthropic.MessageNewParams {
	var systemPrompts []string
	conversation := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case message.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Content)
		case message.RoleUser:
			conversation = append(conversation,
				anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case message.RoleAssistant:
			conversation = append(conversation,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		Messages:  conversation,
		MaxTokens: p.config.MaxTokens,
	}
	if len(systemPrompts) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(systemPrompts, "\n")},
		}
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}
	return params
}

func (p *Provider) cost(usage llm.Usage) float64 {
	return float64(usage.PromptTokens)/1e6*p.config.PromptPrice +
		float64(usage.CompletionTokens)/1e6*p.config.CompletionPrice
}

// wrapErr marks an API failure transient only when its HTTP status is
// retryable, so bad credentials and malformed requests fail fast.
func wrapErr(msg string, err error) error {
	wrapped := fmt.Errorf("%s: %w", msg, err)
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && llm.RetryableStatus(apiErr.StatusCode) {
		return llm.Transient(wrapped)
	}
	return wrapped
}
