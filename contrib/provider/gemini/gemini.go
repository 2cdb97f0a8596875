// Package gemini adapts Google's generative AI SDK to the
// llm.ChatClient interface.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/sweetpotato0/policyqa/llm"
	"github.com/sweetpotato0/policyqa/message"
)

// Config holds Gemini provider configuration.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
	// PromptPrice and CompletionPrice are USD per million tokens.
	PromptPrice     float64
	CompletionPrice float64
}

// DefaultConfig returns default Gemini configuration.
func DefaultConfig(apiKey string) *Config {
	return &Config{
		APIKey:      apiKey,
		Model:       "gemini-1.5-flash-002",
		MaxTokens:   2048,
		Temperature: 0.7,
	}
}

// Provider implements llm.ChatClient for Google Gemini.
type Provider struct {
	config *Config
	client *genai.Client
}

// New creates a new Gemini provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash-002"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return &Provider{config: config, client: client}, nil
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Chat implements llm.ChatClient.
func (p *Provider) Chat(ctx context.Context, msgs []*message.Message) (*llm.Result, error) {
	session, last := p.session(msgs)
	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return nil, wrapErr("Gemini API error", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	usage := llm.Usage{Model: p.config.Model}
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	usage.Cost = p.cost(usage)
	return &llm.Result{Text: text, Usage: usage}, nil
}

// StreamChat implements llm.ChatClient, yielding text deltas.
func (p *Provider) StreamChat(ctx context.Context, msgs []*message.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		session, last := p.session(msgs)
		stream := session.SendMessageStream(ctx, genai.Text(last))
		for {
			resp, err := stream.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield("", wrapErr("Gemini streaming error", err))
				return
			}
			text, err := responseText(resp)
			if err != nil {
				continue
			}
			if text != "" && !yield(text, nil) {
				return
			}
		}
	}
}

// session builds a chat session with the conversation so far, returning
// the final user turn to send. System messages become the model's
// system instruction.
func (p *Provider) session(msgs []*message.Message) (*genai.ChatSession, string) {
	model := p.client.GenerativeModel(p.config.Model)
	if p.config.Temperature > 0 {
		model.SetTemperature(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(p.config.MaxTokens)
	}

	var systemPrompts []string
	var history []*genai.Content
	last := ""
	for i, msg := range msgs {
		switch msg.Role {
		case message.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Content)
		case message.RoleUser:
			if i == len(msgs)-1 {
				last = msg.Content
				continue
			}
			history = append(history, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		case message.RoleAssistant:
			history = append(history, &genai.Content{
				Role:  "model",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})
		}
	}
	if len(systemPrompts) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(systemPrompts, "\n"))},
		}
	}

	session := model.StartChat()
	session.History = history
	return session, last
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates in response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

func (p *Provider) cost(usage llm.Usage) float64 {
	return float64(usage.PromptTokens)/1e6*p.config.PromptPrice +
		float64(usage.CompletionTokens)/1e6*p.config.CompletionPrice
}

// wrapErr marks an API failure transient only when its HTTP status is
// retryable, so bad credentials and malformed requests fail fast.
func wrapErr(msg string, err error) error {
	wrapped := fmt.Errorf("%s: %w", msg, err)
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && llm.RetryableStatus(apiErr.Code) {
		return llm.Transient(wrapped)
	}
	return wrapped
}
