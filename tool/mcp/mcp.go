// Package mcp bridges tools served by an MCP server into the local tool
// registry, so the answering loop can call remote tools the same way it
// calls gather_evidence and retrieve_evidence.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweetpotato0/policyqa/tool"
)

// ErrClientClosed is returned when the MCP client has been closed.
var ErrClientClosed = errors.New("mcp client closed")

// ToolError is returned when the MCP server reports an error response.
type ToolError struct {
	Name    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("mcp tool %s: %s", e.Name, e.Message)
}

// Option configures optional MCP client behaviour.
type Option func(*clientConfig)

type clientConfig struct {
	implementation sdkmcp.Implementation
	logger         *log.Logger
	args           []string
	env            []string
}

// WithLogger configures logging for the MCP client. If nil, logging is
// discarded.
func WithLogger(logger *log.Logger) Option {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithCommandArgs configures additional arguments when launching an
// stdio MCP server.
func WithCommandArgs(args ...string) Option {
	return func(cfg *clientConfig) {
		cfg.args = append(cfg.args, args...)
	}
}

// WithCommandEnv appends environment variables when launching an stdio
// MCP server.
func WithCommandEnv(env ...string) Option {
	return func(cfg *clientConfig) {
		cfg.env = append(cfg.env, env...)
	}
}

func defaultConfig() clientConfig {
	return clientConfig{
		implementation: sdkmcp.Implementation{
			Name:    "policyqa",
			Version: "0.1.0",
		},
		logger: log.New(io.Discard, "", 0),
	}
}

// Client wraps the official MCP Go SDK client and session.
type Client struct {
	sdkClient *sdkmcp.Client
	session   *sdkmcp.ClientSession
	logger    *log.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewStdioClient launches an MCP server command using the stdio
// transport and performs the initialization handshake.
func NewStdioClient(ctx context.Context, command string, opts ...Option) (*Client, error) {
	if command == "" {
		return nil, errors.New("mcp: command cannot be empty")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	cmd := exec.Command(command, cfg.args...)
	if len(cfg.env) > 0 {
		cmd.Env = append(os.Environ(), cfg.env...)
	}

	client := &Client{logger: cfg.logger}
	client.sdkClient = sdkmcp.NewClient(&cfg.implementation, nil)

	session, err := client.sdkClient.Connect(ctx, &sdkmcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect failed: %w", err)
	}
	client.session = session
	return client, nil
}

// NewStreamableClient connects to an MCP server over the streamable
// HTTP transport.
func NewStreamableClient(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("mcp: endpoint cannot be empty")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client := &Client{logger: cfg.logger}
	client.sdkClient = sdkmcp.NewClient(&cfg.implementation, nil)

	session, err := client.sdkClient.Connect(ctx, &sdkmcp.StreamableClientTransport{Endpoint: endpoint}, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: connect failed: %w", err)
	}
	client.session = session
	return client, nil
}

// Close terminates the MCP client and underlying transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.session != nil {
			c.closeErr = c.session.Close()
		}
	})
	return c.closeErr
}

// ListAllTools returns the full set of tools exposed by the MCP server,
// following pagination cursors.
func (c *Client) ListAllTools(ctx context.Context) ([]*sdkmcp.Tool, error) {
	if c.session == nil {
		return nil, ErrClientClosed
	}

	var (
		cursor string
		tools  []*sdkmcp.Tool
	)
	for {
		params := &sdkmcp.ListToolsParams{}
		if cursor != "" {
			params.Cursor = cursor
		}
		res, err := c.session.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	return tools, nil
}

// CallTool invokes a remote MCP tool and returns the textual response.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.session == nil {
		return "", ErrClientClosed
	}

	result, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	message := normalizeContent(result.Content)
	if result.IsError {
		if message == "" {
			message = "tool returned error without message"
		}
		return "", &ToolError{Name: name, Message: message}
	}
	return message, nil
}

// BuildTools converts MCP tool definitions to local tool registrations.
// Schema defaults become the tool's default arguments.
func (c *Client) BuildTools(ctx context.Context) ([]*tool.Tool, error) {
	defs, err := c.ListAllTools(ctx)
	if err != nil {
		return nil, err
	}

	tools := make([]*tool.Tool, 0, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		description := def.Description
		if description == "" && def.Annotations != nil {
			description = def.Annotations.Title
		}

		remoteName := def.Name
		t := &tool.Tool{
			Name:        remoteName,
			Description: description,
			DefaultArgs: defaultsFromSchema(def.InputSchema),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				if args == nil {
					args = make(map[string]any)
				}
				return c.CallTool(ctx, remoteName, args)
			},
		}
		tools = append(tools, t)
	}
	return tools, nil
}

// RegisterTools fetches remote tools and registers them with a local
// registry.
func (c *Client) RegisterTools(ctx context.Context, registry *tool.Registry) error {
	tools, err := c.BuildTools(ctx)
	if err != nil {
		return err
	}
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("register tool %s: %w", t.Name, err)
		}
	}
	return nil
}

func normalizeContent(content []sdkmcp.Content) string {
	if len(content) == 0 {
		return ""
	}
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := c.MarshalJSON(); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func defaultsFromSchema(schema any) map[string]any {
	schemaMap := toMap(schema)
	if schemaMap == nil {
		return nil
	}
	props, ok := schemaMap["properties"].(map[string]any)
	if !ok {
		return nil
	}

	var defaults map[string]any
	for name, prop := range props {
		propMap, ok := prop.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := propMap["default"]; ok {
			if defaults == nil {
				defaults = make(map[string]any)
			}
			defaults[name] = v
		}
	}
	return defaults
}

func toMap(v any) map[string]any {
	switch value := v.(type) {
	case map[string]any:
		return value
	case json.RawMessage:
		var out map[string]any
		if err := json.Unmarshal(value, &out); err != nil {
			return nil
		}
		return out
	case []byte:
		var out map[string]any
		if err := json.Unmarshal(value, &out); err != nil {
			return nil
		}
		return out
	case nil:
		return nil
	default:
		// Typed schemas round-trip through their JSON form.
		data, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil
		}
		return out
	}
}
