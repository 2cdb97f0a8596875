package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
)

// Tool represents a callable tool exposed to the answering loop.
// Invocation is synchronous and returns text; error outputs are marked
// by the loop but still represented as text observations.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// OutputDesc is a progress-narration template rendered with the
	// call arguments (e.g. `Gathering evidence on "{{.query}}"`).
	OutputDesc string `json:"output_desc,omitempty"`
	// DefaultArgs are merged into the call arguments before invocation
	// for any keys the model omitted.
	DefaultArgs map[string]any `json:"default_args,omitempty"`
	// ReturnDirect ends the loop immediately with this tool's output as
	// the final answer, unless the call errored.
	ReturnDirect bool                                                `json:"return_direct,omitempty"`
	Handler      func(context.Context, map[string]any) (string, error) `json:"-"`
}

// Execute runs the tool with defaults applied to the given arguments.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if t.Handler == nil {
		return "", fmt.Errorf("tool %s has no handler", t.Name)
	}
	merged := make(map[string]any, len(args)+len(t.DefaultArgs))
	for k, v := range t.DefaultArgs {
		merged[k] = v
	}
	for k, v := range args {
		merged[k] = v
	}
	return t.Handler(ctx, merged)
}

// Narration renders the tool's progress description with the call
// arguments. Falls back to the tool name when no template is set or
// rendering fails.
func (t *Tool) Narration(args map[string]any) string {
	if t.OutputDesc == "" {
		return t.Name
	}
	tmpl, err := template.New(t.Name).Parse(t.OutputDesc)
	if err != nil {
		return t.Name
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, args); err != nil {
		return t.Name
	}
	return b.String()
}

// Registry manages a collection of tools
// All operations are thread-safe using RWMutex protection
type Registry struct {
	mu    sync.RWMutex // Protects tools map
	tools map[string]*Tool
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Tool),
	}
}

// Register adds a tool to the registry
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Upsert adds or replaces a tool definition in the registry.
func (r *Registry) Upsert(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tools == nil {
		r.tools = make(map[string]*Tool)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	return tool, nil
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]*Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Names returns the registered tool names sorted alphabetically.
func (r *Registry) Names() []string {
	tools := r.List()
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}

// Describe renders the tool descriptions block for the system prompt.
func (r *Registry) Describe() string {
	var b strings.Builder
	for _, t := range r.List() {
		desc := strings.TrimSpace(t.Description)
		fmt.Fprintf(&b, "> Tool Name: %s\nTool Description: %s\n\n", t.Name, desc)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Execute runs a tool by name with given arguments
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return tool.Execute(ctx, args)
}
