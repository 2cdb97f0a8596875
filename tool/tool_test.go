package tool

import (
	"context"
	"strings"
	"testing"
)

func TestToolExecution(t *testing.T) {
	ctx := context.Background()

	tool := &Tool{
		Name:        "test_tool",
		Description: "A test tool",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return args["input"].(string) + "_processed", nil
		},
	}

	result, err := tool.Execute(ctx, map[string]any{"input": "test"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result != "test_processed" {
		t.Errorf("Expected 'test_processed', got '%s'", result)
	}
}

func TestToolDefaultArgs(t *testing.T) {
	ctx := context.Background()

	tool := &Tool{
		Name:        "defaults_tool",
		DefaultArgs: map[string]any{"limit": 5, "query": "default"},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if args["limit"] != 5 {
				t.Errorf("Expected default limit 5, got %v", args["limit"])
			}
			return args["query"].(string), nil
		},
	}

	// Caller-supplied args win over defaults.
	result, err := tool.Execute(ctx, map[string]any{"query": "explicit"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result != "explicit" {
		t.Errorf("Expected 'explicit', got '%s'", result)
	}
}

func TestToolWithoutHandler(t *testing.T) {
	tool := &Tool{Name: "no_handler"}
	if _, err := tool.Execute(context.Background(), nil); err == nil {
		t.Error("Expected error for tool without handler, got nil")
	}
}

func TestToolNarration(t *testing.T) {
	tool := &Tool{
		Name:       "gather_evidence",
		OutputDesc: `Gathering evidence on "{{.query}}"`,
	}
	got := tool.Narration(map[string]any{"query": "lost luggage"})
	if got != `Gathering evidence on "lost luggage"` {
		t.Errorf("Unexpected narration: %q", got)
	}

	// No template falls back to the name.
	bare := &Tool{Name: "bare_tool"}
	if bare.Narration(nil) != "bare_tool" {
		t.Errorf("Expected the tool name, got %q", bare.Narration(nil))
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	tool1 := &Tool{Name: "tool1", Description: "First tool"}
	tool2 := &Tool{Name: "tool2", Description: "Second tool"}

	if err := registry.Register(tool1); err != nil {
		t.Fatalf("Failed to register tool1: %v", err)
	}
	if err := registry.Register(tool2); err != nil {
		t.Fatalf("Failed to register tool2: %v", err)
	}

	// Duplicate registration fails.
	if err := registry.Register(tool1); err == nil {
		t.Error("Expected error for duplicate registration, got nil")
	}

	got, err := registry.Get("tool1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != tool1 {
		t.Error("Expected the registered tool back")
	}

	if _, err := registry.Get("missing"); err == nil {
		t.Error("Expected error for unknown tool, got nil")
	}
}

func TestRegistryUpsert(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Upsert(&Tool{Name: "tool1", Description: "v1"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := registry.Upsert(&Tool{Name: "tool1", Description: "v2"}); err != nil {
		t.Fatalf("Upsert replace failed: %v", err)
	}
	got, _ := registry.Get("tool1")
	if got.Description != "v2" {
		t.Errorf("Expected replaced description, got %q", got.Description)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := registry.Register(&Tool{Name: name}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	names := registry.Names()
	if names[0] != "alpha" || names[1] != "mid" || names[2] != "zeta" {
		t.Errorf("Expected sorted names, got %v", names)
	}
}

func TestRegistryDescribe(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(&Tool{
		Name:        "gather_evidence",
		Description: "Find and return pieces of evidence.",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	desc := registry.Describe()
	if !strings.Contains(desc, "> Tool Name: gather_evidence") {
		t.Errorf("Describe missing tool name header:\n%s", desc)
	}
	if !strings.Contains(desc, "Tool Description: Find and return pieces of evidence.") {
		t.Errorf("Describe missing description:\n%s", desc)
	}
}

func TestRegistryExecute(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(&Tool{
		Name: "echo",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	out, err := registry.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != "hi" {
		t.Errorf("Expected 'hi', got %q", out)
	}

	if _, err := registry.Execute(context.Background(), "missing", nil); err == nil {
		t.Error("Expected error for unknown tool, got nil")
	}
}
