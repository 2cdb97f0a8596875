package prompt

import (
	"strings"
	"testing"
)

func TestTemplateRender(t *testing.T) {
	tmpl, err := NewTemplate("greeting", "Hello {{.name}}!")
	if err != nil {
		t.Fatalf("NewTemplate failed: %v", err)
	}
	got, err := tmpl.Render(map[string]any{"name": "world"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got != "Hello world!" {
		t.Errorf("Expected 'Hello world!', got %q", got)
	}
}

func TestTemplateMissingVariable(t *testing.T) {
	tmpl, err := NewTemplate("greeting", "Hello {{.name}}!")
	if err != nil {
		t.Fatalf("NewTemplate failed: %v", err)
	}
	if _, err := tmpl.Render(map[string]any{}); err == nil {
		t.Error("Expected error for missing variable, got nil")
	}
}

func TestManagerRegisterAndRender(t *testing.T) {
	m := NewManager()
	if err := m.RegisterString("t1", "value: {{.v}}"); err != nil {
		t.Fatalf("RegisterString failed: %v", err)
	}
	if err := m.RegisterString("t1", "other"); err == nil {
		t.Error("Expected error for duplicate registration, got nil")
	}

	got, err := m.Render("t1", map[string]any{"v": 42})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got != "value: 42" {
		t.Errorf("Expected 'value: 42', got %q", got)
	}

	if _, err := m.Render("missing", nil); err == nil {
		t.Error("Expected error for unknown template, got nil")
	}
}

func TestDefaultsRegistersAllTemplates(t *testing.T) {
	m := Defaults()
	for _, name := range []string{SystemTemplate, SummarySystemTemplate, SummaryUserTemplate, QATemplate, SuggestTemplate} {
		if _, err := m.Get(name); err != nil {
			t.Errorf("Expected template %s registered: %v", name, err)
		}
	}
}

func TestSystemTemplateRenders(t *testing.T) {
	m := Defaults()
	got, err := m.Render(SystemTemplate, map[string]any{
		"tool_desc":  "> Tool Name: gather_evidence\nTool Description: finds evidence",
		"tool_names": "gather_evidence, retrieve_evidence",
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	for _, want := range []string{
		"gather_evidence, retrieve_evidence",
		"Thought: I need to use a tool",
		"Please ALWAYS start with a Thought.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("System prompt missing %q", want)
		}
	}
}

func TestQATemplateRenders(t *testing.T) {
	m := Defaults()
	got, err := m.Render(QATemplate, map[string]any{
		"context":                "Acme2023 pages 1-2:\nsummary",
		"question":               "Am I covered?",
		"example_citation":       ExampleCitation,
		"example_citation_quote": ExampleCitationQuote,
		"answer_length":          "about 200 words, but can be longer",
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(got, "Question: Am I covered?") {
		t.Error("QA prompt missing the question")
	}
	if !strings.Contains(got, ExampleCitation) {
		t.Error("QA prompt missing the example citation")
	}
}
