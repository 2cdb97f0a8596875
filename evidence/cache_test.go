package evidence

import (
	"strings"
	"testing"

	"github.com/sweetpotato0/policyqa/document"
)

func cachedSummary(name string, score int, points ...document.Point) *Summary {
	return &Summary{
		Chunk: &document.Chunk{
			ID:   name,
			Name: name,
			Doc:  &document.Document{Dockey: "key-" + name, Docname: "Acme2023", Citation: "Acme Policy, 2023"},
			Text: "chunk text",
		},
		Text:   "summary of " + name,
		Score:  score,
		Points: points,
	}
}

func TestCacheFilteredExcludesZeroScores(t *testing.T) {
	c := NewCache()
	c.Append(
		cachedSummary("Acme2023 pages 1-2", 0),
		cachedSummary("Acme2023 pages 3-4", 8),
		cachedSummary("Acme2023 pages 5-6", 3),
	)

	filtered := c.Filtered()
	if len(filtered) != 2 {
		t.Fatalf("Expected 2 summaries, got %d", len(filtered))
	}
	if filtered[0].Score != 8 || filtered[1].Score != 3 {
		t.Errorf("Expected descending score order, got [%d %d]", filtered[0].Score, filtered[1].Score)
	}
}

func TestCacheFilteredTieBreaksByName(t *testing.T) {
	c := NewCache()
	c.Append(
		cachedSummary("Acme2023 pages 5-6", 7),
		cachedSummary("Acme2023 pages 1-2", 7),
	)

	filtered := c.Filtered()
	if filtered[0].Name() != "Acme2023 pages 1-2" {
		t.Errorf("Expected name tie-break, got %s first", filtered[0].Name())
	}
}

func TestCacheValidNamesAndFind(t *testing.T) {
	c := NewCache()
	c.Append(cachedSummary("Acme2023 pages 1-2", 8))

	names := c.ValidNames()
	if len(names) != 1 || names[0] != "Acme2023 pages 1-2" {
		t.Errorf("Unexpected valid names: %v", names)
	}

	if _, ok := c.Find("Acme2023 pages 1-2"); !ok {
		t.Error("Expected Find to locate the summary")
	}
	if _, ok := c.Find("Other2020 pages 1-1"); ok {
		t.Error("Expected Find to miss an unknown name")
	}
}

func TestCacheRenderContext(t *testing.T) {
	c := NewCache()
	c.Append(cachedSummary("Acme2023 pages 1-2", 8,
		document.Point{Quote: "covered up to $500", Point: "limit"},
		document.Point{Quote: "within 30 days", Point: "deadline"},
	))

	ctx := c.RenderContext()
	for _, want := range []string{
		"Acme2023 pages 1-2:",
		"summary of Acme2023 pages 1-2",
		`quote1: "covered up to $500"`,
		`quote2: "within 30 days"`,
		"From Acme Policy, 2023",
		"Valid Keys: Acme2023 pages 1-2",
	} {
		if !strings.Contains(ctx, want) {
			t.Errorf("RenderContext missing %q in:\n%s", want, ctx)
		}
	}
}

func TestCacheReset(t *testing.T) {
	c := NewCache()
	c.Append(cachedSummary("Acme2023 pages 1-2", 8))
	c.Reset()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after Reset, got %d", c.Len())
	}
}
