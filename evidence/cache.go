package evidence

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Cache owns the session's accumulated summaries. Tool dispatch appends
// complete batches; the prompt renderer and citation normalizer only
// read.
type Cache struct {
	mu        sync.RWMutex
	summaries []*Summary
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Append adds a completed summarization batch.
func (c *Cache) Append(batch ...*Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = append(c.summaries, batch...)
}

// Len returns the number of stored summaries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.summaries)
}

// Reset clears the cache at session reset.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = nil
}

// Filtered returns the summaries worth citing: anything scored 0 is
// excluded outright, the rest sorted by descending score with name as
// the deterministic tie-break.
func (c *Cache) Filtered() []*Summary {
	c.mu.RLock()
	out := make([]*Summary, 0, len(c.summaries))
	for _, s := range c.summaries {
		if s.Score > 0 {
			out = append(out, s)
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// ValidNames returns the citation keys the answering model may cite,
// in filtered order.
func (c *Cache) ValidNames() []string {
	filtered := c.Filtered()
	names := make([]string, 0, len(filtered))
	for _, s := range filtered {
		names = append(names, s.Name())
	}
	return names
}

// Find returns the summary with the given citation key.
func (c *Cache) Find(name string) (*Summary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.summaries {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// RenderContext assembles the prompt-ready context block. Quotes are
// enumerated quote1, quote2, ... per summary, and the trailing line
// lists every valid citation key.
func (c *Cache) RenderContext() string {
	filtered := c.Filtered()
	blocks := make([]string, 0, len(filtered))
	names := make([]string, 0, len(filtered))
	for _, s := range filtered {
		var b strings.Builder
		fmt.Fprintf(&b, "%s:\n%s", s.Name(), s.Text)
		if len(s.Points) > 0 {
			b.WriteString("\nRelevant quotes:")
			for i, p := range s.Points {
				fmt.Fprintf(&b, "\nquote%d: %q", i+1, p.Quote)
			}
		}
		fmt.Fprintf(&b, "\nFrom %s", s.Chunk.Doc.Citation)
		blocks = append(blocks, b.String())
		names = append(names, s.Name())
	}
	return strings.Join(blocks, "\n\n") + "\n\nValid Keys: " + strings.Join(names, ", ")
}
