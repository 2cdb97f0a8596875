package llm

import "sync"

// CostTracker accumulates usage metadata across provider calls. One
// tracker is owned by each session; it is never process-wide state.
type CostTracker struct {
	mu     sync.Mutex
	cost   float64
	tokens map[string][2]int // model -> [prompt, completion]
}

// NewCostTracker creates an empty tracker.
func NewCostTracker() *CostTracker {
	return &CostTracker{tokens: make(map[string][2]int)}
}

// Record adds one response's usage to the running totals.
func (t *CostTracker) Record(u Usage) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cost += u.Cost
	counts := t.tokens[u.Model]
	counts[0] += u.PromptTokens
	counts[1] += u.CompletionTokens
	t.tokens[u.Model] = counts
}

// TotalCost returns the accumulated dollar cost.
func (t *CostTracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cost
}

// TokenCounts returns prompt/completion token totals per model.
func (t *CostTracker) TokenCounts() map[string][2]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][2]int, len(t.tokens))
	for k, v := range t.tokens {
		out[k] = v
	}
	return out
}
