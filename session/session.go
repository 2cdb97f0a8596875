// Package session tracks per-conversation state: chat history, the
// evidence gathered so far, and accumulated provider spend.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweetpotato0/policyqa/evidence"
	"github.com/sweetpotato0/policyqa/llm"
	"github.com/sweetpotato0/policyqa/message"
)

// Session is one user conversation. Evidence and costs accumulate
// across questions within the session and reset with it.
type Session struct {
	ID      string
	History *History
	Cache   *evidence.Cache
	Costs   *llm.CostTracker

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New creates a fresh session with a generated ID.
func New() *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		History:   NewHistory(),
		Cache:     evidence.NewCache(),
		Costs:     llm.NewCostTracker(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Reset clears conversation state while keeping the session ID.
func (s *Session) Reset() {
	s.History.Clear()
	s.Cache.Reset()
	s.UpdatedAt = time.Now()
}

// History is the session's chat transcript. All operations are
// thread-safe using RWMutex protection.
type History struct {
	mu       sync.RWMutex
	messages []*message.Message
}

// NewHistory creates an empty transcript.
func NewHistory() *History {
	return &History{}
}

// Add appends messages to the transcript.
func (h *History) Add(msgs ...*message.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgs...)
}

// All returns a copy of the transcript.
func (h *History) All() []*message.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return message.CloneMessages(h.messages)
}

// Set replaces the transcript.
func (h *History) Set(msgs []*message.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = message.CloneMessages(msgs)
}

// Len returns the number of messages in the transcript.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Clear empties the transcript.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}

// Record is the serializable form of a session for external storage.
type Record struct {
	ID        string             `json:"id"`
	Messages  []*message.Message `json:"messages"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Messages = message.CloneMessages(r.Messages)
	return &cp
}

// Snapshot captures the session as a storable record.
func (s *Session) Snapshot() *Record {
	return &Record{
		ID:        s.ID,
		Messages:  s.History.All(),
		CreatedAt: s.CreatedAt,
		UpdatedAt: time.Now(),
	}
}

// Restore replaces the session's transcript from a stored record.
func (s *Session) Restore(r *Record) {
	if r == nil {
		return
	}
	s.ID = r.ID
	s.History.Set(r.Messages)
	s.CreatedAt = r.CreatedAt
	s.UpdatedAt = r.UpdatedAt
}

// Store persists session records across restarts.
type Store interface {
	Save(ctx context.Context, record *Record) error
	Load(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}
