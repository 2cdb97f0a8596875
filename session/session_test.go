package session

import (
	"testing"

	"github.com/sweetpotato0/policyqa/message"
)

func TestNewSession(t *testing.T) {
	a := New()
	b := New()
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("Expected unique non-empty session IDs, got %q and %q", a.ID, b.ID)
	}
	if a.History == nil || a.Cache == nil || a.Costs == nil {
		t.Error("Expected history, cache and cost tracker initialized")
	}
}

func TestHistoryAddAndAll(t *testing.T) {
	h := NewHistory()
	h.Add(
		message.NewMessage(message.RoleUser, "question"),
		message.NewMessage(message.RoleAssistant, "answer"),
	)
	if h.Len() != 2 {
		t.Fatalf("Expected 2 messages, got %d", h.Len())
	}

	// All returns copies, not the underlying messages.
	msgs := h.All()
	msgs[0].Content = "mutated"
	if h.All()[0].Content != "question" {
		t.Error("Expected history to be isolated from returned copies")
	}
}

func TestHistorySet(t *testing.T) {
	h := NewHistory()
	h.Add(message.NewMessage(message.RoleUser, "old"))
	h.Set([]*message.Message{
		message.NewMessage(message.RoleUser, "new"),
		message.NewMessage(message.RoleAssistant, "reply"),
	})
	if h.Len() != 2 || h.All()[0].Content != "new" {
		t.Errorf("Expected replaced transcript, got %v", h.All())
	}
}

func TestSessionReset(t *testing.T) {
	s := New()
	s.History.Add(message.NewMessage(message.RoleUser, "q"))
	before := s.ID

	s.Reset()
	if s.History.Len() != 0 {
		t.Error("Expected history cleared on reset")
	}
	if s.Cache.Len() != 0 {
		t.Error("Expected evidence cache cleared on reset")
	}
	if s.ID != before {
		t.Error("Expected the session ID to survive a reset")
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := New()
	s.History.Add(
		message.NewMessage(message.RoleUser, "q"),
		message.NewMessage(message.RoleAssistant, "a"),
	)

	record := s.Snapshot()
	if record.ID != s.ID || len(record.Messages) != 2 {
		t.Fatalf("Unexpected snapshot: %+v", record)
	}

	restored := New()
	restored.Restore(record)
	if restored.ID != s.ID {
		t.Errorf("Expected restored ID %s, got %s", s.ID, restored.ID)
	}
	if restored.History.Len() != 2 {
		t.Errorf("Expected 2 restored messages, got %d", restored.History.Len())
	}

	// Restoring nil is a no-op.
	restored.Restore(nil)
	if restored.History.Len() != 2 {
		t.Error("Expected nil restore to leave the session unchanged")
	}
}

func TestRecordClone(t *testing.T) {
	r := &Record{ID: "id", Messages: []*message.Message{message.NewMessage(message.RoleUser, "q")}}
	cp := r.Clone()
	cp.Messages[0].Content = "mutated"
	if r.Messages[0].Content != "q" {
		t.Error("Expected clone to be independent of the original")
	}

	var nilRecord *Record
	if nilRecord.Clone() != nil {
		t.Error("Expected nil clone for nil record")
	}
}
