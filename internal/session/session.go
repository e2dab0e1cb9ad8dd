package session

import (
	"sync"
	"time"

	"github.com/opaldolphin/opaldolphin/internal/schema"
)

// Session holds one conversation's messages and bookkeeping for a single
// agent. UpdatedAtMs is a strictly increasing integer: every mutation bumps
// it to at least previous+1, so "did anything change since timestamp T" is a
// plain integer comparison.
type Session struct {
	Agent       string
	ID          string
	Messages    schema.Messages
	CreatedAtMs int64
	UpdatedAtMs int64

	mu sync.Mutex
}

// Key returns the canonical "<agent>:<session>" key.
func (s *Session) Key() string { return s.Agent + ":" + s.ID }

// AddUser appends a user message.
func (s *Session) AddUser(content string) {
	s.add(schema.Message{Role: "user", Content: content})
}

// AddAssistant appends an assistant message.
func (s *Session) AddAssistant(content string) {
	s.add(schema.Message{Role: "assistant", Content: content})
}

func (s *Session) add(msg schema.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages.Add(msg)
	s.touchLocked()
}

// touchLocked advances UpdatedAtMs monotonically. Caller must hold s.mu.
func (s *Session) touchLocked() {
	now := time.Now().UnixMilli()
	if now <= s.UpdatedAtMs {
		now = s.UpdatedAtMs + 1
	}
	s.UpdatedAtMs = now
}

// History returns a snapshot of the messages, optionally limited to the
// last maxMessages.
func (s *Session) History(maxMessages int) schema.Messages {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.Messages.Messages
	if maxMessages > 0 && len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	out := make([]schema.Message, len(msgs))
	copy(out, msgs)
	return schema.Messages{Messages: out}
}

// UpdatedAt returns the current update timestamp.
func (s *Session) UpdatedAt() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.UpdatedAtMs
}

// Len returns the number of messages.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Messages.Messages)
}

// snapshot returns the fields needed to serialize the session.
func (s *Session) snapshot() (schema.Messages, int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Messages.Clone(), s.CreatedAtMs, s.UpdatedAtMs
}
