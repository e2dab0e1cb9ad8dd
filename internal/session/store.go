// Package session manages per-agent conversation history stored as JSONL
// files.
//
// File format, one file per (agent, session) under
// <agent workspace>/sessions/:
//
//	Line 1:  {"_type":"metadata","agent":"…","session_id":"…",
//	           "created_at_ms":N,"updated_at_ms":N}
//	Line 2+: one JSON message object per line
//
// updated_at_ms in the metadata line is the session's monotonically
// increasing update timestamp; the auto-flush scheduler compares it against
// the value recorded at the previous flush to detect spurious dirty marks.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opaldolphin/opaldolphin/internal/config"
	"github.com/opaldolphin/opaldolphin/internal/schema"
)

// Store loads and persists sessions as JSONL files, one tree per agent.
type Store struct {
	cfg   *config.Config
	cache sync.Map // "<agent>:<session>" → *Session
}

// NewStore creates a Store resolving agent workspaces through cfg.
func NewStore(cfg *config.Config) *Store {
	return &Store{cfg: cfg}
}

// GetOrCreate returns the cached session, loading from disk if needed, or
// creating an empty new one.
func (st *Store) GetOrCreate(agent, id string) *Session {
	key := agent + ":" + id
	if v, ok := st.cache.Load(key); ok {
		return v.(*Session)
	}

	s := st.load(agent, id)
	if s == nil {
		now := time.Now().UnixMilli()
		s = &Session{
			Agent:       agent,
			ID:          id,
			Messages:    schema.NewMessages(),
			CreatedAtMs: now,
			UpdatedAtMs: now,
		}
	}

	actual, _ := st.cache.LoadOrStore(key, s)
	return actual.(*Session)
}

// Save writes the session to disk and updates the cache.
func (st *Store) Save(s *Session) error {
	path := st.sessionPath(s.Agent, s.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	msgs, createdAt, updatedAt := s.snapshot()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	meta := map[string]any{
		"_type":         "metadata",
		"agent":         s.Agent,
		"session_id":    s.ID,
		"created_at_ms": createdAt,
		"updated_at_ms": updatedAt,
	}
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	for _, msg := range msgs.Messages {
		if err := enc.Encode(msg); err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", path, err)
	}

	st.cache.Store(s.Key(), s)
	return nil
}

// History returns the session's messages and its update timestamp.
// A session that has never been written returns no messages and ok=false.
func (st *Store) History(agent, id string) ([]schema.Message, int64, bool) {
	if v, ok := st.cache.Load(agent + ":" + id); ok {
		s := v.(*Session)
		msgs := s.History(0)
		return msgs.Messages, s.UpdatedAt(), true
	}
	s := st.load(agent, id)
	if s == nil {
		return nil, 0, false
	}
	return s.Messages.Messages, s.UpdatedAtMs, true
}

// UpdatedAt returns the session's update timestamp without loading the
// message body (only the metadata line is read on a cache miss).
func (st *Store) UpdatedAt(agent, id string) (int64, bool) {
	if v, ok := st.cache.Load(agent + ":" + id); ok {
		return v.(*Session).UpdatedAt(), true
	}

	f, err := os.Open(st.sessionPath(agent, id))
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, false
	}
	var meta struct {
		Type        string `json:"_type"`
		UpdatedAtMs int64  `json:"updated_at_ms"`
	}
	if json.Unmarshal(scanner.Bytes(), &meta) != nil || meta.Type != "metadata" {
		return 0, false
	}
	return meta.UpdatedAtMs, true
}

// List returns the session IDs stored for an agent, unordered.
func (st *Store) List(agent string) []string {
	dir := filepath.Join(st.cfg.AgentWorkspace(agent), "sessions")
	entries, _ := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	var out []string
	for _, path := range entries {
		base := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		out = append(out, base)
	}
	return out
}

// Invalidate removes a session from the in-memory cache.
func (st *Store) Invalidate(agent, id string) {
	st.cache.Delete(agent + ":" + id)
}

// ---------------------------------------------------------------------------
// Internal helpers

func (st *Store) sessionPath(agent, id string) string {
	return filepath.Join(st.cfg.AgentWorkspace(agent), "sessions", safeFilename(id)+".jsonl")
}

// safeFilename replaces filesystem-unsafe characters with underscores.
func safeFilename(name string) string {
	const unsafe = `<>:"/\|?*`
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(unsafe, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// load reads a session from disk, skipping malformed lines.
func (st *Store) load(agent, id string) *Session {
	path := st.sessionPath(agent, id)

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	s := &Session{Agent: agent, ID: id, Messages: schema.NewMessages()}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20) // 1 MB per line
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var probe map[string]any
		if err := json.Unmarshal(line, &probe); err != nil {
			slog.Warn("session: skipping malformed line", "agent", agent, "session", id, "err", err)
			continue
		}

		if probe["_type"] == "metadata" {
			if v, ok := probe["created_at_ms"].(float64); ok {
				s.CreatedAtMs = int64(v)
			}
			if v, ok := probe["updated_at_ms"].(float64); ok {
				s.UpdatedAtMs = int64(v)
			}
			continue
		}

		var msg schema.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			slog.Warn("session: skipping malformed message", "agent", agent, "session", id, "err", err)
			continue
		}
		s.Messages.Add(msg)
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("session: error reading file", "agent", agent, "session", id, "err", err)
		return nil
	}

	if s.CreatedAtMs == 0 {
		s.CreatedAtMs = time.Now().UnixMilli()
	}
	if s.UpdatedAtMs == 0 {
		s.UpdatedAtMs = s.CreatedAtMs
	}
	return s
}
