// Package autoflush implements the background memory auto-flush scheduler.
//
// Chat sessions accumulate content faster than it is worth consolidating
// into long-term memory, so the agent loop only marks sessions "dirty" and
// a single background worker per storage root decides when each one is
// quiet (or old) enough to summarize. Scheduling state is persisted as a
// versioned JSON file so consolidation survives restarts.
//
// Consolidation is best-effort and at-least-once: a session marked dirty
// again while its flush is running stays dirty and is flushed again later.
// Exactly one tracker/worker pair may own a storage root; running several
// processes against the same state file is unsupported.
package autoflush

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// stateVersion is the persisted schema version.
const stateVersion = 1

// stateFileName is the scheduler state file under the storage root.
const stateFileName = "flush_state.json"

// Record is the scheduling state for one (agent, session) pair.
// All timestamps are unix milliseconds; optional timestamps are pointers so
// "never happened" round-trips as JSON null.
type Record struct {
	AgentName string `json:"agent_name"`
	SessionID string `json:"session_id"`

	// Carried for observability; not used in scheduling decisions.
	RoomID   string `json:"room_id"`
	ThreadID string `json:"thread_id"`

	Dirty    bool `json:"dirty"`
	InFlight bool `json:"in_flight"`

	FirstDirtyAt int64 `json:"first_dirty_at"`
	LastSeenAt   int64 `json:"last_seen_at"`

	LastSessionUpdatedAt        *int64 `json:"last_session_updated_at"`
	LastFlushedAt               *int64 `json:"last_flushed_at"`
	LastFlushedSessionUpdatedAt *int64 `json:"last_flushed_session_updated_at"`

	NextAttemptAt       *int64 `json:"next_attempt_at"`
	ConsecutiveFailures int    `json:"consecutive_failures"`

	PriorityBoostAt *int64 `json:"priority_boost_at"`

	// DirtyRevision increments on every dirty mark and never decreases.
	// FlushStartedDirtyRevision snapshots it when a flush begins; a higher
	// current value at completion means new content arrived mid-flush.
	DirtyRevision             int64  `json:"dirty_revision"`
	FlushStartedDirtyRevision *int64 `json:"flush_started_dirty_revision"`
}

// Key returns the record's map key: "<agent>:<session>".
func (r *Record) Key() string { return Key(r.AgentName, r.SessionID) }

// Key builds the canonical record key.
func Key(agent, session string) string { return agent + ":" + session }

// State is the entire persisted scheduler state.
type State struct {
	Version  int                `json:"version"`
	Sessions map[string]*Record `json:"sessions"`
}

// newState returns an empty state at the current schema version.
func newState() *State {
	return &State{Version: stateVersion, Sessions: map[string]*Record{}}
}

// StatePath returns the scheduler state file path under a storage root.
func StatePath(root string) string {
	return filepath.Join(root, stateFileName)
}

// store persists State with atomic replacement. Callers serialize access
// through the Tracker's lock.
type store struct {
	path string
}

// Read parses the backing file. A missing, empty, or malformed file yields
// an empty state; corruption is logged but never fatal.
func (s *store) Read() *State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("autoflush: cannot read state file, starting empty", "path", s.path, "err", err)
		}
		return newState()
	}
	if len(data) == 0 {
		return newState()
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("autoflush: malformed state file, starting empty", "path", s.path, "err", err)
		return newState()
	}
	if st.Version == 0 {
		st.Version = stateVersion
	}
	if st.Sessions == nil {
		st.Sessions = map[string]*Record{}
	}
	// Drop entries that don't carry their own identity (hand-edited files).
	for key, rec := range st.Sessions {
		if rec == nil || rec.AgentName == "" || rec.SessionID == "" {
			slog.Warn("autoflush: dropping malformed state entry", "key", key)
			delete(st.Sessions, key)
		}
	}
	return &st
}

// Write serializes st and atomically replaces the backing file
// (write-to-temp then rename), so a crash mid-write never leaves a
// half-written store behind.
func (s *store) Write(st *State) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, ".flush_state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
