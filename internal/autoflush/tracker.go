package autoflush

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opaldolphin/opaldolphin/internal/config"
)

// Tracker is the dirty-marking API and the single owner of the scheduler
// state for one storage root. Request-handling code calls MarkDirty and
// Reprioritize from arbitrary goroutines; the worker mutates selection and
// reconciliation state through the same lock.
//
// The in-memory state is authoritative. Every mutation is written through
// to disk; a failed write is logged and the next mutation retries the full
// write (see DESIGN.md for the write-failure policy).
type Tracker struct {
	cfg      *config.Config
	notifier *Notifier

	mu    sync.Mutex
	disk  store
	state *State // nil until first use

	now func() time.Time // swapped in tests
}

// NewTracker creates a Tracker persisting under root (see StatePath).
func NewTracker(root string, cfg *config.Config, notifier *Notifier) *Tracker {
	return &Tracker{
		cfg:      cfg,
		notifier: notifier,
		disk:     store{path: StatePath(root)},
		now:      time.Now,
	}
}

// Notifier returns the wake-signal registry workers subscribe to.
func (t *Tracker) Notifier() *Notifier { return t.notifier }

// enabled reports whether auto-flush applies to the named agent.
func (t *Tracker) enabled(agent string) bool {
	return t.cfg.Memory.AutoFlush.Enabled && t.cfg.AgentUsesBuiltinMemory(agent)
}

// withState runs fn on the loaded state under the tracker lock and persists
// the result. All mutation sequences go through here so no call site can
// forget the lock or the write-back. fn must not block on I/O.
func (t *Tracker) withState(fn func(st *State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == nil {
		t.state = t.disk.Read()
	}
	fn(t.state)
	if err := t.disk.Write(t.state); err != nil {
		slog.Warn("autoflush: failed to persist state, keeping in-memory copy", "err", err)
	}
}

// MarkDirty records that the session received content not yet reflected in
// long-term memory, then wakes the workers. A fresh dirty mark cancels any
// pending retry cooldown. No-op when auto-flush is disabled for the agent.
func (t *Tracker) MarkDirty(agent, session, roomID, threadID string) {
	if !t.enabled(agent) {
		return
	}

	now := t.now().UnixMilli()
	t.withState(func(st *State) {
		key := Key(agent, session)
		rec, ok := st.Sessions[key]
		if !ok {
			rec = &Record{AgentName: agent, SessionID: session}
			st.Sessions[key] = rec
		}
		if roomID != "" {
			rec.RoomID = roomID
		}
		if threadID != "" {
			rec.ThreadID = threadID
		}
		if !rec.Dirty {
			rec.FirstDirtyAt = now
		}
		rec.Dirty = true
		rec.DirtyRevision++
		rec.LastSeenAt = now
		rec.NextAttemptAt = nil
	})

	t.notifier.Wake()
}

// Reprioritize boosts the agent's other dirty sessions when activeSession
// becomes the user's focus, so a returning user's backlog is consolidated
// ahead of its natural turn. Up to maxCrossSessionReprioritize records are
// boosted, oldest first-dirty first. No-op when the limit is zero or
// auto-flush is disabled for the agent.
func (t *Tracker) Reprioritize(agent, activeSession string) {
	if !t.enabled(agent) {
		return
	}
	limit := t.cfg.Memory.AutoFlush.MaxCrossSessionReprioritize
	if limit <= 0 {
		return
	}

	now := t.now().UnixMilli()
	t.withState(func(st *State) {
		var siblings []*Record
		for _, rec := range st.Sessions {
			if rec.AgentName == agent && rec.SessionID != activeSession && rec.Dirty {
				siblings = append(siblings, rec)
			}
		}
		sort.Slice(siblings, func(i, j int) bool {
			return siblings[i].FirstDirtyAt < siblings[j].FirstDirtyAt
		})
		if len(siblings) > limit {
			siblings = siblings[:limit]
		}
		for _, rec := range siblings {
			ts := now
			rec.PriorityBoostAt = &ts
		}
	})
}

// readState runs fn on the loaded state under the tracker lock without
// writing anything back. For read-only access.
func (t *Tracker) readState(fn func(st *State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == nil {
		t.state = t.disk.Read()
	}
	fn(t.state)
}

// Records returns a copy of all current records, for status reporting and
// tests.
func (t *Tracker) Records() map[string]Record {
	out := map[string]Record{}
	t.readState(func(st *State) {
		for key, rec := range st.Sessions {
			out[key] = *rec
		}
	})
	return out
}
