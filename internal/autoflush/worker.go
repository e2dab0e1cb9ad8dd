package autoflush

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/opaldolphin/opaldolphin/internal/config"
	"github.com/opaldolphin/opaldolphin/internal/schema"
)

// disabledRecheckInterval is how often a worker re-checks configuration
// while auto-flush is disabled, so re-enablement is noticed promptly.
const disabledRecheckInterval = 5 * time.Second

// SessionSource provides read access to chat sessions.
// ok=false means the session has never been persisted.
type SessionSource interface {
	History(agent, session string) (msgs []schema.Message, updatedAt int64, ok bool)
	UpdatedAt(agent, session string) (updatedAt int64, ok bool)
}

// MemorySink is the durable long-term memory an extraction is appended to.
type MemorySink interface {
	Append(agent, text, provenance string) error
	Recent(agent string, n int) []string
}

// Summarizer runs the extraction prompt against an LLM. It must respect
// ctx cancellation; the worker bounds every call with a timeout.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Worker is the background flush loop for one storage root. One worker per
// tracker; flushes within a cycle run sequentially, which bounds summarizer
// concurrency to one and avoids races between sessions of the same agent.
type Worker struct {
	tracker    *Tracker
	cfg        *config.Config
	sessions   SessionSource
	memory     MemorySink
	summarizer Summarizer

	wake chan struct{}
	now  func() time.Time
}

// NewWorker creates a Worker and registers it with the tracker's notifier.
func NewWorker(tracker *Tracker, cfg *config.Config, sessions SessionSource, memory MemorySink, summarizer Summarizer) *Worker {
	return &Worker{
		tracker:    tracker,
		cfg:        cfg,
		sessions:   sessions,
		memory:     memory,
		summarizer: summarizer,
		wake:       tracker.Notifier().Subscribe(),
		now:        time.Now,
	}
}

// Run executes flush cycles until ctx is cancelled. Each iteration blocks
// on the wake signal with the flush interval as timeout. Cancellation only
// interrupts the wait: a cycle already in progress, including any flush it
// has dispatched, runs to completion.
func (w *Worker) Run(ctx context.Context) error {
	defer w.tracker.Notifier().Unsubscribe(w.wake)

	slog.Info("autoflush: worker started", "interval", w.interval())

	for {
		timer := time.NewTimer(w.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("autoflush: worker stopped")
			return ctx.Err()
		case <-w.wake:
			timer.Stop()
		case <-timer.C:
		}

		if !w.cfg.Memory.AutoFlush.Enabled {
			continue
		}
		w.Cycle()
	}
}

// interval returns how long to wait for the next cycle.
func (w *Worker) interval() time.Duration {
	af := w.cfg.Memory.AutoFlush
	if !af.Enabled {
		return disabledRecheckInterval
	}
	if af.FlushIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(af.FlushIntervalSeconds) * time.Second
}

// Cycle runs one garbage-collect / select / flush pass. It is also invoked
// directly by the CLI's manual flush command.
func (w *Worker) Cycle() {
	af := w.cfg.Memory.AutoFlush
	now := w.now().UnixMilli()

	candidates := w.collect(now)
	if len(candidates) == 0 {
		return
	}

	// Boosted records first; ties go to whoever has been dirty longest.
	sort.SliceStable(candidates, func(i, j int) bool {
		bi := candidates[i].PriorityBoostAt != nil
		bj := candidates[j].PriorityBoostAt != nil
		if bi != bj {
			return bi
		}
		return candidates[i].FirstDirtyAt < candidates[j].FirstDirtyAt
	})

	selected := w.selectBatch(candidates, now, af)
	if len(selected) == 0 {
		return
	}

	slog.Info("autoflush: cycle selected sessions", "count", len(selected))
	for _, rec := range selected {
		w.flushOne(rec)
	}
}

// collect prunes stale records and gathers flush candidates in one pass
// under the tracker lock. Candidates are returned as copies.
func (w *Worker) collect(now int64) []Record {
	af := w.cfg.Memory.AutoFlush
	staleTTL := int64(af.StaleTTLSeconds) * 1000

	var out []Record
	w.tracker.withState(func(st *State) {
		for key, rec := range st.Sessions {
			// GC: drop abandoned sessions and agents that no longer use
			// the builtin memory backend (config may have changed since
			// the record was created).
			if staleTTL > 0 && now-rec.LastSeenAt > staleTTL {
				slog.Info("autoflush: pruning stale record", "key", key)
				delete(st.Sessions, key)
				continue
			}
			if !w.cfg.AgentUsesBuiltinMemory(rec.AgentName) {
				slog.Info("autoflush: pruning record for unmanaged agent", "key", key)
				delete(st.Sessions, key)
				continue
			}

			if !rec.Dirty || rec.InFlight {
				continue
			}
			if rec.NextAttemptAt != nil && *rec.NextAttemptAt > now {
				continue
			}
			out = append(out, *rec)
		}
	})
	return out
}

// selectBatch applies eligibility gating, the freshness short-circuit, and
// batch caps to the priority-ordered candidates, committing each selection
// as in-flight. Returned records carry the committed started-revision
// snapshot.
func (w *Worker) selectBatch(candidates []Record, now int64, af config.AutoFlushConfig) []Record {
	idleMs := int64(af.IdleSeconds) * 1000
	maxAgeMs := int64(af.MaxDirtyAgeSeconds) * 1000
	maxPerCycle := af.Batch.MaxSessionsPerCycle
	maxPerAgent := af.Batch.MaxSessionsPerAgentPerCycle

	var selected []Record
	perAgent := map[string]int{}

	for _, cand := range candidates {
		if maxPerCycle > 0 && len(selected) >= maxPerCycle {
			break
		}
		if maxPerAgent > 0 && perAgent[cand.AgentName] >= maxPerAgent {
			continue
		}

		// The session must have gone quiet, or have waited long enough that
		// a continuously-active conversation is flushed anyway.
		idle := now-cand.LastSeenAt >= idleMs
		aged := now-cand.FirstDirtyAt >= maxAgeMs
		if !idle && !aged {
			continue
		}

		// Freshness short-circuit: a dirty mark with no session change since
		// the last flush was spurious; mark clean instead of flushing.
		if updated, ok := w.sessions.UpdatedAt(cand.AgentName, cand.SessionID); ok &&
			cand.LastFlushedSessionUpdatedAt != nil && updated <= *cand.LastFlushedSessionUpdatedAt {
			w.markClean(cand.Key())
			continue
		}

		if rec, ok := w.commit(cand.Key()); ok {
			selected = append(selected, rec)
			perAgent[cand.AgentName]++
		}
	}
	return selected
}

// markClean clears a record's dirty flag and priority boost.
func (w *Worker) markClean(key string) {
	w.tracker.withState(func(st *State) {
		rec, ok := st.Sessions[key]
		if !ok {
			return
		}
		rec.Dirty = false
		rec.PriorityBoostAt = nil
	})
}

// commit atomically claims a record for flushing: sets in_flight and
// snapshots the dirty revision. Returns ok=false if the record vanished or
// was claimed since candidate gathering.
func (w *Worker) commit(key string) (Record, bool) {
	var out Record
	ok := false
	w.tracker.withState(func(st *State) {
		rec, exists := st.Sessions[key]
		if !exists || !rec.Dirty || rec.InFlight {
			return
		}
		rev := rec.DirtyRevision
		rec.InFlight = true
		rec.FlushStartedDirtyRevision = &rev
		out = *rec
		ok = true
	})
	return out, ok
}
