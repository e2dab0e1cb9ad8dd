package autoflush

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opaldolphin/opaldolphin/internal/config"
	"github.com/opaldolphin/opaldolphin/internal/schema"
)

// ─── fakes ─────────────────────────────────────────────────────────────────

type fakeSession struct {
	msgs    []schema.Message
	updated int64
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]fakeSession
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]fakeSession{}}
}

func (f *fakeSessions) set(agent, session string, updated int64, turns ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var msgs []schema.Message
	for i, turn := range turns {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs = append(msgs, schema.Message{Role: role, Content: turn})
	}
	f.sessions[Key(agent, session)] = fakeSession{msgs: msgs, updated: updated}
}

func (f *fakeSessions) History(agent, session string) ([]schema.Message, int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[Key(agent, session)]
	return s.msgs, s.updated, ok
}

func (f *fakeSessions) UpdatedAt(agent, session string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[Key(agent, session)]
	return s.updated, ok
}

type fakeMemory struct {
	mu      sync.Mutex
	entries []string // "<agent>|<text>|<provenance>"
	recent  []string
	fail    error
}

func (f *fakeMemory) Append(agent, text, provenance string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.entries = append(f.entries, agent+"|"+text+"|"+provenance)
	return nil
}

func (f *fakeMemory) Recent(agent string, n int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > 0 && len(f.recent) > n {
		return append([]string(nil), f.recent[:n]...)
	}
	return append([]string(nil), f.recent...)
}

func (f *fakeMemory) appendCount(agent string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, e := range f.entries {
		if strings.HasPrefix(e, agent+"|") {
			count++
		}
	}
	return count
}

type fakeSummarizer struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	prompts []string
	onCall  func() // runs inside Summarize, before returning
}

func (f *fakeSummarizer) Summarize(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	hook := f.onCall
	reply, err := f.reply, f.err
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return reply, err
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ─── harness ───────────────────────────────────────────────────────────────

type testEnv struct {
	cfg        *config.Config
	clock      *testClock
	tracker    *Tracker
	sessions   *fakeSessions
	memory     *fakeMemory
	summarizer *fakeSummarizer
	worker     *Worker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := newTestConfig(t)
	clock := newTestClock()
	tracker := newTestTracker(t, cfg, clock)

	env := &testEnv{
		cfg:        cfg,
		clock:      clock,
		tracker:    tracker,
		sessions:   newFakeSessions(),
		memory:     &fakeMemory{},
		summarizer: &fakeSummarizer{reply: "user likes green tea"},
	}
	env.worker = NewWorker(tracker, cfg, env.sessions, env.memory, env.summarizer)
	env.worker.now = clock.Now
	return env
}

// dirtySession marks a session dirty with a one-turn conversation behind it.
func (env *testEnv) dirtySession(agent, session string) {
	env.sessions.set(agent, session, env.clock.NowMs(), "remember that I like green tea", "Noted!")
	env.tracker.MarkDirty(agent, session, "", "")
}

// pastIdle advances the clock beyond the idle gate.
func (env *testEnv) pastIdle() {
	env.clock.Advance(time.Duration(env.cfg.Memory.AutoFlush.IdleSeconds+1) * time.Second)
}

func (env *testEnv) record(agent, session string) Record {
	rec, ok := env.tracker.Records()[Key(agent, session)]
	if !ok {
		return Record{}
	}
	return rec
}

// ─── cycle: selection ──────────────────────────────────────────────────────

func TestCycle_FlushesIdleDirtySession(t *testing.T) {
	env := newTestEnv(t)
	env.dirtySession("main", "tg:1")
	env.pastIdle()

	env.worker.Cycle()

	if got := env.summarizer.callCount(); got != 1 {
		t.Fatalf("expected 1 summarizer call, got %d", got)
	}
	if got := env.memory.appendCount("main"); got != 1 {
		t.Fatalf("expected 1 memory entry, got %d", got)
	}

	rec := env.record("main", "tg:1")
	if rec.Dirty {
		t.Error("expected record clean after flush")
	}
	if rec.InFlight {
		t.Error("expected in_flight released")
	}
	if rec.LastFlushedAt == nil {
		t.Error("expected LastFlushedAt set")
	}
	if rec.LastFlushedSessionUpdatedAt == nil {
		t.Error("expected LastFlushedSessionUpdatedAt set")
	}
	if rec.ConsecutiveFailures != 0 {
		t.Errorf("expected zero failures, got %d", rec.ConsecutiveFailures)
	}
	if rec.FlushStartedDirtyRevision != nil {
		t.Error("expected started-revision snapshot cleared")
	}
}

func TestCycle_SkipsActiveSession(t *testing.T) {
	env := newTestEnv(t)
	env.dirtySession("main", "tg:1")
	// Well within the idle window, nowhere near max age.
	env.clock.Advance(10 * time.Second)

	env.worker.Cycle()

	if env.summarizer.callCount() != 0 {
		t.Error("active session must not be flushed")
	}
	if !env.record("main", "tg:1").Dirty {
		t.Error("record must stay dirty")
	}
}

func TestCycle_FlushesAgedSessionDespiteActivity(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Memory.AutoFlush.MaxDirtyAgeSeconds = 300

	env.dirtySession("main", "tg:1")
	// Keep the session active: re-mark just before each idle deadline.
	for i := 0; i < 6; i++ {
		env.clock.Advance(60 * time.Second)
		env.dirtySession("main", "tg:1")
	}

	env.worker.Cycle()

	if env.summarizer.callCount() != 1 {
		t.Error("expected aged session flushed despite continuous activity")
	}
}

func TestCycle_IdleBoundaryIsInclusive(t *testing.T) {
	env := newTestEnv(t)
	env.dirtySession("main", "tg:1")
	env.clock.Advance(time.Duration(env.cfg.Memory.AutoFlush.IdleSeconds) * time.Second)

	env.worker.Cycle()

	if env.summarizer.callCount() != 1 {
		t.Error("session idle exactly idleSeconds must be eligible")
	}
}

func TestCycle_RespectsBatchCaps(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Memory.AutoFlush.Batch.MaxSessionsPerCycle = 4
	env.cfg.Memory.AutoFlush.Batch.MaxSessionsPerAgentPerCycle = 2

	for i := 0; i < 3; i++ {
		env.dirtySession("main", fmt.Sprintf("m:%d", i))
		env.dirtySession("aux", fmt.Sprintf("a:%d", i))
	}
	env.pastIdle()

	env.worker.Cycle()

	if got := env.summarizer.callCount(); got != 4 {
		t.Errorf("expected per-cycle cap of 4, got %d flushes", got)
	}
	if got := env.memory.appendCount("main"); got != 2 {
		t.Errorf("expected per-agent cap of 2 for main, got %d", got)
	}
	if got := env.memory.appendCount("aux"); got != 2 {
		t.Errorf("expected per-agent cap of 2 for aux, got %d", got)
	}
}

func TestCycle_BoostedSessionsGoFirst(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Memory.AutoFlush.Batch.MaxSessionsPerCycle = 1

	env.dirtySession("main", "older")
	env.clock.Advance(time.Minute)
	env.dirtySession("main", "boosted")
	env.pastIdle()

	env.tracker.withState(func(st *State) {
		ts := env.clock.NowMs()
		st.Sessions[Key("main", "boosted")].PriorityBoostAt = &ts
	})

	env.worker.Cycle()

	if env.record("main", "boosted").Dirty {
		t.Error("expected boosted session flushed first")
	}
	if !env.record("main", "older").Dirty {
		t.Error("expected unboosted session to wait for the next cycle")
	}
}

func TestCycle_SkipsRecordInCooldown(t *testing.T) {
	env := newTestEnv(t)
	env.dirtySession("main", "tg:1")
	env.pastIdle()

	next := env.clock.NowMs() + 60_000
	env.tracker.withState(func(st *State) {
		st.Sessions[Key("main", "tg:1")].NextAttemptAt = &next
	})

	env.worker.Cycle()

	if env.summarizer.callCount() != 0 {
		t.Error("record in cooldown must not be flushed")
	}
}

func TestCycle_SkipsInFlightRecord(t *testing.T) {
	env := newTestEnv(t)
	env.dirtySession("main", "tg:1")
	env.pastIdle()

	env.tracker.withState(func(st *State) {
		st.Sessions[Key("main", "tg:1")].InFlight = true
	})

	env.worker.Cycle()

	if env.summarizer.callCount() != 0 {
		t.Error("in-flight record must never be selected again")
	}
}

func TestCycle_FreshnessShortCircuit(t *testing.T) {
	env := newTestEnv(t)
	env.dirtySession("main", "tg:1")
	updated, _ := env.sessions.UpdatedAt("main", "tg:1")
	env.pastIdle()

	// Pretend the last flush already covered the current session content.
	env.tracker.withState(func(st *State) {
		st.Sessions[Key("main", "tg:1")].LastFlushedSessionUpdatedAt = &updated
	})

	env.worker.Cycle()

	if env.summarizer.callCount() != 0 {
		t.Error("unchanged session must not reach the summarizer")
	}
	rec := env.record("main", "tg:1")
	if rec.Dirty {
		t.Error("spurious dirty mark must be cleared")
	}
}

// ─── cycle: GC ─────────────────────────────────────────────────────────────

func TestCycle_PrunesStaleRecords(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Memory.AutoFlush.StaleTTLSeconds = 3600

	env.dirtySession("main", "abandoned")
	env.clock.Advance(2 * time.Hour)

	env.worker.Cycle()

	if _, ok := env.tracker.Records()[Key("main", "abandoned")]; ok {
		t.Error("expected stale record pruned")
	}
}

func TestCycle_PrunesUnmanagedAgentRecords(t *testing.T) {
	env := newTestEnv(t)
	env.dirtySession("aux", "s1")
	// Agent reconfigured away from builtin memory after the record existed.
	env.cfg.Agents.Instances["aux"] = config.AgentConfig{MemoryBackend: config.MemoryBackendNone}
	env.pastIdle()

	env.worker.Cycle()

	if _, ok := env.tracker.Records()[Key("aux", "s1")]; ok {
		t.Error("expected record for unmanaged agent pruned")
	}
	if env.summarizer.callCount() != 0 {
		t.Error("pruned record must not be flushed")
	}
}

// ─── flush outcomes ────────────────────────────────────────────────────────

func TestFlush_FailureSchedulesBackoff(t *testing.T) {
	env := newTestEnv(t)
	env.summarizer.err = errors.New("model unavailable")
	base := int64(env.cfg.Memory.AutoFlush.RetryCooldownSeconds) * 1000

	env.dirtySession("main", "tg:1")
	env.pastIdle()
	env.worker.Cycle()

	rec := env.record("main", "tg:1")
	if rec.ConsecutiveFailures != 1 {
		t.Fatalf("expected 1 failure, got %d", rec.ConsecutiveFailures)
	}
	if !rec.Dirty {
		t.Error("failed record must stay dirty")
	}
	if rec.InFlight {
		t.Error("failed record must release in_flight")
	}
	if rec.NextAttemptAt == nil || *rec.NextAttemptAt != env.clock.NowMs()+base {
		t.Fatalf("expected cooldown of %dms, got %v", base, rec.NextAttemptAt)
	}
	if env.memory.appendCount("main") != 0 {
		t.Error("failed flush must not store memory")
	}

	// Second failure doubles the cooldown.
	env.clock.Advance(time.Duration(base+1) * time.Millisecond)
	env.pastIdle()
	env.worker.Cycle()

	rec = env.record("main", "tg:1")
	if rec.ConsecutiveFailures != 2 {
		t.Fatalf("expected 2 failures, got %d", rec.ConsecutiveFailures)
	}
	if rec.NextAttemptAt == nil || *rec.NextAttemptAt != env.clock.NowMs()+2*base {
		t.Errorf("expected doubled cooldown, got %v", rec.NextAttemptAt)
	}
}

func TestFlush_MemoryAppendFailureCountsAsFailure(t *testing.T) {
	env := newTestEnv(t)
	env.memory.fail = errors.New("disk full")

	env.dirtySession("main", "tg:1")
	env.pastIdle()
	env.worker.Cycle()

	rec := env.record("main", "tg:1")
	if rec.ConsecutiveFailures != 1 || !rec.Dirty {
		t.Errorf("append failure must count as flush failure: %+v", rec)
	}
}

func TestFlush_RedirtiedMidFlushStaysDirty(t *testing.T) {
	env := newTestEnv(t)
	env.dirtySession("main", "tg:1")
	env.pastIdle()

	env.summarizer.onCall = func() {
		env.tracker.MarkDirty("main", "tg:1", "", "")
	}

	env.worker.Cycle()

	rec := env.record("main", "tg:1")
	if !rec.Dirty {
		t.Error("record re-dirtied mid-flush must stay dirty")
	}
	if rec.InFlight {
		t.Error("in_flight must be released even when re-dirtied")
	}
	if rec.LastFlushedAt == nil {
		t.Error("the completed flush still counts")
	}
	if rec.ConsecutiveFailures != 0 {
		t.Error("a successful flush resets the failure count")
	}
}

func TestFlush_SentinelReplyStoresNothing(t *testing.T) {
	env := newTestEnv(t)
	env.summarizer.reply = "no_memory"

	env.dirtySession("main", "tg:1")
	env.pastIdle()
	env.worker.Cycle()

	if env.memory.appendCount("main") != 0 {
		t.Error("sentinel reply must not store memory")
	}
	rec := env.record("main", "tg:1")
	if rec.Dirty {
		t.Error("sentinel reply is still a successful flush")
	}
}

func TestFlush_EmptySessionIsNoopSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.set("main", "tg:1", env.clock.NowMs())
	env.tracker.MarkDirty("main", "tg:1", "", "")
	env.pastIdle()

	env.worker.Cycle()

	if env.summarizer.callCount() != 0 {
		t.Error("empty session must not reach the summarizer")
	}
	if env.record("main", "tg:1").Dirty {
		t.Error("empty session flush is a no-op success")
	}
}

func TestFlush_ProvenanceNamesSessionAndTimestamp(t *testing.T) {
	env := newTestEnv(t)
	env.dirtySession("main", "tg:1")
	updated, _ := env.sessions.UpdatedAt("main", "tg:1")
	env.pastIdle()

	env.worker.Cycle()

	if len(env.memory.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(env.memory.entries))
	}
	want := fmt.Sprintf("session tg:1@%d", updated)
	if !strings.HasSuffix(env.memory.entries[0], "|"+want) {
		t.Errorf("provenance mismatch: %q does not end with %q", env.memory.entries[0], want)
	}
}

func TestFlush_PromptCarriesDedupeContext(t *testing.T) {
	env := newTestEnv(t)
	env.memory.recent = []string{"- [old] user likes green tea"}

	env.dirtySession("main", "tg:1")
	env.pastIdle()
	env.worker.Cycle()

	if len(env.summarizer.prompts) != 1 {
		t.Fatalf("expected 1 prompt, got %d", len(env.summarizer.prompts))
	}
	prompt := env.summarizer.prompts[0]
	if !strings.Contains(prompt, "Already Stored") {
		t.Error("prompt missing dedupe section")
	}
	if !strings.Contains(prompt, "user likes green tea") {
		t.Error("prompt missing recent memory snippet")
	}
	if !strings.Contains(prompt, "USER: remember that I like green tea") {
		t.Error("prompt missing conversation excerpt")
	}
}

// ─── worker loop ───────────────────────────────────────────────────────────

func TestRun_StopsOnContextCancel(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.worker.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestRun_WakeTriggersCycle(t *testing.T) {
	env := newTestEnv(t)
	env.dirtySession("main", "tg:1")
	env.pastIdle()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.worker.Run(ctx) }()

	// MarkDirty wakes the worker; the session is already past idle because
	// the fake clock does not advance with wall time.
	env.tracker.MarkDirty("main", "tg:1", "", "")

	deadline := time.After(2 * time.Second)
	for env.summarizer.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("worker never flushed after wake")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
