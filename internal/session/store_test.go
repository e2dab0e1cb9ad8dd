package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opaldolphin/opaldolphin/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Workspace = t.TempDir()
	return NewStore(&cfg)
}

func TestGetOrCreate_NewSession(t *testing.T) {
	st := newTestStore(t)
	s := st.GetOrCreate("main", "cli:direct")
	if s.Agent != "main" || s.ID != "cli:direct" {
		t.Errorf("identity mismatch: %+v", s)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty session, got %d messages", s.Len())
	}
	if s.CreatedAtMs == 0 || s.UpdatedAtMs == 0 {
		t.Error("expected timestamps initialized")
	}
}

func TestGetOrCreate_ReturnsCachedInstance(t *testing.T) {
	st := newTestStore(t)
	a := st.GetOrCreate("main", "s1")
	b := st.GetOrCreate("main", "s1")
	if a != b {
		t.Error("expected the same cached instance")
	}
}

func TestSaveAndReload(t *testing.T) {
	st := newTestStore(t)
	s := st.GetOrCreate("main", "tg:42")
	s.AddUser("hello")
	s.AddAssistant("hi there")
	if err := st.Save(s); err != nil {
		t.Fatalf("save: %v", err)
	}

	st.Invalidate("main", "tg:42")
	msgs, updated, ok := st.History("main", "tg:42")
	if !ok {
		t.Fatal("expected history after reload")
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hello" {
		t.Errorf("first message mismatch: %+v", msgs[0])
	}
	if updated != s.UpdatedAt() {
		t.Errorf("updated_at mismatch: %d vs %d", updated, s.UpdatedAt())
	}
}

func TestHistory_UnknownSession(t *testing.T) {
	st := newTestStore(t)
	if _, _, ok := st.History("main", "never-written"); ok {
		t.Error("expected ok=false for unknown session")
	}
}

func TestUpdatedAt_ReadsMetadataOnly(t *testing.T) {
	st := newTestStore(t)
	s := st.GetOrCreate("main", "s1")
	s.AddUser("hello")
	if err := st.Save(s); err != nil {
		t.Fatal(err)
	}
	want := s.UpdatedAt()

	st.Invalidate("main", "s1")
	got, ok := st.UpdatedAt("main", "s1")
	if !ok || got != want {
		t.Errorf("UpdatedAt = %d, %v; want %d, true", got, ok, want)
	}
}

func TestUpdatedAt_UnknownSession(t *testing.T) {
	st := newTestStore(t)
	if _, ok := st.UpdatedAt("main", "missing"); ok {
		t.Error("expected ok=false")
	}
}

func TestUpdatedAt_StrictlyIncreases(t *testing.T) {
	st := newTestStore(t)
	s := st.GetOrCreate("main", "s1")

	var prev int64
	for i := 0; i < 5; i++ {
		s.AddUser("msg")
		cur := s.UpdatedAt()
		if cur <= prev {
			t.Fatalf("timestamp not strictly increasing: %d then %d", prev, cur)
		}
		prev = cur
	}
}

func TestLoad_SkipsMalformedLines(t *testing.T) {
	st := newTestStore(t)
	s := st.GetOrCreate("main", "s1")
	s.AddUser("first")
	if err := st.Save(s); err != nil {
		t.Fatal(err)
	}

	path := st.sessionPath("main", "s1")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{broken json\n")
	f.WriteString(`{"role":"assistant","content":"second"}` + "\n")
	f.Close()

	st.Invalidate("main", "s1")
	msgs, _, ok := st.History("main", "s1")
	if !ok {
		t.Fatal("expected session to load")
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages (bad line skipped), got %d", len(msgs))
	}
	if msgs[1].Content != "second" {
		t.Errorf("unexpected last message: %+v", msgs[1])
	}
}

func TestList(t *testing.T) {
	st := newTestStore(t)
	for _, id := range []string{"a", "b"} {
		s := st.GetOrCreate("main", id)
		s.AddUser("x")
		if err := st.Save(s); err != nil {
			t.Fatal(err)
		}
	}

	ids := st.List("main")
	if len(ids) != 2 {
		t.Fatalf("expected 2 sessions, got %v", ids)
	}
}

func TestSafeFilename(t *testing.T) {
	got := safeFilename(`tg:12/34\x?`)
	if strings.ContainsAny(got, `<>:"/\|?*`) {
		t.Errorf("unsafe characters survived: %q", got)
	}
}

func TestSessionFileLayout(t *testing.T) {
	st := newTestStore(t)
	s := st.GetOrCreate("main", "s1")
	s.AddUser("hello <world>")
	if err := st.Save(s); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(st.sessionPath("main", "s1"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected metadata + 1 message, got %d lines", len(lines))
	}
	if !strings.Contains(lines[0], `"_type":"metadata"`) {
		t.Errorf("first line is not metadata: %s", lines[0])
	}
	if !strings.Contains(lines[1], "hello <world>") {
		t.Errorf("expected unescaped HTML in message line: %s", lines[1])
	}

	dir := filepath.Dir(st.sessionPath("main", "s1"))
	if filepath.Base(dir) != "sessions" {
		t.Errorf("unexpected sessions dir: %s", dir)
	}
}
