package autoflush

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) store {
	t.Helper()
	return store{path: StatePath(t.TempDir())}
}

func TestStoreRead_MissingFile(t *testing.T) {
	s := newTestStore(t)
	st := s.Read()
	if st.Version != stateVersion {
		t.Errorf("expected version %d, got %d", stateVersion, st.Version)
	}
	if len(st.Sessions) != 0 {
		t.Errorf("expected empty sessions, got %v", st.Sessions)
	}
}

func TestStoreRead_EmptyFile(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if st := s.Read(); len(st.Sessions) != 0 {
		t.Errorf("expected empty state, got %v", st.Sessions)
	}
}

func TestStoreRead_MalformedFile(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	st := s.Read()
	if st == nil || len(st.Sessions) != 0 {
		t.Errorf("malformed file must yield empty state, got %v", st)
	}
}

func TestStoreRead_DropsEntriesWithoutIdentity(t *testing.T) {
	s := newTestStore(t)
	raw := `{
  "version": 1,
  "sessions": {
    "main:ok": {"agent_name": "main", "session_id": "ok", "dirty": true},
    "broken": {"dirty": true},
    "null-entry": null
  }
}`
	if err := os.WriteFile(s.path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	st := s.Read()
	if len(st.Sessions) != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", len(st.Sessions))
	}
	if _, ok := st.Sessions["main:ok"]; !ok {
		t.Error("expected the well-formed entry to survive")
	}
}

func TestStoreWrite_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	st := newState()
	rev := int64(3)
	st.Sessions["main:tg:1"] = &Record{
		AgentName:                 "main",
		SessionID:                 "tg:1",
		RoomID:                    "room",
		Dirty:                     true,
		FirstDirtyAt:              100,
		LastSeenAt:                200,
		DirtyRevision:             7,
		FlushStartedDirtyRevision: &rev,
	}
	if err := s.Write(st); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := s.Read()
	rec, ok := got.Sessions["main:tg:1"]
	if !ok {
		t.Fatal("record lost in round trip")
	}
	if rec.DirtyRevision != 7 || rec.FirstDirtyAt != 100 || rec.RoomID != "room" {
		t.Errorf("round trip mismatch: %+v", rec)
	}
	if rec.FlushStartedDirtyRevision == nil || *rec.FlushStartedDirtyRevision != 3 {
		t.Errorf("pointer field mismatch: %v", rec.FlushStartedDirtyRevision)
	}
	if rec.LastFlushedAt != nil {
		t.Error("unset optional field must stay nil")
	}
}

func TestStoreWrite_UsesSnakeCaseKeys(t *testing.T) {
	s := newTestStore(t)
	st := newState()
	st.Sessions["main:s"] = &Record{AgentName: "main", SessionID: "s"}
	if err := s.Write(st); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"agent_name", "session_id", "room_id", "thread_id", "dirty", "in_flight",
		"first_dirty_at", "last_seen_at", "next_attempt_at", "consecutive_failures",
		"priority_boost_at", "dirty_revision", "flush_started_dirty_revision",
	} {
		if !strings.Contains(string(data), `"`+key+`"`) {
			t.Errorf("state file missing key %q", key)
		}
	}
}

func TestStoreWrite_LeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	if err := s.Write(newState()); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Dir(s.path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}
