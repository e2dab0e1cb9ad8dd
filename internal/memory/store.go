// Package memory implements the per-agent long-term memory store.
//
// Each agent owns <workspace>/<agent>/memory/MEMORY.md, an append-only
// markdown file of dated one-line entries:
//
//	- [2026-08-27 14:03] User prefers dark mode. (session abc@1756302201000)
//
// The auto-flush scheduler appends extracted facts here; the agent loop
// injects the file into the system prompt.
package memory

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opaldolphin/opaldolphin/internal/config"
)

// entryPrefix marks a memory entry line in MEMORY.md.
const entryPrefix = "- ["

// FileStore is the builtin file-based memory backend.
type FileStore struct {
	cfg *config.Config
}

// NewFileStore creates a FileStore resolving agent workspaces through cfg.
func NewFileStore(cfg *config.Config) *FileStore {
	return &FileStore{cfg: cfg}
}

func (m *FileStore) path(agent string) string {
	return filepath.Join(m.cfg.AgentWorkspace(agent), "memory", "MEMORY.md")
}

// Append adds a dated entry to the agent's memory file. provenance is a
// short source marker (e.g. "session abc@1756302201000") recorded after the
// text; pass "" to omit it.
func (m *FileStore) Append(agent, text, provenance string) error {
	path := m.path(agent)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open memory file: %w", err)
	}
	defer f.Close()

	line := strings.TrimSpace(text)
	ts := time.Now().UTC().Format("2006-01-02 15:04")
	if provenance != "" {
		_, err = fmt.Fprintf(f, "- [%s] %s (%s)\n", ts, line, provenance)
	} else {
		_, err = fmt.Fprintf(f, "- [%s] %s\n", ts, line)
	}
	return err
}

// Recent returns up to n memory entries, most-recent-first.
func (m *FileStore) Recent(agent string, n int) []string {
	if n <= 0 {
		return nil
	}

	f, err := os.Open(m.path(agent))
	if err != nil {
		return nil
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, entryPrefix) {
			entries = append(entries, line)
		}
	}

	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	// Reverse to most-recent-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

// Context returns the agent's memory formatted for system-prompt injection,
// or "" when no memory exists yet.
func (m *FileStore) Context(agent string) string {
	data, err := os.ReadFile(m.path(agent))
	if err != nil || len(data) == 0 {
		return ""
	}
	return "## Long-term Memory\n" + string(data)
}
