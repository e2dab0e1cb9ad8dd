// Package heartbeat provides a periodic background check that runs each
// agent against its HEARTBEAT.md when the file contains active tasks.
package heartbeat

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// OnHeartbeatFunc is called with the agent name and HEARTBEAT.md content
// when active tasks are found.
type OnHeartbeatFunc func(ctx context.Context, agent, content string) error

// WorkspaceResolver maps an agent name to its workspace directory.
type WorkspaceResolver func(agent string) string

// Service runs a periodic check of each agent's HEARTBEAT.md.
type Service struct {
	agents      []string
	workspace   WorkspaceResolver
	onHeartbeat OnHeartbeatFunc
	interval    time.Duration
}

// NewService creates a heartbeat Service.
// interval defaults to 30 minutes if zero.
func NewService(agents []string, workspace WorkspaceResolver, onHeartbeat OnHeartbeatFunc, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Service{
		agents:      agents,
		workspace:   workspace,
		onHeartbeat: onHeartbeat,
		interval:    interval,
	}
}

// Start runs the heartbeat loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("heartbeat: started", "interval", s.interval, "agents", len(s.agents))

	for {
		select {
		case <-ticker.C:
			for _, agent := range s.agents {
				s.check(ctx, agent)
			}
		case <-ctx.Done():
			slog.Info("heartbeat: stopped")
			return ctx.Err()
		}
	}
}

func (s *Service) check(ctx context.Context, agent string) {
	path := filepath.Join(s.workspace(agent), "HEARTBEAT.md")
	data, err := os.ReadFile(path)
	if err != nil {
		// File not found is normal — no heartbeat configured.
		return
	}

	content := string(data)
	if !hasActiveTasks(content) {
		return
	}

	slog.Info("heartbeat: active tasks found, running agent", "agent", agent)
	if s.onHeartbeat != nil {
		if err := s.onHeartbeat(ctx, agent, content); err != nil {
			slog.Error("heartbeat: agent error", "agent", agent, "err", err)
		}
	}
}

// hasActiveTasks returns true when HEARTBEAT.md has at least one non-comment,
// non-empty, non-unchecked-checkbox line that is not a pure markdown heading.
func hasActiveTasks(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "<!--") {
			continue
		}
		if strings.HasPrefix(trimmed, "- [ ]") {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		return true
	}
	return false
}
