// Package agent contains the core processing loop connecting channels,
// sessions, the LLM provider, and the memory subsystem.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opaldolphin/opaldolphin/internal/autoflush"
	"github.com/opaldolphin/opaldolphin/internal/bus"
	"github.com/opaldolphin/opaldolphin/internal/config"
	"github.com/opaldolphin/opaldolphin/internal/memory"
	"github.com/opaldolphin/opaldolphin/internal/schema"
	"github.com/opaldolphin/opaldolphin/internal/session"
	"github.com/opaldolphin/opaldolphin/internal/shared/stringutils"
	"github.com/opaldolphin/opaldolphin/internal/tools"
)

// historyWindow is how many trailing messages are offered to the model.
const historyWindow = 50

// AgentLoop reads InboundMessages from the bus, routes each to the agent
// configured for its channel, and publishes OutboundMessages. Every user
// turn marks the session dirty with the auto-flush tracker so its content
// eventually reaches long-term memory.
type AgentLoop struct {
	bus      bus.Bus
	cfg      *config.Config
	provider schema.LLMProvider
	sessions *session.Store
	memory   *memory.FileStore
	tracker  *autoflush.Tracker

	registries map[string]*tools.Registry // agent name → tool registry
	personas   map[string]string          // agent name → system prompt
}

// NewAgentLoop creates an AgentLoop and builds a tool registry and persona
// per configured agent.
func NewAgentLoop(
	b bus.Bus,
	cfg *config.Config,
	provider schema.LLMProvider,
	sessions *session.Store,
	mem *memory.FileStore,
	tracker *autoflush.Tracker,
) *AgentLoop {
	loop := &AgentLoop{
		bus:        b,
		cfg:        cfg,
		provider:   provider,
		sessions:   sessions,
		memory:     mem,
		tracker:    tracker,
		registries: map[string]*tools.Registry{},
		personas:   map[string]string{},
	}
	for _, name := range cfg.AgentNames() {
		loop.registries[name] = tools.NewRegistry(
			tools.NewWebFetchTool(cfg.Tools.Web.MaxChars, cfg.Tools.Web.TimeoutSeconds),
			tools.NewSaveMemoryTool(mem, name),
		)
		loop.personas[name] = loadPersona(cfg.AgentWorkspace(name), name)
	}
	return loop
}

// Run consumes the inbound bus until ctx is cancelled. Each message is
// handled in its own goroutine.
func (loop *AgentLoop) Run(ctx context.Context) error {
	slog.Info("agent loop started", "agents", len(loop.registries))

	for {
		select {
		case msg := <-loop.bus.InboundChan():
			go loop.handleMessage(ctx, msg)
		case <-ctx.Done():
			slog.Info("agent loop stopping")
			return ctx.Err()
		}
	}
}

func (loop *AgentLoop) handleMessage(ctx context.Context, msg bus.InboundMessage) {
	agentName := loop.cfg.AgentForChannel(msg.Channel)
	sessionID := msg.Channel + ":" + msg.ChatID

	reply := loop.processTurn(ctx, agentName, sessionID, msg.Content, msg.RoomID, msg.ThreadID)
	if reply == "" {
		return
	}

	out := bus.NewOutboundMessage(msg.Channel, msg.ChatID, reply)
	out.ThreadID = msg.ThreadID
	out.Metadata = msg.Metadata
	loop.bus.PublishOutbound(out)
}

// ProcessDirect handles a turn outside the bus (CLI chat, cron jobs).
// Returns the agent's final text response.
func (loop *AgentLoop) ProcessDirect(ctx context.Context, agentName, sessionID, content string) string {
	return loop.processTurn(ctx, agentName, sessionID, content, "", "")
}

// processTurn appends the user turn, notifies the memory scheduler, runs
// the LLM ↔ tool iteration, and appends the assistant turn.
func (loop *AgentLoop) processTurn(ctx context.Context, agentName, sessionID, content, roomID, threadID string) string {
	sess := loop.sessions.GetOrCreate(agentName, sessionID)
	sess.AddUser(content)
	if err := loop.sessions.Save(sess); err != nil {
		slog.Warn("failed to persist session", "agent", agentName, "session", sessionID, "err", err)
	}

	// The turn's session is now the user's focus: boost the agent's other
	// pending sessions, then mark this one dirty (which also wakes the
	// flush worker).
	loop.tracker.Reprioritize(agentName, sessionID)
	loop.tracker.MarkDirty(agentName, sessionID, roomID, threadID)

	conversation := loop.buildConversation(agentName, sess)
	reply := loop.runToolLoop(ctx, agentName, conversation)

	if reply != "" {
		sess.AddAssistant(reply)
		if err := loop.sessions.Save(sess); err != nil {
			slog.Warn("failed to persist session", "agent", agentName, "session", sessionID, "err", err)
		}
		loop.tracker.MarkDirty(agentName, sessionID, roomID, threadID)
	}
	return reply
}

// buildConversation assembles system prompt + memory context + history.
func (loop *AgentLoop) buildConversation(agentName string, sess *session.Session) schema.Messages {
	system := loop.personas[agentName]
	if memCtx := loop.memory.Context(agentName); memCtx != "" {
		system += "\n\n" + memCtx
	}

	conversation := schema.NewMessages(schema.NewSystemMessage(system))
	history := sess.History(historyWindow)
	conversation.Messages = append(conversation.Messages, history.Messages...)
	return conversation
}

// runToolLoop is the LLM ↔ tool iteration shared by all entry points.
func (loop *AgentLoop) runToolLoop(ctx context.Context, agentName string, conversation schema.Messages) string {
	reg := loop.registries[agentName]
	defaults := loop.cfg.Agents.Defaults
	opts := schema.NewChatOptions(loop.cfg.AgentModel(agentName), defaults.MaxTokens, defaults.Temperature)

	maxIter := defaults.MaxToolIter
	if maxIter <= 0 {
		maxIter = 20
	}

	for i := 0; i < maxIter; i++ {
		resp, err := loop.provider.Chat(ctx, conversation, reg.Definitions(), opts)
		if err != nil {
			slog.Error("LLM error", "agent", agentName, "err", err)
			return "Sorry, I encountered an error calling the LLM."
		}

		if !resp.HasToolCalls() {
			return resp.Content
		}

		conversation.AddAssistant(resp.Content, resp.ToolCalls)

		for _, tc := range resp.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			slog.Info("tool call", "agent", agentName, "name", tc.Name, "args", stringutils.Truncate(string(argsJSON), 200))

			var result string
			if t := reg.Get(tc.Name); t != nil {
				result, _ = t.Execute(ctx, tc.Arguments)
			} else {
				result = fmt.Sprintf("Error: Tool '%s' not found", tc.Name)
			}
			conversation.AddToolResult(tc.ID, tc.Name, result)
		}
	}

	return "Sorry, I couldn't finish processing that request."
}
