package config

import (
	"os"
	"path/filepath"
)

// Memory backend names. "builtin" is the file-based store served by the
// auto-flush scheduler; "none" disables long-term memory for the agent.
const (
	MemoryBackendBuiltin = "builtin"
	MemoryBackendNone    = "none"
)

// DefaultAgent is the agent that handles channels with no explicit routing.
const DefaultAgent = "main"

// AgentDefaults holds fallback values applied to every agent instance.
type AgentDefaults struct {
	Workspace   string  `json:"workspace"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	MaxToolIter int     `json:"maxToolIterations"`
}

func defaultAgentDefaults() AgentDefaults {
	return AgentDefaults{
		Workspace:   "~/.opaldolphin/workspace",
		Model:       "anthropic/claude-opus-4-5",
		MaxTokens:   8192,
		Temperature: 0.7,
		MaxToolIter: 20,
	}
}

// AgentConfig describes one named agent instance. Zero-valued fields fall
// back to AgentDefaults.
type AgentConfig struct {
	Model         string `json:"model,omitempty"`
	Workspace     string `json:"workspace,omitempty"`
	MemoryBackend string `json:"memoryBackend,omitempty"` // "builtin" (default) | "none"
}

// AgentsConfig holds defaults plus the named agent instances.
type AgentsConfig struct {
	Defaults  AgentDefaults          `json:"defaults"`
	Instances map[string]AgentConfig `json:"instances"`
}

func defaultAgentsConfig() AgentsConfig {
	return AgentsConfig{
		Defaults:  defaultAgentDefaults(),
		Instances: map[string]AgentConfig{DefaultAgent: {}},
	}
}

// AgentNames returns all configured agent names.
func (c *Config) AgentNames() []string {
	names := make([]string, 0, len(c.Agents.Instances))
	for name := range c.Agents.Instances {
		names = append(names, name)
	}
	return names
}

// AgentModel returns the effective model for the named agent.
func (c *Config) AgentModel(name string) string {
	if a, ok := c.Agents.Instances[name]; ok && a.Model != "" {
		return a.Model
	}
	return c.Agents.Defaults.Model
}

// AgentWorkspace returns the expanded absolute workspace directory for the
// named agent: <workspace>/<name>.
func (c *Config) AgentWorkspace(name string) string {
	ws := c.Agents.Defaults.Workspace
	if a, ok := c.Agents.Instances[name]; ok && a.Workspace != "" {
		ws = a.Workspace
	}
	if ws == "" {
		ws = "~/.opaldolphin/workspace"
	}
	if len(ws) >= 2 && ws[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			ws = filepath.Join(home, ws[2:])
		}
	}
	return filepath.Join(ws, name)
}

// AgentUsesBuiltinMemory reports whether the named agent is configured to
// use the builtin memory backend. Unknown agents return false so records
// for removed agents are garbage-collected.
func (c *Config) AgentUsesBuiltinMemory(name string) bool {
	a, ok := c.Agents.Instances[name]
	if !ok {
		return false
	}
	return a.MemoryBackend == "" || a.MemoryBackend == MemoryBackendBuiltin
}

// AgentForChannel resolves which agent serves an inbound channel.
func (c *Config) AgentForChannel(channel string) string {
	var override string
	switch channel {
	case "telegram":
		override = c.Channels.Telegram.Agent
	case "slack":
		override = c.Channels.Slack.Agent
	case "whatsapp":
		override = c.Channels.WhatsApp.Agent
	}
	if override != "" {
		if _, ok := c.Agents.Instances[override]; ok {
			return override
		}
	}
	if _, ok := c.Agents.Instances[DefaultAgent]; ok {
		return DefaultAgent
	}
	// Fall back to any configured agent (map order is fine for a 1-entry map;
	// multi-agent setups should configure routing explicitly).
	for name := range c.Agents.Instances {
		return name
	}
	return DefaultAgent
}
