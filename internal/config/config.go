// Package config defines the opaldolphin configuration schema.
//
// The config lives at ~/.opaldolphin/config.json and uses camelCase JSON
// keys. Missing fields fall back to defaults; an unparsable file falls back
// to the full default configuration with a warning.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opaldolphin/config.json"
	}
	return filepath.Join(home, ".opaldolphin", "config.json")
}

// DataDir returns the opaldolphin data directory: ~/.opaldolphin.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opaldolphin"
	}
	return filepath.Join(home, ".opaldolphin")
}

// ProviderConfig holds credentials for an OpenAI-compatible endpoint.
type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	APIBase string `json:"apiBase,omitempty"`
}

// ---- Channel configs -------------------------------------------------------

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Agent     string   `json:"agent,omitempty"` // overrides the default routing
}

// SlackConfig configures the Slack channel (Socket Mode).
type SlackConfig struct {
	Enabled   bool     `json:"enabled"`
	BotToken  string   `json:"botToken"`
	AppToken  string   `json:"appToken"`
	AllowFrom []string `json:"allowFrom"`
	Agent     string   `json:"agent,omitempty"`
}

// WhatsAppConfig configures the WhatsApp bridge channel.
type WhatsAppConfig struct {
	Enabled     bool     `json:"enabled"`
	BridgeURL   string   `json:"bridgeUrl"`
	BridgeToken string   `json:"bridgeToken"`
	AllowFrom   []string `json:"allowFrom"`
	Agent       string   `json:"agent,omitempty"`
}

// ChannelsConfig groups all channel configurations.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

func defaultChannelsConfig() ChannelsConfig {
	return ChannelsConfig{
		Telegram: TelegramConfig{AllowFrom: []string{}},
		Slack:    SlackConfig{AllowFrom: []string{}},
		WhatsApp: WhatsAppConfig{BridgeURL: "ws://localhost:3001", AllowFrom: []string{}},
	}
}

// ---- Tool configs ----------------------------------------------------------

// WebToolConfig configures the web_fetch tool.
type WebToolConfig struct {
	MaxChars       int `json:"maxChars"`
	TimeoutSeconds int `json:"timeoutSeconds"`
}

func defaultWebToolConfig() WebToolConfig {
	return WebToolConfig{MaxChars: 20000, TimeoutSeconds: 15}
}

// ToolsConfig groups tool-level settings.
type ToolsConfig struct {
	Web WebToolConfig `json:"web"`
}

// CronConfig holds the scheduled-jobs store location.
type CronConfig struct {
	StorePath string `json:"storePath,omitempty"` // default: <DataDir>/cron/jobs.json
}

// JobsPath resolves the cron store path.
func (c CronConfig) JobsPath() string {
	if c.StorePath != "" {
		return c.StorePath
	}
	return filepath.Join(DataDir(), "cron", "jobs.json")
}

// ---- Root config -----------------------------------------------------------

// Config is the root configuration object.
type Config struct {
	Agents    AgentsConfig   `json:"agents"`
	Memory    MemoryConfig   `json:"memory"`
	Channels  ChannelsConfig `json:"channels"`
	Provider  ProviderConfig `json:"provider"`
	Tools     ToolsConfig    `json:"tools"`
	Cron      CronConfig     `json:"cron"`
	Heartbeat int            `json:"heartbeatMinutes"` // 0 = default 30
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() Config {
	return Config{
		Agents:   defaultAgentsConfig(),
		Memory:   defaultMemoryConfig(),
		Channels: defaultChannelsConfig(),
		Tools:    ToolsConfig{Web: defaultWebToolConfig()},
	}
}

// Load reads and parses the config file at path.
// If path is empty, ConfigPath() is used.
// On parse failure it prints a warning and returns DefaultConfig().
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		fmt.Printf("Warning: failed to parse config %s: %v\n", path, err)
		fmt.Println("Using default configuration.")
		cfg2 := DefaultConfig()
		return &cfg2, nil
	}

	return &cfg, nil
}

// Save writes cfg to path as indented JSON.
// If path is empty, ConfigPath() is used.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
