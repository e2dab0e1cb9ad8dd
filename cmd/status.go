package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opaldolphin/opaldolphin/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show opaldolphin status",
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfgPath := config.ConfigPath()

	fmt.Printf("%s opaldolphin Status\n\n", logo)

	cfgMark := "✗"
	if _, err := os.Stat(cfgPath); err == nil {
		cfgMark = "✓"
	}
	fmt.Printf("Config:    %s %s\n", cfgPath, cfgMark)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}

	keyMark := "(not set)"
	if cfg.Provider.APIKey != "" {
		keyMark = "✓"
	}
	fmt.Printf("API key:   %s\n", keyMark)
	fmt.Printf("Model:     %s\n\n", cfg.Agents.Defaults.Model)

	fmt.Println("Agents:")
	for _, name := range cfg.AgentNames() {
		ws := cfg.AgentWorkspace(name)
		wsMark := "✗"
		if _, err := os.Stat(ws); err == nil {
			wsMark = "✓"
		}
		memMark := "builtin"
		if !cfg.AgentUsesBuiltinMemory(name) {
			memMark = "none"
		}
		fmt.Printf("  %-12s workspace %s %s, memory %s\n", name, ws, wsMark, memMark)
	}

	af := cfg.Memory.AutoFlush
	fmt.Println("\nAuto-flush:")
	if af.Enabled {
		fmt.Printf("  enabled, every %ds (idle %ds, max age %ds)\n",
			af.FlushIntervalSeconds, af.IdleSeconds, af.MaxDirtyAgeSeconds)
	} else {
		fmt.Println("  disabled")
	}
	return nil
}
