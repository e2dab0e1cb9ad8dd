package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/opaldolphin/opaldolphin/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize configuration and agent workspaces",
	RunE:  runOnboard,
}

func runOnboard(_ *cobra.Command, _ []string) error {
	cfgPath := config.ConfigPath()

	var cfg *config.Config
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("Config already exists at %s\n", cfgPath)
		existing, loadErr := config.Load(cfgPath)
		if loadErr != nil {
			def := config.DefaultConfig()
			existing = &def
		}
		if err := config.Save(existing, cfgPath); err != nil {
			return err
		}
		cfg = existing
		fmt.Printf("✓ Config refreshed at %s\n", cfgPath)
	} else {
		def := config.DefaultConfig()
		if err := config.Save(&def, cfgPath); err != nil {
			return err
		}
		cfg = &def
		fmt.Printf("✓ Created config at %s\n", cfgPath)
	}

	for _, name := range cfg.AgentNames() {
		workspace := cfg.AgentWorkspace(name)
		if err := os.MkdirAll(workspace, 0o755); err != nil {
			return fmt.Errorf("create workspace for %q: %w", name, err)
		}
		createWorkspaceTemplates(name, workspace)
		fmt.Printf("✓ Workspace for %q at %s\n", name, workspace)
	}

	fmt.Printf("\n%s opaldolphin is ready!\n\n", logo)
	fmt.Println("Next steps:")
	fmt.Printf("  1. Add your API key to %s\n", cfgPath)
	fmt.Printf("  2. Chat: opaldolphin agent -m \"Hello!\"\n")
	return nil
}

func createWorkspaceTemplates(name, workspace string) {
	identity := fmt.Sprintf(`---
name: %s
description: A helpful personal assistant.
---

## Guidelines

- Be concise, accurate, and friendly
- Ask for clarification when the request is ambiguous
- Important durable facts end up in memory/MEMORY.md automatically
`, name)

	p := filepath.Join(workspace, "IDENTITY.md")
	if _, err := os.Stat(p); os.IsNotExist(err) {
		_ = os.WriteFile(p, []byte(identity), 0o644)
		fmt.Println("  Created IDENTITY.md")
	}

	memDir := filepath.Join(workspace, "memory")
	_ = os.MkdirAll(memDir, 0o755)
	_ = os.MkdirAll(filepath.Join(workspace, "sessions"), 0o755)
}
