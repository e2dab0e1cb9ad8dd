package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/opaldolphin/opaldolphin/internal/config"
	"github.com/opaldolphin/opaldolphin/internal/container"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and manage long-term memory",
}

func init() {
	memoryCmd.AddCommand(memoryStatusCmd)
	memoryCmd.AddCommand(memoryFlushCmd)
	memoryCmd.AddCommand(memoryShowCmd)
}

// ---- status ----------------------------------------------------------------

var memoryStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending flush state per session",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(config.ConfigPath())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		c, err := container.New(cfg)
		if err != nil {
			return err
		}

		records := c.Tracker().Records()
		if len(records) == 0 {
			fmt.Println("No tracked sessions.")
			return nil
		}

		keys := make([]string, 0, len(records))
		for k := range records {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Printf("%-30s %-8s %-10s %-8s %-20s\n", "Session", "Dirty", "In-Flight", "Fails", "Next Attempt")
		for _, k := range keys {
			r := records[k]
			next := ""
			if r.NextAttemptAt != nil {
				next = time.UnixMilli(*r.NextAttemptAt).Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-30s %-8v %-10v %-8d %-20s\n", k, r.Dirty, r.InFlight, r.ConsecutiveFailures, next)
		}
		return nil
	},
}

// ---- flush -----------------------------------------------------------------

var memoryFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Run one flush cycle now",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(config.ConfigPath())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		c, err := container.New(cfg)
		if err != nil {
			return err
		}

		c.FlushWorker().Cycle()
		fmt.Println("✓ Flush cycle complete.")
		return nil
	},
}

// ---- show ------------------------------------------------------------------

var memoryShowCount int

var memoryShowCmd = &cobra.Command{
	Use:   "show [agent]",
	Short: "Show recent memory entries for an agent",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := config.Load(config.ConfigPath())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		c, err := container.New(cfg)
		if err != nil {
			return err
		}

		name := config.DefaultAgent
		if len(args) > 0 {
			name = args[0]
		}

		entries := c.Memories().Recent(name, memoryShowCount)
		if len(entries) == 0 {
			fmt.Printf("No memory entries for %q.\n", name)
			return nil
		}
		for _, e := range entries {
			fmt.Println(e)
		}
		return nil
	},
}

func init() {
	memoryShowCmd.Flags().IntVarP(&memoryShowCount, "count", "n", 20, "Number of entries to show")
}
