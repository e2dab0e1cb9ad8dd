// Package cmd implements the opaldolphin CLI using cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"
const logo = "🐬"

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "opaldolphin",
	Short: logo + " opaldolphin — Multi-Agent Personal Assistant",
	Long:  logo + " opaldolphin — a multi-agent chat assistant with long-term memory",
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version

	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(cronCmd)
}
