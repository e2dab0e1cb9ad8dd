package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opaldolphin/opaldolphin/internal/config"
	"github.com/opaldolphin/opaldolphin/internal/container"
)

var (
	agentMessage string
	agentName    string
	agentSession string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Chat with an agent",
	RunE:  runAgent,
}

func init() {
	agentCmd.Flags().StringVarP(&agentMessage, "message", "m", "", "Send a single message and exit")
	agentCmd.Flags().StringVarP(&agentName, "agent", "a", "", "Agent name (default: routing default)")
	agentCmd.Flags().StringVarP(&agentSession, "session", "s", "cli:direct", "Session ID")
}

var exitCommands = map[string]bool{
	"exit":  true,
	"quit":  true,
	"/exit": true,
	"/quit": true,
	":q":    true,
}

func runAgent(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	c, err := container.New(cfg)
	if err != nil {
		return err
	}

	name := agentName
	if name == "" {
		name = config.DefaultAgent
	}

	if agentMessage != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		fmt.Fprintf(os.Stderr, "  ↳ thinking...\n")
		printResponse(c.AgentLoop().ProcessDirect(ctx, name, agentSession, agentMessage))
		return nil
	}

	return runInteractive(c, name)
}

// runInteractive is the REPL loop: reads lines from stdin, processes each
// turn directly, and prints the reply. The flush worker runs in the
// background so dirty sessions consolidate while the user types.
func runInteractive(c *container.Container, name string) error {
	fmt.Printf("%s Interactive mode with %q (type 'exit' or Ctrl+C to quit)\n\n", logo, name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenForSignals(cancel)

	go func() { _ = c.FlushWorker().Run(ctx) }()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("You: ")

		if !scanner.Scan() {
			fmt.Println("\nGoodbye!")
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if exitCommands[strings.ToLower(line)] {
			fmt.Println("Goodbye!")
			return nil
		}

		if reply := c.AgentLoop().ProcessDirect(ctx, name, agentSession, line); reply != "" {
			printResponse(reply)
		}
	}
}

// listenForSignals cancels ctx on SIGINT or SIGTERM and exits.
func listenForSignals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nGoodbye!")
		cancel()
		os.Exit(0)
	}()
}

func printResponse(text string) {
	fmt.Printf("\n%s opaldolphin\n%s\n\n", logo, text)
}
