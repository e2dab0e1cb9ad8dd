package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opaldolphin/opaldolphin/internal/bus"
	"github.com/opaldolphin/opaldolphin/internal/channels"
	"github.com/opaldolphin/opaldolphin/internal/config"
	"github.com/opaldolphin/opaldolphin/internal/container"
	"github.com/opaldolphin/opaldolphin/internal/cron"
	"github.com/opaldolphin/opaldolphin/internal/heartbeat"
)

var gatewayVerbose bool

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the opaldolphin gateway",
	RunE:  runGateway,
}

func init() {
	gatewayCmd.Flags().BoolVarP(&gatewayVerbose, "verbose", "v", false, "Verbose logging")
}

func runGateway(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	c, err := container.New(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("%s Starting opaldolphin gateway...\n", logo)

	loop := c.AgentLoop()
	b := c.MessageBus()
	cronSvc := c.CronService()

	// Wire cron → agent callback.
	cronSvc.SetOnJob(func(ctx context.Context, job cron.Job) (string, error) {
		agentName := job.Payload.Agent
		if agentName == "" {
			agentName = config.DefaultAgent
		}
		resp := loop.ProcessDirect(ctx, agentName, "cron:"+job.ID, job.Payload.Message)
		if job.Payload.Deliver && job.Payload.Channel != nil && job.Payload.To != nil {
			b.PublishOutbound(bus.NewOutboundMessage(*job.Payload.Channel, *job.Payload.To, resp))
		}
		return resp, nil
	})

	// Wire heartbeat → agent callback.
	hb := heartbeat.NewService(
		cfg.AgentNames(),
		cfg.AgentWorkspace,
		func(ctx context.Context, agentName, content string) error {
			loop.ProcessDirect(ctx, agentName, "heartbeat:"+agentName, content)
			return nil
		},
		time.Duration(cfg.Heartbeat)*time.Minute,
	)

	// Graceful shutdown context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	channelMgr := channels.NewManager(cfg, b)
	if enabled := channelMgr.EnabledChannels(); len(enabled) > 0 {
		fmt.Printf("✓ Channels enabled: %s\n", strings.Join(enabled, ", "))
	} else {
		fmt.Println("Warning: no channels enabled")
	}

	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return c.FlushWorker().Run(gctx) })
	g.Go(func() error { return cronSvc.Start(gctx) })
	g.Go(func() error { return hb.Start(gctx) })
	g.Go(func() error { return channelMgr.StartAll(gctx) })

	fmt.Printf("%s Gateway running. Press Ctrl+C to stop.\n", logo)

	if err := g.Wait(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "gateway error: %v\n", err)
		return err
	}
	fmt.Println("\nShutdown complete.")
	return nil
}
