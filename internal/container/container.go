// Package container wires core opaldolphin services using go.uber.org/dig.
package container

import (
	"fmt"

	"go.uber.org/dig"

	"github.com/opaldolphin/opaldolphin/internal/agent"
	"github.com/opaldolphin/opaldolphin/internal/autoflush"
	"github.com/opaldolphin/opaldolphin/internal/bus"
	"github.com/opaldolphin/opaldolphin/internal/config"
	"github.com/opaldolphin/opaldolphin/internal/cron"
	"github.com/opaldolphin/opaldolphin/internal/memory"
	"github.com/opaldolphin/opaldolphin/internal/providers"
	"github.com/opaldolphin/opaldolphin/internal/schema"
	"github.com/opaldolphin/opaldolphin/internal/session"
)

// Container holds the resolved core service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	provider schema.LLMProvider
	msgBus   bus.Bus
	sessions *session.Store
	memories *memory.FileStore
	tracker  *autoflush.Tracker
	worker   *autoflush.Worker
	loop     *agent.AgentLoop
	cronSvc  *cron.Service
}

func (c *Container) Provider() schema.LLMProvider   { return c.provider }
func (c *Container) MessageBus() bus.Bus            { return c.msgBus }
func (c *Container) Sessions() *session.Store       { return c.sessions }
func (c *Container) Memories() *memory.FileStore    { return c.memories }
func (c *Container) Tracker() *autoflush.Tracker    { return c.tracker }
func (c *Container) FlushWorker() *autoflush.Worker { return c.worker }
func (c *Container) AgentLoop() *agent.AgentLoop    { return c.loop }
func (c *Container) CronService() *cron.Service     { return c.cronSvc }

// New builds and wires all core services from cfg.
func New(cfg *config.Config) (*Container, error) {
	d := dig.New()

	constructors := []any{
		func() *config.Config { return cfg },
		newProvider,
		newMessageBus,
		newSessionStore,
		newMemoryStore,
		newNotifier,
		newTracker,
		newSummarizer,
		newFlushWorker,
		newAgentLoop,
		newCronService,
	}
	for _, ctor := range constructors {
		if err := d.Provide(ctor); err != nil {
			return nil, err
		}
	}

	var result *Container
	err := d.Invoke(func(
		provider schema.LLMProvider,
		msgBus bus.Bus,
		sessions *session.Store,
		memories *memory.FileStore,
		tracker *autoflush.Tracker,
		worker *autoflush.Worker,
		loop *agent.AgentLoop,
		cronSvc *cron.Service,
	) {
		result = &Container{
			provider: provider,
			msgBus:   msgBus,
			sessions: sessions,
			memories: memories,
			tracker:  tracker,
			worker:   worker,
			loop:     loop,
			cronSvc:  cronSvc,
		}
	})
	return result, err
}

func newProvider(cfg *config.Config) (schema.LLMProvider, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("no API key configured — edit %s", config.ConfigPath())
	}
	return providers.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Agents.Defaults.Model), nil
}

func newMessageBus() bus.Bus {
	return bus.NewMessageBus(100)
}

func newSessionStore(cfg *config.Config) *session.Store {
	return session.NewStore(cfg)
}

func newMemoryStore(cfg *config.Config) *memory.FileStore {
	return memory.NewFileStore(cfg)
}

func newNotifier() *autoflush.Notifier {
	return autoflush.NewNotifier()
}

func newTracker(cfg *config.Config, n *autoflush.Notifier) *autoflush.Tracker {
	return autoflush.NewTracker(config.DataDir(), cfg, n)
}

func newSummarizer(cfg *config.Config, p schema.LLMProvider) autoflush.Summarizer {
	model := cfg.Memory.AutoFlush.Extractor.Model
	if model == "" {
		model = cfg.Agents.Defaults.Model
	}
	return providers.NewExtractionSummarizer(p, model)
}

func newFlushWorker(
	tracker *autoflush.Tracker,
	cfg *config.Config,
	sessions *session.Store,
	memories *memory.FileStore,
	summarizer autoflush.Summarizer,
) *autoflush.Worker {
	return autoflush.NewWorker(tracker, cfg, sessions, memories, summarizer)
}

func newAgentLoop(
	b bus.Bus,
	cfg *config.Config,
	p schema.LLMProvider,
	sessions *session.Store,
	memories *memory.FileStore,
	tracker *autoflush.Tracker,
) *agent.AgentLoop {
	return agent.NewAgentLoop(b, cfg, p, sessions, memories, tracker)
}

func newCronService(cfg *config.Config) *cron.Service {
	return cron.NewService(cfg.Cron.JobsPath())
}
