package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"chatsim/internal/adapter/gateway"
	"chatsim/internal/adapter/llm"
	"chatsim/internal/domain"
	"chatsim/internal/infra/config"
	"chatsim/internal/infra/logger"
	"chatsim/internal/infra/metrics"
	"chatsim/internal/infra/middleware"
	"chatsim/internal/infra/tracer"
	"chatsim/internal/usecase/conversation"
	"chatsim/internal/usecase/eventbus"
	"chatsim/internal/usecase/personality"
	"chatsim/internal/usecase/scheduling"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	ConfigPath  string
	Addr        string
	ShowVersion bool
}

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("chatsim", flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", envOr("CHATSIM_CONFIG", "config.yaml"), "path to the YAML config file")
	fs.StringVar(&f.Addr, "addr", "", "listen address (overrides server.addr)")
	fs.BoolVar(&f.ShowVersion, "version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	return f, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(args []string) error {
	// 1. Config
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}
	if flags.ShowVersion {
		fmt.Println("chatsim", version)
		return nil
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if flags.Addr != "" {
		cfg.Server.Addr = flags.Addr
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Event bus & metrics
	bus := eventbus.New(0, log)
	defer bus.Close()

	collector := metrics.New("chatsim", log)
	detach := collector.Attach(bus)
	defer detach()

	// 4. LLM providers
	models := llm.NewModelRegistry(cfg.Models)
	providers := llm.NewRegistry(cfg.LLM, log)
	engine := llm.NewEngine(providers, llm.EngineConfig{
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.Conversation.TurnTimeout,
	}, bus, log)

	// 5. Conversations
	personalities, err := personality.NewCatalog(cfg.Conversation.DefaultPersonality)
	if err != nil {
		return fmt.Errorf("personalities: %w", err)
	}
	orchestrator := conversation.NewOrchestrator(
		conversation.NewRegistry(),
		personalities,
		models,
		engine,
		conversation.Defaults{
			Rounds:            cfg.Conversation.DefaultRounds,
			BatchSize:         cfg.Conversation.BatchSize,
			MaxResponseLength: cfg.Conversation.MaxResponseLength,
			ContextWindow:     cfg.Conversation.ContextWindow,
		},
		log,
		conversation.WithEventBus(bus),
	)
	chat := conversation.NewSingleChat(engine, models, bus, log)

	// 6. Voice input
	transcriber := initTranscriber(cfg, models, log)

	// 7. Gateway
	srv := gateway.NewServer(cfg.Server, gateway.NewAuthenticator(cfg.Auth), log)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv.Use(middleware.SecurityHeaders)
	if cfg.RateLimit.Enabled {
		srv.Use(middleware.RateLimit(ctx, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst))
	}

	deps := gateway.HandlerDeps{
		Conversations: orchestrator,
		Chat:          chat,
		Models:        models,
		Personalities: personalities,
		Transcriber:   transcriber,
		MaxAudioBytes: cfg.Voice.MaxAudioBytes,
		Bus:           bus,
		Logger:        log,
	}
	gateway.Version = version
	gateway.RegisterDefaultHandlers(srv, deps)
	gateway.RegisterRESTHandlers(srv, deps, collector)

	log.Info("chatsim starting",
		"version", version,
		"addr", cfg.Server.Addr,
		"default_model", models.Default(),
		"default_personality", personalities.Default(),
		"voice", transcriber != nil,
		"auth", cfg.Auth.Type,
	)

	// 8. Housekeeping
	sched, err := initScheduler(cfg, orchestrator.Sessions(), bus, log)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	// 9. Run until signalled
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx)
	})
	g.Go(func() error {
		sched.Start(gctx)
		<-gctx.Done()
		sched.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("chatsim stopped", "dropped_events", bus.Dropped())
	return nil
}

// initScheduler registers the housekeeping jobs: idle session reaping when a
// session TTL is configured, and a periodic report of dropped bus events.
func initScheduler(cfg *config.Config, sessions *conversation.Registry, bus *eventbus.Bus, log *slog.Logger) (*scheduling.Scheduler, error) {
	sched := scheduling.New(time.Minute, log)

	if ttl := cfg.Conversation.SessionTTL; ttl > 0 {
		sched.RegisterAction(scheduling.ActionSessionReap, func(context.Context) error {
			if n := sessions.ReapStale(ttl); n > 0 {
				log.Info("reaped idle sessions", "count", n, "ttl", ttl)
			}
			return nil
		})
		if err := sched.AddTask(scheduling.Task{
			Name:     "session_reap",
			Schedule: cfg.Conversation.ReapSchedule,
			Action:   scheduling.ActionSessionReap,
		}); err != nil {
			return nil, err
		}
	}

	var reported uint64
	sched.RegisterAction(scheduling.ActionDropReport, func(context.Context) error {
		if n := bus.Dropped(); n > reported {
			log.Warn("event bus dropped events", "total", n, "since_last", n-reported)
			reported = n
		}
		return nil
	})
	if err := sched.AddTask(scheduling.Task{
		Name:     "event_drop_report",
		Schedule: "@every 1m",
		Action:   scheduling.ActionDropReport,
	}); err != nil {
		return nil, err
	}
	return sched, nil
}

// initTranscriber returns nil when voice input is disabled.
func initTranscriber(cfg *config.Config, models *llm.ModelRegistry, log *slog.Logger) domain.Transcriber {
	if !cfg.Voice.Enabled {
		return nil
	}
	var endpoint string
	if p, ok := cfg.Models.Provider(string(domain.ProviderOpenAI)); ok {
		endpoint = p.Endpoint
	}
	t := llm.NewWhisperTranscriber(
		models.APIKey(domain.ProviderOpenAI),
		endpoint,
		cfg.Voice.Model,
		llm.NewHTTPClient(cfg.LLM),
		log,
	)
	if !t.Available() {
		log.Warn("voice input enabled but no OpenAI API key configured")
	}
	return t
}
