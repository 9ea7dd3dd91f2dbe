package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hatchdata/askdb/internal/bus"
	"github.com/hatchdata/askdb/internal/channels"
	"github.com/hatchdata/askdb/internal/channels/discord"
	"github.com/hatchdata/askdb/internal/channels/telegram"
	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/database"
	"github.com/hatchdata/askdb/internal/export"
	"github.com/hatchdata/askdb/internal/gateway"
	"github.com/hatchdata/askdb/internal/logging"
	"github.com/hatchdata/askdb/internal/memory"
	"github.com/hatchdata/askdb/internal/orchestrator"
	"github.com/hatchdata/askdb/internal/providers"
	"github.com/hatchdata/askdb/internal/reports"
	"github.com/hatchdata/askdb/internal/tracing"
	"github.com/hatchdata/askdb/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant: channels, WebSocket gateway, and message consumer",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logging.Setup(verbose)
	config.LoadDotenv()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// No provider key means nothing can answer. Try env-driven setup
	// first (Docker/CI), otherwise point the user at onboarding.
	if !cfg.HasAnyProvider() {
		if canAutoOnboard() {
			if !runAutoOnboard(cfgPath) {
				os.Exit(1)
			}
			cfg, _ = config.Load(cfgPath)
		} else if _, statErr := os.Stat(cfgPath); statErr == nil {
			fmt.Println("No LLM provider API key found. Did you forget to load your secrets?")
			fmt.Println()
			fmt.Println("  export ASKDB_ANTHROPIC_API_KEY=sk-ant-...   (or another ASKDB_*_API_KEY)")
			fmt.Println()
			fmt.Println("Or re-run setup:  askdb onboard")
			os.Exit(1)
		} else {
			fmt.Println("No configuration found. Set a provider key and run:  askdb onboard")
			os.Exit(1)
		}
	}

	registry := providers.NewRegistry()
	registerProviders(registry, cfg)

	provider, err := registry.Get(cfg.Agents.Defaults.Provider)
	if err != nil {
		names := registry.Names()
		if len(names) == 0 {
			slog.Error("no providers configured")
			os.Exit(1)
		}
		provider, _ = registry.Get(names[0])
		slog.Warn("configured provider not found, using fallback",
			"wanted", cfg.Agents.Defaults.Provider, "using", names[0])
	}
	model := cfg.Agents.Defaults.Model
	if model == "" {
		model = provider.DefaultModel()
	}

	db, err := database.Open(cfg)
	if err != nil {
		slog.Error("failed to open analytics database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	mem := memory.NewStore(cfg.Conversation)

	exporter, err := export.New(cfg)
	if err != nil {
		slog.Error("failed to prepare export directory", "error", err)
		os.Exit(1)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Provider:  provider,
		Model:     model,
		Dialect:   db.Driver(),
		StepLimit: cfg.Agents.Defaults.MaxToolIterations,
		DB:        db,
		Memory:    mem,
		Exporter:  exporter,
		Timeout:   time.Duration(cfg.Conversation.ReplyTimeoutSec) * time.Second,
		IdleTTL:   time.Duration(cfg.Conversation.IdleTTLMin) * time.Minute,
	})
	if err != nil {
		slog.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}

	msgBus := bus.New()
	channelMgr := channels.NewManager(msgBus)

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, tgErr := telegram.New(cfg.Channels.Telegram, msgBus)
		if tgErr != nil {
			slog.Error("failed to initialize telegram channel", "error", tgErr)
		} else {
			channelMgr.RegisterChannel("telegram", tg)
			slog.Info("telegram channel enabled")
		}
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc, dcErr := discord.New(cfg.Channels.Discord, msgBus)
		if dcErr != nil {
			slog.Error("failed to initialize discord channel", "error", dcErr)
		} else {
			channelMgr.RegisterChannel("discord", dc)
			slog.Info("discord channel enabled")
		}
	}

	server := gateway.NewServer(cfg, orch, channelMgr, mem)
	server.SetVersion(Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing is a no-op unless OTEL_EXPORTER_OTLP_ENDPOINT is set.
	shutdownTracing, err := tracing.Setup(ctx, Version)
	if err != nil {
		slog.Warn("tracing unavailable", "error", err)
	} else {
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Background work: idle-thread sweeps, export TTL sweeps, scheduled reports.
	orch.Start(ctx)
	mem.StartSweeper(ctx)
	exporter.StartSweeper(ctx)
	reports.New(cfg.Reports, orch, msgBus).Start(ctx)

	// Hot reload: limits, allowlists, and provider keys swap in place.
	watcher := config.NewWatcher(cfgPath, nil)
	if err := watcher.Start(ctx); err != nil {
		slog.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				next, loadErr := config.Load(cfgPath)
				if loadErr != nil {
					slog.Warn("config reload failed", "error", loadErr)
					continue
				}
				cfg.ReplaceFrom(next)
				slog.Info("config reloaded", "path", cfgPath)
			}
		}()
	}

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	slog.Info("askdb starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"provider", provider.Name(),
		"model", model,
		"database", db.Driver(),
		"channels", channelMgr.GetEnabledChannels(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		consumeInbound(gctx, cfg, msgBus, orch, mem, channelMgr)
		return nil
	})
	g.Go(func() error {
		return server.Start(gctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("serve error", "error", err)
		channelMgr.StopAll(context.Background())
		os.Exit(1)
	}

	channelMgr.StopAll(context.Background())
	slog.Info("askdb stopped")
}
