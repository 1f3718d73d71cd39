package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rishsane/humuter-sub000/internal/agent"
	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/cache"
	"github.com/rishsane/humuter-sub000/internal/channels"
	"github.com/rishsane/humuter-sub000/internal/channels/discord"
	"github.com/rishsane/humuter-sub000/internal/channels/telegram"
	"github.com/rishsane/humuter-sub000/internal/channels/telegram/personal"
	"github.com/rishsane/humuter-sub000/internal/config"
	"github.com/rishsane/humuter-sub000/internal/escalation"
	httpapi "github.com/rishsane/humuter-sub000/internal/http"
	"github.com/rishsane/humuter-sub000/internal/policy"
	"github.com/rishsane/humuter-sub000/internal/providers"
	"github.com/rishsane/humuter-sub000/internal/store"
	"github.com/rishsane/humuter-sub000/internal/store/file"
	"github.com/rishsane/humuter-sub000/internal/store/pg"
	"github.com/rishsane/humuter-sub000/internal/tracing"
	"github.com/rishsane/humuter-sub000/internal/usage"
)

const shutdownTimeout = 15 * time.Second

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the agent gateway (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context())
		},
	}
}

func runGateway(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.HasAnyProvider() {
		return errors.New("no LLM provider configured: set HUMUTER_ANTHROPIC_API_KEY (or another provider key)")
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	agentCache := cache.NewTTL[*store.AgentData](cfg.Agent.CacheTTLDuration())

	stores, fileAgents, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	registry := providers.NewRegistry()
	for _, c := range registerProviders(ctx, registry, cfg) {
		defer c.Close()
	}
	if _, ok := registry.Default(); !ok {
		return errors.New("no LLM provider could be registered")
	}
	gen := providers.NewGateway(registry, cfg.Agent.MaxTokens)

	ledger := usage.NewLedger(stores.Agents)
	prompts := agent.DefaultPromptBuilder{MaxFAQ: cfg.Agent.MaxFAQ}

	msgBus := bus.New()
	channelMgr := channels.NewManager(channels.NewChatLimiter(rate.Limit(cfg.RateLimit.PerSecond), cfg.RateLimit.Burst))

	ttl := cfg.Escalation.TTLDuration()
	escalations := escalation.NewService(escalation.Config{
		Escalations: stores.Escalations,
		Agents:      stores.Agents,
		Messenger:   channelMgr,
		Generator:   gen,
		Prompts:     prompts,
		Budget:      ledger,
		TTL:         ttl,
	})
	sweeper, err := escalation.NewSweeper(stores.Escalations, ttl, cfg.Escalation.SweepSchedule)
	if err != nil {
		return err
	}

	delayMin, delayMax := cfg.Agent.NaturalDelay()
	runtime := agent.NewRuntime(agent.Config{
		Agents:          stores.Agents,
		Cache:           agentCache,
		Gate:            policy.NewGate(ledger),
		Ledger:          ledger,
		Generator:       gen,
		Outbound:        channelMgr,
		Escalations:     escalations,
		Prompts:         prompts,
		NaturalDelayMin: delayMin,
		NaturalDelayMax: delayMax,
	})

	closers, err := registerChannels(channelMgr, cfg, msgBus)
	if err != nil {
		return err
	}
	for _, c := range closers {
		defer c.Close()
	}

	if err := channelMgr.StartAll(ctx); err != nil {
		return err
	}

	slog.Info("humuter gateway starting",
		"version", Version,
		"mode", cfg.Database.Mode,
		"providers", registry.Names(),
		"channels", channelMgr.GetEnabledChannels(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		consumeInbound(gctx, msgBus, runtime.HandleInbound)
		return nil
	})
	g.Go(func() error { return sweeper.Run(gctx) })
	if fileAgents != nil {
		g.Go(func() error {
			if err := fileAgents.Watch(gctx, agentCache.InvalidateAll); err != nil {
				slog.Warn("agents file watcher stopped", "error", err)
			}
			return nil
		})
	}

	if cfg.HTTP.Listen != "" {
		ops := httpapi.NewServer(cfg.HTTP.Listen, cfg.HTTP.Token, Version, stores, channelMgr)
		g.Go(func() error { return ops.Start(gctx) })
	}

	<-gctx.Done()
	slog.Info("graceful shutdown initiated")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = channelMgr.StopAll(sctx)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("gateway stopped")
	return nil
}

// openStores selects Postgres in managed mode and JSON files otherwise.
// The file agent store is returned separately so its watcher can run.
func openStores(ctx context.Context, cfg *config.Config) (*store.Stores, *file.FileAgentStore, error) {
	if cfg.Database.IsManagedMode() {
		if err := checkSchemaOrAutoUpgrade(ctx, cfg.Database.PostgresDSN); err != nil {
			return nil, nil, err
		}
		stores, err := pg.NewPGStores(store.StoreConfig{PostgresDSN: cfg.Database.PostgresDSN})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using postgres stores")
		return stores, nil, nil
	}
	if cfg.Database.Mode == "managed" {
		slog.Warn("managed mode requested without HUMUTER_POSTGRES_DSN, falling back to file stores")
	}

	dataDir := cfg.DataPath()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	stores, agents, err := file.NewFileStores(store.StoreConfig{DataDir: dataDir})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("using file stores", "dir", dataDir)
	return stores, agents, nil
}

// registerChannels creates every enabled adapter. Returned closers flush
// adapter-owned resources on shutdown.
func registerChannels(mgr *channels.Manager, cfg *config.Config, router bus.MessageRouter) ([]io.Closer, error) {
	var closers []io.Closer

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token != "" {
		dc, err := discord.New(cfg.Channels.Discord, router)
		if err != nil {
			return nil, fmt.Errorf("discord: %w", err)
		}
		mgr.RegisterChannel(dc)
		slog.Info("discord channel enabled")
	}

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg, err := telegram.New(cfg.Channels.Telegram, router)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		mgr.RegisterChannel(tg)
		slog.Info("telegram channel enabled")
	}

	if tu := cfg.Channels.TelegramUser; tu.Enabled && tu.AppID != 0 && tu.AppHash != "" {
		log := zap.NewNop()
		if verbose {
			l, err := zap.NewProduction()
			if err != nil {
				return nil, fmt.Errorf("telegram_user logger: %w", err)
			}
			log = l
		}
		closers = append(closers, zapSyncer{log})

		pc, err := personal.New(tu, router, log)
		if err != nil {
			return nil, fmt.Errorf("telegram_user: %w", err)
		}
		mgr.RegisterChannel(pc)
		slog.Info("telegram personal-account channel enabled")
	}
	return closers, nil
}

type zapSyncer struct{ *zap.Logger }

func (z zapSyncer) Close() error {
	_ = z.Sync()
	return nil
}
