package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/valet/internal/agent"
	"github.com/nextlevelbuilder/valet/internal/bootstrap"
	"github.com/nextlevelbuilder/valet/internal/bus"
	"github.com/nextlevelbuilder/valet/internal/channels"
	"github.com/nextlevelbuilder/valet/internal/config"
	"github.com/nextlevelbuilder/valet/internal/debugstore"
	"github.com/nextlevelbuilder/valet/internal/heartbeat"
	"github.com/nextlevelbuilder/valet/internal/memory"
	"github.com/nextlevelbuilder/valet/internal/providers"
	"github.com/nextlevelbuilder/valet/internal/sandbox"
	"github.com/nextlevelbuilder/valet/internal/scheduler"
	"github.com/nextlevelbuilder/valet/internal/session"
	"github.com/nextlevelbuilder/valet/internal/skills"
	"github.com/nextlevelbuilder/valet/internal/subagent"
	"github.com/nextlevelbuilder/valet/internal/tools"
	"github.com/nextlevelbuilder/valet/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
		Insecure:     cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}

	if created, err := bootstrap.EnsureWorkspaceFiles(cfg.Agent.Workspace); err != nil {
		return fmt.Errorf("seed workspace: %w", err)
	} else if len(created) > 0 {
		slog.Info("seeded workspace files", "files", created)
	}

	sessions, err := session.NewStore(filepath.Join(cfg.Agent.StateDir, "sessions"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	memStore, err := memory.NewStore(cfg.Agent.Workspace)
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}

	provider := providers.NewAnthropic(providers.AnthropicConfig{
		APIKey:            cfg.Provider.APIKey,
		BaseURL:           cfg.Provider.BaseURL,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
	})

	skillsLoader := skills.NewLoader(cfg.Agent.Workspace)
	msgBus := bus.NewMessageBus()
	registry := tools.NewRegistry()

	var consolidator *memory.Consolidator
	if cfg.Memory.ConsolidationEnabled {
		consolidator = memory.NewConsolidator(provider, sessions,
			cfg.Agent.Workspace, cfg.Agent.StateDir, cfg.Agent.Model, cfg.Memory.ConsolidationThreshold)
	}

	orch := agent.New(agent.Deps{
		Config:       *cfg,
		Provider:     provider,
		Sessions:     sessions,
		Tools:        registry,
		Skills:       skillsLoader,
		Consolidator: consolidator,
		Debug:        debugstore.Open(cfg.Agent.StateDir),
		Bus:          msgBus,
	})

	schedStore, err := scheduler.OpenStore(cfg.Agent.StateDir)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	sched := scheduler.New(schedStore, orch, scheduler.Config{
		MaxConcurrency:         cfg.Scheduler.MaxConcurrency,
		MaxRetries:             cfg.Scheduler.MaxRetries,
		RetryBaseDelay:         time.Duration(cfg.Scheduler.RetryBaseDelayMs) * time.Millisecond,
		MaxConsecutiveFailures: cfg.Scheduler.MaxConsecutiveFailures,
		JobTimeout:             time.Duration(cfg.Scheduler.JobTimeoutMs) * time.Millisecond,
	})

	subRegistry, err := subagent.OpenRegistry(cfg.Agent.StateDir)
	if err != nil {
		return fmt.Errorf("open subagent registry: %w", err)
	}
	spawner := subagent.NewSpawner(subRegistry, orch, orch, subagent.Limits{
		MaxDepth:              cfg.Subagents.MaxDepth,
		MaxChildrenPerSession: cfg.Subagents.MaxChildrenPerSession,
		MaxConcurrentTotal:    cfg.Subagents.MaxConcurrentTotal,
	})

	var browserTool *tools.BrowserTool
	if err := registerTools(registry, cfg, sessions, memStore, sched, spawner, &browserTool); err != nil {
		return err
	}

	manager := channels.NewManager(msgBus)
	manager.Register(channels.NewLoopback(msgBus))
	if err := manager.Start(ctx, cfg.Channels.Enabled); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	router := agent.NewRouter(orch, msgBus)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		router.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return skillsLoader.Watch(gctx)
	})
	g.Go(func() error {
		sched.Start(gctx)
		<-gctx.Done()
		return nil
	})
	if cfg.Heartbeat.Enabled {
		hb := heartbeat.NewDriver(heartbeat.Config{
			Interval:    time.Duration(cfg.Heartbeat.IntervalMs) * time.Millisecond,
			MinInterval: time.Duration(cfg.Heartbeat.MinIntervalMs) * time.Millisecond,
		}, orch, cfg.Agent.Workspace, cfg.Agent.StateDir)
		g.Go(func() error {
			hb.Start(gctx)
			return nil
		})
	}

	slog.Info("valet gateway running",
		"model", cfg.Agent.Model,
		"workspace", cfg.Agent.Workspace,
		"channels", cfg.Channels.Enabled)

	<-gctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		slog.Warn("scheduler shutdown", "error", err)
	}
	spawner.Wait()
	manager.Stop(shutdownCtx)
	if browserTool != nil {
		browserTool.Close()
	}
	_ = g.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing shutdown", "error", err)
	}
	return nil
}

// registerTools wires the builtin tool set into the registry.
func registerTools(
	registry *tools.Registry,
	cfg *config.Config,
	sessions *session.Store,
	memStore *memory.Store,
	sched *scheduler.Scheduler,
	spawner *subagent.Spawner,
	browserOut **tools.BrowserTool,
) error {
	restrict := cfg.Tools.RestrictToWorkspace
	workspace := cfg.Agent.Workspace
	execTimeout := time.Duration(cfg.Tools.ExecTimeoutMs) * time.Millisecond

	set := []tools.Tool{
		tools.NewReadFileTool(workspace, restrict),
		tools.NewWriteFileTool(workspace, restrict),
		tools.NewListDirTool(workspace, restrict),
		tools.NewExecTool(sandbox.NewLocal(), workspace, execTimeout),
		tools.NewWebFetchTool(cfg.Tools.FetchMaxChars),
		tools.NewWebSearchTool(cfg.Tools.BraveAPIKey),
		tools.NewMemoryTool(memStore),
		tools.NewCronTool(sched),
		tools.NewSpawnTool(spawner),
		tools.NewSessionsTool(sessions),
	}
	if cfg.Tools.BrowserEnabled {
		bt := tools.NewBrowserTool()
		*browserOut = bt
		set = append(set, bt)
	}
	for _, t := range set {
		if err := registry.Register(t); err != nil {
			return fmt.Errorf("register tool %s: %w", t.Name(), err)
		}
	}
	return nil
}
