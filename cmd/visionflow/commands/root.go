package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/visionflow/visionflow/pkg/agent"
	"github.com/visionflow/visionflow/pkg/config"
	"github.com/visionflow/visionflow/pkg/engine"
	"github.com/visionflow/visionflow/pkg/stores"
	"github.com/visionflow/visionflow/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "visionflow",
		Short: "VisionFlow - screen automation workflow engine",
		Long: `VisionFlow executes screen automation commands through a
perceive-cognize-act workflow graph.

Features:
  - Conditional routing between workflow nodes
  - Bounded per-node retries with recovery routing
  - Durable per-step checkpoints (SQLite, Redis, or in-memory)
  - Resumable sessions
  - Blocking, asynchronous, and streaming execution modes`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}

// app bundles everything a session-running command needs.
type app struct {
	cfg    *config.Config
	tel    *telemetry.Telemetry
	store  stores.Store
	engine *engine.Engine
}

// setup loads configuration and wires telemetry, the checkpoint store, the
// workflow graph, and the engine. The caller must invoke close.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(&cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	if err := tel.Metrics.StartServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics endpoint: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	reg, edges, err := agent.Build(agent.SimulatedServices(), tel.Logger)
	if err != nil {
		_ = store.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	eng, err := engine.New(engine.Options{
		Registry:     reg,
		Edges:        edges,
		EntryNode:    agent.EntryNode,
		Store:        store,
		StoreBackend: cfg.Store.Backend,
		Config:       cfg,
		Logger:       tel.Logger,
		Metrics:      tel.Metrics,
		Tracer:       tel.Tracer,
	})
	if err != nil {
		_ = store.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	return &app{cfg: cfg, tel: tel, store: store, engine: eng}, nil
}

func (a *app) close(ctx context.Context) {
	_ = a.store.Close()
	_ = a.tel.Shutdown(ctx)
}

// openStore builds the configured checkpoint backend.
func openStore(ctx context.Context, cfg *config.Config) (stores.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		store, err := stores.NewSQLiteStore(stores.SQLiteConfig{Path: cfg.Store.Path})
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	case "redis":
		return stores.NewRedisStore(ctx, stores.RedisConfig{URL: cfg.Store.RedisURL})
	case "memory":
		return stores.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
