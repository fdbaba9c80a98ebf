package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/xrayguard/internal/config"
	"github.com/udisondev/xrayguard/internal/db"
	"github.com/udisondev/xrayguard/internal/metrics"
	"github.com/udisondev/xrayguard/internal/obfcache"
	"github.com/udisondev/xrayguard/internal/policy"
	"github.com/udisondev/xrayguard/internal/scheduler"
	"github.com/udisondev/xrayguard/internal/transport/ws"
	"github.com/udisondev/xrayguard/internal/voxel"
	"github.com/udisondev/xrayguard/internal/world"
)

const ConfigPath = "config/xrayguard.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("XRAYGUARD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("xrayguard starting",
		"log_level", cfg.LogLevel,
		"address", cfg.Network.Addr(),
		"radius", cfg.Engine.VisibilityRadius,
		"sensitive", cfg.Engine.SensitiveTypes)

	store := world.NewStore()

	var persister *db.SectionPersister
	if cfg.Database.Enabled {
		database, err := db.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()
		slog.Info("database connected")

		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")

		persister = db.NewSectionPersister(store, db.NewSectionRepository(database.Pool()), cfg.Database.FlushInterval)
		n, err := persister.LoadInto(ctx)
		if err != nil {
			return fmt.Errorf("loading world: %w", err)
		}
		slog.Info("world loaded from database", "sections", n)
	}

	gen := world.Generator{Seed: cfg.World.Seed, Surface: cfg.World.Surface}
	r := cfg.World.SpawnRadius
	generated, err := gen.Populate(store,
		voxel.RegionKey{X: -r, Y: cfg.World.MinSectionY, Z: -r},
		voxel.RegionKey{X: r, Y: cfg.World.MaxSectionY, Z: r})
	if err != nil {
		return fmt.Errorf("generating spawn area: %w", err)
	}
	slog.Info("spawn area generated", "sections", generated, "loaded", len(store.Keys()))

	pol, err := policy.FromRules(cfg.Engine.PolicyRules())
	if err != nil {
		return fmt.Errorf("building policy: %w", err)
	}

	counters := &metrics.Counters{}
	cache := obfcache.New(pol)
	hub := ws.NewHub()
	sched := scheduler.New(cfg.Engine, store, cache, pol, hub, counters)

	unsubscribe := store.Subscribe(sched.NotifyBlockChange)
	defer unsubscribe()

	var editor ws.BlockEditor
	if cfg.Network.AllowEdits {
		editor = store
	}
	server := ws.NewServer(cfg.Network, hub, sched, editor, counters)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sched.Run(gctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := server.Run(gctx); err != nil {
			return fmt.Errorf("websocket server: %w", err)
		}
		return nil
	})

	if persister != nil {
		g.Go(func() error {
			if err := persister.Run(gctx); err != nil {
				return fmt.Errorf("section persister: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		logStats(gctx, counters, cfg.StatsInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("xrayguard stopped")
	return nil
}

// logStats logs a metrics snapshot every interval until ctx is done.
func logStats(ctx context.Context, m *metrics.Counters, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slog.Info("engine stats", "metrics", m.Snapshot())
		}
	}
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
