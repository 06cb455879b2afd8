// Command parley runs the Parley voice session server: speech ingest, intent
// classification, command execution against the task store, and handoff to a
// realtime conversation channel.
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

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/app"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/health"
	"github.com/parleyhq/parley/internal/observe"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/pkg/provider/classify"
	"github.com/parleyhq/parley/pkg/speech/push"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "configs/parley.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found (use -config to point at one)", configPath)
		}
		return err
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	slog.Info("starting parley", "version", version, "config", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "parley",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	registry := app.DefaultRegistry()

	channel, err := registry.CreateChannel("realtime", cfg.Channel)
	if err != nil {
		return fmt.Errorf("create conversation channel: %w", err)
	}

	var remote classify.Provider
	if cfg.Classifier.Provider.Name != "" {
		remote, err = registry.CreateClassifier(cfg.Classifier.Provider)
		if err != nil {
			return fmt.Errorf("create classifier: %w", err)
		}
		slog.Info("remote classifier ready", "provider", cfg.Classifier.Provider.Name)
	} else {
		slog.Warn("no remote classifier configured; ambiguous utterances use the fallback verdict",
			"fallback", cfg.Classifier.Fallback)
	}

	taskStore, checkers, cleanup, err := buildStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := app.New(cfg, app.Deps{
		Source:         push.New(0),
		Channel:        channel,
		Remote:         remote,
		Store:          taskStore,
		HealthCheckers: checkers,
	})
	if err != nil {
		return err
	}

	// Hot reload: log level, heuristic tuning, the fallback verdict, and
	// channel instructions apply without a restart. Endpoint, credential, and
	// DSN changes do not.
	watcher, err := config.NewWatcher(configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Changed() {
			slog.Info("config changed but only restart-only settings differ; keeping current values")
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		a.ApplyConfig(d, new)
	})
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer watcher.Stop()

	return a.Run(ctx)
}

// buildStore selects Postgres when a DSN is configured and memory otherwise.
// The returned cleanup closes the pool; the checkers feed /readyz.
func buildStore(ctx context.Context, cfg config.StoreConfig) (store.Store, []health.Checker, func(), error) {
	if cfg.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn not set; tasks are kept in memory and lost on restart")
		return store.NewMemoryStore(), nil, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("migrate store schema: %w", err)
	}
	slog.Info("postgres task store ready")

	checkers := []health.Checker{{
		Name:  "postgres",
		Check: pool.Ping,
	}}
	return pg, checkers, pool.Close, nil
}

// slogLevel maps the config enum onto slog's level scale.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
