package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/udisondev/abilitycore/internal/config"
	"github.com/udisondev/abilitycore/internal/data"
	"github.com/udisondev/abilitycore/internal/db"
	"github.com/udisondev/abilitycore/internal/server"
)

const ConfigPath = "config/abilityserver.yaml"

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
	if p := os.Getenv("ABILITYCORE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("abilityserver starting", "log_level", cfg.LogLevel, "config", cfgPath)

	catalog, err := data.Load(cfg.DefinitionsPath)
	if err != nil {
		return fmt.Errorf("loading definitions: %w", err)
	}

	var opts []server.Option
	if cfg.Database.Enabled {
		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")

		database, err := db.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()
		slog.Info("database connected")

		opts = append(opts, server.WithSnapshotStore(database.Snapshots()))
	}

	srv, err := server.New(ctx, cfg, catalog, opts...)
	if err != nil {
		return fmt.Errorf("building world: %w", err)
	}

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("running simulation: %w", err)
	}
	slog.Info("abilityserver stopped", "ticks", srv.Ticks())
	return nil
}

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
