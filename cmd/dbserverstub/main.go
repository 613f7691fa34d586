// Command dbserverstub runs a reference implementation of the external
// Database Server's wire contract (spec.md §1, §6): an MD participant
// backing CREATE_OBJECT, OBJECT_GET_ALL, and OBJECT_SET_FIELDS with a
// PostgreSQL-backed object store. The real Database Server's internals
// remain out of scope; this binary exists so the rest of the system has
// something to talk to in integration tests and local development.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/udisondev/otpedge/internal/config"
	"github.com/udisondev/otpedge/internal/dbserver"
)

const ConfigPath = "config/dbserverstub.yaml"

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
	path := ConfigPath
	if p := os.Getenv("OTPEDGE_DBSERVER_CONFIG"); p != "" {
		path = p
	}
	cfg, err := config.LoadDBServerStub(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	dsn := cfg.Database.DSN()
	mdAddr := fmt.Sprintf("%s:%d", cfg.MDAddress, cfg.MDPort)
	slog.Info("database-server stub starting", "md_address", mdAddr)

	if err := dbserver.RunMigrations(ctx, dsn); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database migrations applied")

	store, err := dbserver.NewStore(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer store.Close()

	server, err := dbserver.New(mdAddr, store)
	if err != nil {
		return fmt.Errorf("connecting to message director: %w", err)
	}
	defer server.Close()

	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serving database wire contract: %w", err)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
