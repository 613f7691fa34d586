// Command messagedirector runs the Message Director: the single-process,
// channel-addressed datagram router every other process connects to
// (spec.md §4.3).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/otpedge/internal/config"
	"github.com/udisondev/otpedge/internal/md"
	"github.com/udisondev/otpedge/internal/mdmetrics"
)

const ConfigPath = "config/messagedirector.yaml"

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
	if p := os.Getenv("OTPEDGE_MD_CONFIG"); p != "" {
		path = p
	}
	cfg, err := config.LoadMessageDirector(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("message director starting", "bind", cfg.BindAddress, "port", cfg.Port)

	reg := prometheus.NewRegistry()
	metrics := mdmetrics.New(reg)
	server := md.NewServer(metrics)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", cfg.BindAddress, cfg.Port, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Serve(gctx, ln)
	})

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return metricsSrv.Close()
		})
		slog.Info("metrics listening", "addr", cfg.MetricsAddr)
	}

	return g.Wait()
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
