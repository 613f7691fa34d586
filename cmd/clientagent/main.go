// Command clientagent runs the Client Agent: the per-client session state
// machine that gates login, brokers avatar lifecycle, and manages client
// interest against the (out-of-scope) State Server (spec.md §3-§4.7).
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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/otpedge/internal/cametrics"
	"github.com/udisondev/otpedge/internal/clientagent"
	"github.com/udisondev/otpedge/internal/config"
	"github.com/udisondev/otpedge/internal/dbiface"
	"github.com/udisondev/otpedge/internal/dcschema"
	"github.com/udisondev/otpedge/internal/kvstore"
	"github.com/udisondev/otpedge/internal/mdlink"
	"github.com/udisondev/otpedge/internal/otpchannel"
	"github.com/udisondev/otpedge/internal/visgroup"
)

const ConfigPath = "config/clientagent.yaml"

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
	if p := os.Getenv("OTPEDGE_CA_CONFIG"); p != "" {
		path = p
	}
	cfg, err := config.LoadClientAgent(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	mdAddr := fmt.Sprintf("%s:%d", cfg.MDAddress, cfg.MDPort)
	slog.Info("client agent starting", "bind", cfg.BindAddress, "port", cfg.Port, "md_address", mdAddr)

	kv, err := kvstore.Open(cfg.DBMFilename)
	if err != nil {
		return fmt.Errorf("opening play-token store: %w", err)
	}
	defer kv.Close()

	dbLink, err := mdlink.Dial(mdAddr)
	if err != nil {
		return fmt.Errorf("dialing MD for database interface: %w", err)
	}
	defer dbLink.Close()

	timeout := time.Duration(cfg.DBRequestTimeoutSeconds) * time.Second
	db, err := dbiface.New(dbLink, otpchannel.ClientAgent, timeout)
	if err != nil {
		return fmt.Errorf("building database interface: %w", err)
	}

	schema := dcschema.NewDefaultSchema()
	visLoader := visgroup.NewFileLoader(cfg.VisDir)

	reg := prometheus.NewRegistry()
	metrics := cametrics.New(reg)

	agent, err := clientagent.New(cfg, mdAddr, db, kv, schema, visLoader, metrics)
	if err != nil {
		return fmt.Errorf("building client agent: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", cfg.BindAddress, cfg.Port, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return dbLink.Close()
	})
	g.Go(func() error {
		if err := db.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("database interface: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return agent.Serve(gctx, ln)
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
