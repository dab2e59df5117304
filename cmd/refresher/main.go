package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/admin"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/app"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/trigger"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file with CIR_* overrides")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting index refresh service",
		"port", cfg.Server.Port,
		"interval", cfg.Refresh.Interval,
		"registry", cfg.Storage.Registry,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, nil)
		defer shutdownMetrics(context.Background())
	}

	live := config.NewLive(*configPath, cfg)
	svc, err := app.New(ctx, live, app.Options{Notifications: true, Metrics: m})
	if err != nil {
		slog.Error("failed to assemble service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	if n, err := svc.Scheduler.RecoverOrphans(ctx); err != nil {
		slog.Warn("orphan recovery failed", "error", err)
	} else if n > 0 {
		slog.Info("orphaned versions queued", "count", n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return live.Watch(gctx) })
	g.Go(func() error {
		svc.Cleanup.Run(gctx, cfg.Refresh.ReaperInterval)
		return nil
	})
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.RefreshRequests, trigger.NewHandler(svc.Scheduler).Handle)
		g.Go(func() error { return consumer.Run(gctx) })
		slog.Info("refresh request consumer started", "topic", cfg.Kafka.Topics.RefreshRequests)
	}

	handler := admin.New(svc.Scheduler, svc.Registry, svc.Aliases, svc.Cleanup, svc.Breakers)
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     admin.NewRouter(handler, svc.Health, m, admin.RouterOptions{
			ReadTimeout:      cfg.Server.ReadTimeout,
			AdminToken:       cfg.Server.AdminToken,
			RefreshPerMinute: cfg.Server.RefreshRateLimit,
		}),
		ReadTimeout: cfg.Server.ReadTimeout,
		// Manual refreshes hold the connection for the whole cycle.
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		slog.Info("admin API listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		svc.Scheduler.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	svc.Scheduler.Start()

	if err := g.Wait(); err != nil {
		slog.Error("index refresh service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("index refresh service stopped")
}
