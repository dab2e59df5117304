// Package app assembles the refresh service from configuration. Both the
// daemon and the operator CLI build their component graph here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/alias"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/builder"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/cleanup"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/notify"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/refresh"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/tracker"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/updater"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/resilience"
)

// Options selects the optional parts of the graph.
type Options struct {
	// Notifications connects the Redis and Kafka sinks enabled in config.
	Notifications bool
	Metrics       *metrics.Metrics
}

// Service is the assembled component graph.
type Service struct {
	Config    *config.Live
	Layout    layout.Layout
	Registry  registry.Store
	Aliases   *alias.Manager
	Tracker   *tracker.Tracker
	Cleanup   *cleanup.Manager
	Scheduler *refresh.Scheduler
	Resolver  *query.Resolver
	Fanout    *notify.Fanout
	Health    *health.Checker

	closers []func() error
	logger  *slog.Logger
}

func New(ctx context.Context, live *config.Live, opts Options) (*Service, error) {
	cfg := live.Current()
	s := &Service{
		Config: live,
		Layout: layout.FromConfig(cfg.Layout),
		Health: health.NewChecker(),
		logger: slog.Default().With("component", "app"),
	}

	store, err := s.openRegistry(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Registry = store

	s.Aliases, err = alias.NewManager(cfg.Storage.AliasesDir)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Tracker = tracker.New(opts.Metrics)
	s.Cleanup = cleanup.New(refresh.LiveTargets(s.Aliases, s.Registry), s.Tracker, cfg.Refresh.CleanupGracePeriod, opts.Metrics)
	s.Resolver = query.NewResolver(s.Aliases, s.Tracker)

	var notifier refresh.Notifier
	if opts.Notifications {
		if sinks := s.openSinks(ctx, cfg); len(sinks) > 0 {
			n := cfg.Notify
			s.Fanout = notify.NewFanout(opts.Metrics, notify.Options{
				Timeout: n.Timeout,
				Retry:   resilience.RetryConfig{MaxAttempts: n.RetryAttempts, InitialDelay: n.RetryDelay},
				Breaker: resilience.CircuitBreakerConfig{FailureThreshold: n.BreakerThreshold, ResetTimeout: n.BreakerReset},
			}, sinks...)
			notifier = s.Fanout
		}
	}

	upOpts := updater.Options{
		Registry:   s.Registry,
		Layout:     s.Layout,
		GitTimeout: cfg.Refresh.GitTimeout,
		Exclude:    cfg.Refresh.MaterializeExclude,
	}
	s.Scheduler = refresh.New(refresh.Deps{
		Registry: s.Registry,
		Aliases:  s.Aliases,
		Cleanup:  s.Cleanup,
		Builder:  builder.New(cfg.Refresh, s.Layout, live, opts.Metrics),
		Layout:   s.Layout,
		Config:   live,
		Updaters: func(e registry.Entry) updater.Updater {
			return updater.For(e, upOpts)
		},
		Notifier:    notifier,
		Metrics:     opts.Metrics,
		VersionsDir: cfg.Storage.VersionsDir,
		StopTimeout: cfg.Refresh.StopTimeout,
	})
	return s, nil
}

func (s *Service) openRegistry(ctx context.Context, cfg *config.Config) (registry.Store, error) {
	switch cfg.Storage.Registry {
	case "", "file":
		store, err := registry.NewFileStore(cfg.Storage.RegistryFile)
		if err != nil {
			return nil, err
		}
		s.logger.Info("registry backend ready", "backend", "file", "path", cfg.Storage.RegistryFile)
		return store, nil
	case "postgres":
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		store := registry.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		s.Health.Register("postgres", health.Ping(true, db.Ping))
		s.logger.Info("registry backend ready", "backend", "postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Storage.Registry)
	}
}

// openSinks connects the enabled notification sinks. An unreachable Redis
// only disables cache invalidation.
func (s *Service) openSinks(ctx context.Context, cfg *config.Config) []notify.Sink {
	var sinks []notify.Sink
	if cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			s.logger.Warn("redis unavailable, cache invalidation disabled", "error", err)
		} else {
			s.closers = append(s.closers, rc.Close)
			s.Health.Register("redis", health.Ping(false, rc.Ping))
			sinks = append(sinks, notify.NewCacheInvalidator(rc, cfg.Redis.KeyPrefix))
			s.logger.Info("cache invalidation enabled", "addr", cfg.Redis.Addr, "key_prefix", cfg.Redis.KeyPrefix)
		}
	}
	if cfg.Kafka.Enabled {
		p := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexSwapped)
		s.closers = append(s.closers, p.Close)
		sinks = append(sinks, notify.NewEventPublisher(p))
		s.logger.Info("swap events enabled", "topic", cfg.Kafka.Topics.IndexSwapped)
	}
	return sinks
}

// Breakers reports notifier circuit states, or nil without sinks.
func (s *Service) Breakers() map[string]string {
	if s.Fanout == nil {
		return nil
	}
	return s.Fanout.BreakerStates()
}

// Close releases connections in reverse order of opening.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
