package notify

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/refresh"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/resilience"
)

// Options tunes the protection wrapped around every sink.
type Options struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	Retry   resilience.RetryConfig
	Breaker resilience.CircuitBreakerConfig
}

type guardedSink struct {
	sink    Sink
	breaker *resilience.CircuitBreaker
}

// Fanout delivers each swap to all sinks concurrently. A sink is retried,
// bounded by a timeout per attempt, and guarded by its own circuit breaker
// so a dead downstream costs one fast failure per swap.
type Fanout struct {
	sinks   []guardedSink
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

var _ refresh.Notifier = (*Fanout)(nil)

func NewFanout(m *metrics.Metrics, opts Options, sinks ...Sink) *Fanout {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	f := &Fanout{
		opts:    opts,
		metrics: m,
		logger:  slog.Default().With("component", "notify"),
	}
	for _, s := range sinks {
		cfg := opts.Breaker
		cfg.OnStateChange = func(name string, to resilience.State) {
			m.SetBreakerState(name, int(to))
		}
		f.sinks = append(f.sinks, guardedSink{
			sink:    s,
			breaker: resilience.NewCircuitBreaker(s.Name(), cfg),
		})
		m.SetBreakerState(s.Name(), int(resilience.StateClosed))
	}
	return f
}

// Notify blocks until every sink has finished or given up. Failures are
// logged and counted, never returned. The caller's cancellation is not
// inherited: a swap that happened is always announced.
func (f *Fanout) Notify(ctx context.Context, swap refresh.Swap) {
	ctx = context.WithoutCancel(ctx)
	var g errgroup.Group
	for _, gs := range f.sinks {
		g.Go(func() error {
			err := gs.breaker.Execute(func() error {
				return resilience.Retry(ctx, gs.sink.Name(), f.opts.Retry, func(ctx context.Context) error {
					return resilience.WithTimeout(ctx, f.opts.Timeout, gs.sink.Name(), func(ctx context.Context) error {
						return gs.sink.Notify(ctx, swap)
					})
				})
			})
			f.metrics.Notified(gs.sink.Name(), err)
			if err != nil {
				f.logger.Warn("swap notification failed",
					"sink", gs.sink.Name(),
					"alias", swap.Alias,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// BreakerStates reports each sink's circuit state, for the admin API.
func (f *Fanout) BreakerStates() map[string]string {
	out := make(map[string]string, len(f.sinks))
	for _, gs := range f.sinks {
		out[gs.sink.Name()] = gs.breaker.GetState().String()
	}
	return out
}
