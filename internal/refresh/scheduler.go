// Package refresh runs the periodic detect, build, swap and cleanup cycle
// for every registered index.
package refresh

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/alias"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/builder"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/cleanup"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/updater"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/metrics"
)

const (
	defaultInterval    = time.Hour
	defaultStopTimeout = 5 * time.Second
)

// UpdaterFactory builds the sync strategy for an entry.
type UpdaterFactory func(entry registry.Entry) updater.Updater

type Deps struct {
	Registry    registry.Store
	Aliases     *alias.Manager
	Cleanup     *cleanup.Manager
	Builder     *builder.Builder
	Layout      layout.Layout
	Config      config.Source
	Updaters    UpdaterFactory
	Notifier    Notifier
	Metrics     *metrics.Metrics
	VersionsDir string
	StopTimeout time.Duration
}

// Scheduler owns one background goroutine that refreshes every registered
// alias once per interval, one alias at a time. Manual RefreshRepo calls
// are serialized with the loop.
type Scheduler struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	cycleMu sync.Mutex
	group   singleflight.Group

	statusMu sync.RWMutex
	lastTick time.Time
	status   map[string]RepoStatus
}

func New(deps Deps) *Scheduler {
	if deps.StopTimeout <= 0 {
		deps.StopTimeout = defaultStopTimeout
	}
	return &Scheduler{
		deps:   deps,
		logger: slog.Default().With("component", "refresh-scheduler"),
		now:    time.Now,
		status: make(map[string]RepoStatus),
	}
}

// Start launches the tick loop. Calling it on a running scheduler is a
// no-op. If an earlier Stop timed out, Start first waits for that loop to
// finish its refresh and exit, so there is never more than one loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	if prev := s.done; prev != nil {
		select {
		case <-prev:
		default:
			s.logger.Info("waiting for previous loop to exit")
			s.mu.Unlock()
			<-prev
			s.mu.Lock()
			if s.running {
				return
			}
		}
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	go s.loop(s.stop, s.done)
	s.logger.Info("scheduler started", "interval", s.RefreshInterval())
}

// Stop interrupts the inter-tick wait and waits up to StopTimeout for the
// loop to exit. A refresh already underway is left to finish on its own.
// Calling it on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stop)
	done := s.done
	s.running = false
	s.mu.Unlock()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
	case <-time.After(s.deps.StopTimeout):
		s.logger.Warn("scheduler stop timed out, refresh still finishing", "timeout", s.deps.StopTimeout)
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RefreshInterval is shared by every alias and read from configuration at
// the start of each wait.
func (s *Scheduler) RefreshInterval() time.Duration {
	if s.deps.Config == nil {
		return defaultInterval
	}
	if d := s.deps.Config.RefreshInterval(); d > 0 {
		return d
	}
	return defaultInterval
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		timer := time.NewTimer(s.RefreshInterval())
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
		s.tick(context.Background(), stop)
	}
}

// tick refreshes every registered alias in order. A failing alias is
// logged and the next one proceeds.
func (s *Scheduler) tick(ctx context.Context, stop <-chan struct{}) {
	s.deps.Metrics.Tick()
	s.statusMu.Lock()
	s.lastTick = s.now()
	s.statusMu.Unlock()

	entries, err := s.deps.Registry.List(ctx)
	if err != nil {
		s.logger.Error("listing registered repos failed", "error", err)
		return
	}
	var processed, failed int
	for _, e := range entries {
		select {
		case <-stop:
			s.logger.Info("tick interrupted by stop", "remaining", len(entries)-processed)
			return
		default:
		}
		if outcome, _ := s.RefreshRepo(ctx, e.AliasName); outcome == OutcomeFailed {
			failed++
		}
		processed++
	}
	if s.deps.Cleanup != nil {
		s.deps.Cleanup.Reap(ctx)
	}
	s.logger.Info("tick complete", "repos", len(entries), "failed", failed)
}

// Status reports lifecycle state and the last outcome per alias.
func (s *Scheduler) Status() Status {
	st := Status{
		Running:  s.IsRunning(),
		Interval: s.RefreshInterval(),
	}
	s.statusMu.RLock()
	st.LastTick = s.lastTick
	st.Repos = make([]RepoStatus, 0, len(s.status))
	for _, rs := range s.status {
		st.Repos = append(st.Repos, rs)
	}
	s.statusMu.RUnlock()
	sort.Slice(st.Repos, func(i, j int) bool {
		return st.Repos[i].Alias < st.Repos[j].Alias
	})
	return st
}

func (s *Scheduler) record(rs RepoStatus) {
	s.statusMu.Lock()
	s.status[rs.Alias] = rs
	s.statusMu.Unlock()
}
