// Package cleanup defers deletion of retired index versions until no alias
// targets them, no query holds a lease on them, and a grace period has
// passed since they were retired.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/metrics"
)

// TargetSource reports the version paths that are currently live.
type TargetSource interface {
	Targets(ctx context.Context) (map[string]struct{}, error)
}

// TargetFunc adapts a function to TargetSource.
type TargetFunc func(ctx context.Context) (map[string]struct{}, error)

func (f TargetFunc) Targets(ctx context.Context) (map[string]struct{}, error) {
	return f(ctx)
}

// RefCounter reports outstanding query leases for a path.
type RefCounter interface {
	Refcount(path string) int
}

// Task is one retired version waiting for deletion.
type Task struct {
	Path        string    `json:"path"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// ReapStats summarises one reaper pass.
type ReapStats struct {
	Deleted  int `json:"deleted"`
	Dropped  int `json:"dropped"`
	Deferred int `json:"deferred"`
}

type Manager struct {
	mu      sync.Mutex
	pending map[string]Task
	reapMu  sync.Mutex
	targets TargetSource
	refs    RefCounter
	grace   time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(targets TargetSource, refs RefCounter, grace time.Duration, m *metrics.Metrics) *Manager {
	return &Manager{
		pending: make(map[string]Task),
		targets: targets,
		refs:    refs,
		grace:   grace,
		now:     time.Now,
		metrics: m,
		logger:  slog.Default().With("component", "cleanup"),
	}
}

// Schedule queues path for deletion. Scheduling a path that is already
// pending keeps the original schedule time.
func (m *Manager) Schedule(path string) {
	if path == "" {
		return
	}
	path = filepath.Clean(path)
	m.mu.Lock()
	if _, ok := m.pending[path]; ok {
		m.mu.Unlock()
		return
	}
	m.pending[path] = Task{Path: path, ScheduledAt: m.now()}
	n := len(m.pending)
	m.mu.Unlock()

	m.metrics.SetCleanupPending(n)
	m.logger.Info("cleanup scheduled", "path", path, "grace", m.grace)
}

// Pending returns the paths awaiting deletion, sorted.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.pending))
	for p := range m.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Tasks returns a copy of the pending tasks, oldest first.
func (m *Manager) Tasks() []Task {
	m.mu.Lock()
	tasks := make([]Task, 0, len(m.pending))
	for _, t := range m.pending {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].ScheduledAt.Before(tasks[j].ScheduledAt)
	})
	return tasks
}

// IsPending reports whether path is queued.
func (m *Manager) IsPending(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[filepath.Clean(path)]
	return ok
}

// Reap deletes every pending path that is no longer a live target, has no
// outstanding leases and has waited out the grace period. A path that fails
// to delete is logged and dropped from the queue. When live targets cannot be
// determined nothing is deleted.
func (m *Manager) Reap(ctx context.Context) ReapStats {
	m.reapMu.Lock()
	defer m.reapMu.Unlock()

	var stats ReapStats
	tasks := m.Tasks()
	if len(tasks) == 0 {
		return stats
	}

	live, err := m.targets.Targets(ctx)
	if err != nil {
		m.logger.Warn("cannot determine live targets, skipping reap", "error", err)
		stats.Deferred = len(tasks)
		return stats
	}

	now := m.now()
	for _, task := range tasks {
		if ctx.Err() != nil {
			stats.Deferred++
			continue
		}
		if _, isLive := live[task.Path]; isLive {
			m.logger.Debug("cleanup deferred, path is a live target", "path", task.Path)
			stats.Deferred++
			continue
		}
		if n := m.refs.Refcount(task.Path); n > 0 {
			m.logger.Debug("cleanup deferred, path has active queries", "path", task.Path, "refcount", n)
			stats.Deferred++
			continue
		}
		if now.Sub(task.ScheduledAt) < m.grace {
			stats.Deferred++
			continue
		}

		if err := remove(task.Path); err != nil {
			m.logger.Error("cleanup failed, dropping task", "path", task.Path, "error", err)
			m.metrics.CleanupRemoved("dropped")
			stats.Dropped++
		} else {
			m.logger.Info("retired index version deleted",
				"path", task.Path,
				"retired_for", now.Sub(task.ScheduledAt).Round(time.Millisecond),
			)
			m.metrics.CleanupRemoved("deleted")
			stats.Deleted++
		}
		m.mu.Lock()
		delete(m.pending, task.Path)
		m.mu.Unlock()
	}
	m.metrics.SetCleanupPending(len(m.Pending()))
	return stats
}

// Run reaps on every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.logger.Info("cleanup reaper started", "interval", interval, "grace", m.grace)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("cleanup reaper stopping", "pending", len(m.Pending()))
			return
		case <-ticker.C:
			stats := m.Reap(ctx)
			if stats.Deleted > 0 || stats.Dropped > 0 {
				m.logger.Info("reap pass complete",
					"deleted", stats.Deleted,
					"dropped", stats.Dropped,
					"deferred", stats.Deferred,
				)
			}
		}
	}
}

func remove(path string) error {
	if path == "" || path == string(filepath.Separator) || path == "." {
		return fmt.Errorf("refusing to delete %q", path)
	}
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("path already gone: %w", err)
		}
		return err
	}
	return os.RemoveAll(path)
}
