// Package tracker counts in-flight queries per index version path so that a
// retired version is never deleted while a query still reads it.
package tracker

import (
	"path/filepath"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/metrics"
)

// Tracker is an in-memory reference counter keyed by version path. It does
// not persist; after a restart every count is zero.
type Tracker struct {
	mu      sync.Mutex
	counts  map[string]int
	metrics *metrics.Metrics
}

func New(m *metrics.Metrics) *Tracker {
	return &Tracker{
		counts:  make(map[string]int),
		metrics: m,
	}
}

// Lease is one query's hold on a version path. Release is safe to call more
// than once; only the first call decrements.
type Lease struct {
	path    string
	tracker *Tracker
	once    sync.Once
}

// Path returns the version directory the lease pins.
func (l *Lease) Path() string {
	return l.path
}

func (l *Lease) Release() {
	l.once.Do(func() {
		l.tracker.release(l.path)
	})
}

// Acquire increments the count for path and returns the lease to release.
func (t *Tracker) Acquire(path string) *Lease {
	path = filepath.Clean(path)
	t.mu.Lock()
	t.counts[path]++
	t.mu.Unlock()
	t.metrics.LeaseDelta(1)
	return &Lease{path: path, tracker: t}
}

func (t *Tracker) release(path string) {
	t.mu.Lock()
	n := t.counts[path] - 1
	if n <= 0 {
		delete(t.counts, path)
	} else {
		t.counts[path] = n
	}
	t.mu.Unlock()
	t.metrics.LeaseDelta(-1)
}

// Refcount returns the number of outstanding leases on path.
func (t *Tracker) Refcount(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[filepath.Clean(path)]
}

// Do holds a lease on path while fn runs. The lease is released on every
// exit path, including a panic in fn.
func (t *Tracker) Do(path string, fn func() error) error {
	lease := t.Acquire(path)
	defer lease.Release()
	return fn()
}

// Snapshot returns a copy of all non-zero counts.
func (t *Tracker) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.counts))
	for p, n := range t.counts {
		out[p] = n
	}
	return out
}
