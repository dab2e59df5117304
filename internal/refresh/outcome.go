package refresh

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/layout"
)

// Outcome is the terminal state of one refresh cycle.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeRefreshed
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Swap describes one promotion of a new version.
type Swap struct {
	Alias        string       `json:"alias"`
	PreviousPath string       `json:"previous_path,omitempty"`
	NewPath      string       `json:"new_path"`
	Revision     string       `json:"revision"`
	Artifacts    layout.State `json:"artifacts"`
	SwappedAt    time.Time    `json:"swapped_at"`
}

// Notifier is told about every swap after it happened. Notifications are
// best effort and cannot fail the cycle.
type Notifier interface {
	Notify(ctx context.Context, s Swap)
}

// RepoStatus is the result of the most recent cycle for one alias.
type RepoStatus struct {
	Alias     string        `json:"alias"`
	Outcome   Outcome       `json:"outcome"`
	At        time.Time     `json:"at"`
	Duration  time.Duration `json:"duration_ns"`
	IndexPath string        `json:"index_path,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type Status struct {
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval_ns"`
	LastTick time.Time     `json:"last_tick,omitempty"`
	Repos    []RepoStatus  `json:"repos"`
}
