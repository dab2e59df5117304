// Package query is the reader side of the versioned index: it turns an
// alias into a version path and pins that path for the length of a query.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/tracker"
	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
)

// maxResolveAttempts bounds how often a lookup is retried when the alias
// moves between reading it and taking the lease.
const maxResolveAttempts = 3

// AliasReader resolves an alias to its current target.
type AliasReader interface {
	Read(name string) (string, error)
}

// Resolver pins the version an alias points at while a query runs.
type Resolver struct {
	aliases AliasReader
	leases  *tracker.Tracker
	logger  *slog.Logger
}

func NewResolver(aliases AliasReader, leases *tracker.Tracker) *Resolver {
	return &Resolver{
		aliases: aliases,
		leases:  leases,
		logger:  slog.Default().With("component", "query-resolver"),
	}
}

// Acquire resolves alias and returns a lease on its target. The target is
// read again after the lease is taken: a swap in between could let the
// reaper see a zero refcount on the old path, so the lookup is retried
// until both reads agree.
func (r *Resolver) Acquire(ctx context.Context, alias string) (*tracker.Lease, error) {
	for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := r.aliases.Read(alias)
		if err != nil {
			return nil, err
		}
		lease := r.leases.Acquire(path)

		again, err := r.aliases.Read(alias)
		if err != nil {
			lease.Release()
			return nil, err
		}
		if filepath.Clean(again) == lease.Path() {
			return lease, nil
		}
		lease.Release()
		r.logger.Debug("alias moved during resolve, retrying", "alias", alias, "attempt", attempt)
	}
	return nil, fmt.Errorf("%w: alias %s kept moving while resolving", apperrors.ErrInternal, alias)
}

// WithIndex runs fn against the current version of alias. The version
// cannot be reclaimed until fn returns, even if the alias is swapped
// meanwhile.
func (r *Resolver) WithIndex(ctx context.Context, alias string, fn func(ctx context.Context, path string) error) error {
	lease, err := r.Acquire(ctx, alias)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(ctx, lease.Path())
}
