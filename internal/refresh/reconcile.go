package refresh

import (
	"context"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/logger"
)

// reconcile pushes the artifacts found under path into the entry's
// temporal and SCIP flags, in both directions. It never fails: when the
// directory cannot be inspected or the registry rejects the update, the
// flags stay as they were. The corrected entry is returned.
func (s *Scheduler) reconcile(ctx context.Context, entry registry.Entry, path string) registry.Entry {
	log := logger.FromContext(ctx)
	if path == "" {
		return entry
	}
	st, err := s.deps.Layout.Detect(path)
	if err != nil {
		log.Debug("reconciliation skipped, index state unknown", "path", path, "error", err)
		return entry
	}

	var temporal, scip *bool
	if st.Temporal != entry.EnableTemporal {
		temporal = registry.Bool(st.Temporal)
	}
	if st.SCIP != entry.EnableSCIP {
		scip = registry.Bool(st.SCIP)
	}
	if temporal == nil && scip == nil {
		return entry
	}
	if err := s.deps.Registry.UpdateFlags(ctx, entry.AliasName, temporal, scip); err != nil {
		log.Debug("reconciliation update rejected", "error", err)
		return entry
	}

	if temporal != nil {
		entry.EnableTemporal = *temporal
		s.deps.Metrics.Corrected("temporal", *temporal)
	}
	if scip != nil {
		entry.EnableSCIP = *scip
		s.deps.Metrics.Corrected("scip", *scip)
	}
	log.Info("registry flags reconciled with index on disk",
		"path", path,
		"enable_temporal", entry.EnableTemporal,
		"enable_scip", entry.EnableSCIP,
	)
	return entry
}

// Reconcile corrects the flags of alias against its live version outside
// of a refresh cycle and returns what was found on disk.
func (s *Scheduler) Reconcile(ctx context.Context, aliasName string) (layout.State, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	entry, err := s.deps.Registry.Get(ctx, aliasName)
	if err != nil {
		return layout.State{}, err
	}
	path := s.currentPath(entry)
	if path == "" {
		return layout.State{}, apperrors.Newf(apperrors.ErrAliasNotFound, http.StatusNotFound, "%s has no live version", aliasName)
	}
	st, err := s.deps.Layout.Detect(path)
	if err != nil {
		return layout.State{}, err
	}
	s.reconcile(ctx, entry, path)
	return st, nil
}
