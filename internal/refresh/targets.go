package refresh

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/alias"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/cleanup"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/registry"
)

// LiveTargets reports every path an alias points at or the registry records
// as current. The cleanup reaper must never delete any of them.
func LiveTargets(aliases *alias.Manager, store registry.Store) cleanup.TargetFunc {
	return func(ctx context.Context) (map[string]struct{}, error) {
		targets, err := aliases.Targets()
		if err != nil {
			return nil, err
		}
		entries, err := store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing registry: %w", err)
		}
		for _, e := range entries {
			if e.IndexPath != "" {
				targets[filepath.Clean(e.IndexPath)] = struct{}{}
			}
		}
		return targets, nil
	}
}

// RecoverOrphans schedules cleanup for version directories left behind by
// an earlier process: anything under an alias's versions directory that is
// not a live target. It returns how many were scheduled.
func (s *Scheduler) RecoverOrphans(ctx context.Context) (int, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	live, err := LiveTargets(s.deps.Aliases, s.deps.Registry)(ctx)
	if err != nil {
		return 0, err
	}
	aliasDirs, err := os.ReadDir(s.deps.VersionsDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading versions directory: %w", err)
	}

	var scheduled int
	for _, ad := range aliasDirs {
		if !ad.IsDir() {
			continue
		}
		base := filepath.Join(s.deps.VersionsDir, ad.Name())
		versions, err := os.ReadDir(base)
		if err != nil {
			s.logger.Warn("reading alias versions failed", "dir", base, "error", err)
			continue
		}
		for _, v := range versions {
			if !v.IsDir() || !strings.HasPrefix(v.Name(), "v_") {
				continue
			}
			path := filepath.Join(base, v.Name())
			if _, ok := live[path]; ok {
				continue
			}
			if s.deps.Cleanup.IsPending(path) {
				continue
			}
			s.deps.Cleanup.Schedule(path)
			scheduled++
		}
	}
	if scheduled > 0 {
		s.logger.Info("orphaned versions scheduled for cleanup", "count", scheduled)
	}
	return scheduled, nil
}
