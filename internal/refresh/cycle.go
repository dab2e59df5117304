package refresh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/updater"
	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/tracing"
)

// RefreshRepo runs one full cycle for alias. Concurrent calls for the same
// alias share a single cycle; cycles for different aliases run one at a
// time. A failed cycle leaves the alias and its current version untouched
// and returns the error.
//
// The shared cycle does not inherit any caller's cancellation. A caller
// whose ctx ends stops waiting and gets ctx.Err(); the cycle runs on for
// the others and for the next tick.
func (s *Scheduler) RefreshRepo(ctx context.Context, aliasName string) (Outcome, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(aliasName, func() (any, error) {
		s.cycleMu.Lock()
		defer s.cycleMu.Unlock()
		return s.refresh(detached, aliasName)
	})
	select {
	case <-ctx.Done():
		return OutcomeFailed, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return OutcomeFailed, res.Err
		}
		outcome, _ := res.Val.(Outcome)
		return outcome, nil
	}
}

func (s *Scheduler) refresh(ctx context.Context, aliasName string) (Outcome, error) {
	start := s.now()
	ctx = logger.WithAlias(ctx, aliasName)
	ctx, span := tracing.Start(ctx, "refresh")
	span.SetAttr("alias", aliasName)
	log := logger.FromContext(ctx).With("component", "refresh-scheduler", "trace_id", span.TraceID)

	outcome, swap, err := s.cycle(ctx, aliasName)
	duration := s.now().Sub(start)
	span.SetAttr("outcome", outcome.String())
	span.End(err)
	span.Log(log)

	rs := RepoStatus{Alias: aliasName, Outcome: outcome, At: start, Duration: duration}
	if err != nil {
		rs.Outcome = OutcomeFailed
		rs.Error = err.Error()
		log.Error(fmt.Sprintf("Refresh failed: %s — %v", aliasName, err),
			"stage", string(apperrors.StageOf(err)),
			"duration", duration,
		)
	} else {
		rs.IndexPath = swap.NewPath
		log.Info("refresh cycle complete", "outcome", outcome.String(), "duration", duration)
	}
	s.deps.Metrics.ObserveRefresh(aliasName, rs.Outcome.String(), duration)
	s.record(rs)
	return rs.Outcome, err
}

// cycle is the per-alias state machine. Only the alias write in the swap
// stage is visible to readers; every error before it returns with nothing
// changed.
func (s *Scheduler) cycle(ctx context.Context, aliasName string) (Outcome, Swap, error) {
	var (
		entry   registry.Entry
		current string
		up      updater.Updater
	)
	err := stage(ctx, apperrors.StageResolve, func(ctx context.Context) error {
		var err error
		entry, err = s.deps.Registry.Get(ctx, aliasName)
		if err != nil {
			return err
		}
		current = s.currentPath(entry)
		up = s.deps.Updaters(entry)
		return nil
	})
	if err != nil {
		return OutcomeFailed, Swap{}, apperrors.AtStage(aliasName, apperrors.StageResolve, err)
	}

	entry = s.reconcile(ctx, entry, current)

	var changed bool
	err = stage(ctx, apperrors.StageDetect, func(ctx context.Context) error {
		var err error
		changed, err = up.HasChanges(ctx)
		if err != nil {
			return fmt.Errorf("%w: checking for changes: %w", apperrors.ErrUpdateFailed, err)
		}
		return nil
	})
	if err != nil {
		return OutcomeFailed, Swap{}, apperrors.AtStage(aliasName, apperrors.StageDetect, err)
	}
	if !changed {
		return OutcomeUnchanged, Swap{}, nil
	}

	var revision string
	err = stage(ctx, apperrors.StageUpdate, func(ctx context.Context) error {
		if err := up.Update(ctx); err != nil {
			return err
		}
		var err error
		revision, err = up.Revision(ctx)
		if err != nil {
			return fmt.Errorf("%w: reading revision: %w", apperrors.ErrUpdateFailed, err)
		}
		return nil
	})
	if err != nil {
		return OutcomeFailed, Swap{}, apperrors.AtStage(aliasName, apperrors.StageUpdate, err)
	}

	newPath, state, err := s.build(ctx, entry, up.SourcePath(), revision)
	if err != nil {
		return OutcomeFailed, Swap{}, err
	}

	var previous string
	err = stage(ctx, apperrors.StageSwap, func(ctx context.Context) error {
		var err error
		previous, err = s.swap(aliasName, newPath)
		return err
	})
	if err != nil {
		s.discard(newPath)
		return OutcomeFailed, Swap{}, apperrors.AtStage(aliasName, apperrors.StageSwap, err)
	}

	if previous != "" && filepath.Clean(previous) != filepath.Clean(newPath) {
		s.deps.Cleanup.Schedule(previous)
	}

	swappedAt := s.now().UTC()
	if err := s.deps.Registry.UpdateIndexPath(ctx, aliasName, newPath, swappedAt); err != nil {
		logger.FromContext(ctx).Warn("recording index path failed", "path", newPath, "error", err)
	} else {
		entry.IndexPath = newPath
	}
	s.reconcile(ctx, entry, newPath)

	swap := Swap{
		Alias:        aliasName,
		PreviousPath: previous,
		NewPath:      newPath,
		Revision:     revision,
		Artifacts:    state,
		SwappedAt:    swappedAt,
	}
	if s.deps.Notifier != nil {
		s.deps.Notifier.Notify(ctx, swap)
	}
	return OutcomeRefreshed, swap, nil
}

// build materializes the source into a new version directory and runs the
// index commands. The directory is removed on any failure.
func (s *Scheduler) build(ctx context.Context, entry registry.Entry, source, revision string) (string, layout.State, error) {
	aliasName := entry.AliasName
	dir, err := s.newVersionPath(aliasName)
	if err != nil {
		return "", layout.State{}, apperrors.AtStage(aliasName, apperrors.StageBuild, err)
	}

	var state layout.State
	err = stage(ctx, apperrors.StageBuild, func(ctx context.Context) error {
		if err := s.deps.Builder.Materialize(source, dir, entry.EnableTemporal); err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrBuildFailed, err)
		}
		return s.deps.Builder.BuildIndex(ctx, dir, entry.EnableTemporal)
	})
	if err != nil {
		s.discard(dir)
		return "", state, apperrors.AtStage(aliasName, apperrors.StageBuild, err)
	}

	if entry.EnableSCIP {
		err = stage(ctx, apperrors.StageScip, func(ctx context.Context) error {
			return s.deps.Builder.BuildSCIP(ctx, dir)
		})
		if err != nil {
			s.discard(dir)
			return "", state, apperrors.AtStage(aliasName, apperrors.StageScip, err)
		}
	}

	state, err = s.deps.Layout.Detect(dir)
	if err == nil {
		err = layout.WriteManifest(dir, layout.Manifest{
			Alias:     aliasName,
			Revision:  revision,
			BuiltAt:   s.now().UTC(),
			Artifacts: state,
		})
	}
	if err != nil {
		s.discard(dir)
		return "", state, apperrors.AtStage(aliasName, apperrors.StageBuild, fmt.Errorf("%w: %w", apperrors.ErrBuildFailed, err))
	}
	return dir, state, nil
}

// swap points the alias at newPath and returns the previous target. An
// entry registered without an alias gets one.
func (s *Scheduler) swap(aliasName, newPath string) (string, error) {
	previous, err := s.deps.Aliases.Read(aliasName)
	if errors.Is(err, apperrors.ErrAliasNotFound) {
		return "", s.deps.Aliases.Create(aliasName, newPath)
	}
	if err != nil {
		return "", err
	}
	if err := s.deps.Aliases.Write(aliasName, newPath); err != nil {
		return "", err
	}
	return previous, nil
}

// currentPath prefers the alias target over the registry's recorded path,
// since the alias is what readers resolve.
func (s *Scheduler) currentPath(entry registry.Entry) string {
	if target, err := s.deps.Aliases.Read(entry.AliasName); err == nil {
		return target
	}
	return entry.IndexPath
}

// newVersionPath returns a directory name under the alias's versions
// directory that does not exist yet.
func (s *Scheduler) newVersionPath(aliasName string) (string, error) {
	base := filepath.Join(s.deps.VersionsDir, aliasName)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating versions directory: %w", apperrors.ErrBuildFailed, err)
	}
	n := s.now().UnixNano()
	for {
		dir := filepath.Join(base, fmt.Sprintf("v_%d", n))
		if _, err := os.Lstat(dir); os.IsNotExist(err) {
			return dir, nil
		}
		n++
	}
}

func (s *Scheduler) discard(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("removing failed version directory", "path", dir, "error", err)
	}
}

func stage(ctx context.Context, name apperrors.Stage, fn func(ctx context.Context) error) error {
	ctx, span := tracing.Start(ctx, string(name))
	err := fn(ctx)
	span.End(err)
	return err
}
