// Package updater brings the source tree of a registered entry up to date.
// Git repositories are pulled from their upstream; the meta-directory is
// regenerated from the registry it describes.
package updater

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/registry"
)

// Updater is the per-entry sync strategy used by the refresh scheduler.
type Updater interface {
	// HasChanges is a cheap, side-effect-free check against the live
	// version.
	HasChanges(ctx context.Context) (bool, error)
	// Update performs the sync. It may be slow.
	Update(ctx context.Context) error
	// SourcePath is valid after Update.
	SourcePath() string
	// Revision identifies the synced source and is recorded in the
	// manifest of the version built from it.
	Revision(ctx context.Context) (string, error)
}

type Options struct {
	Registry   registry.Store
	Layout     layout.Layout
	GitTimeout time.Duration
	Exclude    []string
}

// For selects the strategy from the entry's upstream kind. The alias name
// is never consulted.
func For(entry registry.Entry, opts Options) Updater {
	up := entry.Upstream()
	if up.Kind == registry.UpstreamMetaDirectory {
		return NewMetaDirectory(up.SourcePath, entry.IndexPath, opts)
	}
	return NewGitPull(up.SourcePath, builtRevision(entry.IndexPath), opts.GitTimeout)
}

func builtRevision(indexPath string) string {
	if indexPath == "" {
		return ""
	}
	m, err := layout.ReadManifest(indexPath)
	if err != nil {
		return ""
	}
	return m.Revision
}
