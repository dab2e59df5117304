// Package registry holds the durable metadata of every indexed source tree:
// its upstream, which optional sub-indexes are enabled, and the version path
// currently serving it.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
)

// UpstreamKind distinguishes remote git repositories from the single
// internally authored meta-directory.
type UpstreamKind int

const (
	UpstreamGit UpstreamKind = iota
	UpstreamMetaDirectory
)

func (k UpstreamKind) String() string {
	switch k {
	case UpstreamGit:
		return "git"
	case UpstreamMetaDirectory:
		return "meta-directory"
	default:
		return "unknown"
	}
}

// Upstream is the tagged source of an entry. SourcePath is the local clone
// for git entries and the meta-directory itself otherwise.
type Upstream struct {
	Kind       UpstreamKind
	URL        string
	SourcePath string
}

// Entry is one registered index.
type Entry struct {
	Name           string    `json:"repo_name"`
	AliasName      string    `json:"alias_name"`
	RepoURL        string    `json:"repo_url,omitempty"`
	ClonePath      string    `json:"clone_path"`
	IndexPath      string    `json:"index_path"`
	EnableTemporal bool      `json:"enable_temporal"`
	EnableSCIP     bool      `json:"enable_scip"`
	CreatedAt      time.Time `json:"created_at"`
	LastRefresh    time.Time `json:"last_refresh"`
}

// Upstream derives the kind from whether a URL is recorded. The alias name
// plays no part.
func (e Entry) Upstream() Upstream {
	if strings.TrimSpace(e.RepoURL) == "" {
		return Upstream{Kind: UpstreamMetaDirectory, SourcePath: e.ClonePath}
	}
	return Upstream{Kind: UpstreamGit, URL: e.RepoURL, SourcePath: e.ClonePath}
}

// Registration is the input shape of Register. An empty RepoURL registers
// the meta-directory.
type Registration struct {
	Name           string
	AliasName      string
	RepoURL        string
	ClonePath      string
	IndexPath      string
	EnableTemporal bool
	EnableSCIP     bool
}

func (r Registration) validate() error {
	if strings.TrimSpace(r.AliasName) == "" {
		return fmt.Errorf("%w: alias name is required", apperrors.ErrInvalidInput)
	}
	if strings.ContainsAny(r.AliasName, `/\`) {
		return fmt.Errorf("%w: alias name %q contains a path separator", apperrors.ErrInvalidInput, r.AliasName)
	}
	if strings.TrimSpace(r.ClonePath) == "" {
		return fmt.Errorf("%w: source path is required", apperrors.ErrInvalidInput)
	}
	return nil
}

func (r Registration) entry(now time.Time) Entry {
	name := r.Name
	if name == "" {
		name = r.AliasName
	}
	return Entry{
		Name:           name,
		AliasName:      r.AliasName,
		RepoURL:        strings.TrimSpace(r.RepoURL),
		ClonePath:      r.ClonePath,
		IndexPath:      r.IndexPath,
		EnableTemporal: r.EnableTemporal,
		EnableSCIP:     r.EnableSCIP,
		CreatedAt:      now,
		LastRefresh:    now,
	}
}

// Store is implemented by every registry backend. Readers may run
// concurrently; the refresh scheduler is the only writer of flags and index
// paths.
type Store interface {
	Get(ctx context.Context, alias string) (Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Register(ctx context.Context, reg Registration) (Entry, error)
	// UpdateFlags changes only the flags that are non-nil.
	UpdateFlags(ctx context.Context, alias string, temporal, scip *bool) error
	UpdateIndexPath(ctx context.Context, alias, path string, refreshedAt time.Time) error
}

// Bool returns a pointer to v, for UpdateFlags call sites.
func Bool(v bool) *bool {
	return &v
}
