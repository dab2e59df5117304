package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
)

// CatalogFile is the registry listing kept inside the meta-directory.
const CatalogFile = "repos.json"

// MetaDirectory regenerates the meta-directory from the registry. Its
// changes are local edits plus catalog drift, detected by a content
// signature rather than a remote ref.
type MetaDirectory struct {
	dir      string
	livePath string
	store    registry.Store
	layout   layout.Layout
	exclude  []string
	logger   *slog.Logger
}

func NewMetaDirectory(dir, livePath string, opts Options) *MetaDirectory {
	return &MetaDirectory{
		dir:      dir,
		livePath: livePath,
		store:    opts.Registry,
		layout:   opts.Layout,
		exclude:  opts.Exclude,
		logger:   slog.Default().With("component", "updater", "strategy", "meta-directory"),
	}
}

// HasChanges signs the meta-directory as Update would leave it and compares
// the result with the live version.
func (m *MetaDirectory) HasChanges(ctx context.Context) (bool, error) {
	catalog, err := m.renderCatalog(ctx)
	if err != nil {
		return false, err
	}
	want, err := m.sign(m.dir, map[string][]byte{CatalogFile: catalog})
	if err != nil {
		return false, err
	}
	if m.livePath == "" {
		return true, nil
	}
	have := builtRevision(m.livePath)
	if have == "" {
		have, err = m.sign(m.livePath, nil)
		if os.IsNotExist(err) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
	m.logger.Debug("checked meta-directory", "signature", want, "live", have)
	return want != have, nil
}

// Update rewrites the catalog file from the current registry contents.
func (m *MetaDirectory) Update(ctx context.Context) error {
	catalog, err := m.renderCatalog(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrUpdateFailed, err)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating meta-directory: %v", apperrors.ErrUpdateFailed, err)
	}
	path := filepath.Join(m.dir, CatalogFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, catalog, 0o644); err != nil {
		return fmt.Errorf("%w: writing catalog: %v", apperrors.ErrUpdateFailed, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: replacing catalog: %v", apperrors.ErrUpdateFailed, err)
	}
	return nil
}

func (m *MetaDirectory) SourcePath() string {
	return m.dir
}

func (m *MetaDirectory) Revision(ctx context.Context) (string, error) {
	return m.sign(m.dir, nil)
}

type catalogRepo struct {
	Alias          string `json:"alias_name"`
	Name           string `json:"repo_name"`
	URL            string `json:"repo_url"`
	EnableTemporal bool   `json:"enable_temporal"`
	EnableSCIP     bool   `json:"enable_scip"`
}

// renderCatalog lists the git entries only. Index paths and timestamps are
// left out so that refreshing another repo does not change the catalog.
func (m *MetaDirectory) renderCatalog(ctx context.Context) ([]byte, error) {
	entries, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing registry: %w", err)
	}
	repos := make([]catalogRepo, 0, len(entries))
	for _, e := range entries {
		if e.Upstream().Kind != registry.UpstreamGit {
			continue
		}
		repos = append(repos, catalogRepo{
			Alias:          e.AliasName,
			Name:           e.Name,
			URL:            e.RepoURL,
			EnableTemporal: e.EnableTemporal,
			EnableSCIP:     e.EnableSCIP,
		})
	}
	data, err := json.MarshalIndent(struct {
		Repos []catalogRepo `json:"repos"`
	}{repos}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// sign hashes the relative path and content of every regular file under
// root. overlay replaces or adds files by relative slash path.
func (m *MetaDirectory) sign(root string, overlay map[string][]byte) (string, error) {
	if _, err := os.Stat(root); err != nil {
		return "", err
	}
	var rels []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		if d.IsDir() && d.Name() == ".git" {
			return fs.SkipDir
		}
		if m.layout.Excluded(rel, m.exclude) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			rels = append(rels, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walking %s: %w", root, err)
	}
	for rel := range overlay {
		if !contains(rels, rel) {
			rels = append(rels, rel)
		}
	}
	sort.Strings(rels)

	h := xxhash.New()
	for _, rel := range rels {
		if data, ok := overlay[rel]; ok {
			fmt.Fprintf(h, "%s\x00%d\x00", rel, len(data))
			h.Write(data)
			continue
		}
		if err := hashFile(h, root, rel); err != nil {
			return "", err
		}
	}
	return strconv.FormatUint(h.Sum64(), 16), nil
}

func hashFile(w io.Writer, root, rel string) error {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\x00%d\x00", rel, info.Size())
	_, err = io.Copy(w, f)
	return err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
