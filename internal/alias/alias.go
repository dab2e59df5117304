// Package alias persists the durable pointer from a logical index name to the
// index version directory currently serving queries.
//
// Each alias is a small JSON file. Updates are written to a temporary file in
// the same directory and renamed over the old pointer, so a concurrent reader
// sees either the old target or the new one and never a missing or torn file.
package alias

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
)

const fileSuffix = ".json"

// Pointer is the on-disk content of one alias file.
type Pointer struct {
	Alias       string    `json:"alias_name"`
	TargetPath  string    `json:"target_path"`
	CreatedAt   time.Time `json:"created_at"`
	LastRefresh time.Time `json:"last_refresh"`
}

// Manager reads and replaces alias pointer files under a single directory.
type Manager struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating aliases directory: %w", err)
	}
	return &Manager{
		dir:    dir,
		logger: slog.Default().With("component", "alias-manager"),
		now:    time.Now,
	}, nil
}

// Dir returns the directory holding the pointer files.
func (m *Manager) Dir() string {
	return m.dir
}

// Read returns the target path of name, or ErrAliasNotFound.
func (m *Manager) Read(name string) (string, error) {
	p, err := m.Get(name)
	if err != nil {
		return "", err
	}
	return p.TargetPath, nil
}

// Get returns the full pointer record of name.
func (m *Manager) Get(name string) (Pointer, error) {
	path, err := m.pointerPath(name)
	if err != nil {
		return Pointer{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Pointer{}, fmt.Errorf("%w: %s", apperrors.ErrAliasNotFound, name)
		}
		return Pointer{}, fmt.Errorf("reading alias %s: %w", name, err)
	}
	var p Pointer
	if err := json.Unmarshal(data, &p); err != nil {
		return Pointer{}, fmt.Errorf("decoding alias %s: %w", name, err)
	}
	if p.TargetPath == "" {
		return Pointer{}, fmt.Errorf("alias %s has empty target", name)
	}
	return p, nil
}

// Create registers a new alias. It fails with ErrAliasExists when name is
// already present.
func (m *Manager) Create(name, target string) error {
	path, err := m.pointerPath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", apperrors.ErrAliasExists, name)
	}
	now := m.now().UTC()
	if err := m.replace(path, Pointer{Alias: name, TargetPath: target, CreatedAt: now, LastRefresh: now}); err != nil {
		return err
	}
	m.logger.Info("alias created", "alias", name, "target", target)
	return nil
}

// Write atomically repoints name at target. The alias must already exist.
func (m *Manager) Write(name, target string) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("%w: empty alias target", apperrors.ErrInvalidInput)
	}
	current, err := m.Get(name)
	if err != nil {
		return err
	}
	path, _ := m.pointerPath(name)
	next := current
	next.TargetPath = target
	next.LastRefresh = m.now().UTC()
	if err := m.replace(path, next); err != nil {
		return err
	}
	m.logger.Info("alias swapped",
		"alias", name,
		"previous", current.TargetPath,
		"target", target,
	)
	return nil
}

// List returns every alias pointer sorted by name. Unreadable pointer files
// are logged and skipped.
func (m *Manager) List() ([]Pointer, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("listing aliases: %w", err)
	}
	pointers := make([]Pointer, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		p, err := m.Get(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			m.logger.Warn("skipping unreadable alias", "file", name, "error", err)
			continue
		}
		pointers = append(pointers, p)
	}
	sort.Slice(pointers, func(i, j int) bool {
		return pointers[i].Alias < pointers[j].Alias
	})
	return pointers, nil
}

// Targets returns the set of paths that some alias currently points at.
func (m *Manager) Targets() (map[string]struct{}, error) {
	pointers, err := m.List()
	if err != nil {
		return nil, err
	}
	targets := make(map[string]struct{}, len(pointers))
	for _, p := range pointers {
		targets[filepath.Clean(p.TargetPath)] = struct{}{}
	}
	return targets, nil
}

func (m *Manager) pointerPath(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: invalid alias name %q", apperrors.ErrInvalidInput, name)
	}
	return filepath.Join(m.dir, name+fileSuffix), nil
}

// replace writes p to a temp file beside path and renames it into place.
func (m *Manager) replace(path string, p Pointer) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding alias %s: %w", p.Alias, err)
	}
	f, err := os.CreateTemp(m.dir, "."+p.Alias+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp alias file: %w", err)
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing temp alias file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing temp alias file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp alias file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming alias file: %w", err)
	}
	syncDir(m.dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
