// Package layout knows where the sub-index artifacts of an index version
// live on disk and detects which of them are present.
package layout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/config"
)

// Layout holds artifact locations relative to an index version directory.
type Layout struct {
	Semantic string
	FTS      string
	Temporal string
	SCIP     string
}

func FromConfig(cfg config.LayoutConfig) Layout {
	return Layout{
		Semantic: filepath.FromSlash(cfg.Semantic),
		FTS:      filepath.FromSlash(cfg.FTS),
		Temporal: filepath.FromSlash(cfg.Temporal),
		SCIP:     filepath.FromSlash(cfg.SCIP),
	}
}

// Paths returns the configured artifact locations, skipping empty ones.
func (l Layout) Paths() []string {
	paths := make([]string, 0, 4)
	for _, p := range []string{l.Semantic, l.FTS, l.Temporal, l.SCIP} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// IsArtifact reports whether rel (relative to a version directory) is one of
// the artifact locations or lies inside one.
func (l Layout) IsArtifact(rel string) bool {
	rel = filepath.Clean(rel)
	for _, p := range l.Paths() {
		if rel == p {
			return true
		}
		if r, err := filepath.Rel(p, rel); err == nil && r != ".." && !startsWithParent(r) {
			return true
		}
	}
	return false
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

// State is the set of sub-index artifacts found in one directory.
type State struct {
	Semantic bool `json:"semantic"`
	FTS      bool `json:"fts"`
	Temporal bool `json:"temporal"`
	SCIP     bool `json:"scip"`
}

// Detect scans dir for each artifact. An artifact counts as present when its
// location is a non-empty directory. The temporal index may be nested inside
// the semantic location, so it is not counted as semantic content.
func (l Layout) Detect(dir string) (State, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return State{}, fmt.Errorf("inspecting index directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return State{}, fmt.Errorf("index path %s is not a directory", dir)
	}

	var st State
	var errs []error
	check := func(rel string, exclude string) bool {
		if rel == "" {
			return false
		}
		ok, err := nonEmptyDir(filepath.Join(dir, rel), exclude)
		if err != nil {
			errs = append(errs, err)
		}
		return ok
	}
	var nested string
	if l.Temporal != "" && filepath.Dir(l.Temporal) == l.Semantic {
		nested = filepath.Base(l.Temporal)
	}
	st.Semantic = check(l.Semantic, nested)
	st.FTS = check(l.FTS, "")
	st.Temporal = check(l.Temporal, "")
	st.SCIP = check(l.SCIP, "")
	if len(errs) > 0 {
		return st, fmt.Errorf("scanning %s: %v", dir, errs[0])
	}
	return st, nil
}

// HasSemantic reports whether the primary artifact exists under dir.
func (l Layout) HasSemantic(dir string) bool {
	st, err := l.Detect(dir)
	return err == nil && st.Semantic
}

func nonEmptyDir(path, exclude string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		if info, statErr := os.Stat(path); statErr == nil && !info.IsDir() {
			return false, nil
		}
		return false, err
	}
	for _, e := range entries {
		if e.Name() != exclude {
			return true, nil
		}
	}
	return false, nil
}
