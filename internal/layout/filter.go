package layout

import (
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// Excluded reports whether rel, relative to a source or version root, is
// left out of copies and content signatures. Artifact locations and the
// manifest are always excluded; patterns are doublestar globs.
func (l Layout) Excluded(rel string, patterns []string) bool {
	rel = filepath.Clean(rel)
	if rel == ManifestFile || l.IsArtifact(rel) {
		return true
	}
	slash := filepath.ToSlash(rel)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, slash); ok {
			return true
		}
	}
	return false
}
