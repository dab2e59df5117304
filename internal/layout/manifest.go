package layout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestFile is written at the root of every version directory built by
// the refresh service.
const ManifestFile = ".cir-version.json"

// Manifest records what a version directory was built from.
type Manifest struct {
	Alias     string    `json:"alias"`
	Revision  string    `json:"revision"`
	BuiltAt   time.Time `json:"built_at"`
	Artifacts State     `json:"artifacts"`
}

func WriteManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// ReadManifest returns the manifest of dir. Versions created outside the
// refresh service have none, reported as os.ErrNotExist.
func ReadManifest(dir string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decoding manifest in %s: %w", dir, err)
	}
	return m, nil
}
