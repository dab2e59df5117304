package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	cfg := fmt.Sprintf(`storage:
  dataDir: %s
refresh:
  indexCommand: ["sh", "-c", "mkdir -p .code-indexer/index && echo v > .code-indexer/index/vectors.bin"]
`, root)
	path := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return root, path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRegisterListResolve(t *testing.T) {
	root, cfgPath := writeConfig(t)
	source := filepath.Join(root, "src", "docs")
	require.NoError(t, os.MkdirAll(source, 0o755))
	index := filepath.Join(root, "initial")
	require.NoError(t, os.MkdirAll(filepath.Join(index, ".code-indexer", "index"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(index, ".code-indexer", "index", "vectors.bin"), []byte("v"), 0o644))

	out, err := run(t, "--config", cfgPath, "register", "docs", "--source", source, "--index-path", index, "--temporal")
	require.NoError(t, err)
	assert.Equal(t, "registered docs (meta-directory)\n", out)

	out, err = run(t, "--config", cfgPath, "--json", "list")
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "docs", entries[0]["alias_name"])
	assert.Equal(t, true, entries[0]["enable_temporal"])

	out, err = run(t, "--config", cfgPath, "resolve", "docs")
	require.NoError(t, err)
	assert.Equal(t, index+"\tsemantic\n", out)

	out, err = run(t, "--config", cfgPath, "reconcile", "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs: semantic\n", out)

	out, err = run(t, "--config", cfgPath, "--json", "list")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	assert.Equal(t, false, entries[0]["enable_temporal"], "flag corrected from disk")
}

func TestRefreshAndStatus(t *testing.T) {
	root, cfgPath := writeConfig(t)
	source := filepath.Join(root, "src", "meta")
	require.NoError(t, os.MkdirAll(source, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "README.md"), []byte("meta"), 0o644))

	_, err := run(t, "--config", cfgPath, "register", "meta", "--source", source)
	require.NoError(t, err)

	out, err := run(t, "--config", cfgPath, "refresh", "meta", "--notify=false")
	require.NoError(t, err)
	assert.Equal(t, "meta: refreshed\n", out)

	orphan := filepath.Join(root, "versions", "meta", "v_1")
	require.NoError(t, os.MkdirAll(orphan, 0o755))
	out, err = run(t, "--config", cfgPath, "--json", "status")
	require.NoError(t, err)
	var view struct {
		Aliases []map[string]any `json:"aliases"`
		Orphans []string         `json:"orphans"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Len(t, view.Aliases, 1)
	assert.Equal(t, "meta", view.Aliases[0]["alias_name"])
	assert.Equal(t, []string{orphan}, view.Orphans)

	_, err = run(t, "--config", cfgPath, "refresh", "ghost")
	assert.ErrorContains(t, err, "1 of 1 refreshes failed")
}
