package refresh

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/alias"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/builder"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/cleanup"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/tracker"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/updater"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
)

const indexScript = `mkdir -p .code-indexer/index .code-indexer/tantivy_index
echo v > .code-indexer/index/vectors.bin
echo t > .code-indexer/tantivy_index/meta.json
if [ "$0" = "--index-commits" ]; then
  mkdir -p .code-indexer/index/code-indexer-temporal
  echo c > .code-indexer/index/code-indexer-temporal/commits.json
fi`

const scipScript = `mkdir -p .code-indexer/scip && echo s > .code-indexer/scip/index.scip`

type fakeUpdater struct {
	source    string
	changed   bool
	detectErr error
	updateErr error
	checks    atomic.Int32
	updates   atomic.Int32
}

func (f *fakeUpdater) HasChanges(ctx context.Context) (bool, error) {
	f.checks.Add(1)
	return f.changed, f.detectErr
}

func (f *fakeUpdater) Update(ctx context.Context) error {
	f.updates.Add(1)
	return f.updateErr
}

func (f *fakeUpdater) SourcePath() string { return f.source }

func (f *fakeUpdater) Revision(ctx context.Context) (string, error) { return "rev-1", nil }

// gatedUpdater holds Update until release is closed.
type gatedUpdater struct {
	fakeUpdater
	once     sync.Once
	entered  chan struct{}
	release  chan struct{}
	canceled atomic.Int32
}

func newGatedUpdater(source string) *gatedUpdater {
	return &gatedUpdater{
		fakeUpdater: fakeUpdater{source: source, changed: true},
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedUpdater) Update(ctx context.Context) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if ctx.Err() != nil {
		g.canceled.Add(1)
	}
	return g.fakeUpdater.Update(ctx)
}

type harness struct {
	t        *testing.T
	root     string
	cfg      *config.Config
	live     *config.Live
	layout   layout.Layout
	store    *registry.FileStore
	aliases  *alias.Manager
	tracker  *tracker.Tracker
	cleanup  *cleanup.Manager
	sched    *Scheduler
	updaters map[string]updater.Updater
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Storage.DataDir = root
	cfg.Storage.AliasesDir = filepath.Join(root, "aliases")
	cfg.Storage.VersionsDir = filepath.Join(root, "versions")
	cfg.Storage.RegistryFile = filepath.Join(root, "global_registry.json")
	cfg.Refresh.IndexCommand = []string{"sh", "-c", indexScript}
	cfg.Refresh.ScipCommand = []string{"sh", "-c", scipScript}
	cfg.Refresh.IndexTimeout = 10 * time.Second
	cfg.Refresh.ScipTimeout = 10 * time.Second
	cfg.Refresh.CleanupGracePeriod = 0
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{t: t, root: root, cfg: cfg, updaters: make(map[string]updater.Updater)}
	h.live = config.NewLive("", cfg)
	h.layout = layout.FromConfig(cfg.Layout)

	var err error
	h.store, err = registry.NewFileStore(cfg.Storage.RegistryFile)
	require.NoError(t, err)
	h.aliases, err = alias.NewManager(cfg.Storage.AliasesDir)
	require.NoError(t, err)
	h.tracker = tracker.New(nil)
	h.cleanup = cleanup.New(LiveTargets(h.aliases, h.store), h.tracker, cfg.Refresh.CleanupGracePeriod, nil)

	h.sched = New(Deps{
		Registry: h.store,
		Aliases:  h.aliases,
		Cleanup:  h.cleanup,
		Builder:  builder.New(cfg.Refresh, h.layout, h.live, nil),
		Layout:   h.layout,
		Config:   h.live,
		Updaters: func(e registry.Entry) updater.Updater {
			if u, ok := h.updaters[e.AliasName]; ok {
				return u
			}
			return updater.For(e, updater.Options{Registry: h.store, Layout: h.layout})
		},
		VersionsDir: cfg.Storage.VersionsDir,
		StopTimeout: 2 * time.Second,
	})
	return h
}

// register creates a source tree, an initial version P0 with the given
// artifacts, the registry entry and the alias.
func (h *harness) register(name, url string, flags layout.State, artifacts layout.State) (source, p0 string) {
	h.t.Helper()
	source = filepath.Join(h.root, "sources", name)
	require.NoError(h.t, os.MkdirAll(source, 0o755))
	require.NoError(h.t, os.WriteFile(filepath.Join(source, "README.md"), []byte(name), 0o644))

	p0 = filepath.Join(h.root, "initial", name)
	h.writeArtifacts(p0, artifacts)

	_, err := h.store.Register(context.Background(), registry.Registration{
		AliasName:      name,
		RepoURL:        url,
		ClonePath:      source,
		IndexPath:      p0,
		EnableTemporal: flags.Temporal,
		EnableSCIP:     flags.SCIP,
	})
	require.NoError(h.t, err)
	require.NoError(h.t, h.aliases.Create(name, p0))
	return source, p0
}

func (h *harness) writeArtifacts(dir string, st layout.State) {
	h.t.Helper()
	require.NoError(h.t, os.MkdirAll(dir, 0o755))
	put := func(rel string) {
		path := filepath.Join(dir, rel, "data.bin")
		require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(h.t, os.WriteFile(path, []byte("x"), 0o644))
	}
	if st.Semantic {
		put(h.layout.Semantic)
	}
	if st.FTS {
		put(h.layout.FTS)
	}
	if st.Temporal {
		put(h.layout.Temporal)
	}
	if st.SCIP {
		put(h.layout.SCIP)
	}
}

func (h *harness) pointerBytes(name string) []byte {
	h.t.Helper()
	data, err := os.ReadFile(filepath.Join(h.cfg.Storage.AliasesDir, name+".json"))
	require.NoError(h.t, err)
	return data
}

func (h *harness) entry(name string) registry.Entry {
	h.t.Helper()
	e, err := h.store.Get(context.Background(), name)
	require.NoError(h.t, err)
	return e
}

func (h *harness) versionDirs(name string) []string {
	h.t.Helper()
	entries, err := os.ReadDir(filepath.Join(h.cfg.Storage.VersionsDir, name))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(h.t, err)
	var dirs []string
	for _, e := range entries {
		dirs = append(dirs, e.Name())
	}
	return dirs
}

var semanticOnly = layout.State{Semantic: true}

func TestLifecycle_Idempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, nil)

	assert.False(t, h.sched.IsRunning())
	h.sched.Stop()

	h.sched.Start()
	h.sched.Start()
	assert.True(t, h.sched.IsRunning())

	start := time.Now()
	h.sched.Stop()
	h.sched.Stop()
	assert.False(t, h.sched.IsRunning())
	assert.Less(t, time.Since(start), time.Second, "stop must interrupt the hour-long wait")
}

func TestLifecycle_RestartAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, nil)
	h.sched.Start()
	h.sched.Stop()
	h.sched.Start()
	assert.True(t, h.sched.IsRunning())
	h.sched.Stop()
	assert.False(t, h.sched.IsRunning())
}

func TestLifecycle_StartWaitsForLoopLeftByTimedOutStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, func(cfg *config.Config) { cfg.Refresh.Interval = 20 * time.Millisecond })
	source, _ := h.register("docs", "https://example.com/docs.git", layout.State{}, semanticOnly)
	gate := newGatedUpdater(source)
	h.updaters["docs"] = gate
	h.sched.deps.StopTimeout = 50 * time.Millisecond

	h.sched.Start()
	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("tick did not start")
	}
	h.sched.Stop()
	assert.False(t, h.sched.IsRunning())

	restarted := make(chan struct{})
	go func() {
		h.sched.Start()
		close(restarted)
	}()
	select {
	case <-restarted:
		t.Fatal("second loop started while the first was still refreshing")
	case <-time.After(100 * time.Millisecond):
	}

	close(gate.release)
	select {
	case <-restarted:
	case <-time.After(10 * time.Second):
		t.Fatal("start did not resume after the old loop exited")
	}
	assert.True(t, h.sched.IsRunning())

	h.sched.deps.StopTimeout = 10 * time.Second
	h.sched.Stop()
	assert.False(t, h.sched.IsRunning())
}

func TestLoop_TicksAtConfiguredInterval(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, func(c *config.Config) { c.Refresh.Interval = 20 * time.Millisecond })
	source, _ := h.register("docs", "https://example.com/docs.git", layout.State{}, semanticOnly)
	fake := &fakeUpdater{source: source}
	h.updaters["docs"] = fake

	assert.Equal(t, 20*time.Millisecond, h.sched.RefreshInterval())
	h.sched.Start()
	require.Eventually(t, func() bool { return fake.checks.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	h.sched.Stop()
	assert.False(t, h.sched.Status().LastTick.IsZero())
}

func TestRefreshRepo_NoChanges(t *testing.T) {
	h := newHarness(t, nil)
	source, p0 := h.register("docs", "https://example.com/docs.git", layout.State{}, semanticOnly)
	fake := &fakeUpdater{source: source, changed: false}
	h.updaters["docs"] = fake
	before := h.pointerBytes("docs")

	outcome, err := h.sched.RefreshRepo(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, int32(0), fake.updates.Load(), "no update without changes")

	target, err := h.aliases.Read("docs")
	require.NoError(t, err)
	assert.Equal(t, p0, target)
	assert.Equal(t, before, h.pointerBytes("docs"))
	assert.Empty(t, h.cleanup.Pending())
	assert.Empty(t, h.versionDirs("docs"))
}

func TestRefreshRepo_AtomicPromotion(t *testing.T) {
	h := newHarness(t, nil)
	source, p0 := h.register("docs", "https://example.com/docs.git", layout.State{}, semanticOnly)
	h.updaters["docs"] = &fakeUpdater{source: source, changed: true}

	outcome, err := h.sched.RefreshRepo(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, outcome)

	p1, err := h.aliases.Read("docs")
	require.NoError(t, err)
	assert.NotEqual(t, p0, p1)
	assert.Equal(t, filepath.Join(h.cfg.Storage.VersionsDir, "docs"), filepath.Dir(p1))
	assert.FileExists(t, filepath.Join(p1, "README.md"))
	assert.DirExists(t, p0, "previous version must not be deleted at swap time")
	assert.Equal(t, []string{p0}, h.cleanup.Pending())

	assert.Equal(t, p1, h.entry("docs").IndexPath)
	m, err := layout.ReadManifest(p1)
	require.NoError(t, err)
	assert.Equal(t, "rev-1", m.Revision)
	assert.True(t, m.Artifacts.Semantic)

	st := h.sched.Status()
	require.Len(t, st.Repos, 1)
	assert.Equal(t, OutcomeRefreshed, st.Repos[0].Outcome)
	assert.Equal(t, p1, st.Repos[0].IndexPath)
}

func TestRefreshRepo_CallerCancelDoesNotAbortSharedCycle(t *testing.T) {
	h := newHarness(t, nil)
	source, p0 := h.register("docs", "https://example.com/docs.git", layout.State{}, semanticOnly)
	gate := newGatedUpdater(source)
	h.updaters["docs"] = gate

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := h.sched.RefreshRepo(ctx, "docs")
		first <- err
	}()
	<-gate.entered

	type result struct {
		outcome Outcome
		err     error
	}
	second := make(chan result, 1)
	go func() {
		o, err := h.sched.RefreshRepo(context.Background(), "docs")
		second <- result{o, err}
	}()

	cancel()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled caller kept waiting")
	}

	close(gate.release)
	select {
	case r := <-second:
		require.NoError(t, r.err)
		assert.Equal(t, OutcomeRefreshed, r.outcome)
	case <-time.After(10 * time.Second):
		t.Fatal("shared cycle did not finish")
	}
	assert.Zero(t, gate.canceled.Load(), "cycle must not see the caller's cancellation")

	p1, err := h.aliases.Read("docs")
	require.NoError(t, err)
	assert.NotEqual(t, p0, p1)
}

func TestRefreshRepo_PrimaryBuildFailureLeavesAliasUntouched(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Refresh.IndexCommand = []string{"sh", "-c", "exit 0"}
	})
	source, _ := h.register("docs", "https://example.com/docs.git", layout.State{}, semanticOnly)
	h.updaters["docs"] = &fakeUpdater{source: source, changed: true}
	before := h.pointerBytes("docs")

	outcome, err := h.sched.RefreshRepo(context.Background(), "docs")
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.True(t, errors.Is(err, apperrors.ErrBuildFailed))
	assert.Equal(t, apperrors.StageBuild, apperrors.StageOf(err))

	assert.Equal(t, before, h.pointerBytes("docs"))
	assert.Empty(t, h.cleanup.Pending())
	assert.Empty(t, h.versionDirs("docs"), "failed staging directory is removed")
}

func TestRefreshRepo_ScipFailureLeavesAliasUntouched(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Refresh.ScipCommand = []string{"sh", "-c", "echo scip-go crashed >&2; exit 2"}
	})
	source, _ := h.register("docs", "https://example.com/docs.git",
		layout.State{SCIP: true}, layout.State{Semantic: true, SCIP: true})
	h.updaters["docs"] = &fakeUpdater{source: source, changed: true}
	before := h.pointerBytes("docs")

	outcome, err := h.sched.RefreshRepo(context.Background(), "docs")
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.True(t, errors.Is(err, apperrors.ErrScipBuildFailed))
	assert.Contains(t, err.Error(), "SCIP indexing failed: ")
	assert.Equal(t, apperrors.StageScip, apperrors.StageOf(err))

	assert.Equal(t, before, h.pointerBytes("docs"))
	assert.Empty(t, h.cleanup.Pending())
	assert.Empty(t, h.versionDirs("docs"))
}

func TestRefreshRepo_ScipBuiltWhenEnabled(t *testing.T) {
	h := newHarness(t, nil)
	source, _ := h.register("docs", "https://example.com/docs.git",
		layout.State{SCIP: true}, layout.State{Semantic: true, SCIP: true})
	h.updaters["docs"] = &fakeUpdater{source: source, changed: true}

	_, err := h.sched.RefreshRepo(context.Background(), "docs")
	require.NoError(t, err)
	p1, err := h.aliases.Read("docs")
	require.NoError(t, err)
	st, err := h.layout.Detect(p1)
	require.NoError(t, err)
	assert.True(t, st.SCIP)
	assert.True(t, h.entry("docs").EnableSCIP)
}

func TestRefreshRepo_UpdateFailure(t *testing.T) {
	h := newHarness(t, nil)
	source, _ := h.register("docs", "https://example.com/docs.git", layout.State{}, semanticOnly)
	h.updaters["docs"] = &fakeUpdater{source: source, changed: true, updateErr: apperrors.ErrUpdateFailed}
	before := h.pointerBytes("docs")

	outcome, err := h.sched.RefreshRepo(context.Background(), "docs")
	assert.Equal(t, OutcomeFailed, outcome)
	assert.True(t, errors.Is(err, apperrors.ErrUpdateFailed))
	assert.Equal(t, apperrors.StageUpdate, apperrors.StageOf(err))
	assert.Equal(t, before, h.pointerBytes("docs"))
	assert.Empty(t, h.cleanup.Pending())
}

func TestRefreshRepo_UnknownAlias(t *testing.T) {
	h := newHarness(t, nil)
	outcome, err := h.sched.RefreshRepo(context.Background(), "missing")
	assert.Equal(t, OutcomeFailed, outcome)
	assert.True(t, errors.Is(err, apperrors.ErrRepoNotFound))
	assert.Equal(t, apperrors.StageResolve, apperrors.StageOf(err))
}

func TestReconcile_Bidirectional(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	up, _ := h.register("gains", "https://example.com/a.git", layout.State{}, layout.State{Semantic: true, Temporal: true})
	h.updaters["gains"] = &fakeUpdater{source: up}
	down, _ := h.register("loses", "https://example.com/b.git", layout.State{Temporal: true, SCIP: true}, semanticOnly)
	h.updaters["loses"] = &fakeUpdater{source: down}

	_, err := h.sched.RefreshRepo(ctx, "gains")
	require.NoError(t, err)
	assert.True(t, h.entry("gains").EnableTemporal, "artifact present, flag enabled")
	assert.False(t, h.entry("gains").EnableSCIP)

	_, err = h.sched.RefreshRepo(ctx, "loses")
	require.NoError(t, err)
	assert.False(t, h.entry("loses").EnableTemporal, "artifact absent, flag disabled")
	assert.False(t, h.entry("loses").EnableSCIP)
}

func TestReconcile_UnreadablePathKeepsFlags(t *testing.T) {
	h := newHarness(t, nil)
	source, p0 := h.register("docs", "https://example.com/docs.git", layout.State{Temporal: true}, layout.State{Semantic: true, Temporal: true})
	h.updaters["docs"] = &fakeUpdater{source: source}
	require.NoError(t, os.RemoveAll(p0))

	outcome, err := h.sched.RefreshRepo(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.True(t, h.entry("docs").EnableTemporal)

	_, err = h.sched.Reconcile(context.Background(), "docs")
	assert.Error(t, err)
	assert.True(t, h.entry("docs").EnableTemporal)
}

func TestReconcile_PostBuildFlagsMatchArtifacts(t *testing.T) {
	h := newHarness(t, nil)
	source, _ := h.register("docs", "https://example.com/docs.git",
		layout.State{Temporal: true}, layout.State{Semantic: true, Temporal: true})
	h.updaters["docs"] = &fakeUpdater{source: source, changed: true}

	_, err := h.sched.RefreshRepo(context.Background(), "docs")
	require.NoError(t, err)
	p1, err := h.aliases.Read("docs")
	require.NoError(t, err)
	st, err := h.layout.Detect(p1)
	require.NoError(t, err)
	assert.True(t, st.Temporal, "temporal args are passed to the index command")
	assert.True(t, h.entry("docs").EnableTemporal)
}

func TestCleanup_WaitsForLeases(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	source, p0 := h.register("docs", "https://example.com/docs.git", layout.State{}, semanticOnly)
	h.updaters["docs"] = &fakeUpdater{source: source, changed: true}

	lease := h.tracker.Acquire(p0)
	_, err := h.sched.RefreshRepo(ctx, "docs")
	require.NoError(t, err)

	stats := h.cleanup.Reap(ctx)
	assert.Equal(t, 0, stats.Deleted)
	assert.DirExists(t, p0, "leased version survives the reaper")

	lease.Release()
	stats = h.cleanup.Reap(ctx)
	assert.Equal(t, 1, stats.Deleted)
	assert.NoDirExists(t, p0)
	assert.Empty(t, h.cleanup.Pending())
}

func TestTick_FailureDoesNotBlockOtherAliases(t *testing.T) {
	h := newHarness(t, nil)
	brokenSrc, brokenP0 := h.register("broken", "https://example.com/a.git", layout.State{}, semanticOnly)
	h.updaters["broken"] = &fakeUpdater{source: brokenSrc, changed: true, detectErr: errors.New("remote unreachable")}
	okSrc, okP0 := h.register("healthy", "https://example.com/b.git", layout.State{}, semanticOnly)
	h.updaters["healthy"] = &fakeUpdater{source: okSrc, changed: true}

	h.sched.tick(context.Background(), make(chan struct{}))

	target, err := h.aliases.Read("broken")
	require.NoError(t, err)
	assert.Equal(t, brokenP0, target)

	target, err = h.aliases.Read("healthy")
	require.NoError(t, err)
	assert.NotEqual(t, okP0, target)

	// The tick ends with a reap; grace is zero and nothing leases okP0.
	assert.NoDirExists(t, okP0)

	st := h.sched.Status()
	require.Len(t, st.Repos, 2)
	assert.Equal(t, OutcomeFailed, st.Repos[0].Outcome)
	assert.Contains(t, st.Repos[0].Error, "remote unreachable")
	assert.Equal(t, OutcomeRefreshed, st.Repos[1].Outcome)
}

func TestRecoverOrphans(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	source, _ := h.register("docs", "https://example.com/docs.git", layout.State{}, semanticOnly)
	h.updaters["docs"] = &fakeUpdater{source: source, changed: true}
	_, err := h.sched.RefreshRepo(ctx, "docs")
	require.NoError(t, err)
	live, err := h.aliases.Read("docs")
	require.NoError(t, err)

	orphan := filepath.Join(h.cfg.Storage.VersionsDir, "docs", "v_1")
	require.NoError(t, os.MkdirAll(orphan, 0o755))

	n, err := h.sched.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, h.cleanup.IsPending(orphan))
	assert.False(t, h.cleanup.IsPending(live))

	n, err = h.sched.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already pending")
}

func TestRefreshRepo_MetaDirectoryByUpstreamKind(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	// Named like a regular repo, but without an upstream URL.
	metaSrc, _ := h.register("docs", "", layout.State{}, semanticOnly)
	_, _ = h.register("backend", "https://example.com/backend.git", layout.State{}, semanticOnly)
	h.updaters["backend"] = &fakeUpdater{}

	outcome, err := h.sched.RefreshRepo(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, outcome, "P0 was never built from the catalog")
	assert.FileExists(t, filepath.Join(metaSrc, updater.CatalogFile))

	p1, err := h.aliases.Read("docs")
	require.NoError(t, err)
	catalog, err := os.ReadFile(filepath.Join(p1, updater.CatalogFile))
	require.NoError(t, err)
	assert.Contains(t, string(catalog), "backend")

	outcome, err = h.sched.RefreshRepo(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
}

// The scenario: "docs" has an upstream with one new commit and a current
// version holding only the semantic index.
func TestRefreshRepo_DocsEndToEnd(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("skipping: git not installed")
	}
	h := newHarness(t, nil)
	ctx := context.Background()

	seed := filepath.Join(h.root, "seed")
	upstream := filepath.Join(h.root, "upstream.git")
	clone := filepath.Join(h.root, "clone")
	runGit(t, h.root, "init", seed)
	commitFile(t, seed, "guide.md", "v1")
	runGit(t, h.root, "clone", "--bare", seed, upstream)
	runGit(t, h.root, "clone", upstream, clone)

	p0 := filepath.Join(h.root, "initial", "docs")
	h.writeArtifacts(p0, semanticOnly)
	_, err := h.store.Register(ctx, registry.Registration{
		AliasName: "docs",
		RepoURL:   upstream,
		ClonePath: clone,
		IndexPath: p0,
	})
	require.NoError(t, err)
	require.NoError(t, h.aliases.Create("docs", p0))

	commitFile(t, seed, "guide.md", "v2")
	runGit(t, seed, "push", upstream, "HEAD")

	outcome, err := h.sched.RefreshRepo(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, outcome)

	p1, err := h.aliases.Read("docs")
	require.NoError(t, err)
	assert.NotEqual(t, p0, p1)
	st, err := h.layout.Detect(p1)
	require.NoError(t, err)
	assert.Equal(t, layout.State{Semantic: true, FTS: true}, st)
	data, err := os.ReadFile(filepath.Join(p1, "guide.md"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	assert.Contains(t, h.cleanup.Pending(), p0)
	e := h.entry("docs")
	assert.False(t, e.EnableTemporal)
	assert.False(t, e.EnableSCIP)

	outcome, err = h.sched.RefreshRepo(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome, "the built revision is recorded")
}

func TestRefreshRepo_RetriesAfterFailedBuild(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("skipping: git not installed")
	}
	var failMarker string
	h := newHarness(t, func(cfg *config.Config) {
		failMarker = filepath.Join(cfg.Storage.DataDir, "fail-build")
		cfg.Refresh.IndexCommand = []string{"sh", "-c", "if [ -f " + failMarker + " ]; then exit 1; fi\n" + indexScript}
	})
	ctx := context.Background()

	seed := filepath.Join(h.root, "seed")
	upstream := filepath.Join(h.root, "upstream.git")
	clone := filepath.Join(h.root, "clone")
	runGit(t, h.root, "init", seed)
	commitFile(t, seed, "guide.md", "v1")
	runGit(t, h.root, "clone", "--bare", seed, upstream)
	runGit(t, h.root, "clone", upstream, clone)

	p0 := filepath.Join(h.root, "initial", "docs")
	h.writeArtifacts(p0, semanticOnly)
	_, err := h.store.Register(ctx, registry.Registration{
		AliasName: "docs",
		RepoURL:   upstream,
		ClonePath: clone,
		IndexPath: p0,
	})
	require.NoError(t, err)
	require.NoError(t, h.aliases.Create("docs", p0))

	commitFile(t, seed, "guide.md", "v2")
	runGit(t, seed, "push", upstream, "HEAD")

	require.NoError(t, os.WriteFile(failMarker, nil, 0o644))
	outcome, err := h.sched.RefreshRepo(ctx, "docs")
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.True(t, errors.Is(err, apperrors.ErrBuildFailed))
	target, err := h.aliases.Read("docs")
	require.NoError(t, err)
	assert.Equal(t, p0, target)

	// The pull already happened; the unbuilt change must still be picked up.
	require.NoError(t, os.Remove(failMarker))
	outcome, err = h.sched.RefreshRepo(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRefreshed, outcome)

	p1, err := h.aliases.Read("docs")
	require.NoError(t, err)
	assert.NotEqual(t, p0, p1)
	data, err := os.ReadFile(filepath.Join(p1, "guide.md"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
	assert.Contains(t, h.cleanup.Pending(), p0)
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
}

func commitFile(t *testing.T, repo, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(repo, name), []byte(content), 0o644))
	runGit(t, repo, "add", name)
	runGit(t, repo, "commit", "-m", "update "+name)
}
