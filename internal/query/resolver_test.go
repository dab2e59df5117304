package query

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/alias"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/tracker"
	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
)

func TestWithIndex_HoldsLeaseAcrossSwap(t *testing.T) {
	aliases, err := alias.NewManager(filepath.Join(t.TempDir(), "aliases"))
	require.NoError(t, err)
	require.NoError(t, aliases.Create("docs", "/idx/v1"))
	leases := tracker.New(nil)
	r := NewResolver(aliases, leases)

	err = r.WithIndex(context.Background(), "docs", func(ctx context.Context, path string) error {
		assert.Equal(t, "/idx/v1", path)
		require.NoError(t, aliases.Write("docs", "/idx/v2"))
		assert.Equal(t, 1, leases.Refcount("/idx/v1"), "old version stays pinned")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, leases.Refcount("/idx/v1"))

	err = r.WithIndex(context.Background(), "docs", func(ctx context.Context, path string) error {
		assert.Equal(t, "/idx/v2", path)
		return nil
	})
	require.NoError(t, err)
}

func TestWithIndex_ReleasesOnError(t *testing.T) {
	aliases, err := alias.NewManager(filepath.Join(t.TempDir(), "aliases"))
	require.NoError(t, err)
	require.NoError(t, aliases.Create("docs", "/idx/v1"))
	leases := tracker.New(nil)
	r := NewResolver(aliases, leases)

	boom := errors.New("query failed")
	err = r.WithIndex(context.Background(), "docs", func(ctx context.Context, path string) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, leases.Snapshot())
}

func TestAcquire_UnknownAlias(t *testing.T) {
	aliases, err := alias.NewManager(filepath.Join(t.TempDir(), "aliases"))
	require.NoError(t, err)
	r := NewResolver(aliases, tracker.New(nil))

	_, err = r.Acquire(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrAliasNotFound)
}

// movingAliases returns a different target on every read.
type movingAliases struct {
	mu sync.Mutex
	n  int
}

func (m *movingAliases) Read(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return filepath.Join("/idx", string(rune('a'+m.n))), nil
}

func TestAcquire_GivesUpWhenAliasKeepsMoving(t *testing.T) {
	leases := tracker.New(nil)
	r := NewResolver(&movingAliases{}, leases)

	_, err := r.Acquire(context.Background(), "docs")
	assert.ErrorIs(t, err, apperrors.ErrInternal)
	assert.Empty(t, leases.Snapshot(), "every attempt releases its lease")
}

// settlingAliases moves once, then stays put.
type settlingAliases struct {
	mu    sync.Mutex
	reads int
}

func (s *settlingAliases) Read(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.reads == 1 {
		return "/idx/v1", nil
	}
	return "/idx/v2", nil
}

func TestAcquire_RetriesAfterConcurrentSwap(t *testing.T) {
	leases := tracker.New(nil)
	r := NewResolver(&settlingAliases{}, leases)

	lease, err := r.Acquire(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, "/idx/v2", lease.Path())
	assert.Equal(t, map[string]int{"/idx/v2": 1}, leases.Snapshot())
	lease.Release()
}

func TestAcquire_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewResolver(&settlingAliases{}, tracker.New(nil))
	_, err := r.Acquire(ctx, "docs")
	assert.ErrorIs(t, err, context.Canceled)
}
