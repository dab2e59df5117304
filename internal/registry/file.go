package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
)

type document struct {
	Repos map[string]Entry `json:"repos"`
}

// FileStore keeps the registry in one JSON file. Writers take an exclusive
// flock on a sibling lock file so the CLI and the server can share it;
// readers take a shared lock. Every write replaces the file via rename.
type FileStore struct {
	path   string
	lock   *flock.Flock
	mu     sync.RWMutex
	now    func() time.Time
	logger *slog.Logger
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}
	return &FileStore{
		path:   path,
		lock:   flock.New(path + ".lock"),
		now:    time.Now,
		logger: slog.Default().With("component", "registry", "backend", "file"),
	}, nil
}

func (s *FileStore) Get(ctx context.Context, alias string) (Entry, error) {
	doc, err := s.read()
	if err != nil {
		return Entry{}, err
	}
	e, ok := doc.Repos[alias]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", apperrors.ErrRepoNotFound, alias)
	}
	return e, nil
}

func (s *FileStore) List(ctx context.Context) ([]Entry, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(doc.Repos))
	for _, e := range doc.Repos {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AliasName < entries[j].AliasName
	})
	return entries, nil
}

func (s *FileStore) Register(ctx context.Context, reg Registration) (Entry, error) {
	if err := reg.validate(); err != nil {
		return Entry{}, err
	}
	var created Entry
	err := s.mutate(func(doc *document) error {
		if _, exists := doc.Repos[reg.AliasName]; exists {
			return fmt.Errorf("%w: %s", apperrors.ErrRepoExists, reg.AliasName)
		}
		e := reg.entry(s.now().UTC())
		if e.Upstream().Kind == UpstreamMetaDirectory {
			for _, other := range doc.Repos {
				if other.Upstream().Kind == UpstreamMetaDirectory {
					return fmt.Errorf("%w: meta-directory already registered as %s", apperrors.ErrRepoExists, other.AliasName)
				}
			}
		}
		doc.Repos[e.AliasName] = e
		created = e
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.logger.Info("repository registered",
		"alias", created.AliasName,
		"upstream", created.Upstream().Kind.String(),
	)
	return created, nil
}

func (s *FileStore) UpdateFlags(ctx context.Context, alias string, temporal, scip *bool) error {
	if temporal == nil && scip == nil {
		return nil
	}
	return s.mutate(func(doc *document) error {
		e, ok := doc.Repos[alias]
		if !ok {
			return fmt.Errorf("%w: %s", apperrors.ErrRepoNotFound, alias)
		}
		if temporal != nil {
			e.EnableTemporal = *temporal
		}
		if scip != nil {
			e.EnableSCIP = *scip
		}
		doc.Repos[alias] = e
		return nil
	})
}

func (s *FileStore) UpdateIndexPath(ctx context.Context, alias, path string, refreshedAt time.Time) error {
	return s.mutate(func(doc *document) error {
		e, ok := doc.Repos[alias]
		if !ok {
			return fmt.Errorf("%w: %s", apperrors.ErrRepoNotFound, alias)
		}
		e.IndexPath = path
		e.LastRefresh = refreshedAt.UTC()
		doc.Repos[alias] = e
		return nil
	})
}

func (s *FileStore) read() (*document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("locking registry: %w", err)
	}
	defer s.lock.Unlock()
	return s.load()
}

func (s *FileStore) mutate(fn func(doc *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("locking registry: %w", err)
	}
	defer s.lock.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.save(doc)
}

func (s *FileStore) load() (*document, error) {
	doc := &document{Repos: make(map[string]Entry)}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("reading registry %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decoding registry %s: %w", s.path, err)
	}
	if doc.Repos == nil {
		doc.Repos = make(map[string]Entry)
	}
	return doc, nil
}

func (s *FileStore) save(doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming registry: %w", err)
	}
	return nil
}
