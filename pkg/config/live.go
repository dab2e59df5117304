package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source is the read-only view of shared configuration consumed by the
// refresh scheduler. Values are read at the moment they are needed so a
// reload takes effect on the next tick.
type Source interface {
	RefreshInterval() time.Duration
	ScipTimeout() time.Duration
}

// Live holds the current Config and swaps it atomically when the backing
// file changes on disk. A reload that fails to parse or validate is logged
// and the previous Config stays in effect.
type Live struct {
	path    string
	current atomic.Pointer[Config]
	logger  *slog.Logger
}

// NewLive wraps an already loaded Config. path may be empty, in which case
// Reload and Watch are no-ops.
func NewLive(path string, initial *Config) *Live {
	l := &Live{
		path:   path,
		logger: slog.Default().With("component", "config"),
	}
	l.current.Store(initial)
	return l
}

// Current returns the active Config. Callers must treat it as read-only.
func (l *Live) Current() *Config {
	return l.current.Load()
}

func (l *Live) RefreshInterval() time.Duration {
	return l.Current().Refresh.Interval
}

func (l *Live) ScipTimeout() time.Duration {
	return l.Current().Refresh.ScipTimeout
}

// Reload re-reads the config file and replaces the active Config.
func (l *Live) Reload() error {
	if l.path == "" {
		return nil
	}
	cfg, err := Load(l.path)
	if err != nil {
		return err
	}
	prev := l.current.Swap(cfg)
	l.logger.Info("configuration reloaded",
		"path", l.path,
		"refresh_interval", cfg.Refresh.Interval,
		"previous_interval", prev.Refresh.Interval,
	)
	return nil
}

// Watch reloads the config whenever its file is written, created or
// renamed into place. The parent directory is watched rather than the file
// so editors that replace the file are handled. Watch blocks until ctx is
// cancelled.
func (l *Live) Watch(ctx context.Context) error {
	if l.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(l.path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching config directory: %w", err)
	}
	l.logger.Info("watching configuration", "path", abs)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := l.Reload(); err != nil {
				l.logger.Warn("config reload failed, keeping previous", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("config watcher error", "error", err)
		}
	}
}
