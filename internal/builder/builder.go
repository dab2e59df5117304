// Package builder materializes a source tree into a fresh index version
// directory and runs the external index and SCIP commands against it.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/layout"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/metrics"
)

// maxOutput bounds how much command output is kept in an error.
const maxOutput = 2048

// waitDelay bounds how long a killed command may keep its output pipes
// open through orphaned children.
const waitDelay = 2 * time.Second

type Builder struct {
	cfg     config.RefreshConfig
	layout  layout.Layout
	source  config.Source
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns a Builder. The SCIP timeout is read from source on every
// build so reloaded configuration applies to the next cycle.
func New(cfg config.RefreshConfig, l layout.Layout, source config.Source, m *metrics.Metrics) *Builder {
	return &Builder{
		cfg:     cfg,
		layout:  l,
		source:  source,
		metrics: m,
		logger:  slog.Default().With("component", "builder"),
	}
}

// BuildIndex runs the index command in dir. A zero exit is not enough: the
// semantic artifact must exist afterwards.
func (b *Builder) BuildIndex(ctx context.Context, dir string, temporal bool) (err error) {
	start := time.Now()
	defer func() { b.metrics.ObserveBuild("index", err, time.Since(start)) }()

	argv := append([]string(nil), b.cfg.IndexCommand...)
	if temporal {
		argv = append(argv, b.cfg.TemporalArgs...)
	}
	if err := run(ctx, dir, b.cfg.IndexTimeout, argv); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrBuildFailed, err)
	}

	st, err := b.layout.Detect(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrBuildFailed, err)
	}
	if !st.Semantic {
		return fmt.Errorf("%w: semantic index %s missing after build", apperrors.ErrBuildFailed, b.layout.Semantic)
	}
	if temporal && !st.Temporal {
		b.logger.Warn("temporal index requested but not produced", "dir", dir)
	}
	b.logger.Info("index built", "dir", dir, "temporal", temporal, "duration", time.Since(start))
	return nil
}

// BuildSCIP runs the SCIP command in dir with its own timeout.
func (b *Builder) BuildSCIP(ctx context.Context, dir string) (err error) {
	start := time.Now()
	defer func() { b.metrics.ObserveBuild("scip", err, time.Since(start)) }()

	timeout := b.cfg.ScipTimeout
	if b.source != nil {
		timeout = b.source.ScipTimeout()
	}
	if err := run(ctx, dir, timeout, b.cfg.ScipCommand); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrScipBuildFailed, err)
	}
	b.logger.Info("scip index built", "dir", dir, "duration", time.Since(start))
	return nil
}

func run(ctx context.Context, dir string, timeout time.Duration, argv []string) error {
	if len(argv) == 0 {
		return errors.New("no command configured")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	out, err := cmd.CombinedOutput()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w after %v", argv[0], apperrors.ErrTimeout, timeout)
	}
	if err != nil {
		return fmt.Errorf("%s: %w: %s", strings.Join(argv, " "), err, tail(out))
	}
	return nil
}

func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxOutput {
		s = "..." + s[len(s)-maxOutput:]
	}
	return s
}
