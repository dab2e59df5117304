package updater

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
)

// GitPull syncs a local clone with the branch it tracks.
type GitPull struct {
	dir     string
	built   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGitPull binds to the clone at dir. built is the revision the live
// version was built from, or empty when unknown.
func NewGitPull(dir, built string, timeout time.Duration) *GitPull {
	return &GitPull{
		dir:     dir,
		built:   built,
		timeout: timeout,
		logger:  slog.Default().With("component", "updater", "strategy", "git", "dir", dir),
	}
}

// HasChanges compares the remote head of the tracked branch with the
// revision the live version was built from. Nothing is fetched. Without a
// recorded revision the live version is treated as stale: the clone's HEAD
// says nothing about what was built, since a cycle may have pulled and then
// failed to build.
func (g *GitPull) HasChanges(ctx context.Context) (bool, error) {
	remote, err := g.remoteHead(ctx)
	if err != nil {
		return false, err
	}
	if g.built == "" {
		g.logger.Debug("no built revision recorded", "remote", remote)
		return true, nil
	}
	changed := remote != g.built
	g.logger.Debug("checked upstream", "remote", remote, "built", g.built, "changed", changed)
	return changed, nil
}

func (g *GitPull) Update(ctx context.Context) error {
	if _, err := g.git(ctx, "pull", "--ff-only"); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrUpdateFailed, err)
	}
	return nil
}

func (g *GitPull) SourcePath() string {
	return g.dir
}

func (g *GitPull) Revision(ctx context.Context) (string, error) {
	return g.git(ctx, "rev-parse", "HEAD")
}

func (g *GitPull) remoteHead(ctx context.Context) (string, error) {
	branch, err := g.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	remote, err := g.git(ctx, "config", "--get", "branch."+branch+".remote")
	if err != nil {
		return "", fmt.Errorf("branch %s has no upstream remote: %w", branch, err)
	}
	merge, err := g.git(ctx, "config", "--get", "branch."+branch+".merge")
	if err != nil {
		return "", fmt.Errorf("branch %s has no upstream branch: %w", branch, err)
	}
	out, err := g.git(ctx, "ls-remote", remote, merge)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("%s not found on remote %s", merge, remote)
	}
	return fields[0], nil
}

func (g *GitPull) git(ctx context.Context, args ...string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(string(out)), nil
}
