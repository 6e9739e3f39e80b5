// Package snapshot implements the benchmark snapshot capability on top of
// the git CLI. Each child session gets a detached worktree at the parent's
// HEAD; the child's changes are the diff of that worktree against its base.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/theirongolddev/cbench/internal/bench"
)

// ErrInvalidRef is returned for refs not produced by Capture.
var ErrInvalidRef = errors.New("snapshot: invalid ref")

// Git is a bench.Snapshotter for a git working tree.
type Git struct {
	dir      string
	stateDir string
	logger   *slog.Logger
}

// NewGit manages snapshots for the repository at dir, keeping worktrees
// and applied patches under stateDir.
func NewGit(dir, stateDir string, logger *slog.Logger) *Git {
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{dir: dir, stateDir: stateDir, logger: logger}
}

// Ref identifies a child's worktree and the commit it started from.
type Ref struct {
	SessionID string
	Base      string
}

func (r Ref) String() string { return r.SessionID + "@" + r.Base }

// ParseRef parses "session@commit".
func ParseRef(s string) (Ref, error) {
	id, base, ok := strings.Cut(s, "@")
	if !ok || id == "" || base == "" || strings.ContainsAny(id, `/\`) {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
	}
	return Ref{SessionID: id, Base: base}, nil
}

// Worktree returns where a child session's files live.
func (g *Git) Worktree(sessionID string) string {
	return filepath.Join(g.stateDir, "worktrees", sessionID)
}

func (g *Git) patchPath(sessionID string) string {
	return filepath.Join(g.stateDir, "patches", sessionID+".patch")
}

// Capture creates a detached worktree for sessionID at the current HEAD.
func (g *Git) Capture(ctx context.Context, sessionID string) (string, error) {
	base, err := g.run(ctx, g.dir, nil, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	ref := Ref{SessionID: sessionID, Base: strings.TrimSpace(base)}

	wt := g.Worktree(sessionID)
	if err := os.MkdirAll(filepath.Dir(wt), 0o750); err != nil {
		return "", fmt.Errorf("creating worktree dir: %w", err)
	}
	if _, err := g.run(ctx, g.dir, nil, "worktree", "add", "--detach", wt, ref.Base); err != nil {
		return "", err
	}
	return ref.String(), nil
}

// Diff returns the child's changes as a unified git patch.
func (g *Git) Diff(ctx context.Context, refStr string) ([]byte, error) {
	ref, err := ParseRef(refStr)
	if err != nil {
		return nil, err
	}
	wt := g.Worktree(ref.SessionID)
	if _, err := os.Stat(wt); err != nil {
		return nil, fmt.Errorf("%w: %s", bench.ErrSnapshotUnavailable, ref.SessionID)
	}

	// Intent-to-add so new files show up in the diff.
	if _, err := g.run(ctx, wt, nil, "add", "--intent-to-add", "--all"); err != nil {
		return nil, err
	}
	out, err := g.run(ctx, wt, nil, "diff", "--binary", ref.Base)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// ApplyDiff applies the child's patch to the main working tree. Any
// uncommitted change blocks it unless allowDirty is set, in which case
// overlapping edits are merged with conflict markers. A patch that does
// not apply to a clean tree returns bench.ErrConflict.
func (g *Git) ApplyDiff(ctx context.Context, refStr string, allowDirty bool) error {
	ref, err := ParseRef(refStr)
	if err != nil {
		return err
	}
	patch, err := g.Diff(ctx, refStr)
	if err != nil {
		return err
	}

	changed, err := g.changedFiles(ctx)
	if err != nil {
		return err
	}
	if len(changed) > 0 && !allowDirty {
		return fmt.Errorf("%w: %s", bench.ErrWorkingTreeDirty, strings.Join(changed, ", "))
	}

	if err := g.apply(ctx, patch, false, allowDirty); err != nil {
		return err
	}

	path := g.patchPath(ref.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating patch dir: %w", err)
	}
	if err := os.WriteFile(path, patch, 0o600); err != nil {
		return fmt.Errorf("saving applied patch: %w", err)
	}
	g.logger.Debug("patch applied", slog.String("session", ref.SessionID), slog.Int("bytes", len(patch)))
	return nil
}

// RevertDiff reverse-applies the patch recorded by ApplyDiff. Changes to
// files the patch does not touch block it unless allowDirty is set.
func (g *Git) RevertDiff(ctx context.Context, refStr string, allowDirty bool) error {
	ref, err := ParseRef(refStr)
	if err != nil {
		return err
	}
	path := g.patchPath(ref.SessionID)
	patch, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: no applied patch for %s", bench.ErrSnapshotUnavailable, ref.SessionID)
	}
	if err != nil {
		return fmt.Errorf("reading applied patch: %w", err)
	}

	changed, err := g.changedFiles(ctx)
	if err != nil {
		return err
	}
	touched, err := PatchFiles(patch)
	if err != nil {
		return err
	}
	var unrelated []string
	for _, f := range changed {
		if !touched[f] {
			unrelated = append(unrelated, f)
		}
	}
	if len(unrelated) > 0 && !allowDirty {
		return fmt.Errorf("%w: %s", bench.ErrWorkingTreeDirty, strings.Join(unrelated, ", "))
	}

	if err := g.apply(ctx, patch, true, allowDirty); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		g.logger.Warn("removing applied patch", slog.String("path", path), slog.String("error", err.Error()))
	}
	return nil
}

// IsDirty reports whether the main working tree has uncommitted changes.
func (g *Git) IsDirty(ctx context.Context) (bool, error) {
	changed, err := g.changedFiles(ctx)
	return len(changed) > 0, err
}

// apply runs git apply, which is all-or-nothing. When allowDirty is set
// and the patch overlaps local edits, it falls back to a three-way merge
// that leaves conflict markers in the working tree.
func (g *Git) apply(ctx context.Context, patch []byte, reverse, allowDirty bool) error {
	if len(bytes.TrimSpace(patch)) == 0 {
		return nil
	}
	args := []string{"apply", "--whitespace=nowarn"}
	if reverse {
		args = append(args, "--reverse")
	}
	_, err := g.run(ctx, g.dir, patch, append(args, "-")...)
	if err == nil {
		return nil
	}
	if !allowDirty {
		return fmt.Errorf("%w: %w", bench.ErrConflict, err)
	}

	conflicted, mergeErr := g.applyThreeWay(ctx, patch, args)
	if mergeErr != nil {
		return fmt.Errorf("%w: %w", bench.ErrConflict, errors.Join(err, mergeErr))
	}
	if conflicted {
		g.logger.Warn("patch applied with conflicts", slog.Bool("reverse", reverse))
	}
	return nil
}

// applyThreeWay stages the local edits the patch touches, since git apply
// --3way requires the index to match the working tree, then unstages them
// again so only the working tree carries the result.
func (g *Git) applyThreeWay(ctx context.Context, patch []byte, args []string) (conflicted bool, err error) {
	touched, err := PatchFiles(patch)
	if err != nil {
		return false, err
	}
	paths := make([]string, 0, len(touched))
	for f := range touched {
		paths = append(paths, f)
	}
	sort.Strings(paths)

	changed, err := g.changedFiles(ctx)
	if err != nil {
		return false, err
	}
	var stage []string
	for _, f := range changed {
		if touched[f] {
			stage = append(stage, f)
		}
	}
	if len(stage) > 0 {
		if _, err := g.run(ctx, g.dir, nil, append([]string{"add", "-A", "--"}, stage...)...); err != nil {
			return false, err
		}
	}
	defer func() {
		if _, rErr := g.run(ctx, g.dir, nil, append([]string{"reset", "-q", "--"}, paths...)...); rErr != nil {
			g.logger.Warn("unstaging merged paths", slog.String("error", rErr.Error()))
		}
	}()

	_, err = g.run(ctx, g.dir, patch, append(args, "--3way", "-")...)
	switch {
	case err == nil:
		return false, nil
	case strings.Contains(err.Error(), "with conflicts"):
		return true, nil
	default:
		return false, err
	}
}

func (g *Git) changedFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, g.dir, nil, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		name := line[3:]
		if _, after, ok := strings.Cut(name, " -> "); ok {
			name = after
		}
		files = append(files, strings.Trim(name, `"`))
	}
	return files, nil
}

func (g *Git) run(ctx context.Context, dir string, stdin []byte, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}
