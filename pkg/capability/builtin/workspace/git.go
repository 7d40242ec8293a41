// Package workspace provides the builtin Workspace plugins (§4.6):
// provisioning a session's working directory as a git worktree (shares
// one clone's object store across sessions) or a plain clone (fully
// independent checkout).
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
)

// GitWorktree provisions sessions as `git worktree add` checkouts off a
// single shared clone, so branches share history without re-cloning.
type GitWorktree struct{}

// GitWorktreeFactory constructs a GitWorktree.
func GitWorktreeFactory(map[string]interface{}) (interface{}, error) {
	return capability.Workspace(GitWorktree{}), nil
}

// Create implements capability.Workspace.
func (GitWorktree) Create(ctx context.Context, root, repoPath, branch string, symlinks, postCreate []string) (string, error) {
	path := filepath.Join(root, branch)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("git worktree: mkdir parent: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "-C", repoPath, "worktree", "add", "-B", branch, path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git worktree add: %w: %s", err, out)
	}

	if err := applySymlinks(repoPath, path, symlinks); err != nil {
		return "", err
	}
	if err := runPostCreate(ctx, path, postCreate); err != nil {
		return "", err
	}
	return path, nil
}

// Remove implements capability.Workspace.
func (GitWorktree) Remove(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return nil // already gone
		}
		return fmt.Errorf("git worktree remove: %w: %s", err, out)
	}
	return nil
}

// Exists implements capability.Workspace.
func (GitWorktree) Exists(ctx context.Context, path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GitClone provisions sessions as fully independent `git clone`
// checkouts, for projects that cannot share a worktree's object store
// (e.g. submodule-heavy repos with worktree limitations).
type GitClone struct{}

// GitCloneFactory constructs a GitClone.
func GitCloneFactory(map[string]interface{}) (interface{}, error) {
	return capability.Workspace(GitClone{}), nil
}

// Create implements capability.Workspace.
func (GitClone) Create(ctx context.Context, root, repoPath, branch string, symlinks, postCreate []string) (string, error) {
	path := filepath.Join(root, branch)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("git clone: mkdir parent: %w", err)
	}

	clone := exec.CommandContext(ctx, "git", "clone", repoPath, path)
	if out, err := clone.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git clone: %w: %s", err, out)
	}
	checkout := exec.CommandContext(ctx, "git", "-C", path, "checkout", "-B", branch)
	if out, err := checkout.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git checkout -B %s: %w: %s", branch, err, out)
	}

	if err := applySymlinks(repoPath, path, symlinks); err != nil {
		return "", err
	}
	if err := runPostCreate(ctx, path, postCreate); err != nil {
		return "", err
	}
	return path, nil
}

// Remove implements capability.Workspace.
func (GitClone) Remove(ctx context.Context, path string) error {
	return os.RemoveAll(path)
}

// Exists implements capability.Workspace.
func (GitClone) Exists(ctx context.Context, path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func applySymlinks(repoPath, workspacePath string, symlinks []string) error {
	for _, rel := range symlinks {
		src := filepath.Join(repoPath, rel)
		dst := filepath.Join(workspacePath, rel)
		if _, err := os.Stat(src); err != nil {
			continue // optional; missing source is not fatal
		}
		_ = os.Remove(dst)
		if err := os.Symlink(src, dst); err != nil {
			return fmt.Errorf("symlink %s: %w", rel, err)
		}
	}
	return nil
}

func runPostCreate(ctx context.Context, workspacePath string, commands []string) error {
	for _, c := range commands {
		cmd := exec.CommandContext(ctx, "sh", "-c", c)
		cmd.Dir = workspacePath
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("post_create command %q: %w: %s", c, err, out)
		}
	}
	return nil
}
