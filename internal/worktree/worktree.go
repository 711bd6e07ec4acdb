// Package worktree provisions isolated workspaces for pipelines, either as
// git worktrees on their own branch or as plain directories.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Manager handles git worktree operations for one repository.
type Manager struct {
	repoDir string
}

// FindGitRoot finds the root of the git repository by traversing up from startDir.
// It returns the directory containing .git (either a directory or a file for worktrees).
func FindGitRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a git repository (or any parent up to mount point)")
		}
		dir = parent
	}
}

// New creates a Manager for the repository containing repoDir.
func New(repoDir string) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %s", repoDir)
	}
	return &Manager{repoDir: gitRoot}, nil
}

// RepoDir returns the repository root.
func (m *Manager) RepoDir() string {
	return m.repoDir
}

// Create adds a worktree at path on a new branch created from HEAD.
func (m *Manager) Create(ctx context.Context, path, branch string) error {
	if output, err := m.git(ctx, m.repoDir, "worktree", "add", "-b", branch, path); err != nil {
		return fmt.Errorf("failed to create worktree: %w\n%s", err, output)
	}
	return nil
}

// Remove removes a worktree. If git refuses, the directory is deleted and
// the worktree metadata pruned, and the original failure is still returned.
func (m *Manager) Remove(ctx context.Context, path string) error {
	output, err := m.git(ctx, m.repoDir, "worktree", "remove", "--force", path)
	if err == nil {
		return nil
	}
	_ = os.RemoveAll(path)
	_, _ = m.git(ctx, m.repoDir, "worktree", "prune")
	return fmt.Errorf("failed to remove worktree cleanly: %w\n%s", err, output)
}

// List returns the paths of all worktrees, including the main checkout.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	output, err := m.git(ctx, m.repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}
	var worktrees []string
	for _, line := range strings.Split(output, "\n") {
		if path, ok := strings.CutPrefix(line, "worktree "); ok {
			worktrees = append(worktrees, path)
		}
	}
	return worktrees, nil
}

// DeleteBranch force-deletes a branch.
func (m *Manager) DeleteBranch(ctx context.Context, branch string) error {
	if output, err := m.git(ctx, m.repoDir, "branch", "-D", branch); err != nil {
		return fmt.Errorf("failed to delete branch: %w\n%s", err, output)
	}
	return nil
}

// HasUncommittedChanges reports whether the worktree at path is dirty.
func (m *Manager) HasUncommittedChanges(ctx context.Context, path string) (bool, error) {
	output, err := m.git(ctx, path, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to check status: %w", err)
	}
	return strings.TrimSpace(output) != "", nil
}

// CommitAll stages and commits everything in the worktree at path. A clean
// worktree is not an error.
func (m *Manager) CommitAll(ctx context.Context, path, message string) error {
	if output, err := m.git(ctx, path, "add", "-A"); err != nil {
		return fmt.Errorf("failed to add changes: %w\n%s", err, output)
	}
	output, err := m.git(ctx, path, "commit", "-m", message)
	if err != nil {
		if strings.Contains(output, "nothing to commit") {
			return nil
		}
		return fmt.Errorf("failed to commit: %w\n%s", err, output)
	}
	return nil
}

func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	return string(output), err
}
