package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/logging"
	"github.com/Iron-Ham/foreman/internal/pipeline"
)

// DefaultBranchPrefix namespaces pipeline branches.
const DefaultBranchPrefix = "foreman"

// ProvisionerConfig configures both provisioners.
type ProvisionerConfig struct {
	// Root is the directory workspaces are created under, one per pipeline.
	Root string
	// BranchPrefix is prepended to the pipeline ID to name worktree branches.
	BranchPrefix string
	// KeepOnRelease leaves workspaces on disk after release.
	KeepOnRelease bool
}

// WorktreeProvisioner gives every pipeline its own git worktree on a fresh
// branch, so concurrent pipelines never share a checkout.
type WorktreeProvisioner struct {
	git    *Manager
	cfg    ProvisionerConfig
	logger *logging.Logger
}

// NewWorktreeProvisioner creates a provisioner for the repository containing
// repoDir. An empty Root defaults to <repo>/.foreman/worktrees.
func NewWorktreeProvisioner(repoDir string, cfg ProvisionerConfig, logger *logging.Logger) (*WorktreeProvisioner, error) {
	git, err := New(repoDir)
	if err != nil {
		return nil, errors.NewWorkspaceError("cannot use repository", err).WithPath(repoDir)
	}
	if cfg.Root == "" {
		cfg.Root = filepath.Join(git.RepoDir(), ".foreman", "worktrees")
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = DefaultBranchPrefix
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &WorktreeProvisioner{git: git, cfg: cfg, logger: logger.WithComponent("worktree")}, nil
}

// Branch returns the branch a pipeline's worktree is created on.
func (p *WorktreeProvisioner) Branch(pipelineID string) string {
	return strings.TrimSuffix(p.cfg.BranchPrefix, "/") + "/" + pipelineID
}

// Provision implements pipeline.Provisioner.
func (p *WorktreeProvisioner) Provision(ctx context.Context, pipelineID string) (pipeline.Workspace, error) {
	path := filepath.Join(p.cfg.Root, pipelineID)
	branch := p.Branch(pipelineID)

	if err := os.MkdirAll(p.cfg.Root, 0755); err != nil {
		return pipeline.Workspace{}, errors.NewWorkspaceError("failed to create worktree root", err).
			WithPipelineID(pipelineID).WithPath(p.cfg.Root)
	}
	if err := p.git.Create(ctx, path, branch); err != nil {
		return pipeline.Workspace{}, errors.NewWorkspaceError("git worktree add failed", err).
			WithPipelineID(pipelineID).WithPath(path)
	}

	p.logger.WithPipeline(pipelineID).Info("worktree created", "path", path, "branch", branch)
	return pipeline.Workspace{Path: path, Branch: branch}, nil
}

// Release commits whatever the workers left behind so the branch keeps it,
// then removes the worktree. The branch itself is never deleted.
func (p *WorktreeProvisioner) Release(ctx context.Context, ws pipeline.Workspace) error {
	log := p.logger.With("path", ws.Path, "branch", ws.Branch)

	if _, err := os.Stat(ws.Path); os.IsNotExist(err) {
		log.Debug("worktree already gone")
		return nil
	}

	dirty, err := p.git.HasUncommittedChanges(ctx, ws.Path)
	if err != nil {
		log.Warn("could not inspect worktree", "error", err.Error())
	} else if dirty {
		msg := fmt.Sprintf("foreman: work in progress on %s", ws.Branch)
		if err := p.git.CommitAll(ctx, ws.Path, msg); err != nil {
			return errors.NewWorkspaceError("failed to commit workspace changes", err).WithPath(ws.Path)
		}
		log.Info("committed leftover changes")
	}

	if p.cfg.KeepOnRelease {
		log.Info("keeping worktree")
		return nil
	}
	if err := p.git.Remove(ctx, ws.Path); err != nil {
		return errors.NewWorkspaceError("failed to remove worktree", err).WithPath(ws.Path)
	}
	log.Info("worktree removed")
	return nil
}

// DirectoryProvisioner hands out plain directories. It suits workers that
// do not need version control.
type DirectoryProvisioner struct {
	cfg    ProvisionerConfig
	logger *logging.Logger
}

// NewDirectoryProvisioner creates a DirectoryProvisioner rooted at cfg.Root.
func NewDirectoryProvisioner(cfg ProvisionerConfig, logger *logging.Logger) (*DirectoryProvisioner, error) {
	if cfg.Root == "" {
		return nil, errors.NewWorkspaceError("workspace root is required", errors.ErrInvalidInput)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, errors.NewWorkspaceError("invalid workspace root", err).WithPath(cfg.Root)
	}
	cfg.Root = root
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &DirectoryProvisioner{cfg: cfg, logger: logger.WithComponent("workspace")}, nil
}

// Provision implements pipeline.Provisioner.
func (p *DirectoryProvisioner) Provision(_ context.Context, pipelineID string) (pipeline.Workspace, error) {
	path := filepath.Join(p.cfg.Root, pipelineID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return pipeline.Workspace{}, errors.NewWorkspaceError("failed to create workspace", err).
			WithPipelineID(pipelineID).WithPath(path)
	}
	p.logger.WithPipeline(pipelineID).Info("workspace created", "path", path)
	return pipeline.Workspace{Path: path}, nil
}

// Release implements pipeline.Provisioner.
func (p *DirectoryProvisioner) Release(_ context.Context, ws pipeline.Workspace) error {
	if p.cfg.KeepOnRelease {
		return nil
	}
	// Only paths this provisioner handed out are removed.
	rel, err := filepath.Rel(p.cfg.Root, ws.Path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return errors.NewWorkspaceError("workspace is outside the workspace root", errors.ErrInvalidInput).WithPath(ws.Path)
	}
	if err := os.RemoveAll(ws.Path); err != nil {
		return errors.NewWorkspaceError("failed to remove workspace", err).WithPath(ws.Path)
	}
	p.logger.Info("workspace removed", "path", ws.Path)
	return nil
}

var (
	_ pipeline.Provisioner = (*WorktreeProvisioner)(nil)
	_ pipeline.Provisioner = (*DirectoryProvisioner)(nil)
)
