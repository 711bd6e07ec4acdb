package worktree

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/pipeline"
	"github.com/Iron-Ham/foreman/internal/testutil"
)

const testPipelineID = "01JB7ZQ4X8N6V2K3M5P9R1T0SW"

func TestWorktreeProvisioner_Lifecycle(t *testing.T) {
	testutil.SkipIfNoGit(t)
	repo := testutil.SetupTestRepo(t)
	testutil.CommitFile(t, repo, "docs/brief.md", "# brief\n", "add brief")
	ctx := context.Background()

	prov, err := NewWorktreeProvisioner(repo, ProvisionerConfig{Root: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("NewWorktreeProvisioner() error = %v", err)
	}

	ws, err := prov.Provision(ctx, testPipelineID)
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	wantBranch := "foreman/" + testPipelineID
	if ws.Branch != wantBranch {
		t.Errorf("Branch = %q, want %q", ws.Branch, wantBranch)
	}
	if filepath.Base(ws.Path) != testPipelineID {
		t.Errorf("Path = %q, want it to end in the pipeline id", ws.Path)
	}
	if got := testutil.GetCurrentBranch(t, ws.Path); got != wantBranch {
		t.Errorf("checked out branch = %q, want %q", got, wantBranch)
	}
	// The workspace starts from the repository's current HEAD.
	if _, err := os.Stat(filepath.Join(ws.Path, "docs", "brief.md")); err != nil {
		t.Errorf("workspace is missing committed work: %v", err)
	}

	if err := os.WriteFile(filepath.Join(ws.Path, "design.md"), []byte("# design\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := prov.Release(ctx, ws); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Error("worktree still on disk after Release()")
	}
	if !testutil.BranchExists(t, repo, wantBranch) {
		t.Fatal("branch deleted by Release()")
	}
	if got := testutil.LastCommitMessage(t, repo, wantBranch); got != "foreman: work in progress on "+wantBranch {
		t.Errorf("leftover work commit = %q", got)
	}

	// Releasing twice is harmless.
	if err := prov.Release(ctx, ws); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}

func TestWorktreeProvisioner_KeepOnRelease(t *testing.T) {
	testutil.SkipIfNoGit(t)
	repo := testutil.SetupTestRepo(t)
	ctx := context.Background()

	prov, err := NewWorktreeProvisioner(repo, ProvisionerConfig{
		Root:          t.TempDir(),
		BranchPrefix:  "lines/",
		KeepOnRelease: true,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ws, err := prov.Provision(ctx, testPipelineID)
	if err != nil {
		t.Fatal(err)
	}
	if ws.Branch != "lines/"+testPipelineID {
		t.Errorf("Branch = %q", ws.Branch)
	}
	if err := prov.Release(ctx, ws); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(ws.Path); err != nil {
		t.Errorf("worktree removed despite KeepOnRelease: %v", err)
	}
}

func TestWorktreeProvisioner_Errors(t *testing.T) {
	if _, err := NewWorktreeProvisioner(t.TempDir(), ProvisionerConfig{}, nil); !errors.Is(err, errors.ErrWorkspaceUnavailable) {
		t.Errorf("NewWorktreeProvisioner() outside a repo error = %v, want workspace error", err)
	}

	testutil.SkipIfNoGit(t)
	repo := testutil.SetupTestRepo(t)
	ctx := context.Background()
	prov, _ := NewWorktreeProvisioner(repo, ProvisionerConfig{Root: t.TempDir()}, nil)

	if _, err := prov.Provision(ctx, testPipelineID); err != nil {
		t.Fatal(err)
	}
	_, err := prov.Provision(ctx, testPipelineID)
	var wsErr *errors.WorkspaceError
	if !errors.As(err, &wsErr) {
		t.Fatalf("second Provision() error = %v, want *WorkspaceError", err)
	}
	if wsErr.PipelineID != testPipelineID {
		t.Errorf("PipelineID = %q", wsErr.PipelineID)
	}
}

func TestDirectoryProvisioner(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	prov, err := NewDirectoryProvisioner(ProvisionerConfig{Root: root}, nil)
	if err != nil {
		t.Fatal(err)
	}

	ws, err := prov.Provision(ctx, testPipelineID)
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if info, err := os.Stat(ws.Path); err != nil || !info.IsDir() {
		t.Fatalf("workspace %q not created: %v", ws.Path, err)
	}
	if ws.Branch != "" {
		t.Errorf("Branch = %q, want empty", ws.Branch)
	}

	if err := prov.Release(ctx, ws); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Error("workspace still exists after Release()")
	}

	outside := pipeline.Workspace{Path: t.TempDir()}
	if err := prov.Release(ctx, outside); !errors.Is(err, errors.ErrWorkspaceUnavailable) {
		t.Errorf("Release() outside root error = %v, want workspace error", err)
	}
	if err := prov.Release(ctx, pipeline.Workspace{Path: root}); err == nil {
		t.Error("Release() of the root itself should fail")
	}
}

func TestDirectoryProvisioner_Keep(t *testing.T) {
	ctx := context.Background()
	prov, _ := NewDirectoryProvisioner(ProvisionerConfig{Root: t.TempDir(), KeepOnRelease: true}, nil)

	ws, err := prov.Provision(ctx, testPipelineID)
	if err != nil {
		t.Fatal(err)
	}
	if err := prov.Release(ctx, ws); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(ws.Path); err != nil {
		t.Errorf("workspace removed despite KeepOnRelease: %v", err)
	}
}

func TestNewDirectoryProvisioner_RequiresRoot(t *testing.T) {
	if _, err := NewDirectoryProvisioner(ProvisionerConfig{}, nil); err == nil {
		t.Error("NewDirectoryProvisioner() without root should fail")
	}
}
