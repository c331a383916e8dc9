package gitgw

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// writeRepoSignature populates dir with the entries that make
// isGitRepository recognize it, without running git.
func writeRepoSignature(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	for _, name := range []string{"config", "HEAD"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatalf("Failed to create %s: %v", name, err)
		}
	}
	for _, name := range []string{"info", "objects", "refs"} {
		if err := os.Mkdir(filepath.Join(dir, name), 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", name, err)
		}
	}
}

func newTestProbe(t *testing.T) *RepositoryProbe {
	t.Helper()
	m := NewLockfileManager()
	t.Cleanup(m.Clear)
	return NewRepositoryProbe(NewSubprocessRunner("git"), m)
}

func TestIsGitRepository(t *testing.T) {
	dir := t.TempDir()
	if isGitRepository(dir) {
		t.Errorf("an empty directory must not look like a repository")
	}
	if isGitRepository(filepath.Join(dir, "missing")) {
		t.Errorf("a missing directory must not look like a repository")
	}

	repo := filepath.Join(dir, "repo.git")
	writeRepoSignature(t, repo)
	if !isGitRepository(repo) {
		t.Errorf("expected the signature set to be recognized")
	}

	// The comparison is case-insensitive.
	if err := os.Rename(filepath.Join(repo, "HEAD"), filepath.Join(repo, "head")); err != nil {
		t.Fatalf("Failed to rename: %v", err)
	}
	if !isGitRepository(repo) {
		t.Errorf("expected the signature check to be case-insensitive")
	}

	if err := os.Remove(filepath.Join(repo, "config")); err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}
	if isGitRepository(repo) {
		t.Errorf("a partial signature must not be recognized")
	}
}

func TestProbeNotFound(t *testing.T) {
	root := t.TempDir()
	probe := newTestProbe(t)

	repoPath := filepath.Join(root, "missing.git")
	if _, err := probe.Probe(context.Background(), root, repoPath, "git-upload-pack", true); !isErr(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for upload-pack even with auto-create, got %v", err)
	}
	if _, err := probe.Probe(context.Background(), root, repoPath, "git-receive-pack", false); !isErr(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound without auto-create, got %v", err)
	}
}

func TestProbeExisting(t *testing.T) {
	root := t.TempDir()
	repoPath := filepath.Join(root, "repo.git")
	writeRepoSignature(t, repoPath)

	probe := newTestProbe(t)
	result, err := probe.Probe(context.Background(), root, repoPath, "git-upload-pack", false)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !result.Exists || result.CreatedOnDemand {
		t.Errorf("unexpected probe result: %+v", result)
	}
}

func TestProbeRefusesNesting(t *testing.T) {
	root := t.TempDir()
	outer := filepath.Join(root, "outer.git")
	writeRepoSignature(t, outer)

	probe := newTestProbe(t)
	nested := filepath.Join(outer, "sub", "inner.git")
	if _, err := probe.Probe(context.Background(), root, nested, "git-receive-pack", true); !isErr(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden nesting under a repository, got %v", err)
	}
}

func TestProbeRefusesNonDirectory(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "blob"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	probe := newTestProbe(t)
	repoPath := filepath.Join(root, "blob", "repo.git")
	if _, err := probe.Probe(context.Background(), root, repoPath, "git-receive-pack", true); !isErr(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden across a non-directory, got %v", err)
	}
}

func TestProbeAutoCreate(t *testing.T) {
	gitcmd, err := exec.LookPath("git")
	if err != nil {
		t.Skipf("git not found: %v", err)
	}

	root := t.TempDir()
	m := NewLockfileManager()
	defer m.Clear()
	probe := NewRepositoryProbe(NewSubprocessRunner(gitcmd), m)

	repoPath := filepath.Join(root, "group", "new.git")
	result, err := probe.Probe(context.Background(), root, repoPath, "git-receive-pack", true)
	if err != nil {
		t.Fatalf("auto-create failed: %v", err)
	}
	if !result.Exists || !result.CreatedOnDemand {
		t.Errorf("unexpected probe result: %+v", result)
	}
	if !isGitRepository(repoPath) {
		t.Errorf("expected a bare repository at %q", repoPath)
	}

	// A second probe finds the repository without re-creating it.
	result, err = probe.Probe(context.Background(), root, repoPath, "git-receive-pack", true)
	if err != nil {
		t.Fatalf("re-probe failed: %v", err)
	}
	if !result.Exists || result.CreatedOnDemand {
		t.Errorf("unexpected re-probe result: %+v", result)
	}
}
