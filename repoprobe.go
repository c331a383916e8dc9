package gitgw

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// gitRepositorySignature is the set of entries (compared case-insensitively)
// that must all be present directly inside a directory for it to be
// considered a git repository, bare or otherwise.
var gitRepositorySignature = []string{"config", "head", "info", "objects", "refs"}

// ProbeResult is the outcome of probing a candidate repository path.
type ProbeResult struct {
	// Exists reports whether the path holds a git repository.
	Exists bool
	// CreatedOnDemand reports whether this probe auto-created a bare
	// repository at the path.
	CreatedOnDemand bool
}

// RepositoryProbe decides whether a resolved path is a git repository, and,
// for receive-pack with auto-create enabled, materializes a bare one on
// demand. Concurrent auto-create attempts for the same path are serialized
// through an flock(2)-backed Lockfile, so only one request ever runs
// "git init" there.
type RepositoryProbe struct {
	runner *SubprocessRunner
	locks  *LockfileManager
}

// NewRepositoryProbe returns a RepositoryProbe that spawns git through
// runner and serializes auto-create attempts through locks.
func NewRepositoryProbe(runner *SubprocessRunner, locks *LockfileManager) *RepositoryProbe {
	return &RepositoryProbe{runner: runner, locks: locks}
}

// isGitRepository reports whether dirPath's immediate entries satisfy the
// git repository signature, comparing names case-insensitively. A
// non-existent or unreadable directory is treated as empty.
func isGitRepository(dirPath string) bool {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return false
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[strings.ToLower(e.Name())] = true
	}
	for _, want := range gitRepositorySignature {
		if !seen[want] {
			return false
		}
	}
	return true
}

// Probe reports whether repoPath holds a git repository, auto-creating a
// bare one when autoCreate is set and the request is a receive-pack.
func (p *RepositoryProbe) Probe(ctx context.Context, rootPath, repoPath, gitCommand string, autoCreate bool) (ProbeResult, error) {
	if isGitRepository(repoPath) {
		return ProbeResult{Exists: true}, nil
	}

	if !autoCreate || gitCommand != "git-receive-pack" {
		return ProbeResult{}, errors.Wrapf(ErrNotFound, "repository %q does not exist", repoPath)
	}

	// The directories have to exist before the lock can: the flock file
	// that serializes creation lives inside repoPath itself. MkdirAll is
	// idempotent, so two racing requests both reach the Lock call and only
	// the first one past it runs git init.
	if err := p.prepareDirectories(rootPath, repoPath); err != nil {
		return ProbeResult{}, err
	}

	lock := p.locks.NewLockfile(repoPath)
	if err := lock.Lock(); err != nil {
		return ProbeResult{}, errors.Wrapf(err, "acquiring auto-create lock for %q", repoPath)
	}
	defer lock.Unlock()

	if isGitRepository(repoPath) {
		return ProbeResult{Exists: true}, nil
	}

	result, err := p.runner.Run(ctx, []string{"init", "--quiet", "--bare", repoPath}, RunOptions{})
	if err != nil {
		return ProbeResult{}, errors.Wrapf(ErrExecutionFailed, "git init %q: %v", repoPath, err)
	}
	if result.ExitCode != 0 {
		return ProbeResult{}, errors.Wrapf(ErrExecutionFailed, "git init %q exited %d: %s", repoPath, result.ExitCode, result.Stderr)
	}
	return ProbeResult{Exists: true, CreatedOnDemand: true}, nil
}

// prepareDirectories walks repoPath's segments from rootPath down, refusing
// to step across a non-directory or to nest a new repository inside another,
// then creates whatever directories are missing.
func (p *RepositoryProbe) prepareDirectories(rootPath, repoPath string) error {
	rel, err := filepath.Rel(rootPath, repoPath)
	if err != nil {
		return errors.Wrapf(ErrForbidden, "path %q is not under %q", repoPath, rootPath)
	}

	walked := rootPath
	for _, segment := range append([]string{"."}, strings.Split(rel, string(filepath.Separator))...) {
		if segment != "." {
			walked = filepath.Join(walked, segment)
		}
		info, err := os.Stat(walked)
		if err != nil {
			if os.IsNotExist(err) {
				break
			}
			return errors.Wrapf(err, "statting %q", walked)
		}
		if !info.IsDir() {
			return errors.Wrapf(ErrForbidden, "%q is not a directory", walked)
		}
		if walked != repoPath && isGitRepository(walked) {
			return errors.Wrapf(ErrForbidden, "refusing to nest a repository inside %q", walked)
		}
	}

	if err := os.MkdirAll(repoPath, 0755); err != nil {
		return errors.Wrapf(ErrExecutionFailed, "creating %q: %v", repoPath, err)
	}
	return nil
}
