package gitgw

import (
	"path/filepath"
	"sync"
	"syscall"

	"github.com/pkg/errors"
)

// autoCreateLockName is the flock(2) file the gateway keeps inside a
// repository directory to serialize on-demand creation. git ignores the
// extra entry; it does not count toward the repository signature.
const autoCreateLockName = "gitgw.lock"

const invalidFD = -1

// maxCachedLockFDs bounds how many unlocked descriptors the manager keeps
// open for reuse before the least-recently released one is closed.
const maxCachedLockFDs = 256

// LockfileManager hands out per-path Lockfiles and recycles their file
// descriptors between requests, so repeated probes of the same repository
// do not reopen the lock file every time. One manager can back any number
// of gateways serving the same tree.
type LockfileManager struct {
	mu  sync.Mutex
	fds map[string]int
	// lru holds the cached paths, least-recently released first.
	lru []string
}

// NewLockfileManager returns an empty manager.
func NewLockfileManager() *LockfileManager {
	return &LockfileManager{fds: make(map[string]int)}
}

// NewLockfile returns an unlocked Lockfile guarding repositoryPath.
func (m *LockfileManager) NewLockfile(repositoryPath string) *Lockfile {
	return &Lockfile{
		manager: m,
		path:    filepath.Join(repositoryPath, autoCreateLockName),
		fd:      invalidFD,
	}
}

// Clear closes every cached descriptor. Locked descriptors are owned by
// their Lockfile and are unaffected.
func (m *LockfileManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fd := range m.fds {
		syscall.Close(fd)
	}
	m.fds = make(map[string]int)
	m.lru = nil
}

// acquireFD returns a cached descriptor for path, or opens a new one.
func (m *LockfileManager) acquireFD(path string) (int, error) {
	m.mu.Lock()
	if fd, ok := m.fds[path]; ok {
		delete(m.fds, path)
		m.dropFromLRULocked(path)
		m.mu.Unlock()
		return fd, nil
	}
	m.mu.Unlock()

	fd, err := syscall.Creat(path, 0600)
	if err != nil {
		return invalidFD, errors.Wrapf(err, "opening lock file %q", path)
	}
	return fd, nil
}

// releaseFD returns an unlocked descriptor to the cache, evicting the
// least-recently released one when the cache is full.
func (m *LockfileManager) releaseFD(path string, fd int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.fds[path]; ok {
		// Another Lockfile already returned a descriptor for this path.
		syscall.Close(fd)
		return
	}
	if len(m.fds) >= maxCachedLockFDs {
		oldest := m.lru[0]
		m.lru = m.lru[1:]
		syscall.Close(m.fds[oldest])
		delete(m.fds, oldest)
	}
	m.fds[path] = fd
	m.lru = append(m.lru, path)
}

func (m *LockfileManager) dropFromLRULocked(path string) {
	for i, p := range m.lru {
		if p == path {
			m.lru = append(m.lru[:i], m.lru[i+1:]...)
			return
		}
	}
}

// Lockfile is an exclusive flock(2) lock on a repository path. The lock is
// advisory and held on the descriptor, so it serializes across processes as
// well as goroutines. A Lockfile is not itself goroutine-safe; each request
// takes its own from the manager.
type Lockfile struct {
	manager *LockfileManager
	path    string
	fd      int
}

// Lock blocks until the exclusive lock is held.
func (l *Lockfile) Lock() error {
	if l.fd == invalidFD {
		fd, err := l.manager.acquireFD(l.path)
		if err != nil {
			return err
		}
		l.fd = fd
	}
	if err := syscall.Flock(l.fd, syscall.LOCK_EX); err != nil {
		return errors.Wrapf(err, "locking %q", l.path)
	}
	return nil
}

// Unlock releases the lock and hands the descriptor back to the manager.
// Unlocking an unlocked Lockfile is a no-op.
func (l *Lockfile) Unlock() error {
	if l.fd == invalidFD {
		return nil
	}
	fd := l.fd
	l.fd = invalidFD
	if err := syscall.Flock(fd, syscall.LOCK_UN); err != nil {
		// The descriptor is in an unknown state; do not recycle it.
		syscall.Close(fd)
		return errors.Wrapf(err, "unlocking %q", l.path)
	}
	l.manager.releaseFD(l.path, fd)
	return nil
}
