package gitgw

import (
	"path/filepath"

	"github.com/pkg/errors"
)

// defaultBufferSize is used when Config.BufferSize is left at zero: it is the
// read chunk size for static files and the number of request-body bytes kept
// in memory before spilling to disk. The copies into git's stdin and out of
// git's stdout use io.Copy's own buffering and do not follow it.
const defaultBufferSize = 64 * 1024

// defaultStderrCap bounds how much of a git child's stderr the Subprocess
// Runner will retain for diagnostics.
const defaultStderrCap = 8 * 1024

// Config is constructed once and is immutable for the lifetime of the
// gateway it configures. It is never mutated by a request.
type Config struct {
	// RootPath is the only directory tree from which repositories may be
	// served. Relative paths are resolved against the working directory at
	// construction time.
	RootPath string

	// URIMarker, when non-empty, requires a "/<URIMarker>" path segment to
	// separate a decorative URL prefix from the repository-relative path.
	URIMarker string

	// AutoCreate, when true, causes a receive-pack against a path under
	// RootPath that does not yet contain a git repository to create a bare
	// repository there on demand.
	AutoCreate bool

	// BufferSize is the chunk size for streaming static files and the
	// in-memory limit of a spooled request body. It does not size the copies
	// to and from git's stdin and stdout. Defaults to 64KiB.
	BufferSize int

	// ResolveSymlinks opts into resolving symlinks when canonicalizing a
	// resolved path, instead of the default "syntactic only" canonicalization
	// (collapsing "." and ".." without touching the filesystem). Symlinks
	// inside RootPath that point outside of it are NOT rejected unless this
	// is enabled; leaving it disabled is faster but means a symlink planted
	// inside a served repository can be used to read or write outside
	// RootPath. Enable it in any deployment where untrusted users can create
	// files (e.g. via push) inside RootPath.
	ResolveSymlinks bool

	// GitBinary is the executable invoked for every git subcommand. Defaults
	// to "git", resolved via $PATH.
	GitBinary string
}

// normalized returns a copy of c with defaults applied and RootPath
// canonicalized to an absolute path.
func (c Config) normalized() (Config, error) {
	if c.RootPath == "" {
		return Config{}, errors.New("gitgw: RootPath must not be empty")
	}
	root, err := filepath.Abs(c.RootPath)
	if err != nil {
		return Config{}, errors.Wrap(err, "gitgw: resolving RootPath")
	}
	c.RootPath = root

	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.GitBinary == "" {
		c.GitBinary = "git"
	}
	return c, nil
}
