package gitgw

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// killGracePeriod is how long the runner waits after sending SIGTERM to a
// cancelled child's process group before escalating to SIGKILL.
const killGracePeriod = 2 * time.Second

// RunOptions carries the streams for one subprocess invocation. Stdin may be
// nil, in which case the child's stdin is closed immediately. Stdout
// receives the child's stdout verbatim; if nil, stdout is discarded.
type RunOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
}

// RunResult is what the Subprocess Runner reports back to its caller after a
// child has exited and both copies have finished.
type RunResult struct {
	ExitCode int
	// Stderr holds up to defaultStderrCap bytes of the child's stderr, for
	// diagnostics only; it is never sent to the HTTP client.
	Stderr string
}

// SubprocessRunner spawns a single executable with an already-split argv
// vector — it never invokes a shell — and pipes stdin/stdout/stderr between
// the caller's streams and the child without deadlocking on backpressure.
type SubprocessRunner struct {
	binary string
}

// NewSubprocessRunner returns a runner that always invokes the given
// executable (resolved via $PATH unless it is an absolute path).
func NewSubprocessRunner(binary string) *SubprocessRunner {
	return &SubprocessRunner{binary: binary}
}

// Run executes argv as "binary argv...", copying stdin/stdout concurrently so
// that neither direction blocks the other when a pipe buffer fills. If ctx is
// cancelled (e.g. the HTTP client disconnected), or either copy fails, the
// child's entire process group is sent SIGTERM, then SIGKILL after
// killGracePeriod, which also ends the other copy.
func (s *SubprocessRunner) Run(ctx context.Context, argv []string, opts RunOptions) (RunResult, error) {
	cmd := exec.Command(s.binary, argv...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return RunResult{}, errors.Wrap(err, "opening stdin pipe")
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return RunResult{}, errors.Wrap(err, "opening stdout pipe")
	}

	var stderrBuf boundedBuffer
	stderrBuf.limit = defaultStderrCap
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return RunResult{}, errors.Wrapf(err, "starting %q", s.binary)
	}

	done := make(chan struct{})
	defer close(done)
	// A failed copy closes abort, so the child is stopped instead of blocking
	// the other copy on a pipe that nobody services any more.
	abort := make(chan struct{})
	var abortOnce sync.Once
	stop := func() { abortOnce.Do(func() { close(abort) }) }
	go s.watchCancellation(ctx, cmd, done, abort)

	group, _ := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer stdinPipe.Close()
		if opts.Stdin == nil {
			return nil
		}
		if _, err := io.Copy(stdinPipe, opts.Stdin); err != nil {
			stop()
			return errors.Wrap(err, "writing to child stdin")
		}
		return nil
	})
	group.Go(func() error {
		sink := opts.Stdout
		if sink == nil {
			sink = io.Discard
		}
		if _, err := io.Copy(sink, stdoutPipe); err != nil {
			stop()
			return errors.Wrap(err, "reading from child stdout")
		}
		return nil
	})

	copyErr := group.Wait()
	waitErr := cmd.Wait()

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else if copyErr == nil {
			return RunResult{}, errors.Wrapf(waitErr, "waiting for %q", s.binary)
		}
	}
	if copyErr != nil && exitCode == 0 {
		return RunResult{}, copyErr
	}

	return RunResult{ExitCode: exitCode, Stderr: stderrBuf.String()}, nil
}

// watchCancellation kills the child's process group if ctx is cancelled or
// abort is closed before the subprocess finishes on its own.
func (s *SubprocessRunner) watchCancellation(ctx context.Context, cmd *exec.Cmd, done, abort <-chan struct{}) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	case <-abort:
	}

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_ = unix.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(killGracePeriod):
		_ = unix.Kill(-pgid, syscall.SIGKILL)
	}
}

// boundedBuffer is an io.Writer that retains at most limit bytes, silently
// discarding anything beyond that. It backs the child's captured stderr,
// which is used for diagnostics only and must never grow unbounded.
type boundedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.limit - b.buf.Len()
	if remaining > 0 {
		if remaining > len(p) {
			remaining = len(p)
		}
		b.buf.Write(p[:remaining])
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
