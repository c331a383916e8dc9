package gitgw

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
)

// allowedGitCommands holds the only two subcommands the smart endpoints will
// ever spawn. Anything else in the git_command capture is a 400.
var allowedGitCommands = map[string]bool{
	"git-upload-pack":  true,
	"git-receive-pack": true,
}

// smartHandlerDeps are the collaborators the advertisement and RPC handlers
// share: the gateway's immutable config, the repository probe (with its
// auto-create locking), the subprocess runner, and a logger.
type smartHandlerDeps struct {
	config Config
	probe  *RepositoryProbe
	runner *SubprocessRunner
	auth   AuthorizationCallback
	log    log15.Logger
}

// resolvedRequest holds the outcome of the Path Resolver and Repository
// Probe for one request. It is built once per request and never mutated.
type resolvedRequest struct {
	gitCommand      string
	repoPath        string
	exists          bool
	createdOnDemand bool
}

// resolve performs the precondition checks shared by the advertisement and
// RPC endpoints: validate git_command, resolve working_path under RootPath,
// and probe (with auto-create, for receive-pack) the resulting repository
// path.
func (d *smartHandlerDeps) resolve(ctx context.Context, r *http.Request) (resolvedRequest, error) {
	captures := Captures(r)
	gitCommand := captures["git_command"]
	if !allowedGitCommands[gitCommand] {
		return resolvedRequest{}, errors.Wrapf(ErrBadRequest, "unsupported git command %q", gitCommand)
	}

	repoPath, err := ResolvePath(d.config.RootPath, captures["working_path"], d.config.ResolveSymlinks)
	if err != nil {
		return resolvedRequest{}, err
	}

	result, err := d.probe.Probe(ctx, d.config.RootPath, repoPath, gitCommand, d.config.AutoCreate)
	if err != nil {
		return resolvedRequest{}, err
	}

	return resolvedRequest{
		gitCommand:      gitCommand,
		repoPath:        repoPath,
		exists:          result.Exists,
		createdOnDemand: result.CreatedOnDemand,
	}, nil
}

// authorize runs the AuthorizationCallback for a resolved request and
// reports whether the handler may proceed. A denied callback is expected to
// have written its own response; a read-only grant downgrades a push to 403.
func (d *smartHandlerDeps) authorize(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	resolved resolvedRequest,
) bool {
	level := d.auth(ctx, w, r, resolved.repoPath, operationFor(resolved.gitCommand))
	if level == AuthorizationDenied {
		return false
	}
	if level == AuthorizationAllowedReadOnly && resolved.gitCommand == "git-receive-pack" {
		EmitCanned(w, StatusForbidden, nil)
		return false
	}
	return true
}

// operationFor reports the GitOperation implied by a git_command, for the
// AuthorizationCallback.
func operationFor(gitCommand string) GitOperation {
	if gitCommand == "git-receive-pack" {
		return OperationPush
	}
	return OperationPull
}

// advertisementHandler serves GET|HEAD {repo}/info/refs?service=git-....
//
// The response body is the byte-exact handshake git clients expect: one
// pkt-line framing "# service=<cmd>\n" (the newline is part of the payload
// and counted in the length prefix), a flush-pkt, then the raw stdout of
// "git <cmd> --stateless-rpc --advertise-refs". Nothing outside the counted
// payloads is written; clients parse the hex length prefix as a binary byte
// count.
type advertisementHandler struct {
	smartHandlerDeps
}

func (h *advertisementHandler) ServeGit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := requestLogger(ctx, h.log)
	resolved, err := h.resolve(ctx, r)
	if err != nil {
		EmitCanned(w, ErrorToCanned(err), nil)
		return
	}
	if !h.authorize(ctx, w, r, resolved) {
		return
	}

	// The advertisement is buffered (it is small, a few KiB per thousand
	// refs) so that a non-zero git exit can still be mapped to 417 before
	// any status line goes out.
	subcommand := strings.TrimPrefix(resolved.gitCommand, "git-")
	var stdout bytes.Buffer
	result, err := h.runner.Run(ctx, []string{subcommand, "--stateless-rpc", "--advertise-refs", resolved.repoPath}, RunOptions{
		Stdout: &stdout,
	})
	if err != nil {
		log.Error("advertisement subprocess failed", "repository", resolved.repoPath, "err", err)
		EmitCanned(w, StatusExecutionFailed, nil)
		return
	}
	if result.ExitCode != 0 {
		log.Warn(
			"advertisement subprocess exited non-zero",
			"repository", resolved.repoPath,
			"exitCode", result.ExitCode,
			"stderr", result.Stderr,
		)
		EmitCanned(w, StatusExecutionFailed, nil)
		return
	}

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-%s-advertisement", resolved.gitCommand))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	// The trailing newline is part of the pkt-line payload and counted in
	// its length prefix, matching what git's own http-backend emits.
	pkt := NewPktLineWriter(w)
	if err := pkt.WritePktLine([]byte("# service=" + resolved.gitCommand + "\n")); err != nil {
		return
	}
	if err := pkt.Flush(); err != nil {
		return
	}
	_, _ = w.Write(stdout.Bytes())
}

// rpcHandler serves POST {repo}/git-upload-pack and POST
// {repo}/git-receive-pack: the request body is spooled, fed to
// "git <cmd> --stateless-rpc" on stdin, and the child's stdout is streamed
// back as the response body.
type rpcHandler struct {
	smartHandlerDeps
}

func (h *rpcHandler) ServeGit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := requestLogger(ctx, h.log)
	resolved, err := h.resolve(ctx, r)
	if err != nil {
		EmitCanned(w, ErrorToCanned(err), nil)
		return
	}
	if !h.authorize(ctx, w, r, resolved) {
		return
	}

	// net/http normally de-chunks transparently; a chunked encoding that
	// still reaches this layer means there is no front-end to do it, and
	// the body length is unknowable here.
	for _, te := range r.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			EmitCanned(w, StatusNotImplementedCode, nil)
			return
		}
	}

	contentLength := r.ContentLength
	if contentLength < 0 {
		contentLength = 0
	}

	spooled := NewSpooledBuffer(h.config.BufferSize)
	defer spooled.Close()
	if contentLength > 0 {
		if _, err := io.CopyN(spooled, r.Body, contentLength); err != nil && err != io.EOF {
			log.Error("reading request body", "repository", resolved.repoPath, "err", err)
			EmitCanned(w, StatusExecutionFailed, nil)
			return
		}
	}
	stdin, err := spooled.ReadStream()
	if err != nil {
		log.Error("rewinding spooled request body", "repository", resolved.repoPath, "err", err)
		EmitCanned(w, StatusExecutionFailed, nil)
		return
	}

	subcommand := strings.TrimPrefix(resolved.gitCommand, "git-")
	w.Header().Set("Content-Type", fmt.Sprintf("application/x-%s-result", resolved.gitCommand))
	w.Header().Set("Cache-Control", "no-cache")

	started := time.Now()
	pw := &bodyTrackingWriter{ResponseWriter: w}
	result, err := h.runner.Run(ctx, []string{subcommand, "--stateless-rpc", resolved.repoPath}, RunOptions{
		Stdin:  stdin,
		Stdout: pw,
	})
	if err != nil {
		log.Error("rpc subprocess failed", "repository", resolved.repoPath, "err", err)
		if !pw.wrote {
			EmitCanned(w, StatusExecutionFailed, nil)
		}
		return
	}
	if result.ExitCode != 0 {
		log.Warn(
			"rpc subprocess exited non-zero",
			"repository", resolved.repoPath,
			"exitCode", result.ExitCode,
			"stderr", result.Stderr,
		)
		if !pw.wrote {
			EmitCanned(w, StatusExecutionFailed, nil)
		}
		return
	}

	if !pw.wrote {
		w.WriteHeader(http.StatusOK)
	}
	log.Debug(
		"rpc complete",
		"repository", resolved.repoPath,
		"gitCommand", resolved.gitCommand,
		"requestBytes", spooled.Len(),
		"duration", time.Since(started),
	)

	// Refresh the dumb-protocol info files so legacy clients can fetch a
	// freshly-pushed repository. Failure is logged, never surfaced.
	if resolved.gitCommand == "git-receive-pack" {
		result, err := h.runner.Run(ctx, []string{"--git-dir", resolved.repoPath, "update-server-info"}, RunOptions{})
		if err != nil {
			log.Warn("update-server-info failed", "repository", resolved.repoPath, "err", err)
		} else if result.ExitCode != 0 {
			log.Warn(
				"update-server-info exited non-zero",
				"repository", resolved.repoPath,
				"exitCode", result.ExitCode,
				"stderr", result.Stderr,
			)
		}
	}
}

// bodyTrackingWriter remembers whether any body bytes have been written to
// the underlying ResponseWriter, so the handler can tell whether the 200
// status line already went out before it tries to emit a canned error.
type bodyTrackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *bodyTrackingWriter) Write(p []byte) (int, error) {
	if !w.wrote && len(p) > 0 {
		w.wrote = true
	}
	return w.ResponseWriter.Write(p)
}
