package gitgw

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/inconshreveable/log15"
)

// GitServerOpts contains all the possible options to initialize the git
// server with.
type GitServerOpts struct {
	// Config describes the served tree. RootPath is mandatory; everything
	// else has a usable zero value.
	Config Config

	// AuthCallback is consulted once per request with the resolved
	// repository (or file) path and the operation. When nil, every
	// operation is allowed.
	AuthCallback AuthorizationCallback

	// LockfileManager serializes on-demand repository creation. When nil, a
	// private manager is created; callers that serve several gateways over
	// the same tree should share one.
	LockfileManager *LockfileManager

	// Log receives one line per request plus any subprocess diagnostics.
	Log log15.Logger
}

// NewGitServer returns an http.Handler that speaks git's smart HTTP
// protocol, as documented on
// https://git-scm.com/book/en/v2/Git-Internals-Transfer-Protocols#_the_smart_protocol ,
// by spawning the git binary in stateless-RPC mode against repositories
// under Config.RootPath, and falls back to serving repository files directly
// for dumb-protocol clients.
func NewGitServer(opts GitServerOpts) (http.Handler, error) {
	config, err := opts.Config.normalized()
	if err != nil {
		return nil, err
	}
	if opts.AuthCallback == nil {
		opts.AuthCallback = noopAuthorizationCallback
	}
	if opts.LockfileManager == nil {
		opts.LockfileManager = NewLockfileManager()
	}
	if opts.Log == nil {
		opts.Log = log15.New()
	}

	runner := NewSubprocessRunner(config.GitBinary)
	probe := NewRepositoryProbe(runner, opts.LockfileManager)
	deps := smartHandlerDeps{
		config: config,
		probe:  probe,
		runner: runner,
		auth:   opts.AuthCallback,
		log:    opts.Log,
	}

	marker := markerPattern(config.URIMarker)
	advertisement := &advertisementHandler{smartHandlerDeps: deps}
	rpc := &rpcHandler{smartHandlerDeps: deps}
	static := &staticHandler{config: config, auth: opts.AuthCallback, log: opts.Log}

	router := NewRouter()
	router.Add(
		`^`+marker+`(?P<working_path>.*?)/info/refs\?.*?service=(?P<git_command>git-[^&]+).*$`,
		true,
		nil,
		map[string]Handler{http.MethodGet: advertisement, http.MethodHead: advertisement},
	)
	// Greedy working_path: the last /git-... segment of the URL is the
	// subcommand, so a repository may itself be named git-something.
	router.Add(
		`^`+marker+`(?P<working_path>.*)/(?P<git_command>git-[^/]+)$`,
		false,
		nil,
		map[string]Handler{http.MethodPost: rpc},
	)
	router.Add(
		`^`+marker+`(?P<working_path>.*)$`,
		false,
		nil,
		map[string]Handler{http.MethodGet: static, http.MethodHead: static},
	)

	return &gitServer{router: router, log: opts.Log}, nil
}

// markerPattern builds the regex prefix that strips the decorative path
// before the URI marker segment. With no marker configured, routes match
// from the beginning of the path.
func markerPattern(uriMarker string) string {
	if uriMarker == "" {
		return ""
	}
	return `(?P<decorative_path>.*?)(?:/` + regexp.QuoteMeta(uriMarker) + `)`
}

// gitServer is the top-level handler: the routing table wrapped with
// per-request operation IDs and logging.
type gitServer struct {
	router *Router
	log    log15.Logger
}

func (s *gitServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := s.log.New("op", uuid.New().String())
	ctx := context.WithValue(r.Context(), loggerContextKey, log)

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	started := time.Now()
	s.router.ServeHTTP(recorder, r.WithContext(ctx))
	log.Info(
		"request",
		"method", r.Method,
		"path", r.URL.Path,
		"query", r.URL.RawQuery,
		"status", recorder.status,
		"duration", time.Since(started),
	)
}

// requestLogger returns the per-request logger injected by gitServer, or
// fallback when the handler is used outside of one (e.g. in tests).
func requestLogger(ctx context.Context, fallback log15.Logger) log15.Logger {
	if log, ok := ctx.Value(loggerContextKey).(log15.Logger); ok {
		return log
	}
	return fallback
}

// statusRecorder remembers the status code a handler chose, for the
// request log line.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
