package gitgw

import (
	"context"
	"net/http"
	"regexp"
	"sort"
	"strings"
)

// contextKey is an unexported type for the context keys this package uses,
// so they can never collide with keys set by other packages.
type contextKey int

const (
	capturesContextKey contextKey = iota
	loggerContextKey
)

// Handler is implemented by every endpoint the Router can dispatch to.
type Handler interface {
	ServeGit(w http.ResponseWriter, r *http.Request)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(w http.ResponseWriter, r *http.Request)

// ServeGit implements Handler.
func (f HandlerFunc) ServeGit(w http.ResponseWriter, r *http.Request) { f(w, r) }

// route is one entry in a Router's table: a regex over the URL path
// (optionally "path?query"), a per-method handler map, and an optional
// default handler consulted when no method-specific handler is registered.
type route struct {
	pattern      *regexp.Regexp
	includeQuery bool
	methods      map[string]Handler
	defaultH     Handler
}

// Router matches requests against an ordered list of URL patterns with
// per-method handlers, first-match-wins.
type Router struct {
	routes []route
}

// NewRouter returns an empty Router. Routes must be added in order from most
// specific to most general, since matching is first-match-wins.
func NewRouter() *Router {
	return &Router{}
}

// Add registers a route. pattern is compiled as a Go regexp; if
// includeQuery is true, matching is attempted against "path?query" instead
// of "path" alone. defaultHandler (optional) is used for any HTTP method not
// present in methods.
func (router *Router) Add(pattern string, includeQuery bool, defaultHandler Handler, methods map[string]Handler) {
	router.routes = append(router.routes, route{
		pattern:      regexp.MustCompile(pattern),
		includeQuery: includeQuery,
		methods:      methods,
		defaultH:     defaultHandler,
	})
}

// Captures returns the named regex captures injected by the Router for the
// route that matched the current request, or nil if no route has matched
// (e.g. inside a canned 404/405 response).
func Captures(r *http.Request) map[string]string {
	captures, _ := r.Context().Value(capturesContextKey).(map[string]string)
	return captures
}

// ServeHTTP implements http.Handler. It normalizes PATH_INFO, searches
// routes in registration order, and dispatches to the first pattern that
// matches both the path and the request method (falling back to a
// registered default handler). A pattern match with no usable handler
// accumulates the union of registered methods across all matching entries
// and responds 405 with that union in the Allow header; no match at all
// responds 404.
func (router *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	normalized, err := normalizeURLPath(r.URL.Path)
	if err != nil || strings.HasPrefix(normalized, "/../") {
		EmitCanned(w, StatusNotFound, nil)
		return
	}

	allowed := make(map[string]bool)
	for _, rt := range router.routes {
		subject := normalized
		if rt.includeQuery {
			subject = normalized + "?" + r.URL.RawQuery
		}
		match := rt.pattern.FindStringSubmatch(subject)
		if match == nil {
			continue
		}

		handler := rt.methods[r.Method]
		if handler == nil {
			handler = rt.defaultH
		}
		if handler == nil {
			for method := range rt.methods {
				allowed[method] = true
			}
			continue
		}

		captures := namedCaptures(rt.pattern, match)
		r2 := r.WithContext(context.WithValue(r.Context(), capturesContextKey, captures))
		r2.URL.Path = normalized
		handler.ServeGit(w, r2)
		return
	}

	if len(allowed) > 0 {
		methods := make([]string, 0, len(allowed))
		for m := range allowed {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		EmitCanned(w, StatusMethodNotAllowed, map[string]string{"Allow": strings.Join(methods, ", ")})
		return
	}

	EmitCanned(w, StatusNotFound, nil)
}

func namedCaptures(pattern *regexp.Regexp, match []string) map[string]string {
	captures := make(map[string]string)
	for i, name := range pattern.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		captures[name] = match[i]
	}
	return captures
}
