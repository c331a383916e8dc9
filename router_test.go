package gitgw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// recordingHandler remembers the captures of the last request it served.
type recordingHandler struct {
	called   int
	path     string
	captures map[string]string
}

func (h *recordingHandler) ServeGit(w http.ResponseWriter, r *http.Request) {
	h.called++
	h.path = r.URL.Path
	h.captures = Captures(r)
	w.WriteHeader(http.StatusNoContent)
}

func TestRouterCaptures(t *testing.T) {
	handler := &recordingHandler{}
	router := NewRouter()
	router.Add(
		`^(?P<working_path>.*)/(?P<git_command>git-[^/]+)$`,
		false,
		nil,
		map[string]Handler{http.MethodPost: handler},
	)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/a/git-x/b/git-upload-pack", nil))

	if handler.called != 1 {
		t.Fatalf("expected handler to be called once, got %d", handler.called)
	}
	// Greedy working_path: the last /git-... segment wins.
	if handler.captures["working_path"] != "/a/git-x/b" {
		t.Errorf("expected working_path \"/a/git-x/b\", got %q", handler.captures["working_path"])
	}
	if handler.captures["git_command"] != "git-upload-pack" {
		t.Errorf("expected git_command \"git-upload-pack\", got %q", handler.captures["git_command"])
	}
}

func TestRouterNormalizesPath(t *testing.T) {
	handler := &recordingHandler{}
	router := NewRouter()
	router.Add(`^/a/b$`, false, nil, map[string]Handler{http.MethodGet: handler})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example.com//a///b/", nil))

	if handler.called != 1 {
		t.Fatalf("expected normalized path to match, got status %d", w.Code)
	}
	if handler.path != "/a/b" {
		t.Errorf("expected rewritten path \"/a/b\", got %q", handler.path)
	}
}

func TestRouterQueryMatching(t *testing.T) {
	handler := &recordingHandler{}
	router := NewRouter()
	router.Add(
		`^(?P<working_path>.*?)/info/refs\?.*?service=(?P<git_command>git-[^&]+).*$`,
		true,
		nil,
		map[string]Handler{http.MethodGet: handler},
	)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(
		http.MethodGet, "/repo.git/info/refs?foo=1&service=git-upload-pack&bar=2", nil))

	if handler.called != 1 {
		t.Fatalf("expected query route to match, got status %d", w.Code)
	}
	if handler.captures["git_command"] != "git-upload-pack" {
		t.Errorf("expected git_command capture, got %q", handler.captures["git_command"])
	}
	if handler.captures["working_path"] != "/repo.git" {
		t.Errorf("expected working_path \"/repo.git\", got %q", handler.captures["working_path"])
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	router := NewRouter()
	router.Add(`^/repo$`, false, nil, map[string]Handler{
		http.MethodGet:  &recordingHandler{},
		http.MethodHead: &recordingHandler{},
	})
	router.Add(`^/.*$`, false, nil, map[string]Handler{http.MethodPost: &recordingHandler{}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/repo", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
	// The Allow header carries the union of methods across all matching
	// routes, sorted.
	if allow := w.Header().Get("Allow"); allow != "GET, HEAD, POST" {
		t.Errorf("expected Allow \"GET, HEAD, POST\", got %q", allow)
	}
}

func TestRouterNotFound(t *testing.T) {
	router := NewRouter()
	router.Add(`^/only$`, false, nil, map[string]Handler{http.MethodGet: &recordingHandler{}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/other", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRouterDefaultHandler(t *testing.T) {
	fallback := &recordingHandler{}
	router := NewRouter()
	router.Add(`^/repo$`, false, fallback, map[string]Handler{http.MethodGet: &recordingHandler{}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/repo", nil))

	if fallback.called != 1 {
		t.Errorf("expected the default handler to serve DELETE, got status %d", w.Code)
	}
}

func TestRouterFirstMatchWins(t *testing.T) {
	first := &recordingHandler{}
	second := &recordingHandler{}
	router := NewRouter()
	router.Add(`^/repo.*$`, false, nil, map[string]Handler{http.MethodGet: first})
	router.Add(`^/repo$`, false, nil, map[string]Handler{http.MethodGet: second})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/repo", nil))

	if first.called != 1 || second.called != 0 {
		t.Errorf("expected the first registered route to win (first=%d second=%d)", first.called, second.called)
	}
}
