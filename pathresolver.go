package gitgw

import (
	"path"
	"path/filepath"
	"regexp"
	"unicode/utf8"

	"github.com/pkg/errors"
)

var collapseSlashes = regexp.MustCompile(`/+`)

// normalizeURLPath collapses runs of "/" to a single "/", trims leading and
// trailing "/", and resolves "." and ".." segments syntactically against a
// root of "/". This is shared between the Path Resolver and the Router,
// which both need to perform the same collapse/trim/join before matching or
// resolving.
func normalizeURLPath(fragment string) (string, error) {
	if !utf8.ValidString(fragment) {
		return "", errors.Wrap(ErrBadRequest, "path is not valid UTF-8")
	}
	collapsed := collapseSlashes.ReplaceAllString(fragment, "/")
	trimmed := trimSlashes(collapsed)
	joined := path.Join("/", trimmed)
	return joined, nil
}

func trimSlashes(s string) string {
	start, end := 0, len(s)
	for start < end && s[start] == '/' {
		start++
	}
	for end > start && s[end-1] == '/' {
		end--
	}
	return s[start:end]
}

// ResolvePath turns a URL-relative path fragment into a canonical absolute
// filesystem path anchored under rootPath, or fails with ErrForbidden /
// ErrBadRequest. rootPath must already be an absolute, canonical path (see
// Config.normalized).
//
// The returned path P always satisfies filepath.Clean(P) == P and is a
// prefix-descendant of rootPath, comparing with a trailing separator to
// avoid the "/root" vs "/root-evil" confusion.
func ResolvePath(rootPath, fragment string, resolveSymlinks bool) (string, error) {
	normalized, err := normalizeURLPath(fragment)
	if err != nil {
		return "", err
	}

	candidate := filepath.Join(rootPath, filepath.FromSlash(normalized))
	candidate = filepath.Clean(candidate)

	if resolveSymlinks {
		resolved, err := filepath.EvalSymlinks(candidate)
		if err == nil {
			candidate = resolved
		}
		// A non-existent path can't be resolved; fall through with the
		// syntactic candidate so that auto-create (which creates paths that
		// don't exist yet) keeps working.
	}

	if !isWithin(candidate, rootPath) {
		return "", errors.Wrapf(ErrForbidden, "path %q escapes root %q", candidate, rootPath)
	}
	return candidate, nil
}

// isWithin reports whether candidate is rootPath itself or a descendant of
// it, guarding against the "/root" vs "/root-evil" prefix confusion by
// comparing path segments through filepath.Rel instead of raw byte prefixes.
func isWithin(candidate, rootPath string) bool {
	rel, err := filepath.Rel(rootPath, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	sep := string(filepath.Separator)
	return rel != ".." && !hasPrefix(rel, ".."+sep)
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
