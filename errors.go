package gitgw

import "errors"

// isErr reports whether err wraps target, per errors.Is. github.com/pkg/errors
// values produced with Wrap/Wrapf implement Unwrap, so this sees through
// them to the sentinel underneath.
func isErr(err, target error) bool {
	return errors.Is(err, target)
}

// Sentinel errors describing the outcome taxonomy from the component
// contracts. Handlers compare against these with errors.Is after unwrapping
// any github.com/pkg/errors context, and map them deterministically onto a
// canned HTTP response; none of them ever reach the HTTP boundary directly.
var (
	// ErrBadRequest is returned for malformed input: an unknown git command,
	// an unparsable URL fragment, or a non-UTF-8 path segment.
	ErrBadRequest = errors.New("gitgw: bad request")

	// ErrForbidden is returned when a canonicalized path escapes root_path,
	// or when auto-create would nest a repository inside another or step
	// across a non-directory.
	ErrForbidden = errors.New("gitgw: forbidden")

	// ErrNotFound is returned when a path does not resolve to an existing
	// repository and no auto-create applies.
	ErrNotFound = errors.New("gitgw: not found")

	// ErrMethodNotAllowed is returned when a route matches but no handler is
	// registered for the request method.
	ErrMethodNotAllowed = errors.New("gitgw: method not allowed")

	// ErrExecutionFailed is returned when the git subprocess exits non-zero.
	ErrExecutionFailed = errors.New("gitgw: git execution failed")

	// ErrNotImplemented is returned for chunked request bodies that the
	// gateway's HTTP front-end has not already de-chunked.
	ErrNotImplemented = errors.New("gitgw: not implemented")

	// ErrFlush reports a flush-pkt on the wire. It is a framing signal, not
	// a failure: PktLineReader uses it to distinguish "0000" from the empty
	// pkt-line, and it never maps onto an HTTP status.
	ErrFlush = errors.New("gitgw: flush-pkt")
)
