package gitgw

import (
	"context"
	"net/http"
)

// GitOperation describes the high-level effect of the request currently
// being handled.
type GitOperation int

const (
	// OperationPull denotes a fetch/clone (git-upload-pack) operation.
	OperationPull GitOperation = iota

	// OperationPush denotes a push (git-receive-pack) operation.
	OperationPush

	// OperationBrowse denotes a dumb-protocol static file request.
	OperationBrowse
)

func (o GitOperation) String() string {
	switch o {
	case OperationPull:
		return "pull"
	case OperationPush:
		return "push"
	case OperationBrowse:
		return "browse"
	default:
		return "unknown"
	}
}

// AuthorizationLevel describes the result of an authorization attempt.
type AuthorizationLevel int

const (
	// AuthorizationDenied denotes that the operation was not allowed. The
	// callback is expected to have already written a response.
	AuthorizationDenied AuthorizationLevel = iota

	// AuthorizationAllowed denotes that the operation was allowed outright.
	AuthorizationAllowed

	// AuthorizationAllowedReadOnly denotes that the operation was allowed,
	// but only in a read-only fashion: a push request at this level is
	// answered with 403 Forbidden.
	AuthorizationAllowedReadOnly
)

// AuthorizationCallback is invoked once per request, after the URL has been
// parsed and the path resolved. For the smart endpoints it runs after the
// repository probe, so an on-demand repository has already been created by
// the time it is called. It consumes an
// already-authenticated principal from the request's context; this gateway
// performs no authentication of its own.
type AuthorizationCallback func(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	repositoryPath string,
	operation GitOperation,
) AuthorizationLevel

func noopAuthorizationCallback(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	repositoryPath string,
	operation GitOperation,
) AuthorizationLevel {
	return AuthorizationAllowed
}
