package gitgw

import "net/http"

// CannedStatus identifies one of the gateway's fixed, empty-bodied HTTP
// responses. Using a distinct type (instead of a raw int) keeps EmitCanned's
// call sites limited to the codes this gateway actually emits.
type CannedStatus int

// The statuses the gateway emits as canned responses.
const (
	StatusOK                 CannedStatus = http.StatusOK
	StatusMovedPermanently   CannedStatus = http.StatusMovedPermanently
	StatusNotModified        CannedStatus = http.StatusNotModified
	StatusBadRequest         CannedStatus = http.StatusBadRequest
	StatusUnauthorized       CannedStatus = http.StatusUnauthorized
	StatusForbidden          CannedStatus = http.StatusForbidden
	StatusNotFound           CannedStatus = http.StatusNotFound
	StatusMethodNotAllowed   CannedStatus = http.StatusMethodNotAllowed
	StatusExecutionFailed    CannedStatus = http.StatusExpectationFailed
	StatusNotImplementedCode CannedStatus = http.StatusNotImplemented
)

// EmitCanned writes a canned, empty-bodied response: the status line for
// code, Content-Type: text/plain (so Git clients never mistake the body for
// protocol payload), any caller-supplied headers, and no body.
func EmitCanned(w http.ResponseWriter, code CannedStatus, headers map[string]string) {
	h := w.Header()
	for k := range h {
		h.Del(k)
	}
	h.Set("Content-Type", "text/plain")
	for k, v := range headers {
		h.Set(k, v)
	}
	w.WriteHeader(int(code))
}

// ErrorToCanned maps an error from this package's sentinel taxonomy onto the
// CannedStatus that the HTTP boundary should emit for it. Unrecognized
// errors are treated as execution failures, since they only ever originate
// from a layer that already attempted and failed an operation.
func ErrorToCanned(err error) CannedStatus {
	switch {
	case err == nil:
		return StatusOK
	case isErr(err, ErrBadRequest):
		return StatusBadRequest
	case isErr(err, ErrForbidden):
		return StatusForbidden
	case isErr(err, ErrNotFound):
		return StatusNotFound
	case isErr(err, ErrMethodNotAllowed):
		return StatusMethodNotAllowed
	case isErr(err, ErrNotImplemented):
		return StatusNotImplementedCode
	default:
		return StatusExecutionFailed
	}
}
