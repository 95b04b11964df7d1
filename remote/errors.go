package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrConnectivity marks failures worth retrying once the network recovers:
// transport errors, timeouts, and server-side statuses.
var ErrConnectivity = errors.New("remote unreachable")

// ErrRejected marks a business-level refusal from the remote. Retrying the
// same request would fail the same way.
var ErrRejected = errors.New("remote rejected request")

// ErrUnauthorized marks a credential problem. It is terminal like ErrRejected
// but callers may want to surface it separately.
var ErrUnauthorized = errors.New("remote authorization failed")

// StatusError carries the HTTP status and remote message of a failed request.
// It unwraps to one of the classification sentinels above.
type StatusError struct {
	Status  int
	Message string
	class   error
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("remote returned %d", e.Status)
}

func (e *StatusError) Unwrap() error {
	return e.class
}

func newStatusError(status int, message string) *StatusError {
	return &StatusError{Status: status, Message: message, class: classifyStatus(status)}
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return ErrConnectivity
	case status >= 500:
		return ErrConnectivity
	default:
		return ErrRejected
	}
}

// IsConnectivity reports whether the error means the remote could not be
// reached or is temporarily unable to serve. These failures justify queueing
// or retrying the work.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrConnectivity)
}
