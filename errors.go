package janode

import (
	"fmt"

	"github.com/meetecho/janode-go/internal/errors"
	"github.com/meetecho/janode-go/transport"
)

const (
	// ErrConfigInvalid is raised eagerly at construction.
	ErrConfigInvalid errors.Code = "config_invalid"

	// ErrAttemptLimitExceeded means the reconnect loop ran out of
	// attempts while opening the connection.
	ErrAttemptLimitExceeded = transport.ErrAttemptLimitExceeded

	// ErrConnectionClosed is terminal for a connection; every owned
	// transaction fails with it. Shares its code with the transport layer
	// so errors.Is matches either origin.
	ErrConnectionClosed errors.Code = "connection_closed"
	ErrConnectionError  errors.Code = "connection_error"
	ErrAlreadyClosed    errors.Code = "already_closed"

	ErrSessionDestroyed errors.Code = "session_destroyed"
	ErrHandleDetached   errors.Code = "handle_detached"
	ErrAlreadyDetached  errors.Code = "already_detached"

	// ErrJanusError classifies definitive error replies from the server.
	ErrJanusError errors.Code = "janus_error"
	// ErrUnexpectedResponse means the reply verb did not match the
	// expected outcome for the request.
	ErrUnexpectedResponse errors.Code = "unexpected_response"
	ErrTimeout            errors.Code = "timeout"
	ErrInvalidArgument    errors.Code = "invalid_argument"

	ErrDuplicateTransaction errors.Code = "duplicate_id"
	ErrUnmanagedEvent       errors.Code = "unmanaged_event"
)

// APIError is the {code, reason} payload of a Janus error reply. It
// matches ErrJanusError under errors.Is.
type APIError struct {
	Code   int64  `json:"code"`
	Reason string `json:"reason"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("janus error %d: %s", e.Code, e.Reason)
}

func (e *APIError) Is(target error) bool {
	c, ok := target.(errors.Code)
	return ok && c == ErrJanusError
}

func janusErr(e *APIError) error {
	if e == nil {
		return errors.New(ErrJanusError, "error reply without payload")
	}
	return e
}
