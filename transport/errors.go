package transport

import "github.com/meetecho/janode-go/internal/errors"

const (
	// ErrClosed is returned by Send on a closed transport, never a silent
	// drop.
	ErrClosed errors.Code = "connection_closed"
	// ErrAttemptLimitExceeded means the reconnect loop ran out of attempts.
	ErrAttemptLimitExceeded errors.Code = "attempt_limit_exceeded"
	ErrInvalidURL           errors.Code = "invalid_url"
	ErrBadFrame             errors.Code = "bad_frame"
)
