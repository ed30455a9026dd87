package transport

import "errors"

// ErrNotConnected is returned by Send/Request when the session is not
// currently in the Connected state.
var ErrNotConnected = errors.New("transport session is not connected")

// ErrTimeout is returned by Request when no response arrives before
// its deadline.
var ErrTimeout = errors.New("transport request timed out")

// ErrClosed is returned once the session has been closed.
var ErrClosed = errors.New("transport session is closed")

// Code returns a stable, machine-readable identifier for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotConnected):
		return "NOT_CONNECTED"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrClosed):
		return "CLOSED"
	default:
		return ""
	}
}

// Retryable reports whether the operation that produced err might
// succeed if retried later.
func Retryable(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrTimeout)
}
