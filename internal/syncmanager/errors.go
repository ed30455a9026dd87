package syncmanager

import "errors"

// ErrNotSubscribed indicates an operation was requested on a document
// this manager has not been asked to subscribe to.
var ErrNotSubscribed = errors.New("document is not subscribed")

// Code returns a stable, machine-readable identifier for err.
func Code(err error) string {
	if errors.Is(err, ErrNotSubscribed) {
		return "NOT_SUBSCRIBED"
	}
	return ""
}
