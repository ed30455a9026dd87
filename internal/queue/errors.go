package queue

import "errors"

// ErrQueueFull indicates the queue has reached its configured maximum
// size and will not accept further entries until some are acked.
var ErrQueueFull = errors.New("offline queue is full")

// ErrEntryNotFound indicates Ack was called for an entry that is not
// (or is no longer) in the queue.
var ErrEntryNotFound = errors.New("queue entry not found")

// Code returns a stable, machine-readable identifier for err.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrQueueFull):
		return "QUEUE_FULL"
	case errors.Is(err, ErrEntryNotFound):
		return "ENTRY_NOT_FOUND"
	default:
		return ""
	}
}

// Retryable reports whether retrying the operation that produced err
// could plausibly succeed later (e.g. once the queue has drained).
func Retryable(err error) bool {
	return errors.Is(err, ErrQueueFull)
}
