// Package queue implements the durable, per-document FIFO offline
// operation queue: local mutations made while disconnected are
// enqueued here and replayed, with exponential backoff on failure, once
// the transport reconnects.
package queue

import (
	"encoding/json"
	"time"

	"github.com/latticesync/lattice/internal/document"
)

// Status is the lifecycle state of one queued entry.
type Status string

const (
	// StatusPending means the entry has never been attempted, or is
	// waiting for its NextRetryAt to elapse before the next attempt.
	StatusPending Status = "pending"
	// StatusInFlight means a replay attempt is currently awaiting
	// acknowledgement from the transport.
	StatusInFlight Status = "in_flight"
	// StatusFailed means the entry exhausted its retry budget and will
	// not be attempted again automatically.
	StatusFailed Status = "failed"
)

// Entry is one durable queued operation.
type Entry struct {
	Sequence    uint64             `json:"sequence"`
	Op          document.Operation `json:"op"`
	EnqueuedAt  time.Time          `json:"enqueuedAt"`
	Attempts    uint32             `json:"attempts"`
	NextRetryAt time.Time          `json:"nextRetryAt"`
	Status      Status             `json:"status"`
}

func (e Entry) marshal() ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEntry(data []byte) (Entry, error) {
	var e Entry
	err := json.Unmarshal(data, &e)
	return e, err
}
