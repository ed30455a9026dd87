// Package wire defines the frames exchanged between a client's
// transport session and the coordinator it syncs against, and their
// JSON codec.
package wire

import (
	"github.com/latticesync/lattice/internal/clock"
	"github.com/latticesync/lattice/internal/document"
)

// FrameType identifies the payload carried by a Frame.
type FrameType string

const (
	TypeSubscribe    FrameType = "subscribe"
	TypeUnsubscribe  FrameType = "unsubscribe"
	TypeSyncRequest  FrameType = "syncRequest"
	TypeSyncResponse FrameType = "syncResponse"
	TypeDelta        FrameType = "delta"
	TypeAck          FrameType = "ack"
	TypePing         FrameType = "ping"
	TypePong         FrameType = "pong"
	TypeError        FrameType = "error"
)

// Subscribe asks the coordinator to start forwarding operations for a
// document to this connection.
type Subscribe struct {
	DocumentID document.ID `json:"documentId"`
}

// Unsubscribe asks the coordinator to stop forwarding operations for a
// document.
type Unsubscribe struct {
	DocumentID document.ID `json:"documentId"`
}

// SyncRequest asks for the coordinator's current state of a document as
// of, or since, the given clock.
type SyncRequest struct {
	MessageID  string             `json:"messageId"`
	DocumentID document.ID        `json:"documentId"`
	Since      []clock.ClockEntry `json:"since,omitempty"`
}

// SyncResponse answers a SyncRequest with a full document snapshot.
// MessageID echoes the SyncRequest's, so a session's correlation table
// can route the response back to the caller awaiting it.
type SyncResponse struct {
	MessageID  string                                         `json:"messageId"`
	DocumentID document.ID                                    `json:"documentId"`
	Fields     map[document.FieldName]document.FieldRegister `json:"fields"`
	Clock      []clock.ClockEntry                             `json:"clock"`
}

// Delta carries one or more field changes for a document, produced
// either by a local mutation or replayed from the offline queue.
type Delta struct {
	MessageID  string                                   `json:"messageId"`
	DocumentID document.ID                              `json:"documentId"`
	Fields     map[document.FieldName]document.FieldRegister `json:"fields"`
	Clock      []clock.ClockEntry                        `json:"clock"`
}

// Ack confirms durable receipt of the Delta identified by MessageID.
type Ack struct {
	MessageID  string      `json:"messageId"`
	DocumentID document.ID `json:"documentId"`
}

// Ping is an empty heartbeat frame sent by either side of an idle
// connection.
type Ping struct{}

// Pong answers a Ping.
type Pong struct{}

// Error reports a protocol-level failure tied to a specific frame or
// document.
type Error struct {
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	DocumentID document.ID `json:"documentId,omitempty"`
	MessageID  string      `json:"messageId,omitempty"`
}
