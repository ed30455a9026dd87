// Package clock implements the logical clocks used to order operations
// across replicas: a total-order Timestamp for field-level LWW
// comparisons, and a per-client VectorClock for document-level causality.
package clock

import "fmt"

// ClientID identifies a single replica. It is opaque to this package.
type ClientID string

// Timestamp totally orders events across replicas: first by Logical
// value, then by ClientID as a deterministic tie-break. It never
// represents wall-clock time.
type Timestamp struct {
	Client  ClientID `json:"client"`
	Logical uint64   `json:"logical"`
}

// Less reports whether t happened before other in the total order.
func (t Timestamp) Less(other Timestamp) bool {
	if t.Logical != other.Logical {
		return t.Logical < other.Logical
	}
	return t.Client < other.Client
}

// Equal reports whether t and other are the identical timestamp.
func (t Timestamp) Equal(other Timestamp) bool {
	return t.Logical == other.Logical && t.Client == other.Client
}

// String renders the timestamp for logging.
func (t Timestamp) String() string {
	return fmt.Sprintf("%s@%d", t.Client, t.Logical)
}
