// Package document implements the replicated document model: a set of
// named field registers, each resolved independently by Last-Write-Wins
// over a (logical, client) timestamp, with a per-document vector clock
// tracking causal history across replicas.
package document

import (
	"fmt"

	"github.com/latticesync/lattice/internal/clock"
)

// ID identifies a document, unique within one sync domain.
type ID string

// FieldName identifies one register within a document.
type FieldName string

// FieldRegister is one field's current value together with the LWW
// metadata needed to resolve future conflicts.
type FieldRegister struct {
	Value     Value
	Tombstone bool
	Timestamp clock.Timestamp
}

// Document is a set of independently-resolved field registers plus the
// vector clock recording which remote operations have been observed.
type Document struct {
	ID     ID
	Fields map[FieldName]FieldRegister
	Clock  clock.VectorClock
}

// New returns an empty document ready to accept local or remote writes.
func New(id ID) *Document {
	return &Document{
		ID:     id,
		Fields: make(map[FieldName]FieldRegister),
		Clock:  clock.New(),
	}
}

// Operation is one atomic field write or delete produced locally or
// received from a remote replica, the unit enqueued while offline and
// carried by Delta frames. Clock is the document's vector clock
// snapshot taken immediately after the local tick that produced
// Timestamp; conflict detection on the receiving end compares it
// against the local document's clock.
type Operation struct {
	MessageID  string
	DocumentID ID
	Field      FieldName
	Value      Value
	Tombstone  bool
	Timestamp  clock.Timestamp
	Clock      clock.VectorClock
	WallTime   int64 // advisory only; never consulted by merge or compare
}

// Set writes a field locally. The caller supplies the timestamp
// (typically produced by ticking the local client's vector clock
// entry) so that Set and ApplyRemote share one comparator.
func (d *Document) Set(field FieldName, value Value, ts clock.Timestamp) Operation {
	d.Fields[field] = FieldRegister{Value: value, Timestamp: ts}
	d.Clock[ts.Client] = maxU64(d.Clock[ts.Client], ts.Logical)
	return Operation{DocumentID: d.ID, Field: field, Value: value, Timestamp: ts, Clock: d.Clock.Copy()}
}

// Delete tombstones a field locally, preserving its timestamp lineage
// so the tombstone itself participates in future LWW comparisons.
func (d *Document) Delete(field FieldName, ts clock.Timestamp) Operation {
	d.Fields[field] = FieldRegister{Tombstone: true, Timestamp: ts}
	d.Clock[ts.Client] = maxU64(d.Clock[ts.Client], ts.Logical)
	return Operation{DocumentID: d.ID, Field: field, Tombstone: true, Timestamp: ts, Clock: d.Clock.Copy()}
}

// Get returns the field's value. ok is false if the field was never set
// or is currently tombstoned.
func (d *Document) Get(field FieldName) (Value, bool) {
	reg, exists := d.Fields[field]
	if !exists || reg.Tombstone {
		return Value{}, false
	}
	return reg.Value, true
}

// ApplyRemote merges one remote operation into the document using the
// LWW rule: the incoming register wins if its timestamp is strictly
// greater than the current register's; on an exact timestamp match the
// values must be identical or this is a protocol violation, since two
// distinct operations must never share a (logical, client) pair.
func (d *Document) ApplyRemote(op Operation) (changed bool, err error) {
	if op.DocumentID != d.ID {
		return false, fmt.Errorf("apply remote op for %q to document %q: %w", op.DocumentID, d.ID, ErrDocumentMismatch)
	}

	incoming := FieldRegister{Value: op.Value, Tombstone: op.Tombstone, Timestamp: op.Timestamp}
	changed, err = d.mergeField(op.Field, incoming)
	if err != nil {
		return false, err
	}

	d.Clock[op.Timestamp.Client] = maxU64(d.Clock[op.Timestamp.Client], op.Timestamp.Logical)
	return changed, nil
}

func (d *Document) mergeField(field FieldName, incoming FieldRegister) (bool, error) {
	current, exists := d.Fields[field]
	if !exists {
		d.Fields[field] = incoming
		return true, nil
	}

	switch {
	case current.Timestamp.Equal(incoming.Timestamp):
		if !registerValuesEqual(current, incoming) {
			return false, &ConflictError{Field: field, Local: current.Value, Remote: incoming.Value}
		}
		return false, nil
	case current.Timestamp.Less(incoming.Timestamp):
		d.Fields[field] = incoming
		return true, nil
	default:
		return false, nil
	}
}

func registerValuesEqual(a, b FieldRegister) bool {
	if a.Tombstone != b.Tombstone {
		return false
	}
	if a.Tombstone {
		return true
	}
	return a.Value.Equal(b.Value)
}

// Merge folds every field of remote into d using the same LWW rule as
// ApplyRemote, and merges remote's vector clock into d's. It is
// commutative, associative, and idempotent: merging the same remote
// document any number of times, in any order relative to other merges,
// converges to the same state.
func (d *Document) Merge(remote *Document) (updated int, err error) {
	for field, reg := range remote.Fields {
		changed, mergeErr := d.mergeField(field, reg)
		if mergeErr != nil {
			return updated, mergeErr
		}
		if changed {
			updated++
		}
	}
	d.Clock = d.Clock.Merge(remote.Clock)
	return updated, nil
}

// Snapshot is the serializable point-in-time state of a Document, used
// for persistence and for full-document SyncResponse payloads.
type Snapshot struct {
	ID     ID                         `json:"documentId"`
	Fields map[FieldName]FieldRegister `json:"fields"`
	Clock  []clock.ClockEntry          `json:"clock"`
}

// TakeSnapshot captures d's current state.
func (d *Document) TakeSnapshot() Snapshot {
	fields := make(map[FieldName]FieldRegister, len(d.Fields))
	for k, v := range d.Fields {
		fields[k] = v
	}
	return Snapshot{ID: d.ID, Fields: fields, Clock: d.Clock.Entries()}
}

// Restore rebuilds a Document from a previously taken Snapshot.
func Restore(s Snapshot) *Document {
	fields := make(map[FieldName]FieldRegister, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	return &Document{ID: s.ID, Fields: fields, Clock: clock.FromEntries(s.Clock)}
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
