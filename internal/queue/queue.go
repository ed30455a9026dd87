package queue

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/latticesync/lattice/internal/document"
	"github.com/latticesync/lattice/internal/kv"
)

// Config controls queue capacity and retry backoff.
type Config struct {
	MaxSize      int
	MaxRetries   uint32
	RetryDelay   time.Duration
	RetryBackoff float64
}

// DefaultConfig returns reasonable defaults for an interactive client.
func DefaultConfig() Config {
	return Config{
		MaxSize:      1000,
		MaxRetries:   5,
		RetryDelay:   time.Second,
		RetryBackoff: 2.0,
	}
}

// Queue is a durable, per-document FIFO queue of offline operations
// backed by a kv.Store. Keys are queue:<documentId>:<sequence>, with
// sequence big-endian encoded so lexicographic byte order matches
// numeric order and Replay naturally yields FIFO-per-document order.
type Queue struct {
	store  kv.Store
	cfg    Config
	mu     sync.Mutex
	nextID uint64
}

// New returns a Queue over store. nextSeq should be one past the
// highest sequence previously persisted (0 for a fresh store); callers
// recover it by scanning on startup if they need exact continuation.
func New(store kv.Store, cfg Config, nextSeq uint64) *Queue {
	return &Queue{store: store, cfg: cfg, nextID: nextSeq}
}

func entryKey(docID document.ID, seq uint64) []byte {
	key := make([]byte, 0, len(docID)+14)
	key = append(key, "queue:"...)
	key = append(key, docID...)
	key = append(key, ':')
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	key = append(key, seqBytes[:]...)
	return key
}

func queuePrefix(docID document.ID) []byte {
	prefix := make([]byte, 0, len(docID)+8)
	prefix = append(prefix, "queue:"...)
	prefix = append(prefix, docID...)
	prefix = append(prefix, ':')
	return prefix
}

// Enqueue durably appends op to documentId's queue. It returns
// ErrQueueFull once the document's queue has reached cfg.MaxSize
// entries.
func (q *Queue) Enqueue(ctx context.Context, op document.Operation) (Entry, error) {
	q.mu.Lock()
	seq := q.nextID
	q.nextID++
	q.mu.Unlock()

	size, err := q.size(ctx, op.DocumentID)
	if err != nil {
		return Entry{}, err
	}
	if q.cfg.MaxSize > 0 && size >= q.cfg.MaxSize {
		return Entry{}, ErrQueueFull
	}

	entry := Entry{
		Sequence:   seq,
		Op:         op,
		EnqueuedAt: time.Now(),
		Status:     StatusPending,
	}

	data, err := entry.marshal()
	if err != nil {
		return Entry{}, fmt.Errorf("marshal queue entry: %w", err)
	}
	if err := q.store.Put(ctx, entryKey(op.DocumentID, seq), data); err != nil {
		return Entry{}, fmt.Errorf("persist queue entry: %w", err)
	}
	return entry, nil
}

// Replay returns the document's queued entries in FIFO order that are
// currently eligible for a retry attempt (status pending and
// NextRetryAt not in the future), marking each as in-flight.
func (q *Queue) Replay(ctx context.Context, docID document.ID, now time.Time) ([]Entry, error) {
	var ready []Entry
	err := q.store.ForEachPrefix(ctx, queuePrefix(docID), func(key, value []byte) (bool, error) {
		entry, err := unmarshalEntry(value)
		if err != nil {
			return false, fmt.Errorf("decode queue entry: %w", err)
		}
		if entry.Status == StatusPending && !entry.NextRetryAt.After(now) {
			entry.Status = StatusInFlight
			data, err := entry.marshal()
			if err != nil {
				return false, err
			}
			if err := q.store.Put(ctx, key, data); err != nil {
				return false, err
			}
			ready = append(ready, entry)
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay queue: %w", err)
	}
	return ready, nil
}

// Ack removes the entry for (docID, seq) from the queue after its
// operation has been durably accepted by the remote replica, giving
// at-most-once effect: a crash before Ack simply causes a harmless
// re-send next replay, and ApplyRemote on the far side is idempotent.
func (q *Queue) Ack(ctx context.Context, docID document.ID, seq uint64) error {
	key := entryKey(docID, seq)
	if _, err := q.store.Get(ctx, key); err != nil {
		return ErrEntryNotFound
	}
	if err := q.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("ack queue entry: %w", err)
	}
	return nil
}

// PendingForField returns the first not-yet-failed entry queued for
// docID whose operation targets field, used by the remote-operation
// conflict check: a concurrent incoming delta on a field the local
// replica still has an outstanding write for is a genuine conflict,
// not just an ordinary LWW merge.
func (q *Queue) PendingForField(ctx context.Context, docID document.ID, field document.FieldName) (Entry, bool, error) {
	var found Entry
	ok := false
	err := q.store.ForEachPrefix(ctx, queuePrefix(docID), func(_, value []byte) (bool, error) {
		entry, err := unmarshalEntry(value)
		if err != nil {
			return false, err
		}
		if entry.Op.Field == field && entry.Status != StatusFailed {
			found = entry
			ok = true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("find pending entry for field: %w", err)
	}
	return found, ok, nil
}

// Supersede removes the queue entry for (docID, seq) because a remote
// operation won a conflict against it: resending it would only be
// overwritten again, so it is dropped instead of replayed.
func (q *Queue) Supersede(ctx context.Context, docID document.ID, seq uint64) error {
	key := entryKey(docID, seq)
	if _, err := q.store.Get(ctx, key); err != nil {
		return ErrEntryNotFound
	}
	if err := q.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("supersede queue entry: %w", err)
	}
	return nil
}

// Fail records a failed replay attempt for (docID, seq): attempts is
// bumped, and the entry is scheduled for retry after an exponentially
// growing delay, or marked StatusFailed once MaxRetries is exhausted.
func (q *Queue) Fail(ctx context.Context, docID document.ID, seq uint64, now time.Time) error {
	key := entryKey(docID, seq)
	data, err := q.store.Get(ctx, key)
	if err != nil {
		return ErrEntryNotFound
	}
	entry, err := unmarshalEntry(data)
	if err != nil {
		return fmt.Errorf("decode queue entry: %w", err)
	}

	entry.Attempts++
	if entry.Attempts > q.cfg.MaxRetries {
		entry.Status = StatusFailed
	} else {
		entry.Status = StatusPending
		entry.NextRetryAt = now.Add(backoffDelay(q.cfg, entry.Attempts))
	}

	out, err := entry.marshal()
	if err != nil {
		return err
	}
	return q.store.Put(ctx, key, out)
}

func backoffDelay(cfg Config, attempts uint32) time.Duration {
	delay := float64(cfg.RetryDelay)
	for i := uint32(0); i < attempts; i++ {
		delay *= cfg.RetryBackoff
	}
	return time.Duration(delay)
}

// Stats summarizes the current state of one document's queue.
type Stats struct {
	Pending          int
	InFlight         int
	Failed           int
	OldestEnqueuedAt time.Time
}

// Stats computes Stats for documentId by scanning its queue.
func (q *Queue) Stats(ctx context.Context, docID document.ID) (Stats, error) {
	var s Stats
	err := q.store.ForEachPrefix(ctx, queuePrefix(docID), func(_, value []byte) (bool, error) {
		entry, err := unmarshalEntry(value)
		if err != nil {
			return false, err
		}
		switch entry.Status {
		case StatusPending:
			s.Pending++
		case StatusInFlight:
			s.InFlight++
		case StatusFailed:
			s.Failed++
		}
		if s.OldestEnqueuedAt.IsZero() || entry.EnqueuedAt.Before(s.OldestEnqueuedAt) {
			s.OldestEnqueuedAt = entry.EnqueuedAt
		}
		return true, nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return s, nil
}

func (q *Queue) size(ctx context.Context, docID document.ID) (int, error) {
	count := 0
	err := q.store.ForEachPrefix(ctx, queuePrefix(docID), func(_, _ []byte) (bool, error) {
		count++
		return true, nil
	})
	return count, err
}
