package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticesync/lattice/internal/clock"
	"github.com/latticesync/lattice/internal/document"
	"github.com/latticesync/lattice/internal/kv"
	"github.com/latticesync/lattice/internal/queue"
)

func op(docID document.ID, field document.FieldName, logical uint64) document.Operation {
	return document.Operation{
		DocumentID: docID,
		Field:      field,
		Value:      document.String("v"),
		Timestamp:  clock.Timestamp{Logical: logical, Client: "c1"},
	}
}

func TestEnqueueReplayIsFIFO(t *testing.T) {
	ctx := context.Background()
	q := queue.New(kv.NewMemory(), queue.DefaultConfig(), 0)

	_, err := q.Enqueue(ctx, op("doc1", "f1", 1))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, op("doc1", "f2", 2))
	require.NoError(t, err)

	entries, err := q.Replay(ctx, "doc1", time.Now())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, document.FieldName("f1"), entries[0].Op.Field)
	assert.Equal(t, document.FieldName("f2"), entries[1].Op.Field)
}

func TestAckRemovesEntry(t *testing.T) {
	ctx := context.Background()
	q := queue.New(kv.NewMemory(), queue.DefaultConfig(), 0)

	entry, err := q.Enqueue(ctx, op("doc1", "f1", 1))
	require.NoError(t, err)

	require.NoError(t, q.Ack(ctx, "doc1", entry.Sequence))

	stats, err := q.Stats(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending+stats.InFlight+stats.Failed)
}

func TestAckUnknownEntryIsError(t *testing.T) {
	ctx := context.Background()
	q := queue.New(kv.NewMemory(), queue.DefaultConfig(), 0)
	err := q.Ack(ctx, "doc1", 999)
	assert.ErrorIs(t, err, queue.ErrEntryNotFound)
}

func TestQueueFullRejectsEnqueue(t *testing.T) {
	ctx := context.Background()
	cfg := queue.DefaultConfig()
	cfg.MaxSize = 1
	q := queue.New(kv.NewMemory(), cfg, 0)

	_, err := q.Enqueue(ctx, op("doc1", "f1", 1))
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, op("doc1", "f2", 2))
	assert.ErrorIs(t, err, queue.ErrQueueFull)
}

func TestPendingForFieldFindsOutstandingEntry(t *testing.T) {
	ctx := context.Background()
	q := queue.New(kv.NewMemory(), queue.DefaultConfig(), 0)

	_, err := q.Enqueue(ctx, op("doc1", "title", 1))
	require.NoError(t, err)

	entry, ok, err := q.PendingForField(ctx, "doc1", "title")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, document.FieldName("title"), entry.Op.Field)

	_, ok, err = q.PendingForField(ctx, "doc1", "body")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPendingForFieldSkipsFailedEntries(t *testing.T) {
	ctx := context.Background()
	cfg := queue.DefaultConfig()
	cfg.MaxRetries = 0
	q := queue.New(kv.NewMemory(), cfg, 0)

	entry, err := q.Enqueue(ctx, op("doc1", "title", 1))
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, "doc1", entry.Sequence, time.Now()))

	_, ok, err := q.PendingForField(ctx, "doc1", "title")
	require.NoError(t, err)
	assert.False(t, ok, "a failed entry should no longer count as outstanding")
}

func TestSupersedeRemovesEntry(t *testing.T) {
	ctx := context.Background()
	q := queue.New(kv.NewMemory(), queue.DefaultConfig(), 0)

	entry, err := q.Enqueue(ctx, op("doc1", "title", 1))
	require.NoError(t, err)

	require.NoError(t, q.Supersede(ctx, "doc1", entry.Sequence))

	stats, err := q.Stats(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending+stats.InFlight+stats.Failed)

	_, ok, err := q.PendingForField(ctx, "doc1", "title")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSupersedeUnknownEntryIsError(t *testing.T) {
	ctx := context.Background()
	q := queue.New(kv.NewMemory(), queue.DefaultConfig(), 0)
	err := q.Supersede(ctx, "doc1", 999)
	assert.ErrorIs(t, err, queue.ErrEntryNotFound)
}

func TestFailSchedulesBackoffThenFails(t *testing.T) {
	ctx := context.Background()
	cfg := queue.DefaultConfig()
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	cfg.RetryBackoff = 2
	q := queue.New(kv.NewMemory(), cfg, 0)

	entry, err := q.Enqueue(ctx, op("doc1", "f1", 1))
	require.NoError(t, err)

	now := time.Now()
	replayed, err := q.Replay(ctx, "doc1", now)
	require.NoError(t, err)
	require.Len(t, replayed, 1)

	require.NoError(t, q.Fail(ctx, "doc1", entry.Sequence, now))
	stats, err := q.Stats(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)

	// second attempt exhausts MaxRetries=1
	replayed, err = q.Replay(ctx, "doc1", now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	require.NoError(t, q.Fail(ctx, "doc1", entry.Sequence, now))

	stats, err = q.Stats(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}
