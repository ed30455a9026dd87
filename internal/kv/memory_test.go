package kv_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticesync/lattice/internal/kv"
)

func TestMemoryGetPutDelete(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	_, err := store.Get(ctx, []byte("missing"))
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, store.Put(ctx, []byte("k1"), []byte("v1")))
	v, err := store.Get(ctx, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(v))

	require.NoError(t, store.Delete(ctx, []byte("k1")))
	_, err = store.Get(ctx, []byte("k1"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestMemoryForEachPrefixOrdersByKey(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	require.NoError(t, store.Put(ctx, []byte("queue:doc1:0002"), []byte("b")))
	require.NoError(t, store.Put(ctx, []byte("queue:doc1:0001"), []byte("a")))
	require.NoError(t, store.Put(ctx, []byte("doc:other"), []byte("z")))

	var got []string
	err := store.ForEachPrefix(ctx, []byte("queue:doc1:"), func(key, value []byte) (bool, error) {
		got = append(got, string(value))
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestMemoryForEachPrefixStopsEarly(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	require.NoError(t, store.Put(ctx, []byte("a1"), []byte("1")))
	require.NoError(t, store.Put(ctx, []byte("a2"), []byte("2")))

	var seen int
	err := store.ForEachPrefix(ctx, []byte("a"), func(key, value []byte) (bool, error) {
		seen++
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
}

func TestMemoryClosedRejectsOperations(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	require.NoError(t, store.Close())

	_, err := store.Get(ctx, []byte("k"))
	assert.ErrorIs(t, err, kv.ErrClosed)
	assert.ErrorIs(t, store.Put(ctx, []byte("k"), []byte("v")), kv.ErrClosed)
}
