package clock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticesync/lattice/internal/clock"
)

func TestVectorClockTick(t *testing.T) {
	vc := clock.New()
	assert.Equal(t, uint64(0), vc.Get("c1"))

	assert.Equal(t, uint64(1), vc.Tick("c1"))
	assert.Equal(t, uint64(2), vc.Tick("c1"))
	assert.Equal(t, uint64(2), vc.Get("c1"))
}

func TestVectorClockMergeTakesMax(t *testing.T) {
	a := clock.New()
	a.Tick("c1")
	a.Tick("c1")

	b := clock.New()
	b.Tick("c2")
	b.Tick("c2")
	b.Tick("c2")

	merged := a.Merge(b)
	assert.Equal(t, uint64(2), merged.Get("c1"))
	assert.Equal(t, uint64(3), merged.Get("c2"))

	// receiver is untouched
	assert.Equal(t, uint64(0), a.Get("c2"))
}

func TestVectorClockCompare(t *testing.T) {
	older := clock.New()
	older.Tick("c1")

	newer := older.Copy()
	newer.Tick("c1")

	require.Equal(t, clock.Less, older.Compare(newer))
	require.Equal(t, clock.Greater, newer.Compare(older))
	require.Equal(t, clock.Equal, older.Compare(older.Copy()))
}

func TestVectorClockConcurrent(t *testing.T) {
	a := clock.New()
	a.Tick("c1")

	b := clock.New()
	b.Tick("c2")

	assert.Equal(t, clock.Concurrent, a.Compare(b))
	assert.Equal(t, clock.Concurrent, b.Compare(a))
}

func TestVectorClockDominates(t *testing.T) {
	a := clock.New()
	a.Tick("c1")
	a.Tick("c1")

	b := clock.New()
	b.Tick("c1")

	assert.True(t, a.Dominates(b))
	assert.False(t, b.Dominates(a))
	assert.True(t, a.Dominates(a.Copy()))
}

func TestVectorClockEntriesRoundTrip(t *testing.T) {
	vc := clock.New()
	vc.Tick("zeta")
	vc.Tick("alpha")
	vc.Tick("alpha")

	entries := vc.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, clock.ClientID("alpha"), entries[0].Client)
	assert.Equal(t, clock.ClientID("zeta"), entries[1].Client)

	restored := clock.FromEntries(entries)
	assert.Equal(t, vc, restored)
}

func TestTimestampTotalOrder(t *testing.T) {
	a := clock.Timestamp{Logical: 1, Client: "c1"}
	b := clock.Timestamp{Logical: 1, Client: "c2"}
	c := clock.Timestamp{Logical: 2, Client: "c1"}

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, a.Less(c))
	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b))
}
