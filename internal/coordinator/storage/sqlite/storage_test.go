package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticesync/lattice/internal/clock"
	"github.com/latticesync/lattice/internal/coordinator/storage/sqlite"
	"github.com/latticesync/lattice/internal/document"
)

func setupTestStorage(t *testing.T) *sqlite.Storage {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestApplyFieldThenLoadDocumentRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	reg := document.FieldRegister{
		Value:     document.String("hello"),
		Timestamp: clock.Timestamp{Logical: 1, Client: "c1"},
	}
	changed, err := s.ApplyField(ctx, "doc1", "title", reg)
	require.NoError(t, err)
	assert.True(t, changed)

	doc, err := s.LoadDocument(ctx, "doc1")
	require.NoError(t, err)
	value, ok := doc.Get("title")
	require.True(t, ok)
	assert.True(t, document.String("hello").Equal(value))
	assert.Equal(t, uint64(1), doc.Clock.Get("c1"))
}

func TestApplyFieldOlderTimestampIsDropped(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	newer := document.FieldRegister{Value: document.String("v2"), Timestamp: clock.Timestamp{Logical: 5, Client: "c1"}}
	older := document.FieldRegister{Value: document.String("v1"), Timestamp: clock.Timestamp{Logical: 2, Client: "c1"}}

	_, err := s.ApplyField(ctx, "doc1", "field", newer)
	require.NoError(t, err)

	changed, err := s.ApplyField(ctx, "doc1", "field", older)
	require.NoError(t, err)
	assert.False(t, changed)

	doc, err := s.LoadDocument(ctx, "doc1")
	require.NoError(t, err)
	value, _ := doc.Get("field")
	assert.True(t, document.String("v2").Equal(value))
}

func TestApplyFieldBumpsClockAcrossClients(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	_, err := s.ApplyField(ctx, "doc1", "a", document.FieldRegister{
		Value: document.Int(1), Timestamp: clock.Timestamp{Logical: 1, Client: "c1"},
	})
	require.NoError(t, err)
	_, err = s.ApplyField(ctx, "doc1", "b", document.FieldRegister{
		Value: document.Int(2), Timestamp: clock.Timestamp{Logical: 1, Client: "c2"},
	})
	require.NoError(t, err)

	doc, err := s.LoadDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), doc.Clock.Get("c1"))
	assert.Equal(t, uint64(1), doc.Clock.Get("c2"))
}

func TestLoadDocumentUnknownIDReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	doc, err := s.LoadDocument(ctx, "never-seen")
	require.NoError(t, err)
	assert.Empty(t, doc.Fields)
}
