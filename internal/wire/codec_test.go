package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticesync/lattice/internal/clock"
	"github.com/latticesync/lattice/internal/document"
	"github.com/latticesync/lattice/internal/wire"
)

func TestEncodeDecodeDeltaRoundTrip(t *testing.T) {
	delta := wire.Delta{
		MessageID:  "msg-1",
		DocumentID: "doc-1",
		Fields: map[document.FieldName]document.FieldRegister{
			"title": {Value: document.String("hello"), Timestamp: clock.Timestamp{Logical: 1, Client: "c1"}},
		},
		Clock: []clock.ClockEntry{{Client: "c1", Counter: 1}},
	}

	frame, err := wire.Encode(delta)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeDelta, frame.Type)

	raw, err := wire.EncodeFrame(frame)
	require.NoError(t, err)

	decodedFrame, err := wire.DecodeFrame(raw)
	require.NoError(t, err)

	msg, err := wire.Decode(decodedFrame)
	require.NoError(t, err)

	got, ok := msg.(*wire.Delta)
	require.True(t, ok)
	assert.Equal(t, delta.MessageID, got.MessageID)
	assert.Equal(t, delta.DocumentID, got.DocumentID)
	v, ok := got.Fields["title"]
	require.True(t, ok)
	assert.Equal(t, "hello", v.Value.Raw())
}

func TestEncodePingPong(t *testing.T) {
	frame, err := wire.Encode(wire.Ping{})
	require.NoError(t, err)
	assert.Equal(t, wire.TypePing, frame.Type)

	msg, err := wire.Decode(frame)
	require.NoError(t, err)
	_, ok := msg.(*wire.Ping)
	assert.True(t, ok)
}

func TestDecodeUnknownTypeErrors(t *testing.T) {
	_, err := wire.Decode(wire.Frame{Type: "bogus"})
	assert.Error(t, err)
}
