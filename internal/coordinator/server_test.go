package coordinator_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticesync/lattice/internal/coordinator"
	"github.com/latticesync/lattice/internal/coordinator/storage/sqlite"
	"github.com/latticesync/lattice/internal/document"
	"github.com/latticesync/lattice/internal/wire"
)

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	storage, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	srv := coordinator.New(storage, nil)
	return httptest.NewServer(srv)
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame wire.Frame) {
	t.Helper()
	data, err := wire.EncodeFrame(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) wire.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := wire.DecodeFrame(data)
	require.NoError(t, err)
	return frame
}

func TestServerPingPong(t *testing.T) {
	server := startTestServer(t)
	defer server.Close()
	conn := dial(t, server)

	pingFrame, err := wire.Encode(wire.Ping{})
	require.NoError(t, err)
	sendFrame(t, conn, pingFrame)

	frame := readFrame(t, conn)
	assert.Equal(t, wire.TypePong, frame.Type)
}

func TestServerDeltaIsAckedAndPersisted(t *testing.T) {
	server := startTestServer(t)
	defer server.Close()
	conn := dial(t, server)

	deltaFrame, err := wire.Encode(wire.Delta{
		MessageID:  "m1",
		DocumentID: "doc1",
		Fields: map[document.FieldName]document.FieldRegister{
			"title": {Value: document.String("hello")},
		},
	})
	require.NoError(t, err)
	sendFrame(t, conn, deltaFrame)

	frame := readFrame(t, conn)
	require.Equal(t, wire.TypeAck, frame.Type)
	msg, err := wire.Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.(*wire.Ack).MessageID)

	reqFrame, err := wire.Encode(wire.SyncRequest{DocumentID: "doc1"})
	require.NoError(t, err)
	sendFrame(t, conn, reqFrame)

	respFrame := readFrame(t, conn)
	require.Equal(t, wire.TypeSyncResponse, respFrame.Type)
	respMsg, err := wire.Decode(respFrame)
	require.NoError(t, err)
	resp := respMsg.(*wire.SyncResponse)
	value := resp.Fields["title"].Value
	assert.True(t, document.String("hello").Equal(value))
}

func TestServerBroadcastsDeltaToOtherSubscriber(t *testing.T) {
	server := startTestServer(t)
	defer server.Close()
	sender := dial(t, server)
	receiver := dial(t, server)

	subFrame, err := wire.Encode(wire.Subscribe{DocumentID: "doc1"})
	require.NoError(t, err)
	sendFrame(t, receiver, subFrame)

	// Ping/pong round-trips on the receiver's own connection, which the
	// server handles sequentially with its prior Subscribe, so the pong
	// guarantees the subscription is registered before the sender's
	// delta is broadcast.
	pingFrame, err := wire.Encode(wire.Ping{})
	require.NoError(t, err)
	sendFrame(t, receiver, pingFrame)
	require.Equal(t, wire.TypePong, readFrame(t, receiver).Type)

	sendFrame(t, sender, subFrame)

	deltaFrame, err := wire.Encode(wire.Delta{
		MessageID:  "m2",
		DocumentID: "doc1",
		Fields: map[document.FieldName]document.FieldRegister{
			"title": {Value: document.String("broadcast me")},
		},
	})
	require.NoError(t, err)
	sendFrame(t, sender, deltaFrame)

	// sender gets its own ack first
	ack := readFrame(t, sender)
	require.Equal(t, wire.TypeAck, ack.Type)

	relayed := readFrame(t, receiver)
	require.Equal(t, wire.TypeDelta, relayed.Type)
	relayedMsg, err := wire.Decode(relayed)
	require.NoError(t, err)
	assert.Equal(t, "m2", relayedMsg.(*wire.Delta).MessageID)
}
