package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticesync/lattice/internal/transport"
	"github.com/latticesync/lattice/internal/wire"
)

func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			frame, err := wire.DecodeFrame(data)
			if err != nil {
				continue
			}
			switch frame.Type {
			case wire.TypePing:
				continue // server keeps connection open, no reply needed
			case wire.TypeDelta:
				msg, _ := wire.Decode(frame)
				delta := msg.(*wire.Delta)
				ackFrame, _ := wire.Encode(wire.Ack{MessageID: delta.MessageID, DocumentID: delta.DocumentID})
				out, _ := wire.EncodeFrame(ackFrame)
				_ = conn.WriteMessage(websocket.BinaryMessage, out)
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + server.URL[len("http"):]
}

func TestSessionConnectsAndReachesConnected(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	settings := transport.DefaultSettings()
	settings.HeartbeatInterval = time.Hour // don't let pings interfere with this test

	sess := transport.New(wsURL(server), settings, nil)

	states := make(chan transport.State, 8)
	sess.OnStateChange(func(s transport.State) { states <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.Start(ctx)
	defer sess.Close()

	waitForState(t, states, transport.StateConnected)
}

func TestSessionRequestReceivesAck(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	settings := transport.DefaultSettings()
	settings.HeartbeatInterval = time.Hour
	settings.AckTimeout = 5 * time.Second

	sess := transport.New(wsURL(server), settings, nil)

	states := make(chan transport.State, 8)
	sess.OnStateChange(func(s transport.State) { states <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.Start(ctx)
	defer sess.Close()

	waitForState(t, states, transport.StateConnected)

	deltaFrame, err := wire.Encode(wire.Delta{MessageID: "m1", DocumentID: "doc1"})
	require.NoError(t, err)

	resp, err := sess.Request(ctx, deltaFrame, "m1", settings.AckTimeout)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeAck, resp.Type)
}

func TestSessionHeartbeatTimeoutTriggersReconnect(t *testing.T) {
	server := echoServer(t) // never answers Ping, so every heartbeat window is a miss
	defer server.Close()

	settings := transport.DefaultSettings()
	settings.HeartbeatInterval = 50 * time.Millisecond
	settings.HeartbeatTimeout = 50 * time.Millisecond

	sess := transport.New(wsURL(server), settings, nil)

	states := make(chan transport.State, 8)
	sess.OnStateChange(func(s transport.State) { states <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.Start(ctx)
	defer sess.Close()

	waitForState(t, states, transport.StateConnected)
	waitForState(t, states, transport.StateReconnecting)
}

func TestSessionSendWithoutConnectionFails(t *testing.T) {
	sess := transport.New("ws://127.0.0.1:1/nope", transport.DefaultSettings(), nil)
	err := sess.Send(context.Background(), wire.Frame{Type: wire.TypePing})
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func waitForState(t *testing.T, states chan transport.State, want transport.State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}
