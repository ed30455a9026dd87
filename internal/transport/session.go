// Package transport implements the reconnecting, heartbeating duplex
// connection a sync manager uses to exchange wire frames with a
// coordinator: dial, authenticate the connection's liveness with
// periodic pings, and reconnect with jittered exponential backoff on
// any failure, all while correlating outstanding requests to their
// responses.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/latticesync/lattice/internal/wire"
)

// State is a Session's position in its connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Settings configures dial timeouts, heartbeat cadence, and
// reconnection backoff.
type Settings struct {
	HandshakeTimeout time.Duration
	// HeartbeatInterval is how often a Ping is sent on an idle connection.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long a Pong may be outstanding before the
	// connection is considered lost and torn down for reconnection.
	HeartbeatTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	// AckTimeout bounds how long Request waits for an Ack reply to a
	// sent Delta.
	AckTimeout time.Duration
	// SyncResponseTimeout bounds how long Request waits for a
	// SyncResponse reply to a sent SyncRequest.
	SyncResponseTimeout time.Duration
	Backoff             Backoff
	MaxAttempts         int // 0 = unlimited
}

// DefaultSettings returns reasonable defaults for an interactive
// client reconnecting to a coordinator over the public internet.
func DefaultSettings() Settings {
	return Settings{
		HandshakeTimeout:    5 * time.Second,
		HeartbeatInterval:   30 * time.Second,
		HeartbeatTimeout:    5 * time.Second,
		ReadTimeout:         45 * time.Second,
		WriteTimeout:        5 * time.Second,
		AckTimeout:          5 * time.Second,
		SyncResponseTimeout: 10 * time.Second,
		Backoff:             Backoff{Initial: time.Second, Max: 30 * time.Second, Multiplier: 1.5},
	}
}

// Session is a reconnecting websocket-backed wire.Frame duplex channel.
type Session struct {
	url      string
	settings Settings
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	correlation map[string]chan wire.Frame
	listeners   []func(State)
	handlers    []func(wire.Frame)
	lastPong    time.Time

	sendCh  chan wire.Frame
	frameCh chan wire.Frame
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a Session that will dial url once Start is called.
func New(url string, settings Settings, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		url:         url,
		settings:    settings,
		logger:      logger,
		state:       StateDisconnected,
		correlation: make(map[string]chan wire.Frame),
		sendCh:      make(chan wire.Frame, 64),
		frameCh:     make(chan wire.Frame, 256),
		done:        make(chan struct{}),
	}
}

// OnStateChange registers fn to be called, in order, on every state
// transition. fn must not block.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// OnFrame registers fn to be called for every inbound frame that is
// not consumed as a Request response.
func (s *Session) OnFrame(fn func(wire.Frame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins the dial/heartbeat/reconnect loop in a background
// goroutine. It returns once the loop has started; callers observe
// connection outcomes via OnStateChange.
func (s *Session) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(runCtx)
}

// Close terminates the session and its background loop.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	listeners := append([]func(State){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateDisconnected)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.setState(StateConnecting)
		dialer := websocket.Dialer{HandshakeTimeout: s.settings.HandshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Warn("transport dial failed", "error", err, "attempt", attempt)
			if s.settings.MaxAttempts > 0 && attempt >= s.settings.MaxAttempts {
				s.setState(StateFailed)
				return
			}
			s.setState(StateReconnecting)
			attempt++
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.settings.Backoff.Delay(attempt)):
				continue
			}
		}

		attempt = 0
		s.setState(StateConnected)
		s.serve(ctx, conn)

		select {
		case <-ctx.Done():
			return
		default:
			s.setState(StateReconnecting)
		}
	}
}

func (s *Session) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.lastPong = time.Now()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		defer cancel()
		// Closing the connection unblocks receiveLoop's ReadMessage, which
		// does not watch connCtx.
		defer conn.Close()
		s.sendLoop(connCtx, conn)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		s.receiveLoop(connCtx, conn)
	}()
	go func() {
		defer wg.Done()
		s.handlerLoop(connCtx)
	}()
	wg.Wait()
}

// handlerLoop runs OnFrame handlers for inbound frames off the receive
// loop, in the order they were read. A handler that itself calls
// Request (e.g. to resend a queued operation after a conflict) needs
// the receive loop free to read that request's reply; running handlers
// inline on the receive loop would deadlock the handler against its
// own response.
func (s *Session) handlerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.frameCh:
			s.mu.Lock()
			handlers := append([]func(wire.Frame){}, s.handlers...)
			s.mu.Unlock()
			for _, fn := range handlers {
				fn(frame)
			}
		}
	}
}

func (s *Session) sendLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.settings.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.sendCh:
			if err := s.writeFrame(conn, frame); err != nil {
				s.logger.Warn("transport write failed", "error", err)
				return
			}
		case <-ticker.C:
			s.mu.Lock()
			sincePong := time.Since(s.lastPong)
			s.mu.Unlock()
			if sincePong > s.settings.HeartbeatInterval+s.settings.HeartbeatTimeout {
				s.logger.Warn("transport heartbeat timed out, no pong received", "since", sincePong)
				return
			}
			if err := s.writeFrame(conn, wire.Frame{Type: wire.TypePing}); err != nil {
				s.logger.Warn("transport heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (s *Session) writeFrame(conn *websocket.Conn, frame wire.Frame) error {
	data, err := wire.EncodeFrame(frame)
	if err != nil {
		return fmt.Errorf("encode outbound frame: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.settings.WriteTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *Session) receiveLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.settings.ReadTimeout))
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("transport read ended", "error", err)
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		frame, err := wire.DecodeFrame(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		s.dispatch(frame)
	}
}

func (s *Session) dispatch(frame wire.Frame) {
	if frame.Type == wire.TypePong {
		s.mu.Lock()
		s.lastPong = time.Now()
		s.mu.Unlock()
		return
	}

	correlationID := correlationKey(frame)
	if correlationID != "" {
		s.mu.Lock()
		ch, ok := s.correlation[correlationID]
		s.mu.Unlock()
		if ok {
			select {
			case ch <- frame:
			default:
			}
			return
		}
	}

	select {
	case s.frameCh <- frame:
	default:
		s.logger.Warn("dropping frame, handler queue full", "type", frame.Type)
	}
}

func correlationKey(frame wire.Frame) string {
	switch frame.Type {
	case wire.TypeAck, wire.TypeSyncResponse, wire.TypeError:
		msg, err := wire.Decode(frame)
		if err != nil {
			return ""
		}
		switch m := msg.(type) {
		case *wire.Ack:
			return m.MessageID
		case *wire.SyncResponse:
			return m.MessageID
		case *wire.Error:
			return m.MessageID
		}
	}
	return ""
}

// Send transmits frame without waiting for a response. It fails with
// ErrNotConnected unless the session is currently Connected.
func (s *Session) Send(ctx context.Context, frame wire.Frame) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}
	select {
	case s.sendCh <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Settings returns the session's configured Settings, letting callers
// pick the right named timeout (AckTimeout vs SyncResponseTimeout) for
// a given Request without duplicating the values themselves.
func (s *Session) Settings() Settings {
	return s.settings
}

// Request sends frame and waits up to timeout for a response frame
// correlated by messageID (an Ack, SyncResponse, or Error naming it).
// Callers pick timeout from Settings.AckTimeout or
// Settings.SyncResponseTimeout depending on what frame they sent.
func (s *Session) Request(ctx context.Context, frame wire.Frame, messageID string, timeout time.Duration) (wire.Frame, error) {
	if s.State() != StateConnected {
		return wire.Frame{}, ErrNotConnected
	}

	ch := make(chan wire.Frame, 1)
	s.mu.Lock()
	s.correlation[messageID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.correlation, messageID)
		s.mu.Unlock()
	}()

	if err := s.Send(ctx, frame); err != nil {
		return wire.Frame{}, err
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		return wire.Frame{}, ErrTimeout
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	}
}
