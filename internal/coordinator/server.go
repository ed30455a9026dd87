// Package coordinator is a minimal reference counterparty for
// internal/transport and internal/syncmanager: it honors the wire
// protocol (Subscribe/Unsubscribe/SyncRequest/Delta/Ack/Ping) over a
// websocket connection and persists accepted deltas with the same LWW
// rule the client applies, via internal/coordinator/storage/sqlite.
// Authentication and per-user authorization are out of scope; a
// caller-supplied documentId is the only addressing this package
// requires.
package coordinator

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/latticesync/lattice/internal/coordinator/storage/sqlite"
	"github.com/latticesync/lattice/internal/document"
	"github.com/latticesync/lattice/internal/wire"
)

// Server is the reference coordinator's websocket handler.
type Server struct {
	storage *sqlite.Storage
	logger  *slog.Logger
	upgrade websocket.Upgrader

	mu          sync.Mutex
	subscribers map[document.ID]map[*connection]struct{}
}

// New returns a Server persisting to storage.
func New(storage *sqlite.Storage, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		storage:     storage,
		logger:      logger,
		subscribers: make(map[document.ID]map[*connection]struct{}),
	}
}

// connection wraps one client's websocket with a write mutex, since
// the broadcast path and the direct-reply path can write concurrently.
type connection struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (c *connection) send(frame wire.Frame) error {
	data, err := wire.EncodeFrame(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// ServeHTTP upgrades the connection and serves wire frames until the
// client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn := &connection{ws: ws}
	defer s.disconnect(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
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
		s.handle(r.Context(), conn, frame)
	}
}

func (s *Server) handle(ctx context.Context, conn *connection, frame wire.Frame) {
	switch frame.Type {
	case wire.TypePing:
		_ = conn.send(wire.Frame{Type: wire.TypePong})
	case wire.TypeSubscribe:
		s.handleSubscribe(conn, frame)
	case wire.TypeUnsubscribe:
		s.handleUnsubscribe(conn, frame)
	case wire.TypeSyncRequest:
		s.handleSyncRequest(ctx, conn, frame)
	case wire.TypeDelta:
		s.handleDelta(ctx, conn, frame)
	}
}

func (s *Server) handleSubscribe(conn *connection, frame wire.Frame) {
	msg, err := wire.Decode(frame)
	if err != nil {
		return
	}
	sub := msg.(*wire.Subscribe)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribers[sub.DocumentID] == nil {
		s.subscribers[sub.DocumentID] = make(map[*connection]struct{})
	}
	s.subscribers[sub.DocumentID][conn] = struct{}{}
}

func (s *Server) handleUnsubscribe(conn *connection, frame wire.Frame) {
	msg, err := wire.Decode(frame)
	if err != nil {
		return
	}
	unsub := msg.(*wire.Unsubscribe)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers[unsub.DocumentID], conn)
}

func (s *Server) handleSyncRequest(ctx context.Context, conn *connection, frame wire.Frame) {
	msg, err := wire.Decode(frame)
	if err != nil {
		return
	}
	req := msg.(*wire.SyncRequest)

	doc, err := s.storage.LoadDocument(ctx, req.DocumentID)
	if err != nil {
		s.sendError(conn, req.DocumentID, req.MessageID, "STORAGE_ERROR", err.Error())
		return
	}

	resp, err := wire.Encode(wire.SyncResponse{
		MessageID:  req.MessageID,
		DocumentID: doc.ID,
		Fields:     doc.Fields,
		Clock:      doc.Clock.Entries(),
	})
	if err != nil {
		return
	}
	_ = conn.send(resp)
}

func (s *Server) handleDelta(ctx context.Context, conn *connection, frame wire.Frame) {
	msg, err := wire.Decode(frame)
	if err != nil {
		return
	}
	delta := msg.(*wire.Delta)

	for field, reg := range delta.Fields {
		if _, err := s.storage.ApplyField(ctx, delta.DocumentID, field, reg); err != nil {
			s.logger.Error("apply field", "document", delta.DocumentID, "field", field, "error", err)
			s.sendError(conn, delta.DocumentID, delta.MessageID, "STORAGE_ERROR", err.Error())
			return
		}
	}

	ack, err := wire.Encode(wire.Ack{MessageID: delta.MessageID, DocumentID: delta.DocumentID})
	if err == nil {
		_ = conn.send(ack)
	}

	s.broadcast(delta.DocumentID, conn, frame)
}

func (s *Server) broadcast(docID document.ID, origin *connection, frame wire.Frame) {
	s.mu.Lock()
	targets := make([]*connection, 0, len(s.subscribers[docID]))
	for c := range s.subscribers[docID] {
		if c != origin {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		_ = c.send(frame)
	}
}

func (s *Server) sendError(conn *connection, docID document.ID, messageID, code, message string) {
	frame, err := wire.Encode(wire.Error{Code: code, Message: message, DocumentID: docID, MessageID: messageID})
	if err != nil {
		return
	}
	_ = conn.send(frame)
}

func (s *Server) disconnect(conn *connection) {
	conn.mu.Lock()
	conn.closed = true
	conn.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for docID, conns := range s.subscribers {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(s.subscribers, docID)
		}
	}
}
