// Package syncmanager orchestrates one replica's document store,
// offline queue, and transport session: it routes local mutations to
// the transport (or the queue, while offline), applies inbound remote
// operations with LWW conflict resolution, drives subscription
// lifecycle, and replays queued operations once the transport
// reconnects.
package syncmanager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/latticesync/lattice/internal/clock"
	"github.com/latticesync/lattice/internal/document"
	"github.com/latticesync/lattice/internal/queue"
	"github.com/latticesync/lattice/internal/transport"
	"github.com/latticesync/lattice/internal/wire"
)

// Config bounds the manager's inbound buffering of operations for
// documents it has not yet subscribed to.
type Config struct {
	MaxInboundBuffer int
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() Config {
	return Config{MaxInboundBuffer: 256}
}

// Manager binds a document.Store, a queue.Queue, and a
// transport.Session into one synchronizing replica.
type Manager struct {
	clientID clock.ClientID
	store    *document.Store
	queue    *queue.Queue
	session  *transport.Session
	logger   *slog.Logger
	cfg      Config

	mu            sync.Mutex
	subscriptions map[document.ID]struct{}
	inbound       map[document.ID][]wire.Delta
	states        map[document.ID]DocumentSyncState
	stateListener func(document.ID, SyncState)
}

// New returns a Manager over the given collaborators. session.OnFrame
// and session.OnStateChange are registered with callbacks owned by
// this Manager — callers must not also consume those hooks directly.
func New(clientID clock.ClientID, store *document.Store, q *queue.Queue, session *transport.Session, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		clientID:      clientID,
		store:         store,
		queue:         q,
		session:       session,
		logger:        logger,
		cfg:           cfg,
		subscriptions: make(map[document.ID]struct{}),
		inbound:       make(map[document.ID][]wire.Delta),
		states:        make(map[document.ID]DocumentSyncState),
	}
	session.OnFrame(m.handleFrame)
	session.OnStateChange(m.handleTransportState)
	return m
}

// OnSyncState registers fn to be called, in order, on every sync-state
// transition for any subscribed document.
func (m *Manager) OnSyncState(fn func(document.ID, SyncState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateListener = fn
}

// setState records state as id's current sync status — stamping
// LastSyncedAt on StateSynced and Error on StateError, clearing Error
// otherwise — and notifies the registered listener.
func (m *Manager) setState(id document.ID, state SyncState, errMsg string) {
	m.mu.Lock()
	rec := m.states[id]
	rec.State = state
	switch state {
	case StateSynced:
		now := time.Now().Unix()
		rec.LastSyncedAt = &now
		rec.Error = ""
	case StateError:
		rec.Error = errMsg
	default:
		rec.Error = ""
	}
	m.states[id] = rec
	fn := m.stateListener
	m.mu.Unlock()

	if fn != nil {
		fn(id, state)
	}
}

// GetSyncState reports id's current DocumentSyncState, combining the
// last-emitted State/LastSyncedAt/Error with a live read of its queue
// depth.
func (m *Manager) GetSyncState(ctx context.Context, id document.ID) (DocumentSyncState, error) {
	m.mu.Lock()
	rec := m.states[id]
	m.mu.Unlock()

	stats, err := m.queue.Stats(ctx, id)
	if err != nil {
		return rec, err
	}
	rec.PendingOperations = uint32(stats.Pending + stats.InFlight)
	return rec, nil
}

// SubscribeDocument registers interest in a document: it is opened
// (creating it locally if new), marked subscribed so inbound
// operations route to it directly, and — if connected — a Subscribe
// and SyncRequest are sent so any remote state is pulled in.
func (m *Manager) SubscribeDocument(ctx context.Context, id document.ID) (*document.Document, error) {
	doc, err := m.store.Open(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.subscriptions[id] = struct{}{}
	buffered := m.inbound[id]
	delete(m.inbound, id)
	m.mu.Unlock()

	for _, delta := range buffered {
		if err := m.applyInboundDelta(ctx, doc, delta); err != nil {
			m.logger.Warn("discarding buffered delta", "document", id, "error", err)
		}
	}

	if m.session.State() == transport.StateConnected {
		m.sendSubscribeAndSync(ctx, doc)
	} else {
		m.setState(id, StateOffline, "")
	}

	return doc, nil
}

func (m *Manager) sendSubscribeAndSync(ctx context.Context, doc *document.Document) {
	subFrame, err := wire.Encode(wire.Subscribe{DocumentID: doc.ID})
	if err == nil {
		_ = m.session.Send(ctx, subFrame)
	}

	messageID := uuid.NewString()
	reqFrame, err := wire.Encode(wire.SyncRequest{MessageID: messageID, DocumentID: doc.ID, Since: doc.Clock.Entries()})
	if err != nil {
		return
	}
	m.setState(doc.ID, StateSyncing, "")

	resp, err := m.session.Request(ctx, reqFrame, messageID, m.session.Settings().SyncResponseTimeout)
	if err != nil {
		m.logger.Warn("sync request failed", "document", doc.ID, "error", err)
		m.setState(doc.ID, StateOffline, "")
		return
	}
	if resp.Type != wire.TypeSyncResponse {
		return
	}
	msg, err := wire.Decode(resp)
	if err != nil {
		return
	}
	syncResp := msg.(*wire.SyncResponse)
	remote := document.Restore(document.Snapshot{ID: syncResp.DocumentID, Fields: syncResp.Fields, Clock: syncResp.Clock})
	if _, err := doc.Merge(remote); err != nil {
		m.logger.Error("sync response merge conflict", "document", doc.ID, "error", err)
		m.setState(doc.ID, StateError, err.Error())
		return
	}
	if err := m.store.Save(ctx, doc); err != nil {
		m.logger.Error("persist after sync", "document", doc.ID, "error", err)
		m.setState(doc.ID, StateError, err.Error())
		return
	}
	m.setState(doc.ID, StateSynced, "")
}

// UnsubscribeDocument stops routing inbound operations for id to a
// live document and tells the coordinator to stop sending them.
func (m *Manager) UnsubscribeDocument(ctx context.Context, id document.ID) error {
	m.mu.Lock()
	delete(m.subscriptions, id)
	delete(m.inbound, id)
	m.mu.Unlock()
	m.store.Forget(id)

	frame, err := wire.Encode(wire.Unsubscribe{DocumentID: id})
	if err != nil {
		return err
	}
	if m.session.State() == transport.StateConnected {
		_ = m.session.Send(ctx, frame)
	}
	return nil
}

// SetField performs a local mutation: it ticks the replica's clock,
// writes the field, persists the document, and attempts to send the
// change immediately. If the transport is not connected or the send
// times out, the operation is durably enqueued instead and will be
// replayed once the transport reconnects.
func (m *Manager) SetField(ctx context.Context, id document.ID, field document.FieldName, value document.Value) (document.Operation, error) {
	return m.mutate(ctx, id, func(doc *document.Document, ts clock.Timestamp) document.Operation {
		return doc.Set(field, value, ts)
	})
}

// DeleteField tombstones a field locally, following the same send-or-
// enqueue path as SetField.
func (m *Manager) DeleteField(ctx context.Context, id document.ID, field document.FieldName) (document.Operation, error) {
	return m.mutate(ctx, id, func(doc *document.Document, ts clock.Timestamp) document.Operation {
		return doc.Delete(field, ts)
	})
}

func (m *Manager) mutate(ctx context.Context, id document.ID, apply func(*document.Document, clock.Timestamp) document.Operation) (document.Operation, error) {
	m.mu.Lock()
	_, subscribed := m.subscriptions[id]
	m.mu.Unlock()
	if !subscribed {
		return document.Operation{}, ErrNotSubscribed
	}

	doc, err := m.store.Open(ctx, id)
	if err != nil {
		return document.Operation{}, err
	}

	ts := clock.Timestamp{Client: m.clientID, Logical: doc.Clock.Tick(m.clientID)}
	op := apply(doc, ts)
	op.MessageID = uuid.NewString()
	op.WallTime = time.Now().Unix()

	if err := m.store.Save(ctx, doc); err != nil {
		return op, fmt.Errorf("persist local mutation: %w", err)
	}

	m.sendOrEnqueue(ctx, op)
	return op, nil
}

func (m *Manager) sendOrEnqueue(ctx context.Context, op document.Operation) {
	m.setState(op.DocumentID, StateSyncing, "")

	frame, err := wire.Encode(deltaFromOperation(op))
	if err != nil {
		m.logger.Error("encode delta", "error", err)
		m.setState(op.DocumentID, StateError, err.Error())
		return
	}

	resp, err := m.session.Request(ctx, frame, op.MessageID, m.session.Settings().AckTimeout)
	if err == nil && resp.Type == wire.TypeAck {
		m.setState(op.DocumentID, StateSynced, "")
		return
	}

	if _, qerr := m.queue.Enqueue(ctx, op); qerr != nil {
		m.logger.Error("enqueue offline operation", "document", op.DocumentID, "error", qerr)
		m.setState(op.DocumentID, StateError, qerr.Error())
		return
	}
	m.setState(op.DocumentID, StateOffline, "")
}

func deltaFromOperation(op document.Operation) wire.Delta {
	return wire.Delta{
		MessageID:  op.MessageID,
		DocumentID: op.DocumentID,
		Fields: map[document.FieldName]document.FieldRegister{
			op.Field: {Value: op.Value, Tombstone: op.Tombstone, Timestamp: op.Timestamp},
		},
		Clock: op.Clock.Entries(),
	}
}

// handleFrame is registered with the transport session as the handler
// for inbound frames that are not consumed as Request responses:
// pushed Deltas and relayed Errors.
func (m *Manager) handleFrame(frame wire.Frame) {
	ctx := context.Background()
	switch frame.Type {
	case wire.TypeDelta:
		msg, err := wire.Decode(frame)
		if err != nil {
			return
		}
		m.receiveDelta(ctx, *msg.(*wire.Delta))
	case wire.TypeError:
		msg, err := wire.Decode(frame)
		if err != nil {
			return
		}
		errMsg := msg.(*wire.Error)
		m.logger.Warn("coordinator reported error", "code", errMsg.Code, "message", errMsg.Message, "document", errMsg.DocumentID)
		m.setState(errMsg.DocumentID, StateError, errMsg.Message)
	}
}

func (m *Manager) receiveDelta(ctx context.Context, delta wire.Delta) {
	m.mu.Lock()
	_, subscribed := m.subscriptions[delta.DocumentID]
	m.mu.Unlock()

	if !subscribed {
		m.bufferInbound(delta)
		return
	}

	doc, err := m.store.Open(ctx, delta.DocumentID)
	if err != nil {
		m.logger.Error("open document for inbound delta", "document", delta.DocumentID, "error", err)
		return
	}
	if err := m.applyInboundDelta(ctx, doc, delta); err != nil {
		m.logger.Error("apply inbound delta", "document", delta.DocumentID, "error", err)
		m.setState(delta.DocumentID, StateError, err.Error())
		return
	}
	m.ack(ctx, delta)
	m.setState(delta.DocumentID, StateSynced, "")
}

// applyInboundDelta resolves and applies one inbound delta against doc.
// For each field it first checks whether the operation is a genuine
// conflict — the two replicas' clocks are concurrent and the local
// document still has a queued, unacknowledged operation on that same
// field — and if so resolves it explicitly: the timestamp that wins
// the total order from §4.2 is installed (the same rule document's LWW
// merge already applies), and the loser's side effects are undone —
// a winning local operation is re-sent to the coordinator, or a
// losing queued local operation is dropped as superseded. Fields with
// no concurrent, queued local write are just merged by ordinary LWW,
// since there is nothing to reconcile beyond the register itself.
//
// The document only records one (client, logical) timestamp per field
// rather than a full per-field vector clock, so "op.clock dominates on
// the op's field dimension" is approximated by comparing the whole
// document clock against the incoming delta's clock; see DESIGN.md.
func (m *Manager) applyInboundDelta(ctx context.Context, doc *document.Document, delta wire.Delta) error {
	remoteClock := clock.FromEntries(delta.Clock)
	concurrent := remoteClock.Compare(doc.Clock) == clock.Concurrent

	for field, incoming := range delta.Fields {
		localEntry, hasLocalPending, err := m.queue.PendingForField(ctx, doc.ID, field)
		if err != nil {
			return fmt.Errorf("check pending local operation: %w", err)
		}
		conflict := concurrent && hasLocalPending

		changed, err := document.ApplyDelta(doc, document.Delta{DocumentID: doc.ID, Fields: map[document.FieldName]document.FieldRegister{field: incoming}})
		if err != nil {
			return err
		}

		if !conflict {
			continue
		}
		if changed > 0 {
			// The remote operation's timestamp won; the queued local
			// operation it conflicted with will only be overwritten
			// again if resent, so drop it.
			if serr := m.queue.Supersede(ctx, doc.ID, localEntry.Sequence); serr != nil {
				m.logger.Warn("supersede queue entry", "document", doc.ID, "field", field, "error", serr)
			}
		} else {
			// The local operation's timestamp won; tell the coordinator
			// so it converges on our value instead of the one it sent.
			m.resendQueuedOperation(ctx, localEntry)
		}
	}

	doc.Clock = doc.Clock.Merge(remoteClock)
	return m.store.Save(ctx, doc)
}

// resendQueuedOperation re-sends a queued local operation that won a
// conflict against a remote delta. On success the queue entry is
// acked directly; on failure it is left queued for its normal replay.
func (m *Manager) resendQueuedOperation(ctx context.Context, entry queue.Entry) {
	frame, err := wire.Encode(deltaFromOperation(entry.Op))
	if err != nil {
		m.logger.Error("encode resend delta", "error", err)
		return
	}
	resp, err := m.session.Request(ctx, frame, entry.Op.MessageID, m.session.Settings().AckTimeout)
	if err != nil || resp.Type != wire.TypeAck {
		return
	}
	if aerr := m.queue.Ack(ctx, entry.Op.DocumentID, entry.Sequence); aerr != nil {
		m.logger.Warn("ack resent operation", "document", entry.Op.DocumentID, "error", aerr)
	}
}

func (m *Manager) ack(ctx context.Context, delta wire.Delta) {
	frame, err := wire.Encode(wire.Ack{MessageID: delta.MessageID, DocumentID: delta.DocumentID})
	if err != nil {
		return
	}
	_ = m.session.Send(ctx, frame)
}

func (m *Manager) bufferInbound(delta wire.Delta) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := m.inbound[delta.DocumentID]
	if m.cfg.MaxInboundBuffer > 0 && len(buf) >= m.cfg.MaxInboundBuffer {
		buf = buf[1:] // drop oldest to bound memory for documents nobody ever subscribes to
	}
	m.inbound[delta.DocumentID] = append(buf, delta)
}

// handleTransportState is registered with the transport session: on
// reconnection it resubscribes every document and replays its offline
// queue; on disconnection it marks every subscribed document offline.
func (m *Manager) handleTransportState(state transport.State) {
	ctx := context.Background()
	switch state {
	case transport.StateConnected:
		m.mu.Lock()
		ids := make([]document.ID, 0, len(m.subscriptions))
		for id := range m.subscriptions {
			ids = append(ids, id)
		}
		m.mu.Unlock()

		// The session invokes this listener before it starts reading the
		// new connection, so the Requests below run on their own goroutine
		// rather than blocking the listener against their own replies.
		go func() {
			for _, id := range ids {
				doc, err := m.store.Open(ctx, id)
				if err != nil {
					continue
				}
				m.sendSubscribeAndSync(ctx, doc)
				m.replayQueue(ctx, id)
			}
		}()
	case transport.StateReconnecting, transport.StateDisconnected, transport.StateFailed:
		m.mu.Lock()
		ids := make([]document.ID, 0, len(m.subscriptions))
		for id := range m.subscriptions {
			ids = append(ids, id)
		}
		m.mu.Unlock()
		for _, id := range ids {
			m.setState(id, StateOffline, "")
		}
	}
}

// replayQueue drains documentId's offline queue now that the
// transport is connected, acking each entry the coordinator accepts
// and rescheduling with backoff the ones it doesn't.
func (m *Manager) replayQueue(ctx context.Context, id document.ID) {
	entries, err := m.queue.Replay(ctx, id, time.Now())
	if err != nil {
		m.logger.Error("replay offline queue", "document", id, "error", err)
		return
	}

	for _, entry := range entries {
		frame, err := wire.Encode(deltaFromOperation(entry.Op))
		if err != nil {
			continue
		}
		resp, err := m.session.Request(ctx, frame, entry.Op.MessageID, m.session.Settings().AckTimeout)
		if err != nil || resp.Type != wire.TypeAck {
			if ferr := m.queue.Fail(ctx, id, entry.Sequence, time.Now()); ferr != nil {
				m.logger.Error("mark queue entry failed", "document", id, "error", ferr)
			}
			continue
		}
		if aerr := m.queue.Ack(ctx, id, entry.Sequence); aerr != nil {
			m.logger.Error("ack replayed queue entry", "document", id, "error", aerr)
		}
	}
}

// PendingOperations reports how many operations are currently queued
// for id across all statuses.
func (m *Manager) PendingOperations(ctx context.Context, id document.ID) (queue.Stats, error) {
	return m.queue.Stats(ctx, id)
}
