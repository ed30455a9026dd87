package syncmanager

// SyncState summarizes one document's synchronization status, surfaced
// to callers as an ordered event stream rather than a polled snapshot.
type SyncState string

const (
	// StateIdle means the document has no pending local changes and no
	// sync is currently in flight.
	StateIdle SyncState = "idle"
	// StateSyncing means a local change or subscription request is
	// awaiting acknowledgement from the coordinator.
	StateSyncing SyncState = "syncing"
	// StateSynced means the most recent local change was acknowledged.
	StateSynced SyncState = "synced"
	// StateOffline means the transport is not connected; local changes
	// are being queued instead of sent.
	StateOffline SyncState = "offline"
	// StateError means the last sync attempt failed for a reason other
	// than being offline (e.g. a protocol violation).
	StateError SyncState = "error"
)

// DocumentSyncState is the point-in-time synchronization status of one
// document: the current State, when it was last successfully synced,
// how many local operations are still queued, and — when State is
// StateError — the error that caused it.
type DocumentSyncState struct {
	State             SyncState
	LastSyncedAt      *int64 // unix seconds; nil until the first successful sync
	PendingOperations uint32
	Error             string
}
