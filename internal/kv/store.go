// Package kv defines the narrow byte-keyed storage interface the
// document store and offline queue are built on, plus two concrete
// implementations. The backend itself is treated as an opaque external
// collaborator: this package only specifies the interface it is used
// through and two implementations for that interface to be realized.
package kv

import "context"

// Store is a minimal ordered byte-keyed key-value interface. Key
// prefixes (doc:, queue:, meta:) are owned by callers, not this
// package.
type Store interface {
	// Get returns the value for key, or ErrNotFound if absent.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Put writes key to value, overwriting any existing entry.
	Put(ctx context.Context, key, value []byte) error
	// Delete removes key. It is not an error for key to be absent.
	Delete(ctx context.Context, key []byte) error
	// ForEachPrefix calls fn for every key with the given prefix, in
	// ascending byte order, until fn returns false or all keys are
	// visited.
	ForEachPrefix(ctx context.Context, prefix []byte, fn func(key, value []byte) (keepGoing bool, err error)) error
	// Close releases any resources held by the store.
	Close() error
}
