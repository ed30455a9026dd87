package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/latticesync/lattice/internal/clock"
	"github.com/latticesync/lattice/internal/kv"
)

// Store owns the set of documents a replica holds locally, persisting
// each one to a kv.Store under doc:<id> and caching it in memory. Each
// document has exactly one owning Store per process. The per-store
// mutex guards the cache and CompactBefore's field removal; it does not
// serialize reads or writes made directly on a *Document that Open
// returned.
type Store struct {
	kv    kv.Store
	mu    sync.Mutex
	cache map[ID]*Document
}

// NewStore returns a Store persisting to kvStore.
func NewStore(kvStore kv.Store) *Store {
	return &Store{kv: kvStore, cache: make(map[ID]*Document)}
}

func docKey(id ID) []byte {
	return append([]byte("doc:"), []byte(id)...)
}

// Open returns the document with the given id, loading it from the
// backing store on first access and creating an empty one if it has
// never been persisted.
func (s *Store) Open(ctx context.Context, id ID) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.cache[id]; ok {
		return doc, nil
	}

	data, err := s.kv.Get(ctx, docKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			doc := New(id)
			s.cache[id] = doc
			return doc, nil
		}
		return nil, fmt.Errorf("load document %q: %w", id, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode document %q: %w", id, err)
	}
	doc := Restore(snap)
	s.cache[id] = doc
	return doc, nil
}

// Save persists doc's current state.
func (s *Store) Save(ctx context.Context, doc *Document) error {
	data, err := json.Marshal(doc.TakeSnapshot())
	if err != nil {
		return fmt.Errorf("encode document %q: %w", doc.ID, err)
	}
	if err := s.kv.Put(ctx, docKey(doc.ID), data); err != nil {
		return fmt.Errorf("persist document %q: %w", doc.ID, err)
	}

	s.mu.Lock()
	s.cache[doc.ID] = doc
	s.mu.Unlock()
	return nil
}

// Forget drops id from the in-memory cache without deleting its
// persisted state, used when unsubscribing from a document.
func (s *Store) Forget(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, id)
}

// CompactBefore drops tombstoned fields of id whose timestamp is
// dominated by watermark. It is never called automatically by this
// package; callers opt into tombstone garbage collection explicitly.
func (s *Store) CompactBefore(ctx context.Context, id ID, watermark clock.Timestamp) error {
	doc, err := s.Open(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	for field, reg := range doc.Fields {
		if reg.Tombstone && reg.Timestamp.Less(watermark) {
			delete(doc.Fields, field)
		}
	}
	s.mu.Unlock()

	return s.Save(ctx, doc)
}
