package kv

import (
	"context"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

// bucket is the single flat bucket all keys live in, partitioned by the
// doc:/queue:/meta: prefixes callers apply to their keys.
var bucket = []byte("lattice")

// Bolt is a Store backed by an embedded bbolt database file, giving a
// single-process replica durable local state without a separate
// database process to run.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens (creating if necessary) a bbolt database at path and
// ensures the storage bucket exists.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(_ context.Context, key []byte) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bolt get: %w", err)
	}
	return value, nil
}

func (b *Bolt) Put(_ context.Context, key, value []byte) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("bolt put: %w", err)
	}
	return nil
}

func (b *Bolt) Delete(_ context.Context, key []byte) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("bolt delete: %w", err)
	}
	return nil
}

func (b *Bolt) ForEachPrefix(_ context.Context, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			keepGoing, err := fn(k, v)
			if err != nil {
				return err
			}
			if !keepGoing {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt scan: %w", err)
	}
	return nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}
