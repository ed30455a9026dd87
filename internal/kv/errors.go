package kv

import "errors"

// ErrNotFound indicates the requested key does not exist.
var ErrNotFound = errors.New("key not found")

// ErrClosed indicates the store has already been closed.
var ErrClosed = errors.New("store is closed")
