package cache

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss indicates the requested key was not found in the store
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Storage is the set of named stores.
type Storage interface {
	// Open returns the named store, creating it if it does not exist.
	Open(ctx context.Context, name string) (Store, error)

	// Has reports whether a store with this name exists.
	Has(ctx context.Context, name string) (bool, error)

	// Keys lists the names of all existing stores.
	Keys(ctx context.Context) ([]string, error)

	// Delete removes a store and every entry in it.
	// It reports whether the store existed.
	Delete(ctx context.Context, name string) (bool, error)

	// Ping checks that the storage backend is reachable.
	Ping(ctx context.Context) error
}

// Store is a single named key/value store of response envelopes.
type Store interface {
	// Name returns the store name.
	Name() string

	// Match returns the entry stored under key, or ErrCacheMiss.
	Match(ctx context.Context, key string) (*Entry, error)

	// Put stores entry under key, replacing any previous entry.
	Put(ctx context.Context, key string, entry *Entry) error

	// Delete removes the entry under key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the keys currently stored.
	Keys(ctx context.Context) ([]string, error)
}
