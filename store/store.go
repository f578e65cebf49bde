// Package store defines the byte-level DurableStore backend used by offsync.
//
// Exactly one logical store backs every namespace: namespacing is a convention of
// the composite key "<namespace>:<key>", not a storage partition. Handles are
// independent; several may be open on the same database at once and the store
// performs no cross-handle coordination (concurrent writers resolve by last write).
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly the bytes
// previously passed to Put for the key.
package store

import (
	"context"
	"errors"
)

// ErrStop ends an Iterate early without error.
var ErrStop = errors.New("store: stop iteration")

// Store is an asynchronous ordered key-value map. Safe for concurrent use.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put inserts or overwrites key.
	Put(ctx context.Context, key string, value []byte) error

	Has(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every entry of this store.
	Clear(ctx context.Context) error

	Count(ctx context.Context) (int, error)

	// Keys returns the keys starting with prefix in ascending order ("" = all).
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Iterate calls fn for every entry whose key starts with prefix, in ascending
	// key order, over a snapshot taken when Iterate starts; fn may mutate the store.
	// Returning ErrStop from fn ends iteration and Iterate returns nil.
	Iterate(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	// Close releases the handle. It never destroys data.
	Close(ctx context.Context) error
}

// Opener opens a handle on the (dbName, storeName) pair a SyncBridge message names.
type Opener func(ctx context.Context, dbName, storeName string) (Store, error)

// Entry is one key/value pair of a snapshot.
type Entry struct {
	Key   string
	Value []byte
}

// Visit runs fn over a snapshot, honoring ErrStop and ctx cancellation.
// Backends collect their snapshot and then delegate here.
func Visit(ctx context.Context, entries []Entry, fn func(key string, value []byte) error) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e.Key, e.Value); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}
