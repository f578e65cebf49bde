// Package version tracks how keys change over time.
//
// Gens are per-key generation counters used to detect a write racing a read (the
// read-through decorator in store/ristretto only fills its cache when the
// generation did not move). Clock issues the per-key versions framed into durable
// records for newest-version-wins conflict resolution.
package version

import "context"

// Gens abstracts where generations live.
// Use Local for in-process gens, or Redis when several processes share a store.
type Gens interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	Close(context.Context) error
}
