package offsync

import (
	"github.com/unkn0wn-root/offsync/bridge"
	"github.com/unkn0wn-root/offsync/codec"
	"github.com/unkn0wn-root/offsync/store"
	"github.com/unkn0wn-root/offsync/version"
)

// Default durable store every cache writes through to.
const (
	DefaultDBName    = "app-cache-db"
	DefaultStoreName = "cache-store"
)

// DefaultTarget is the (db, store) pair used when a Target is left empty.
var DefaultTarget = bridge.Target{DBName: DefaultDBName, StoreName: DefaultStoreName}

// CacheOptions configure one namespace's Cache.
// Only Namespace and Codec are required; others have sensible defaults.
type CacheOptions[V any] struct {
	// Required
	Namespace string // e.g. "assignments", "drafts"
	Codec     codec.Codec[V]

	Poster bridge.Poster  // nil => memory only, every mutation reports SyncDropped
	Target bridge.Target  // zero => DefaultTarget
	Open   store.Opener   // needed by Hydrate only
	Clock  *version.Clock // nil => private clock
	Logger Logger         // if nil, NopLogger is used
	Hooks  Hooks          // if nil, NopHooks is used
}

// ChangeKind is the local mutation reported to change listeners.
type ChangeKind int

const (
	ChangeSet ChangeKind = iota + 1
	ChangeDelete
	ChangeClear
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeSet:
		return "set"
	case ChangeDelete:
		return "delete"
	case ChangeClear:
		return "clear"
	}
	return "unknown"
}

// Change describes one local mutation. Key and Value are zero for ChangeClear.
type Change[V any] struct {
	Kind  ChangeKind
	Key   string
	Value V
}

// Entry is one key/value pair of a Cache snapshot.
type Entry[V any] struct {
	Key   string
	Value V
}
