// Package syncer is the background CacheSyncHandler: it applies SyncBridge
// messages to the DurableStore.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/unkn0wn-root/offsync/bridge"
	"github.com/unkn0wn-root/offsync/codec"
	"github.com/unkn0wn-root/offsync/durable"
	"github.com/unkn0wn-root/offsync/obs"
	"github.com/unkn0wn-root/offsync/store"
)

// Policy decides which of two writes to one key survives.
type Policy int

const (
	// LastApplied keeps whichever write the handler applied last (arrival order).
	LastApplied Policy = iota
	// NewestVersion keeps the write with the greater Operation.Version.
	// Unversioned sets (version 0) and deletes always apply.
	NewestVersion
)

func (p Policy) String() string {
	if p == NewestVersion {
		return "newest-version"
	}
	return "last-applied"
}

// ParsePolicy accepts "last-applied" (or "") and "newest-version".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "last-applied":
		return LastApplied, nil
	case "newest-version":
		return NewestVersion, nil
	}
	return LastApplied, fmt.Errorf("syncer: unknown conflict policy %q", s)
}

type Options struct {
	Open   store.Opener // required
	Policy Policy
	Logger obs.Logger
	Hooks  obs.Hooks
}

// Handler applies messages one at a time in the order it receives them; feed it
// from a single worker (bridge.Bus) to keep that order.
type Handler struct {
	open   store.Opener
	policy Policy
	log    obs.Logger
	hooks  obs.Hooks

	mu     sync.Mutex
	maps   map[bridge.Target]*durable.Map[[]byte]
	closed bool
}

var _ bridge.Consumer = (*Handler)(nil)

var ErrClosed = errors.New("syncer: handler closed")

func New(opts Options) (*Handler, error) {
	if opts.Open == nil {
		return nil, fmt.Errorf("syncer: opener is required")
	}
	return &Handler{
		open:   opts.Open,
		policy: opts.Policy,
		log:    obs.OrNop(opts.Logger),
		hooks:  obs.HooksOrNop(opts.Hooks),
		maps:   make(map[bridge.Target]*durable.Map[[]byte]),
	}, nil
}

// Handle applies m and logs any failure. Nothing is reported to the sender.
func (h *Handler) Handle(ctx context.Context, m bridge.Message) {
	if err := h.Apply(ctx, m); err != nil {
		f := obs.Fields{"op": m.Operation.Kind().String(), "db": m.DBName, "store": m.StoreName, "err": err}
		if m.Operation.Key != "" {
			f["key"] = m.Operation.Key
		}
		h.log.Error("cache sync failed", f)
	}
}

// Apply is Handle with the error returned.
func (h *Handler) Apply(ctx context.Context, m bridge.Message) error {
	if err := m.Validate(); err != nil {
		h.hooks.ProtocolMismatch(err.Error())
		return err
	}
	op := m.Operation
	kind := op.Kind()

	dm, err := h.handle(ctx, bridge.Target{DBName: m.DBName, StoreName: m.StoreName})
	if err != nil {
		return &ApplyError{Op: kind.String(), Namespace: op.Namespace, Key: op.Key, Err: err}
	}

	switch kind {
	case bridge.OpSet:
		err = h.set(ctx, dm, op)
	case bridge.OpDelete:
		err = dm.Delete(ctx, op.Key)
	case bridge.OpClear:
		err = dm.Clear(ctx)
	case bridge.OpClearNamespace:
		return h.clearNamespace(ctx, dm, op.Namespace)
	}
	if err != nil {
		return &ApplyError{Op: kind.String(), Namespace: op.Namespace, Key: op.Key, Err: err}
	}
	return nil
}

func (h *Handler) set(ctx context.Context, dm *durable.Map[[]byte], op bridge.Operation) error {
	value, err := op.Payload()
	if err != nil {
		return err
	}
	if h.policy != NewestVersion || op.Version == 0 {
		return dm.SetVersion(ctx, op.Key, value, op.Version)
	}
	applied, stored, err := dm.SetIfNewer(ctx, op.Key, value, op.Version)
	if err != nil {
		return err
	}
	if !applied {
		h.log.Debug("stale set skipped", obs.Fields{"key": op.Key, "stored": stored, "incoming": op.Version})
		h.hooks.StaleWriteSkipped(op.Key, stored, op.Version)
	}
	return nil
}

// clearNamespace lists the namespace's keys, then deletes them one by one.
// It stops at the first failure; keys deleted before it stay deleted.
func (h *Handler) clearNamespace(ctx context.Context, dm *durable.Map[[]byte], ns string) error {
	keys, err := dm.Keys(ctx, store.NamespacePrefix(ns))
	if err != nil {
		return &ApplyError{Op: "clear-namespace", Namespace: ns, Err: err}
	}
	for i, k := range keys {
		if err := dm.Delete(ctx, k); err != nil {
			return &ApplyError{Op: "clear-namespace", Namespace: ns, Key: k, Deleted: i, Total: len(keys), Err: err}
		}
	}
	h.log.Debug("namespace cleared", obs.Fields{"namespace": ns, "deleted": len(keys)})
	return nil
}

// handle returns the cached durable map for t, opening it on first use.
func (h *Handler) handle(ctx context.Context, t bridge.Target) (*durable.Map[[]byte], error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if dm, ok := h.maps[t]; ok {
		return dm, nil
	}
	s, err := h.open(ctx, t.DBName, t.StoreName)
	if err != nil {
		return nil, fmt.Errorf("open %s/%s: %w", t.DBName, t.StoreName, err)
	}
	dm, err := durable.New[[]byte](durable.Options[[]byte]{Store: s, Codec: codec.Bytes{}, Logger: h.log, Hooks: h.hooks})
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	h.maps[t] = dm
	return dm, nil
}

// Close releases every open store handle.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	var errs []error
	for t, dm := range h.maps {
		if err := dm.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s/%s: %w", t.DBName, t.StoreName, err))
		}
		delete(h.maps, t)
	}
	return errors.Join(errs...)
}
