// Package durable is the typed face of a DurableStore: a generic asynchronous map
// whose values are encoded with a codec and framed with their per-key version.
package durable

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/offsync/codec"
	"github.com/unkn0wn-root/offsync/internal/wire"
	"github.com/unkn0wn-root/offsync/obs"
	"github.com/unkn0wn-root/offsync/store"
)

var ErrCorrupt = wire.ErrCorrupt

type Options[V any] struct {
	Store  store.Store    // required
	Codec  codec.Codec[V] // required
	Logger obs.Logger
	Hooks  obs.Hooks
}

// Map is safe for concurrent use as far as its Store is. Handles are
// independent: two Maps over one database do not coordinate.
type Map[V any] struct {
	s     store.Store
	codec codec.Codec[V]
	log   obs.Logger
	hooks obs.Hooks
}

func New[V any](opts Options[V]) (*Map[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("durable: store is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("durable: codec is required")
	}
	return &Map[V]{
		s:     opts.Store,
		codec: opts.Codec,
		log:   obs.OrNop(opts.Logger),
		hooks: obs.HooksOrNop(opts.Hooks),
	}, nil
}

// Store returns the underlying byte store.
func (m *Map[V]) Store() store.Store { return m.s }

func (m *Map[V]) decode(key string, raw []byte) (V, uint64, error) {
	var zero V
	ver, payload, err := wire.DecodeRecord(raw)
	if err != nil {
		return zero, 0, fmt.Errorf("durable: %q: %w", key, err)
	}
	v, err := m.codec.Decode(payload)
	if err != nil {
		return zero, 0, fmt.Errorf("durable: decode %q: %w: %w", key, ErrCorrupt, err)
	}
	return v, ver, nil
}

// Get returns (value, true, nil) on hit. A record that fails framing or value
// decoding yields an error wrapping ErrCorrupt.
func (m *Map[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, ok, err := m.s.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, _, err := m.decode(key, raw)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set writes v with version 0 (unversioned).
func (m *Map[V]) Set(ctx context.Context, key string, v V) error {
	return m.SetVersion(ctx, key, v, 0)
}

func (m *Map[V]) SetVersion(ctx context.Context, key string, v V, ver uint64) error {
	payload, err := m.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("durable: encode %q: %w", key, err)
	}
	return m.s.Put(ctx, key, wire.EncodeRecord(ver, payload))
}

// Version reports the stored per-key version without decoding the value.
func (m *Map[V]) Version(ctx context.Context, key string) (uint64, bool, error) {
	raw, ok, err := m.s.Get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	ver, err := wire.PeekVersion(raw)
	if err != nil {
		return 0, false, fmt.Errorf("durable: %q: %w", key, err)
	}
	return ver, true, nil
}

// SetIfNewer writes v only when ver is greater than the stored version, or when
// nothing (or a corrupt record) is stored. It returns the version it compared against.
// Not atomic across handles: callers serialize writes per key.
func (m *Map[V]) SetIfNewer(ctx context.Context, key string, v V, ver uint64) (applied bool, stored uint64, err error) {
	stored, ok, err := m.Version(ctx, key)
	switch {
	case errors.Is(err, ErrCorrupt):
		m.hooks.CorruptRecord(key, "frame")
		ok = false
	case err != nil:
		return false, 0, err
	}
	if ok && ver <= stored {
		return false, stored, nil
	}
	if err := m.SetVersion(ctx, key, v, ver); err != nil {
		return false, stored, err
	}
	return true, stored, nil
}

func (m *Map[V]) Has(ctx context.Context, key string) (bool, error) { return m.s.Has(ctx, key) }

func (m *Map[V]) Delete(ctx context.Context, key string) error { return m.s.Delete(ctx, key) }

func (m *Map[V]) Clear(ctx context.Context) error { return m.s.Clear(ctx) }

func (m *Map[V]) Count(ctx context.Context) (int, error) { return m.s.Count(ctx) }

func (m *Map[V]) Keys(ctx context.Context, prefix string) ([]string, error) {
	return m.s.Keys(ctx, prefix)
}

// Range visits decoded entries under prefix in key order. Corrupt records are
// skipped and reported through Hooks.CorruptRecord. fn may return store.ErrStop.
func (m *Map[V]) Range(ctx context.Context, prefix string, fn func(key string, v V) error) error {
	return m.RangeVersions(ctx, prefix, func(key string, v V, _ uint64) error { return fn(key, v) })
}

// RangeVersions is Range with each record's stored version.
func (m *Map[V]) RangeVersions(ctx context.Context, prefix string, fn func(key string, v V, ver uint64) error) error {
	return m.s.Iterate(ctx, prefix, func(key string, raw []byte) error {
		v, ver, err := m.decode(key, raw)
		if err != nil {
			reason := "value_decode"
			if _, _, ferr := wire.DecodeRecord(raw); ferr != nil {
				reason = "frame"
			}
			m.log.Warn("skipping corrupt durable record", obs.Fields{"key": key, "reason": reason, "err": err})
			m.hooks.CorruptRecord(key, reason)
			return nil
		}
		return fn(key, v, ver)
	})
}

// Close releases the store handle.
func (m *Map[V]) Close(ctx context.Context) error { return m.s.Close(ctx) }
