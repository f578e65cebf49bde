// Package ristretto puts a dgraph-io/ristretto read cache in front of any
// store.Store. A cached value carries the key generation observed before the
// backend read that produced it; a hit whose generation no longer matches is
// dropped, so a racing Put or Delete can never be shadowed by the value it replaced.
package ristretto

import (
	"context"
	"errors"
	"sync/atomic"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/offsync/store"
	"github.com/unkn0wn-root/offsync/version"
)

type Store struct {
	inner store.Store
	c     *rc.Cache
	gens  version.Gens
	owned bool // gens created here, closed with the store

	// epoch moves on Clear, which invalidates keys the gens never saw
	epoch atomic.Uint64
}

var _ store.Store = (*Store)(nil)

type entry struct {
	gen   uint64
	epoch uint64
	b     []byte
}

type Config struct {
	NumCounters int64
	MaxCost     int64 // bytes
	BufferItems int64
	Metrics     bool
	// Gens may be shared by several stores so that their caches stay
	// coherent; the caller closes it. Defaults to a private version.NewLocal(0, 0).
	Gens version.Gens
}

func DefaultConfig() Config {
	return Config{NumCounters: 1e5, MaxCost: 64 << 20, BufferItems: 64}
}

func New(inner store.Store, cfg Config) (*Store, error) {
	if inner == nil {
		return nil, errors.New("ristretto: nil inner store")
	}
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	g, owned := cfg.Gens, false
	if g == nil {
		g, owned = version.NewLocal(0, 0), true
	}
	return &Store{inner: inner, c: c, gens: g, owned: owned}, nil
}

// Wrap returns an Opener whose handles are all read-through cached.
func Wrap(open store.Opener, cfg Config) store.Opener {
	return func(ctx context.Context, dbName, storeName string) (store.Store, error) {
		s, err := open(ctx, dbName, storeName)
		if err != nil {
			return nil, err
		}
		rs, err := New(s, cfg)
		if err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		return rs, nil
	}
}

// lookup returns a cached value that is still current.
func (s *Store) lookup(ctx context.Context, key string) ([]byte, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false
	}
	e, _ := v.(entry)
	gen, err := s.gens.Snapshot(ctx, key)
	if err != nil || e.b == nil || e.gen != gen || e.epoch != s.epoch.Load() {
		s.c.Del(key)
		return nil, false
	}
	return e.b, true
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if b, ok := s.lookup(ctx, key); ok {
		return append([]byte(nil), b...), true, nil
	}

	epoch := s.epoch.Load()
	gen, gerr := s.gens.Snapshot(ctx, key)
	b, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return b, ok, err
	}
	if gerr == nil {
		s.c.Set(key, entry{gen: gen, epoch: epoch, b: append([]byte(nil), b...)}, int64(len(b)))
	}
	return b, true, nil
}

func (s *Store) invalidate(ctx context.Context, key string) {
	_, _ = s.gens.Bump(ctx, key)
	s.c.Del(key)
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	err := s.inner.Put(ctx, key, value)
	s.invalidate(ctx, key)
	return err
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	if _, ok := s.lookup(ctx, key); ok {
		return true, nil
	}
	return s.inner.Has(ctx, key)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.inner.Delete(ctx, key)
	s.invalidate(ctx, key)
	return err
}

// Clear bumps the generation of every cleared key so that other stores
// sharing the gens drop their copies too.
func (s *Store) Clear(ctx context.Context) error {
	keys, kerr := s.inner.Keys(ctx, "")
	err := s.inner.Clear(ctx)
	s.epoch.Add(1)
	s.c.Clear()
	if kerr == nil {
		for _, k := range keys {
			_, _ = s.gens.Bump(ctx, k)
		}
	}
	return err
}

func (s *Store) Count(ctx context.Context) (int, error) { return s.inner.Count(ctx) }

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.Keys(ctx, prefix)
}

// Iterate is served by the backend; scans bypass the cache.
func (s *Store) Iterate(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	return s.inner.Iterate(ctx, prefix, fn)
}

// Close closes the cache, the wrapped store and gens it created itself.
func (s *Store) Close(ctx context.Context) error {
	s.c.Wait()
	s.c.Close()
	var gerr error
	if s.owned {
		gerr = s.gens.Close(ctx)
	}
	if err := s.inner.Close(ctx); err != nil {
		return err
	}
	return gerr
}

// Metrics exposes ristretto's counters (nil unless Config.Metrics).
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }
