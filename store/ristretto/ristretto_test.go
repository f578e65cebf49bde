package ristretto

import (
	"context"
	"testing"

	"github.com/unkn0wn-root/offsync/store"
	"github.com/unkn0wn-root/offsync/store/memstore"
	"github.com/unkn0wn-root/offsync/store/storetest"
	"github.com/unkn0wn-root/offsync/version"
)

func newTestStore(t *testing.T, inner store.Store) *Store {
	t.Helper()
	s, err := New(inner, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t, memstore.New()) })
}

func TestInvalidConfig(t *testing.T) {
	if _, err := New(memstore.New(), Config{}); err == nil {
		t.Fatal("expected error for zero config")
	}
	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Fatal("expected error for nil inner")
	}
}

func TestReadsAreServedFromCache(t *testing.T) {
	ctx := context.Background()
	inner := memstore.New()
	s := newTestStore(t, inner)

	_ = s.Put(ctx, "ns:k", []byte("v1"))
	if v, ok, _ := s.Get(ctx, "ns:k"); !ok || string(v) != "v1" {
		t.Fatalf("Get = %q %v", v, ok)
	}
	s.c.Wait()

	// write behind the decorator's back: the cached copy still answers
	_ = inner.Put(ctx, "ns:k", []byte("behind"))
	if v, _, _ := s.Get(ctx, "ns:k"); string(v) != "v1" {
		t.Fatalf("Get = %q, want cached v1", v)
	}

	// a write through the decorator invalidates
	_ = s.Put(ctx, "ns:k", []byte("v2"))
	if v, _, _ := s.Get(ctx, "ns:k"); string(v) != "v2" {
		t.Fatalf("Get = %q, want v2", v)
	}
}

// racingStore lets a test run a write between the backend read and the fill.
type racingStore struct {
	*memstore.Store
	during func()
}

func (r *racingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok, err := r.Store.Get(ctx, key)
	if r.during != nil {
		f := r.during
		r.during = nil
		f()
	}
	return b, ok, err
}

func TestRacingWriteIsNotShadowedByStaleFill(t *testing.T) {
	ctx := context.Background()
	inner := &racingStore{Store: memstore.New()}
	s := newTestStore(t, inner)

	_ = s.Put(ctx, "ns:k", []byte("old"))
	inner.during = func() { _ = s.Put(ctx, "ns:k", []byte("new")) }

	if v, _, _ := s.Get(ctx, "ns:k"); string(v) != "old" {
		t.Fatalf("in-flight read = %q, want old", v)
	}
	s.c.Wait()
	if v, _, _ := s.Get(ctx, "ns:k"); string(v) != "new" {
		t.Fatalf("Get after racing write = %q, want new", v)
	}
}

func TestClearDropsCachedEntries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, memstore.New())
	_ = s.Put(ctx, "ns:k", []byte("v"))
	_, _, _ = s.Get(ctx, "ns:k")
	s.c.Wait()

	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Get(ctx, "ns:k"); ok {
		t.Fatal("entry survived Clear")
	}
}

func TestSharedGensKeepHandlesCoherent(t *testing.T) {
	ctx := context.Background()
	reg := memstore.NewRegistry()
	gens := version.NewLocal(0, 0)
	defer gens.Close(ctx)
	cfg := DefaultConfig()
	cfg.Gens = gens
	open := Wrap(reg.Open, cfg)

	a, err := open(ctx, "db", "cache-store")
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	b, _ := open(ctx, "db", "cache-store")
	defer b.Close(ctx)

	_ = a.Put(ctx, "ns:k", []byte("v1"))
	if _, ok, _ := b.Get(ctx, "ns:k"); !ok {
		t.Fatalf("b missed ns:k")
	}
	b.(*Store).c.Wait()

	_ = a.Put(ctx, "ns:k", []byte("v2"))
	if v, _, _ := b.Get(ctx, "ns:k"); string(v) != "v2" {
		t.Fatalf("b served stale %q after put through a", v)
	}
	b.(*Store).c.Wait()

	_ = a.Clear(ctx)
	if _, ok, _ := b.Get(ctx, "ns:k"); ok {
		t.Fatalf("b served a key cleared through a")
	}

	// closing a handle leaves shared gens usable
	_ = a.Close(ctx)
	if _, err := gens.Snapshot(ctx, "ns:k"); err != nil {
		t.Fatalf("gens closed with handle: %v", err)
	}
}
