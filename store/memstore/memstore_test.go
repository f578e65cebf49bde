package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/unkn0wn-root/offsync/store"
	"github.com/unkn0wn-root/offsync/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := New()
		t.Cleanup(func() { _ = s.Close(context.Background()) })
		return s
	})
}

func TestRegistryHandlesShareData(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	tabA, err := r.Open(ctx, "app-cache-db", "cache-store")
	if err != nil {
		t.Fatal(err)
	}
	tabB, _ := r.Open(ctx, "app-cache-db", "cache-store")
	other, _ := r.Open(ctx, "app-cache-db", "other-store")

	if err := tabA.Put(ctx, "ns:q1", []byte("cA")); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := tabB.Get(ctx, "ns:q1"); !ok || string(v) != "cA" {
		t.Fatalf("second handle did not see the write: %q %v", v, ok)
	}
	if _, ok, _ := other.Get(ctx, "ns:q1"); ok {
		t.Fatalf("stores must be isolated by name")
	}

	// closing one handle leaves the data to the others
	_ = tabA.Close(ctx)
	if _, _, err := tabA.Get(ctx, "ns:q1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("closed handle must fail, got %v", err)
	}
	if _, ok, _ := tabB.Get(ctx, "ns:q1"); !ok {
		t.Fatalf("data lost after closing another handle")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Put(ctx, "k", []byte("abc"))
	v, _, _ := s.Get(ctx, "k")
	v[0] = 'X'
	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("caller mutation leaked into store: %q", again)
	}
}
