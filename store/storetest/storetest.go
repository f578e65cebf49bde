// Package storetest is a conformance suite every store.Store backend runs.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/unkn0wn-root/offsync/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run exercises the store.Store contract against fresh stores from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("GetPutHasDelete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		if _, ok, err := s.Get(ctx, "ns:a"); err != nil || ok {
			t.Fatalf("Get on empty: ok=%v err=%v", ok, err)
		}
		if err := s.Put(ctx, "ns:a", []byte("v1")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.Put(ctx, "ns:a", []byte("v2")); err != nil {
			t.Fatalf("Put overwrite: %v", err)
		}
		v, ok, err := s.Get(ctx, "ns:a")
		if err != nil || !ok || !bytes.Equal(v, []byte("v2")) {
			t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
		}
		if has, err := s.Has(ctx, "ns:a"); err != nil || !has {
			t.Fatalf("Has: %v %v", has, err)
		}
		if err := s.Delete(ctx, "ns:a"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, "ns:a"); err != nil {
			t.Fatalf("Delete missing must not fail: %v", err)
		}
		if has, _ := s.Has(ctx, "ns:a"); has {
			t.Fatalf("key survived Delete")
		}
	})

	t.Run("OrderedPrefixScan", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, k := range []string{"b:2", "a:3", "a:1", "ab:1", "a:2"} {
			if err := s.Put(ctx, k, []byte(k)); err != nil {
				t.Fatalf("Put %s: %v", k, err)
			}
		}

		keys, err := s.Keys(ctx, "a:")
		if err != nil {
			t.Fatalf("Keys: %v", err)
		}
		want := []string{"a:1", "a:2", "a:3"}
		if len(keys) != len(want) {
			t.Fatalf("Keys = %v want %v", keys, want)
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Fatalf("Keys = %v want %v", keys, want)
			}
		}

		var seen []string
		err = s.Iterate(ctx, "", func(k string, v []byte) error {
			if !bytes.Equal(v, []byte(k)) {
				t.Fatalf("value mismatch for %s: %q", k, v)
			}
			seen = append(seen, k)
			return nil
		})
		if err != nil {
			t.Fatalf("Iterate: %v", err)
		}
		all := []string{"a:1", "a:2", "a:3", "ab:1", "b:2"}
		if len(seen) != len(all) {
			t.Fatalf("Iterate = %v want %v", seen, all)
		}
		for i := range all {
			if seen[i] != all[i] {
				t.Fatalf("Iterate order = %v want %v", seen, all)
			}
		}

		if n, err := s.Count(ctx); err != nil || n != 5 {
			t.Fatalf("Count = %d, %v", n, err)
		}
	})

	t.Run("IterateStopAndMutate", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, k := range []string{"x:1", "x:2", "x:3"} {
			_ = s.Put(ctx, k, []byte("v"))
		}
		visited := 0
		err := s.Iterate(ctx, "x:", func(k string, _ []byte) error {
			visited++
			if err := s.Delete(ctx, k); err != nil {
				return err
			}
			if visited == 2 {
				return store.ErrStop
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Iterate with ErrStop returned %v", err)
		}
		if visited != 2 {
			t.Fatalf("visited %d entries, want 2", visited)
		}
		if n, _ := s.Count(ctx); n != 1 {
			t.Fatalf("Count after partial delete = %d want 1", n)
		}

		boom := errors.New("boom")
		if err := s.Iterate(ctx, "", func(string, []byte) error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("Iterate must surface fn error, got %v", err)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_ = s.Put(ctx, "a:1", []byte("1"))
		_ = s.Put(ctx, "b:1", []byte("1"))
		if err := s.Clear(ctx); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		if n, err := s.Count(ctx); err != nil || n != 0 {
			t.Fatalf("Count after Clear = %d, %v", n, err)
		}
	})
}
