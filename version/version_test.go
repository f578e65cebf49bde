package version

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLocalBumpIsPerKey(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	for i := 0; i < 2; i++ {
		if _, err := s.Bump(ctx, "b"); err != nil {
			t.Fatal(err)
		}
	}
	if g, _ := s.Snapshot(ctx, "a"); g != 0 {
		t.Fatalf("untouched key gen=%d, want 0", g)
	}
	if g, _ := s.Snapshot(ctx, "b"); g != 2 {
		t.Fatalf("bumped key gen=%d, want 2", g)
	}
}

func TestLocalCleanupPrunesOld(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	if _, err := s.Bump(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	s.Cleanup(10 * time.Millisecond)

	if g, _ := s.Snapshot(ctx, "old"); g != 0 {
		t.Fatalf("expected pruned -> 0, got %d", g)
	}
}

func TestLocalCloseIsIdempotent(t *testing.T) {
	s := NewLocal(time.Millisecond, time.Hour)
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestClockIsStrictlyIncreasingWhenTimeStalls(t *testing.T) {
	fixed := time.Unix(0, 1000)
	c := &Clock{now: func() time.Time { return fixed }}

	a, b, d := c.Next(), c.Next(), c.Next()
	if a != 1000 || b != 1001 || d != 1002 {
		t.Fatalf("got %d %d %d", a, b, d)
	}
}

func TestClockObserveMovesPast(t *testing.T) {
	c := &Clock{now: func() time.Time { return time.Unix(0, 10) }}
	c.Observe(500)
	if v := c.Next(); v != 501 {
		t.Fatalf("Next after Observe(500) = %d", v)
	}
	c.Observe(3) // older observation is ignored
	if v := c.Next(); v != 502 {
		t.Fatalf("Next = %d", v)
	}
}

func TestClockConcurrentUnique(t *testing.T) {
	c := NewClock()
	var mu sync.Mutex
	seen := make(map[uint64]bool)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				v := c.Next()
				mu.Lock()
				if seen[v] {
					mu.Unlock()
					t.Errorf("duplicate version %d", v)
					return
				}
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}
