// Package asynchook moves hook delivery off the caller's goroutine.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SyncDroppedEvery: 10, // sample logs: ~every 10th dropped write
//	})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	rt, _ := offsync.NewRuntime(ctx, offsync.RuntimeOptions{
//	    Open:  sqlite.Opener(dir),
//	    Hooks: hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/offsync/obs"
)

// Hooks queues every event for a small worker pool. A full queue drops the
// event; Dropped reports how many were lost.
type Hooks struct {
	inner   obs.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ obs.Hooks = (*Hooks)(nil)

func New(inner obs.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: obs.HooksOrNop(inner), q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers queued events and stops the workers. Events after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) ProtocolMismatch(r string) { h.try(func() { h.inner.ProtocolMismatch(r) }) }
func (h *Hooks) CorruptRecord(k, r string) { h.try(func() { h.inner.CorruptRecord(k, r) }) }
func (h *Hooks) SyncDropped(ns, op string, err error) {
	h.try(func() { h.inner.SyncDropped(ns, op, err) })
}
func (h *Hooks) StaleWriteSkipped(k string, stored, incoming uint64) {
	h.try(func() { h.inner.StaleWriteSkipped(k, stored, incoming) })
}
func (h *Hooks) ReplayExhausted(id string, age time.Duration) {
	h.try(func() { h.inner.ReplayExhausted(id, age) })
}
func (h *Hooks) ReplayHalted(id string, pending int, err error) {
	h.try(func() { h.inner.ReplayHalted(id, pending, err) })
}
