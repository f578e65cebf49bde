package bridge

import (
	"sync"

	"github.com/unkn0wn-root/offsync/obs"
)

// Hub is an in-process Broadcaster and Source. Listeners run synchronously in
// subscription order; a panicking listener is logged and skipped.
type Hub struct {
	mu        sync.RWMutex
	next      uint64
	listeners []hubListener
	log       obs.Logger
}

type hubListener struct {
	id uint64
	fn func(Notification)
}

var (
	_ Broadcaster = (*Hub)(nil)
	_ Source      = (*Hub)(nil)
)

func NewHub(log obs.Logger) *Hub {
	return &Hub{log: obs.OrNop(log)}
}

func (h *Hub) Subscribe(fn func(Notification)) (cancel func()) {
	h.mu.Lock()
	h.next++
	id := h.next
	h.listeners = append(h.listeners, hubListener{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, l := range h.listeners {
				if l.id == id {
					h.listeners = append(h.listeners[:i:i], h.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (h *Hub) Broadcast(n Notification) {
	h.mu.RLock()
	ls := h.listeners
	h.mu.RUnlock()
	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.log.Warn("notification listener panicked", obs.Fields{"type": n.Type, "panic": r})
				}
			}()
			l.fn(n)
		}()
	}
}

// Len reports the number of subscribed listeners.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}
