// Package connectivity tracks online/offline state and relays background
// replay notifications. The Monitor only observes: it never touches caches or
// the replay queue.
package connectivity

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/offsync/bridge"
	"github.com/unkn0wn-root/offsync/obs"
)

// PendingCounter reports queued work; *replay.Queue satisfies it.
type PendingCounter interface {
	Len(ctx context.Context) (int, error)
}

type Options struct {
	// Initial is the state before the first signal.
	Initial bool
	// Source provides SYNC_* notifications; nil disables relaying.
	Source  bridge.Source
	Pending PendingCounter
	Logger  obs.Logger
}

// Monitor is the single writer of the connectivity state.
type Monitor struct {
	mu      sync.RWMutex
	online  bool
	last    bridge.Notification
	hasLast bool
	pending PendingCounter
	log     obs.Logger

	lmu       sync.RWMutex
	next      int
	onChange  map[int]func(online bool)
	onNotify  map[int]func(bridge.Notification)
	unsub     func()
	closeOnce sync.Once
}

func New(opts Options) *Monitor {
	m := &Monitor{
		online:   opts.Initial,
		pending:  opts.Pending,
		log:      obs.OrNop(opts.Logger),
		onChange: make(map[int]func(bool)),
		onNotify: make(map[int]func(bridge.Notification)),
	}
	if opts.Source != nil {
		m.unsub = opts.Source.Subscribe(m.relay)
	}
	return m
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Monitor) Offline() bool { return !m.Online() }

// SetOnline records an environment signal. Listeners run only on a transition.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.mu.Unlock()

	if online {
		m.log.Info("back online; pending requests will sync", nil)
	} else {
		m.log.Warn("offline; changes will sync when online", nil)
	}

	m.lmu.RLock()
	fns := make([]func(bool), 0, len(m.onChange))
	for _, fn := range m.onChange {
		fns = append(fns, fn)
	}
	m.lmu.RUnlock()
	for _, fn := range fns {
		safe(m.log, func() { fn(online) })
	}
}

// OnChange registers fn for online/offline transitions.
func (m *Monitor) OnChange(fn func(online bool)) (cancel func()) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.next++
	id := m.next
	m.onChange[id] = fn
	return func() {
		m.lmu.Lock()
		delete(m.onChange, id)
		m.lmu.Unlock()
	}
}

// OnNotification registers fn for relayed SYNC_* notifications.
func (m *Monitor) OnNotification(fn func(bridge.Notification)) (cancel func()) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.next++
	id := m.next
	m.onNotify[id] = fn
	return func() {
		m.lmu.Lock()
		delete(m.onNotify, id)
		m.lmu.Unlock()
	}
}

func (m *Monitor) relay(n bridge.Notification) {
	m.mu.Lock()
	m.last, m.hasLast = n, true
	m.mu.Unlock()

	switch n.Type {
	case bridge.SyncStarted:
		m.log.Info("syncing offline changes", nil)
	case bridge.SyncComplete:
		m.log.Info("offline changes synced", obs.Fields{"count": n.Count})
	case bridge.SyncFailed:
		m.log.Warn("some offline changes could not be synced", obs.Fields{"count": n.Count})
	}

	m.lmu.RLock()
	fns := make([]func(bridge.Notification), 0, len(m.onNotify))
	for _, fn := range m.onNotify {
		fns = append(fns, fn)
	}
	m.lmu.RUnlock()
	for _, fn := range fns {
		safe(m.log, func() { fn(n) })
	}
}

// LastNotification returns the most recent relayed notification.
func (m *Monitor) LastNotification() (bridge.Notification, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.hasLast
}

// HasPendingWork reports whether the replay queue holds requests.
func (m *Monitor) HasPendingWork(ctx context.Context) (bool, error) {
	if m.pending == nil {
		return false, nil
	}
	n, err := m.pending.Len(ctx)
	return n > 0, err
}

// Close stops relaying notifications.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		if m.unsub != nil {
			m.unsub()
		}
	})
}

func safe(log obs.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("connectivity listener panicked", obs.Fields{"panic": r})
		}
	}()
	fn()
}
