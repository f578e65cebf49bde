package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/unkn0wn-root/offsync/fault"
	"github.com/unkn0wn-root/offsync/obs"
)

const defaultBusCapacity = 1024

type BusOptions struct {
	// Capacity bounds messages waiting for the consumer. Default 1024.
	Capacity int
	Logger   obs.Logger
}

// Bus is the in-process bridge: a bounded FIFO drained by one worker, so the
// consumer sees messages in arrival order. Messages posted before a consumer
// attaches wait in the queue.
type Bus struct {
	ch  chan Message
	log obs.Logger

	mu     sync.RWMutex
	closed bool

	attach   sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	attached chan struct{}
}

var _ Poster = (*Bus)(nil)

func NewBus(opts BusOptions) *Bus {
	n := opts.Capacity
	if n <= 0 {
		n = defaultBusCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		ch:       make(chan Message, n),
		log:      obs.OrNop(opts.Logger),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		attached: make(chan struct{}),
	}
}

// Post enqueues m. A full or closed bus returns fault.ErrPersistenceUnavailable.
func (b *Bus) Post(m Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("%w: bus closed", fault.ErrPersistenceUnavailable)
	}
	select {
	case b.ch <- m:
		return nil
	default:
		return fmt.Errorf("%w: bus full (%d pending)", fault.ErrPersistenceUnavailable, cap(b.ch))
	}
}

// Pending reports messages not yet handed to the consumer.
func (b *Bus) Pending() int { return len(b.ch) }

// Attach starts the single worker that feeds c. Only the first call has effect.
func (b *Bus) Attach(c Consumer) {
	b.attach.Do(func() {
		close(b.attached)
		go b.run(c)
	})
}

func (b *Bus) run(c Consumer) {
	defer close(b.done)
	for m := range b.ch {
		if b.ctx.Err() != nil {
			continue // drain after a forced close
		}
		b.handle(c, m)
	}
}

func (b *Bus) handle(c Consumer, m Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bridge consumer panicked", obs.Fields{"op": m.Operation.Kind().String(), "panic": r})
		}
	}()
	c.Handle(b.ctx, m)
}

// Close stops accepting messages and waits for the worker to apply what is
// already queued, or for ctx to end, whichever comes first. Without an attached
// consumer queued messages are discarded.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()

	select {
	case <-b.attached:
	default:
		if n := len(b.ch); n > 0 {
			b.log.Warn("bus closed before a consumer attached", obs.Fields{"dropped": n})
		}
		b.cancel()
		return nil
	}

	select {
	case <-b.done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		<-b.done
		return ctx.Err()
	}
}
