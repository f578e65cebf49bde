package replay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/offsync/codec"
	"github.com/unkn0wn-root/offsync/durable"
	"github.com/unkn0wn-root/offsync/obs"
	"github.com/unkn0wn-root/offsync/store"
)

// Sequences start mid-range so Unshift can always go below the head.
const baseSeq uint64 = 1 << 62

type QueueOptions struct {
	Store  store.Store // required
	Name   string      // default "replay"
	Logger obs.Logger
	Hooks  obs.Hooks
	Now    func() time.Time
}

// Queue is a durable FIFO. It keeps no cursor in memory: head and tail are
// read from the store on every call, so a queue reopened after a restart
// continues where the previous process stopped.
type Queue struct {
	m     *durable.Map[Request]
	name  string
	pre   string
	log   obs.Logger
	hooks obs.Hooks
	now   func() time.Time

	mu sync.Mutex
}

func NewQueue(opts QueueOptions) (*Queue, error) {
	name := opts.Name
	if name == "" {
		name = "replay"
	}
	if err := store.ValidNamespace(name); err != nil {
		return nil, fmt.Errorf("replay: queue name: %w", err)
	}
	m, err := durable.New[Request](durable.Options[Request]{
		Store:  opts.Store,
		Codec:  codec.Msgpack[Request]{},
		Logger: opts.Logger,
		Hooks:  opts.Hooks,
	})
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Queue{
		m:     m,
		name:  name,
		pre:   store.NamespacePrefix(name),
		log:   obs.OrNop(opts.Logger),
		hooks: obs.HooksOrNop(opts.Hooks),
		now:   now,
	}, nil
}

// Name is the queue's key namespace.
func (q *Queue) Name() string { return q.name }

func (q *Queue) key(seq uint64) string {
	return store.CompositeKey(q.name, fmt.Sprintf("%020d", seq))
}

func (q *Queue) seqOf(key string) (uint64, bool) {
	s, ok := strings.CutPrefix(key, q.pre)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	return n, err == nil
}

// bounds returns the first and last sequence in the store.
func (q *Queue) bounds(ctx context.Context) (head, tail uint64, ok bool, err error) {
	keys, err := q.m.Keys(ctx, q.pre)
	if err != nil {
		return 0, 0, false, err
	}
	for _, k := range keys {
		s, valid := q.seqOf(k)
		if !valid {
			continue
		}
		if !ok || s < head {
			head = s
		}
		if !ok || s > tail {
			tail = s
		}
		ok = true
	}
	return head, tail, ok, nil
}

// Push appends req at the tail. A missing ID or EnqueuedAt is filled in.
func (q *Queue) Push(ctx context.Context, req Request) (Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, tail, ok, err := q.bounds(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("replay: push: %w", err)
	}
	req.Seq = baseSeq
	if ok {
		req.Seq = tail + 1
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = q.now().UTC()
	}
	if err := q.m.Set(ctx, q.key(req.Seq), req); err != nil {
		return Request{}, fmt.Errorf("replay: push: %w", err)
	}
	q.log.Debug("request queued", obs.Fields{"id": req.ID, "method": req.Method, "url": req.URL})
	return req, nil
}

// Peek returns the head without removing it.
func (q *Queue) Peek(ctx context.Context) (Request, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peek(ctx)
}

func (q *Queue) peek(ctx context.Context) (Request, bool, error) {
	var (
		head  Request
		found bool
	)
	err := q.m.Range(ctx, q.pre, func(_ string, r Request) error {
		head, found = r, true
		return store.ErrStop
	})
	return head, found, err
}

// Shift removes and returns the head. Undecodable records in front of it are
// deleted on the way (Hooks.CorruptRecord); otherwise they would block the
// queue forever.
func (q *Queue) Shift(ctx context.Context) (Request, bool, error) {
	req, ok, _, err := q.shift(ctx)
	return req, ok, err
}

// shift is Shift that also reports how many corrupt records it discarded.
func (q *Queue) shift(ctx context.Context) (req Request, ok bool, discarded int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys, err := q.m.Keys(ctx, q.pre)
	if err != nil {
		return Request{}, false, 0, fmt.Errorf("replay: shift: %w", err)
	}
	// zero-padded sequences sort in queue order
	slices.Sort(keys)
	for _, k := range keys {
		if _, valid := q.seqOf(k); !valid {
			continue
		}
		r, found, gerr := q.m.Get(ctx, k)
		switch {
		case errors.Is(gerr, durable.ErrCorrupt):
			if derr := q.m.Delete(ctx, k); derr != nil {
				return Request{}, false, discarded, fmt.Errorf("replay: shift: discard %q: %w", k, derr)
			}
			discarded++
			q.log.Warn("discarded corrupt queued request", obs.Fields{"queue": q.name, "key": k, "err": gerr})
			q.hooks.CorruptRecord(k, "queued_request")
			continue
		case gerr != nil:
			return Request{}, false, discarded, fmt.Errorf("replay: shift: %w", gerr)
		case !found:
			continue
		}
		if err := q.m.Delete(ctx, k); err != nil {
			return Request{}, false, discarded, fmt.Errorf("replay: shift: %w", err)
		}
		return r, true, discarded, nil
	}
	return Request{}, false, discarded, nil
}

// Unshift puts req back at the front. A request that was just shifted keeps
// the sequence it was pushed with, so the queue order is exactly what it was before.
func (q *Queue) Unshift(ctx context.Context, req Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	head, _, ok, err := q.bounds(ctx)
	if err != nil {
		return fmt.Errorf("replay: unshift: %w", err)
	}
	switch {
	case req.Seq == 0 && ok:
		req.Seq = head - 1
	case req.Seq == 0:
		req.Seq = baseSeq
	case ok && req.Seq >= head:
		req.Seq = head - 1
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = q.now().UTC()
	}
	if err := q.m.Set(ctx, q.key(req.Seq), req); err != nil {
		return fmt.Errorf("replay: unshift: %w", err)
	}
	return nil
}

// Len counts queued requests.
func (q *Queue) Len(ctx context.Context) (int, error) {
	keys, err := q.m.Keys(ctx, q.pre)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// All returns every request head first.
func (q *Queue) All(ctx context.Context) ([]Request, error) {
	var out []Request
	err := q.m.Range(ctx, q.pre, func(_ string, r Request) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

// Purge removes every request of this queue.
func (q *Queue) Purge(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys, err := q.m.Keys(ctx, q.pre)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := q.m.Delete(ctx, k); err != nil {
			return fmt.Errorf("replay: purge: %w", err)
		}
	}
	return nil
}

func (q *Queue) Close(ctx context.Context) error { return q.m.Close(ctx) }
