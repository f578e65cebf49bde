package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/offsync/bridge"
	"github.com/unkn0wn-root/offsync/fault"
	"github.com/unkn0wn-root/offsync/obs"
)

// DefaultRetention is how long a request may wait before it is dropped.
const DefaultRetention = 24 * time.Hour

type ReplayerOptions struct {
	Queue  *Queue // required
	Sender Sender // required
	// Broadcaster receives SYNC_* notifications; nil disables them.
	Broadcaster bridge.Broadcaster
	// Retention is the horizon past which a queued request is dropped. Default 24h.
	Retention time.Duration
	Logger    obs.Logger
	Hooks     obs.Hooks
	Now       func() time.Time
}

// Result summarizes one replay cycle.
type Result struct {
	Replayed int
	Dropped  int
	// Halted is set when a request failed and stopped the cycle.
	Halted bool
	// Pending counts requests still queued when the cycle ended.
	Pending int
	// LastErr is the send error that halted the cycle.
	LastErr error
}

// Replayer runs replay cycles, one at a time.
type Replayer struct {
	q         *Queue
	sender    Sender
	bc        bridge.Broadcaster
	retention time.Duration
	log       obs.Logger
	hooks     obs.Hooks
	now       func() time.Time

	mu sync.Mutex
}

func NewReplayer(opts ReplayerOptions) (*Replayer, error) {
	if opts.Queue == nil || opts.Sender == nil {
		return nil, fmt.Errorf("replay: queue and sender are required")
	}
	r := &Replayer{
		q:         opts.Queue,
		sender:    opts.Sender,
		bc:        opts.Broadcaster,
		retention: opts.Retention,
		log:       obs.OrNop(opts.Logger),
		hooks:     obs.HooksOrNop(opts.Hooks),
		now:       opts.Now,
	}
	if r.retention <= 0 {
		r.retention = DefaultRetention
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

func (r *Replayer) Queue() *Queue { return r.q }

func (r *Replayer) broadcast(typ string, count int) {
	if r.bc != nil {
		r.bc.Broadcast(bridge.Notification{Type: typ, Count: count})
	}
}

// Replay runs one cycle: shift the head, drop it if it outlived the retention
// horizon, otherwise send it; on success continue, on failure put it back at the
// front and stop. Sends are detached from ctx cancellation so an in-flight
// request is never abandoned halfway; ctx is checked between requests.
//
// The returned error is reserved for queue storage failures. A halted cycle is
// reported through Result.
func (r *Replayer) Replay(ctx context.Context) (res Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.q.Len(ctx)
	if err != nil {
		return res, fmt.Errorf("replay: %w", err)
	}
	if n == 0 {
		return res, nil
	}
	r.broadcast(bridge.SyncStarted, 0)
	r.log.Info("replay cycle started", obs.Fields{"pending": n})

	defer func() {
		// SYNC_FAILED counts requests dropped past retention and
		// corrupt records discarded from the head.
		if res.Dropped > 0 {
			r.broadcast(bridge.SyncFailed, res.Dropped)
		}
		if res.Replayed > 0 {
			r.broadcast(bridge.SyncComplete, res.Replayed)
		}
		pending, lerr := r.q.Len(context.WithoutCancel(ctx))
		if lerr != nil {
			r.log.Error("replay: count pending requests", obs.Fields{"err": lerr})
			if err == nil {
				err = fmt.Errorf("replay: %w", lerr)
			}
		}
		res.Pending = pending
		r.log.Info("replay cycle finished", obs.Fields{
			"replayed": res.Replayed, "dropped": res.Dropped, "halted": res.Halted, "pending": res.Pending,
		})
	}()

	sendCtx := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		req, ok, discarded, err := r.q.shift(ctx)
		res.Dropped += discarded
		if err != nil {
			return res, fmt.Errorf("replay: %w", err)
		}
		if !ok {
			break
		}

		if age := req.Age(r.now()); age > r.retention {
			res.Dropped++
			r.log.Warn("dropping request past retention", obs.Fields{
				"id": req.ID, "method": req.Method, "url": req.URL, "age": age.String(), "err": fault.ErrReplayExhausted,
			})
			r.hooks.ReplayExhausted(req.ID, age)
			continue
		}

		if err := r.sender.Send(sendCtx, req); err != nil {
			res.Halted = true
			res.LastErr = err
			if uerr := r.q.Unshift(sendCtx, req); uerr != nil {
				r.log.Error("failed to requeue request; it is lost", obs.Fields{"id": req.ID, "err": uerr})
				return res, fmt.Errorf("replay: %w", uerr)
			}
			pending, lerr := r.q.Len(sendCtx)
			if lerr != nil {
				r.log.Error("replay: count pending requests", obs.Fields{"err": lerr})
			}
			r.log.Warn("replay halted at failing request", obs.Fields{"id": req.ID, "pending": pending, "err": err})
			r.hooks.ReplayHalted(req.ID, pending, err)
			break
		}
		res.Replayed++
	}
	return res, nil
}
