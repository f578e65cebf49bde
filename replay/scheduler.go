package replay

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/unkn0wn-root/offsync/obs"
)

type SchedulerOptions struct {
	Replayer *Replayer // required
	// Interval is the periodic background replay opportunity; 0 disables it.
	Interval time.Duration
	// MaxInterval caps the backoff while cycles keep failing. Default 10 * Interval.
	MaxInterval time.Duration
	Logger      obs.Logger
}

// Scheduler runs replay cycles when triggered (the back-online transition) and
// periodically. While cycles fail the periodic delay backs off exponentially; a
// cycle that empties the queue resets it. Trigger always runs a cycle at once.
type Scheduler struct {
	r        *Replayer
	interval time.Duration
	b        *backoff.ExponentialBackOff
	trig     chan struct{}
	log      obs.Logger
	// cycles receives every result, for tests and status reporting.
	cycles func(Result, error)
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	b := backoff.NewExponentialBackOff()
	if opts.Interval > 0 {
		b.InitialInterval = opts.Interval
		b.MaxInterval = opts.MaxInterval
		if b.MaxInterval <= 0 {
			b.MaxInterval = 10 * opts.Interval
		}
	}
	b.Reset()
	return &Scheduler{
		r:        opts.Replayer,
		interval: opts.Interval,
		b:        b,
		trig:     make(chan struct{}, 1),
		log:      obs.OrNop(opts.Logger),
	}
}

// Trigger requests a cycle without blocking; triggers coalesce while one is pending.
func (s *Scheduler) Trigger() {
	select {
	case s.trig <- struct{}{}:
	default:
	}
}

// OnCycle registers fn to observe every cycle result. Call before Run.
func (s *Scheduler) OnCycle(fn func(Result, error)) { s.cycles = fn }

// Run loops until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	var (
		timer *time.Timer
		tick  <-chan time.Time
	)
	arm := func(d time.Duration) {
		if s.interval <= 0 {
			return
		}
		if timer == nil {
			timer = time.NewTimer(d)
		} else {
			timer.Reset(d)
		}
		tick = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	arm(s.interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.trig:
			if timer != nil {
				timer.Stop()
			}
		case <-tick:
		}

		res, err := s.r.Replay(ctx)
		if s.cycles != nil {
			s.cycles(res, err)
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil || res.Halted {
			d := s.b.NextBackOff()
			s.log.Debug("replay backing off", obs.Fields{"delay": d.String(), "pending": res.Pending, "err": err})
			arm(d)
			continue
		}
		s.b.Reset()
		arm(s.interval)
	}
}
