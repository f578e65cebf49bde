package offsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/unkn0wn-root/offsync/bridge"
	"github.com/unkn0wn-root/offsync/connectivity"
	"github.com/unkn0wn-root/offsync/replay"
	"github.com/unkn0wn-root/offsync/store"
	"github.com/unkn0wn-root/offsync/syncer"
	"github.com/unkn0wn-root/offsync/version"
)

// DefaultQueueStoreName is the store the replay queue lives in when
// RuntimeOptions.QueueStore is nil.
const DefaultQueueStoreName = "replay-queue"

// RuntimeOptions configure the in-process wiring. Only Open is required.
type RuntimeOptions struct {
	// Required
	Open store.Opener // DurableStore of every cache and, by default, of the replay queue

	Target         bridge.Target  // zero => DefaultTarget
	QueueStore     store.Store    // nil => Open(Target.DBName, DefaultQueueStoreName); owned by the runtime
	QueueName      string         // default "replay"
	Sender         replay.Sender  // nil => &replay.HTTPSender{}
	Retention      time.Duration  // 0 => replay.DefaultRetention
	ReplayInterval time.Duration  // periodic replay opportunity; 0 => 30s, <0 disables it
	ReplayBackoff  time.Duration  // cap of the periodic delay while cycles fail; 0 => 10 * ReplayInterval
	Policy         syncer.Policy  // default LastApplied
	BusCapacity    int            // 0 => 1024
	InitialOnline  bool           // connectivity state before the first signal
	Clock          *version.Clock // nil => private clock
	Logger         Logger         // if nil, NopLogger is used
	Hooks          Hooks          // if nil, NopHooks is used
}

const defaultReplayInterval = 30 * time.Second

// Runtime owns one background context: the bus, the sync handler, the replay
// queue with its scheduler, and the connectivity monitor. Build one per process
// and pass it around; there is no package-level instance.
type Runtime struct {
	open   store.Opener
	target bridge.Target
	clock  *version.Clock
	log    Logger
	hooks  Hooks

	bus       *bridge.Bus
	hub       *bridge.Hub
	handler   *syncer.Handler
	queue     *replay.Queue
	replayer  *replay.Replayer
	scheduler *replay.Scheduler
	monitor   *connectivity.Monitor

	mu       sync.Mutex
	started  bool
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
	unchange func()
}

func NewRuntime(ctx context.Context, opts RuntimeOptions) (*Runtime, error) {
	if opts.Open == nil {
		return nil, errors.New("offsync: runtime requires a store opener")
	}
	var log Logger = NopLogger{}
	if opts.Logger != nil {
		log = opts.Logger
	}
	var hooks Hooks = NopHooks{}
	if opts.Hooks != nil {
		hooks = opts.Hooks
	}
	t := opts.Target
	t.DBName = coalesce(t.DBName, DefaultDBName)
	t.StoreName = coalesce(t.StoreName, DefaultStoreName)
	clock := opts.Clock
	if clock == nil {
		clock = version.NewClock()
	}

	handler, err := syncer.New(syncer.Options{Open: opts.Open, Policy: opts.Policy, Logger: log, Hooks: hooks})
	if err != nil {
		return nil, err
	}

	qs := opts.QueueStore
	if qs == nil {
		if qs, err = opts.Open(ctx, t.DBName, DefaultQueueStoreName); err != nil {
			return nil, fmt.Errorf("offsync: open replay queue: %w", err)
		}
	}
	queue, err := replay.NewQueue(replay.QueueOptions{Store: qs, Name: opts.QueueName, Logger: log, Hooks: hooks})
	if err != nil {
		_ = qs.Close(ctx)
		return nil, err
	}

	hub := bridge.NewHub(log)
	var sender replay.Sender = &replay.HTTPSender{}
	if opts.Sender != nil {
		sender = opts.Sender
	}
	replayer, err := replay.NewReplayer(replay.ReplayerOptions{
		Queue:       queue,
		Sender:      sender,
		Broadcaster: hub,
		Retention:   opts.Retention,
		Logger:      log,
		Hooks:       hooks,
	})
	if err != nil {
		_ = queue.Close(ctx)
		return nil, err
	}

	interval := coalesce(opts.ReplayInterval, defaultReplayInterval)
	if interval < 0 {
		interval = 0
	}
	return &Runtime{
		open:      opts.Open,
		target:    t,
		clock:     clock,
		log:       log,
		hooks:     hooks,
		bus:       bridge.NewBus(bridge.BusOptions{Capacity: opts.BusCapacity, Logger: log}),
		hub:       hub,
		handler:   handler,
		queue:     queue,
		replayer:  replayer,
		scheduler: replay.NewScheduler(replay.SchedulerOptions{Replayer: replayer, Interval: interval, MaxInterval: opts.ReplayBackoff, Logger: log}),
		monitor:   connectivity.New(connectivity.Options{Initial: opts.InitialOnline, Source: hub, Pending: queue, Logger: log}),
	}, nil
}

// Start attaches the sync handler to the bus and starts the replay scheduler.
// Every offline -> online transition triggers a replay cycle, and so does
// Start itself when the runtime begins online.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return errors.New("offsync: runtime closed")
	}
	if rt.started {
		return nil
	}
	rt.started = true

	rt.bus.Attach(rt.handler)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rt.cancel = cancel
	rt.done = make(chan struct{})
	go func() {
		defer close(rt.done)
		_ = rt.scheduler.Run(runCtx)
	}()

	rt.unchange = rt.monitor.OnChange(func(online bool) {
		if online {
			rt.scheduler.Trigger()
		}
	})
	if rt.monitor.Online() {
		rt.scheduler.Trigger()
	}
	rt.log.Info("offsync runtime started", Fields{"db": rt.target.DBName, "store": rt.target.StoreName, "queue": rt.queue.Name()})
	return nil
}

// Close stops the scheduler, drains the bus into the handler and releases
// every store handle. ctx bounds the drain.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	cancel, done, unchange := rt.cancel, rt.done, rt.unchange
	rt.mu.Unlock()

	if unchange != nil {
		unchange()
	}
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	rt.monitor.Close()

	var errs []error
	if err := rt.bus.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("bus: %w", err))
	}
	if err := rt.handler.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("handler: %w", err))
	}
	if err := rt.queue.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("queue: %w", err))
	}
	return errors.Join(errs...)
}

// Capture returns a RoundTripper that queues mutating requests failing in
// transport (see replay.Capture). A queued request triggers a replay cycle
// when the monitor reports online.
func (rt *Runtime) Capture(next http.RoundTripper) (*replay.Capture, error) {
	return replay.NewCapture(replay.CaptureOptions{
		Queue: rt.queue,
		Next:  next,
		OnQueued: func(replay.Request) {
			if rt.monitor.Online() {
				rt.scheduler.Trigger()
			}
		},
		Logger: rt.log,
	})
}

// SetOnline forwards an environment connectivity signal to the monitor.
func (rt *Runtime) SetOnline(online bool) { rt.monitor.SetOnline(online) }

// Poster is the foreground end of the in-process bridge.
func (rt *Runtime) Poster() bridge.Poster { return rt.bus }

// Notifications is where SYNC_* broadcasts can be observed.
func (rt *Runtime) Notifications() bridge.Source { return rt.hub }

func (rt *Runtime) Target() bridge.Target          { return rt.target }
func (rt *Runtime) Opener() store.Opener           { return rt.open }
func (rt *Runtime) Clock() *version.Clock          { return rt.clock }
func (rt *Runtime) Bus() *bridge.Bus               { return rt.bus }
func (rt *Runtime) Handler() *syncer.Handler       { return rt.handler }
func (rt *Runtime) Queue() *replay.Queue           { return rt.queue }
func (rt *Runtime) Replayer() *replay.Replayer     { return rt.replayer }
func (rt *Runtime) Scheduler() *replay.Scheduler   { return rt.scheduler }
func (rt *Runtime) Monitor() *connectivity.Monitor { return rt.monitor }
