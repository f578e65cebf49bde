package offsync

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/offsync/bridge"
	c "github.com/unkn0wn-root/offsync/codec"
	"github.com/unkn0wn-root/offsync/durable"
	"github.com/unkn0wn-root/offsync/obs"
	"github.com/unkn0wn-root/offsync/replay"
	"github.com/unkn0wn-root/offsync/store"
	"github.com/unkn0wn-root/offsync/store/memstore"
	"github.com/unkn0wn-root/offsync/syncer"
)

type draft struct {
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// recPoster records every posted message and can be told to fail.
type recPoster struct {
	mu   sync.Mutex
	msgs []bridge.Message
	err  error
}

func (p *recPoster) Post(m bridge.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, m)
	return nil
}

func (p *recPoster) all() []bridge.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bridge.Message(nil), p.msgs...)
}

type dropHooks struct {
	obs.NopHooks
	mu    sync.Mutex
	drops []string
}

func (h *dropHooks) SyncDropped(ns, op string, _ error) {
	h.mu.Lock()
	h.drops = append(h.drops, ns+"/"+op)
	h.mu.Unlock()
}

func (h *dropHooks) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.drops)
}

type failCodec struct{}

func (failCodec) Encode(draft) ([]byte, error) { return nil, errors.New("boom") }
func (failCodec) Decode([]byte) (draft, error) { return draft{}, errors.New("boom") }

func newTestCache(t *testing.T, ns string, p bridge.Poster, optsOpt func(*CacheOptions[draft])) *Cache[draft] {
	t.Helper()
	opts := CacheOptions[draft]{
		Namespace: ns,
		Codec:     c.JSON[draft]{},
		Poster:    p,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cc, err := NewCache[draft](opts)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return cc
}

// pipeline is the in-process background: a bus feeding a sync handler.
type pipeline struct {
	reg *memstore.Registry
	bus *bridge.Bus
	h   *syncer.Handler
}

func newPipeline(t *testing.T, reg *memstore.Registry) *pipeline {
	t.Helper()
	h, err := syncer.New(syncer.Options{Open: reg.Open})
	if err != nil {
		t.Fatalf("syncer.New: %v", err)
	}
	bus := bridge.NewBus(bridge.BusOptions{})
	bus.Attach(h)
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return &pipeline{reg: reg, bus: bus, h: h}
}

// drain waits until every posted message was applied.
func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.bus.Close(ctx); err != nil {
		t.Fatalf("bus close: %v", err)
	}
}

func durableKeys(t *testing.T, reg *memstore.Registry) []string {
	t.Helper()
	ctx := context.Background()
	s, err := reg.Open(ctx, DefaultDBName, DefaultStoreName)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close(ctx)
	keys, err := s.Keys(ctx, "")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	return keys
}

func TestNewCacheValidation(t *testing.T) {
	if _, err := NewCache[draft](CacheOptions[draft]{Codec: c.JSON[draft]{}}); err == nil {
		t.Fatalf("expected error for empty namespace")
	}
	if _, err := NewCache[draft](CacheOptions[draft]{Namespace: "a:b", Codec: c.JSON[draft]{}}); err == nil {
		t.Fatalf("expected error for namespace with separator")
	}
	if _, err := NewCache[draft](CacheOptions[draft]{Namespace: "drafts"}); err == nil {
		t.Fatalf("expected error for missing codec")
	}
}

func TestSetIsVisibleImmediately(t *testing.T) {
	// the background never runs: memory alone answers reads
	bus := bridge.NewBus(bridge.BusOptions{})
	cc := newTestCache(t, "drafts", bus, nil)

	cc.Set("d1", draft{Title: "x"})
	v, ok := cc.Get("d1")
	if !ok || v.Title != "x" {
		t.Fatalf("get after set: %+v ok=%v", v, ok)
	}
	if bus.Pending() != 1 {
		t.Fatalf("pending=%d want 1", bus.Pending())
	}
}

func TestSetPostsVersionedCompositeKey(t *testing.T) {
	p := &recPoster{}
	cc := newTestCache(t, "drafts", p, nil)

	cc.Set("d1", draft{Title: "a"})
	cc.Set("d1", draft{Title: "b"})

	msgs := p.all()
	if len(msgs) != 2 {
		t.Fatalf("posted %d want 2", len(msgs))
	}
	op := msgs[0].Operation
	if op.Kind() != bridge.OpSet || op.Key != "drafts:d1" || op.Namespace != "drafts" {
		t.Fatalf("unexpected op: %+v", op)
	}
	if msgs[0].DBName != DefaultDBName || msgs[0].StoreName != DefaultStoreName {
		t.Fatalf("unexpected target: %s/%s", msgs[0].DBName, msgs[0].StoreName)
	}
	if string(op.Value) != `{"title":"a","done":false}` {
		t.Fatalf("value=%s", op.Value)
	}
	if msgs[1].Operation.Version <= op.Version {
		t.Fatalf("versions not increasing: %d then %d", op.Version, msgs[1].Operation.Version)
	}
}

func TestDeletePostsOnlyWhenPresent(t *testing.T) {
	p := &recPoster{}
	cc := newTestCache(t, "drafts", p, nil)

	if cc.Delete("missing") {
		t.Fatalf("delete of missing key reported true")
	}
	if len(p.all()) != 0 {
		t.Fatalf("delete of missing key posted a message")
	}

	cc.Set("d1", draft{})
	if !cc.Delete("d1") {
		t.Fatalf("delete of present key reported false")
	}
	msgs := p.all()
	if len(msgs) != 2 || msgs[1].Operation.Kind() != bridge.OpDelete || msgs[1].Operation.Key != "drafts:d1" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if cc.Has("d1") {
		t.Fatalf("key still present")
	}
}

func TestFailedPostIsDroppedQuietly(t *testing.T) {
	hooks := &dropHooks{}
	p := &recPoster{err: ErrPersistenceUnavailable}
	cc := newTestCache(t, "drafts", p, func(o *CacheOptions[draft]) { o.Hooks = hooks })

	cc.Set("d1", draft{Title: "x"})
	cc.Delete("d1")
	cc.ClearNamespace()
	if hooks.count() != 3 {
		t.Fatalf("drops=%v want 3", hooks.drops)
	}
	if hooks.drops[2] != "drafts/clear-namespace" {
		t.Fatalf("last drop=%q", hooks.drops[2])
	}
}

func TestNilPosterAndEncodeFailure(t *testing.T) {
	hooks := &dropHooks{}
	cc := newTestCache(t, "drafts", nil, func(o *CacheOptions[draft]) { o.Hooks = hooks })
	cc.Set("d1", draft{Title: "x"})
	if !cc.Has("d1") || hooks.count() != 1 {
		t.Fatalf("memory-only set: has=%v drops=%d", cc.Has("d1"), hooks.count())
	}

	p := &recPoster{}
	bad, err := NewCache[draft](CacheOptions[draft]{Namespace: "bad", Codec: failCodec{}, Poster: p, Hooks: hooks})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	bad.Set("k", draft{})
	if !bad.Has("k") {
		t.Fatalf("memory write lost on encode failure")
	}
	if len(p.all()) != 0 || hooks.count() != 2 {
		t.Fatalf("encode failure: posted=%d drops=%d", len(p.all()), hooks.count())
	}
}

func TestReadsAreSorted(t *testing.T) {
	cc := newTestCache(t, "drafts", &recPoster{}, nil)
	cc.Set("b", draft{Title: "2"})
	cc.Set("c", draft{Title: "3"})
	cc.Set("a", draft{Title: "1"})

	keys := cc.Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
		t.Fatalf("keys=%v", keys)
	}
	vals := cc.Values()
	if vals[0].Title != "1" || vals[2].Title != "3" {
		t.Fatalf("values=%v", vals)
	}
	var seen []string
	cc.Range(func(k string, _ draft) bool {
		seen = append(seen, k)
		return k != "b"
	})
	if len(seen) != 2 {
		t.Fatalf("range did not stop: %v", seen)
	}
	if cc.Len() != 3 {
		t.Fatalf("len=%d", cc.Len())
	}
}

func TestOnChange(t *testing.T) {
	cc := newTestCache(t, "drafts", &recPoster{}, nil)
	var got []string
	cancel := cc.OnChange(func(ch Change[draft]) { got = append(got, ch.Kind.String()+":"+ch.Key) })
	cc.OnChange(func(Change[draft]) { panic("listener bug") })

	cc.Set("d1", draft{})
	cc.Delete("d1")
	cc.Delete("d1")
	cc.Clear()
	cancel()
	cc.Set("d2", draft{})

	want := []string{"set:d1", "delete:d1", "clear:"}
	if len(got) != len(want) {
		t.Fatalf("changes=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("changes=%v want %v", got, want)
		}
	}
}

func TestSetThenDeleteLeavesNoDurableEntry(t *testing.T) {
	reg := memstore.NewRegistry()
	p := newPipeline(t, reg)
	cc := newTestCache(t, "ns", p.bus, nil)

	cc.Set("q1", draft{Title: "cA"})
	cc.Delete("q1")
	if _, ok := cc.Get("q1"); ok {
		t.Fatalf("q1 still in memory")
	}
	p.drain(t)

	for _, k := range durableKeys(t, reg) {
		if k == "ns:q1" {
			t.Fatalf("durable entry ns:q1 survived")
		}
	}
}

func TestClearNamespaceKeepsOtherNamespaces(t *testing.T) {
	reg := memstore.NewRegistry()
	p := newPipeline(t, reg)
	a := newTestCache(t, "a", p.bus, nil)
	ab := newTestCache(t, "ab", p.bus, nil)

	a.Set("x", draft{})
	a.Set("y", draft{})
	ab.Set("x", draft{})
	a.ClearNamespace()
	if a.Len() != 0 {
		t.Fatalf("memory not cleared")
	}
	p.drain(t)

	keys := durableKeys(t, reg)
	if len(keys) != 1 || keys[0] != "ab:x" {
		t.Fatalf("durable keys=%v want [ab:x]", keys)
	}
}

func TestClearWipesEveryNamespace(t *testing.T) {
	reg := memstore.NewRegistry()
	p := newPipeline(t, reg)
	a := newTestCache(t, "a", p.bus, nil)
	b := newTestCache(t, "b", p.bus, nil)
	a.Set("x", draft{})
	b.Set("x", draft{})
	a.Clear()
	p.drain(t)

	if keys := durableKeys(t, reg); len(keys) != 0 {
		t.Fatalf("durable keys=%v want none", keys)
	}
	if !b.Has("x") {
		t.Fatalf("global clear must not touch another cache's memory")
	}
}

func TestHydrate(t *testing.T) {
	reg := memstore.NewRegistry()
	p := newPipeline(t, reg)
	w := newTestCache(t, "drafts", p.bus, nil)
	w.Set("d1", draft{Title: "one"})
	w.Set("d2", draft{Title: "two", Done: true})
	other := newTestCache(t, "other", p.bus, nil)
	other.Set("d1", draft{Title: "not mine"})
	p.drain(t)

	r := newTestCache(t, "drafts", nil, func(o *CacheOptions[draft]) { o.Open = reg.Open })
	r.Set("local", draft{Title: "kept"}) // nil poster: memory only
	if err := r.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("len=%d keys=%v", r.Len(), r.Keys())
	}
	if v, _ := r.Get("d1"); v.Title != "one" {
		t.Fatalf("d1=%+v", v)
	}
	if v, _ := r.Get("d2"); !v.Done {
		t.Fatalf("d2=%+v", v)
	}
	// hydrating twice changes nothing
	if err := r.Hydrate(context.Background()); err != nil || r.Len() != 3 {
		t.Fatalf("second hydrate: err=%v len=%d", err, r.Len())
	}
}

func TestHydrateObservesStoredVersions(t *testing.T) {
	ctx := context.Background()
	reg := memstore.NewRegistry()
	s, _ := reg.Open(ctx, DefaultDBName, DefaultStoreName)
	dm, err := durable.New[draft](durable.Options[draft]{Store: s, Codec: c.JSON[draft]{}})
	if err != nil {
		t.Fatalf("durable.New: %v", err)
	}
	const future = uint64(1) << 62
	if err := dm.SetVersion(ctx, store.CompositeKey("drafts", "d1"), draft{Title: "x"}, future); err != nil {
		t.Fatalf("seed: %v", err)
	}

	p := &recPoster{}
	cc := newTestCache(t, "drafts", p, func(o *CacheOptions[draft]) { o.Open = reg.Open })
	if err := cc.Hydrate(ctx); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	cc.Set("d1", draft{Title: "y"})
	if v := p.all()[0].Operation.Version; v <= future {
		t.Fatalf("version %d does not supersede stored %d", v, future)
	}
}

func TestHydrateErrors(t *testing.T) {
	cc := newTestCache(t, "drafts", nil, nil)
	if err := cc.Hydrate(context.Background()); !errors.Is(err, ErrPersistenceUnavailable) {
		t.Fatalf("err=%v want ErrPersistenceUnavailable", err)
	}

	boom := errors.New("disk gone")
	cc = newTestCache(t, "drafts", nil, func(o *CacheOptions[draft]) {
		o.Open = func(context.Context, string, string) (store.Store, error) { return nil, boom }
	})
	if err := cc.Hydrate(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}
}

type notes struct {
	mu sync.Mutex
	ns []bridge.Notification
	ch chan bridge.Notification
}

func listen(src bridge.Source) *notes {
	n := &notes{ch: make(chan bridge.Notification, 16)}
	src.Subscribe(func(x bridge.Notification) {
		n.mu.Lock()
		n.ns = append(n.ns, x)
		n.mu.Unlock()
		n.ch <- x
	})
	return n
}

func newTestRuntime(t *testing.T, reg *memstore.Registry, sender replay.Sender, online bool) *Runtime {
	t.Helper()
	rt, err := NewRuntime(context.Background(), RuntimeOptions{
		Open:           reg.Open,
		Sender:         sender,
		ReplayInterval: -1,
		InitialOnline:  online,
	})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	return rt
}

func TestRuntimePersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	reg := memstore.NewRegistry()

	rt := newTestRuntime(t, reg, replay.SenderFunc(func(context.Context, replay.Request) error { return nil }), false)
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cc, err := OpenCache[draft](ctx, rt, "drafts", c.JSON[draft]{})
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	cc.Set("d1", draft{Title: "survives"})
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	rt2 := newTestRuntime(t, reg, replay.SenderFunc(func(context.Context, replay.Request) error { return nil }), false)
	defer rt2.Close(ctx)
	cc2, err := OpenCache[draft](ctx, rt2, "drafts", c.JSON[draft]{})
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	if v, ok := cc2.Get("d1"); !ok || v.Title != "survives" {
		t.Fatalf("after restart: %+v ok=%v", v, ok)
	}
}

func TestRuntimeReplayBroadcastsCompletion(t *testing.T) {
	ctx := context.Background()
	reg := memstore.NewRegistry()
	var sent []string
	rt := newTestRuntime(t, reg, replay.SenderFunc(func(_ context.Context, r replay.Request) error {
		sent = append(sent, r.URL)
		return nil
	}), false)
	defer rt.Close(ctx)
	n := listen(rt.Notifications())

	for _, u := range []string{"https://api.test/r1", "https://api.test/r2"} {
		if _, err := rt.Queue().Push(ctx, replay.Request{Method: http.MethodPost, URL: u}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	res, err := rt.Replayer().Replay(ctx)
	if err != nil || res.Replayed != 2 {
		t.Fatalf("replay: %+v err=%v", res, err)
	}
	if l, _ := rt.Queue().Len(ctx); l != 0 {
		t.Fatalf("queue len=%d", l)
	}
	if len(sent) != 2 || sent[0] != "https://api.test/r1" {
		t.Fatalf("sent=%v", sent)
	}

	var complete []bridge.Notification
	for _, x := range n.ns {
		if x.Type == bridge.SyncComplete {
			complete = append(complete, x)
		}
	}
	if len(complete) != 1 || complete[0].Count != 2 {
		t.Fatalf("notifications=%+v", n.ns)
	}
	if last, ok := rt.Monitor().LastNotification(); !ok || last.Type != bridge.SyncComplete {
		t.Fatalf("monitor did not relay: %+v", last)
	}
}

func TestRuntimeReplaysWhenBackOnline(t *testing.T) {
	ctx := context.Background()
	reg := memstore.NewRegistry()
	rt := newTestRuntime(t, reg, replay.SenderFunc(func(context.Context, replay.Request) error { return nil }), false)
	defer rt.Close(ctx)
	n := listen(rt.Notifications())
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := rt.Queue().Push(ctx, replay.Request{Method: http.MethodPut, URL: "https://api.test/x"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if pending, _ := rt.Monitor().HasPendingWork(ctx); !pending {
		t.Fatalf("expected pending work")
	}
	rt.SetOnline(true)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case x := <-n.ch:
			if x.Type == bridge.SyncComplete {
				if x.Count != 1 {
					t.Fatalf("count=%d", x.Count)
				}
				return
			}
		case <-timeout:
			t.Fatalf("no SYNC_COMPLETE after going online")
		}
	}
}

func TestRuntimeValidation(t *testing.T) {
	if _, err := NewRuntime(context.Background(), RuntimeOptions{}); err == nil {
		t.Fatalf("expected error without opener")
	}
	if _, err := OpenCache[draft](context.Background(), nil, "drafts", c.JSON[draft]{}); err == nil {
		t.Fatalf("expected error without runtime")
	}
}
