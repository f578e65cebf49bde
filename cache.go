package offsync

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/unkn0wn-root/offsync/bridge"
	c "github.com/unkn0wn-root/offsync/codec"
	"github.com/unkn0wn-root/offsync/durable"
	"github.com/unkn0wn-root/offsync/store"
	"github.com/unkn0wn-root/offsync/version"
)

// Cache is the ReactiveCache of one namespace. Memory is authoritative for the
// running process: every read is served from it, every write lands in it before
// the call returns. Durable persistence happens later, in the background, and
// its failures never reach the caller.
type Cache[V any] struct {
	ns     string
	codec  c.Codec[V]
	poster bridge.Poster
	target bridge.Target
	open   store.Opener
	clock  *version.Clock
	log    Logger
	hooks  Hooks

	mu sync.RWMutex
	m  map[string]V

	lmu       sync.Mutex
	nextID    int
	listeners []cacheListener[V]
}

type cacheListener[V any] struct {
	id int
	fn func(Change[V])
}

func NewCache[V any](opts CacheOptions[V]) (*Cache[V], error) {
	if err := store.ValidNamespace(opts.Namespace); err != nil {
		return nil, fmt.Errorf("offsync: %w", err)
	}
	if opts.Codec == nil {
		return nil, errors.New("offsync: codec is required")
	}
	t := opts.Target
	t.DBName = coalesce(t.DBName, DefaultDBName)
	t.StoreName = coalesce(t.StoreName, DefaultStoreName)

	clock := opts.Clock
	if clock == nil {
		clock = version.NewClock()
	}
	var log Logger = NopLogger{}
	if opts.Logger != nil {
		log = opts.Logger
	}
	var hooks Hooks = NopHooks{}
	if opts.Hooks != nil {
		hooks = opts.Hooks
	}
	return &Cache[V]{
		ns:     opts.Namespace,
		codec:  opts.Codec,
		poster: opts.Poster,
		target: t,
		open:   opts.Open,
		clock:  clock,
		log:    log,
		hooks:  hooks,
		m:      make(map[string]V),
	}, nil
}

// OpenCache builds a cache wired to rt and hydrates it from the durable store.
func OpenCache[V any](ctx context.Context, rt *Runtime, namespace string, codec c.Codec[V]) (*Cache[V], error) {
	if rt == nil {
		return nil, errors.New("offsync: runtime is required")
	}
	cc, err := NewCache[V](CacheOptions[V]{
		Namespace: namespace,
		Codec:     codec,
		Poster:    rt.Poster(),
		Target:    rt.Target(),
		Open:      rt.Opener(),
		Clock:     rt.Clock(),
		Logger:    rt.log,
		Hooks:     rt.hooks,
	})
	if err != nil {
		return nil, err
	}
	if err := cc.Hydrate(ctx); err != nil {
		return nil, err
	}
	return cc, nil
}

func (cc *Cache[V]) Namespace() string { return cc.ns }

// Set stores v under key and posts a versioned set towards the background.
func (cc *Cache[V]) Set(key string, v V) {
	cc.mu.Lock()
	cc.m[key] = v
	cc.mu.Unlock()
	cc.notify(Change[V]{Kind: ChangeSet, Key: key, Value: v})

	raw, err := cc.codec.Encode(v)
	if err != nil {
		cc.drop(bridge.OpSet, key, fmt.Errorf("encode: %w", err))
		return
	}
	comp := store.CompositeKey(cc.ns, key)
	cc.post(bridge.OpSet, key, cc.target.Set(cc.ns, comp, raw, cc.clock.Next()))
}

func (cc *Cache[V]) Get(key string) (v V, ok bool) {
	cc.mu.RLock()
	v, ok = cc.m[key]
	cc.mu.RUnlock()
	return v, ok
}

func (cc *Cache[V]) Has(key string) bool {
	_, ok := cc.Get(key)
	return ok
}

func (cc *Cache[V]) Len() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.m)
}

// Keys returns the keys in ascending order.
func (cc *Cache[V]) Keys() []string {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return slices.Sorted(maps.Keys(cc.m))
}

// Values returns the values in key order.
func (cc *Cache[V]) Values() []V {
	es := cc.Entries()
	out := make([]V, len(es))
	for i, e := range es {
		out[i] = e.Value
	}
	return out
}

// Entries returns a snapshot in key order.
func (cc *Cache[V]) Entries() []Entry[V] {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	keys := slices.Sorted(maps.Keys(cc.m))
	out := make([]Entry[V], len(keys))
	for i, k := range keys {
		out[i] = Entry[V]{Key: k, Value: cc.m[k]}
	}
	return out
}

// Range calls fn over a snapshot in key order until fn returns false.
// fn may mutate the cache.
func (cc *Cache[V]) Range(fn func(key string, v V) bool) {
	for _, e := range cc.Entries() {
		if !fn(e.Key, e.Value) {
			return
		}
	}
}

// Delete removes key and reports whether it was present. A delete is posted
// only when something was removed.
func (cc *Cache[V]) Delete(key string) bool {
	cc.mu.Lock()
	_, ok := cc.m[key]
	delete(cc.m, key)
	cc.mu.Unlock()
	if !ok {
		return false
	}
	cc.notify(Change[V]{Kind: ChangeDelete, Key: key})
	cc.post(bridge.OpDelete, key, cc.target.Delete(cc.ns, store.CompositeKey(cc.ns, key)))
	return true
}

// Clear empties this cache and wipes the whole durable store, every other
// namespace included. Use ClearNamespace to drop only this namespace.
func (cc *Cache[V]) Clear() {
	cc.reset()
	cc.post(bridge.OpClear, "", cc.target.Clear())
}

// ClearNamespace empties this cache now and removes the namespace's durable
// entries in the background. The background deletion is not atomic: a failure
// part way leaves the remaining entries in place.
func (cc *Cache[V]) ClearNamespace() {
	cc.reset()
	cc.post(bridge.OpClearNamespace, "", cc.target.ClearNamespace(cc.ns))
}

func (cc *Cache[V]) reset() {
	cc.mu.Lock()
	clear(cc.m)
	cc.mu.Unlock()
	cc.notify(Change[V]{Kind: ChangeClear})
}

// Hydrate loads the namespace's durable entries into memory. Entries already
// in memory are overwritten by their durable copy; others are kept. Unlike the
// write path, Hydrate reports store failures to the caller. Corrupt records are
// skipped (Hooks.CorruptRecord).
func (cc *Cache[V]) Hydrate(ctx context.Context) error {
	if cc.open == nil {
		return fmt.Errorf("offsync: hydrate %q: no store opener: %w", cc.ns, ErrPersistenceUnavailable)
	}
	s, err := cc.open(ctx, cc.target.DBName, cc.target.StoreName)
	if err != nil {
		return fmt.Errorf("offsync: hydrate %q: open: %w", cc.ns, err)
	}
	defer func() { _ = s.Close(ctx) }()

	dm, err := durable.New[V](durable.Options[V]{Store: s, Codec: cc.codec, Logger: cc.log, Hooks: cc.hooks})
	if err != nil {
		return err
	}
	loaded := make(map[string]V)
	err = dm.RangeVersions(ctx, store.NamespacePrefix(cc.ns), func(comp string, v V, ver uint64) error {
		key, ok := store.SplitKey(cc.ns, comp)
		if !ok {
			return nil
		}
		loaded[key] = v
		cc.clock.Observe(ver)
		return nil
	})
	if err != nil {
		return fmt.Errorf("offsync: hydrate %q: %w", cc.ns, err)
	}

	cc.mu.Lock()
	maps.Copy(cc.m, loaded)
	cc.mu.Unlock()
	cc.log.Debug("cache hydrated", Fields{"namespace": cc.ns, "entries": len(loaded)})
	return nil
}

// OnChange registers fn for every local mutation. Listeners run synchronously
// after the memory write, in registration order; a panicking listener is
// logged and skipped.
func (cc *Cache[V]) OnChange(fn func(Change[V])) (cancel func()) {
	cc.lmu.Lock()
	cc.nextID++
	id := cc.nextID
	cc.listeners = append(slices.Clip(cc.listeners), cacheListener[V]{id: id, fn: fn})
	cc.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			cc.lmu.Lock()
			cc.listeners = slices.DeleteFunc(slices.Clone(cc.listeners), func(l cacheListener[V]) bool { return l.id == id })
			cc.lmu.Unlock()
		})
	}
}

func (cc *Cache[V]) notify(ch Change[V]) {
	cc.lmu.Lock()
	ls := cc.listeners
	cc.lmu.Unlock()
	for _, l := range ls {
		cc.call(l.fn, ch)
	}
}

func (cc *Cache[V]) call(fn func(Change[V]), ch Change[V]) {
	defer func() {
		if r := recover(); r != nil {
			cc.log.Error("cache change listener panicked", Fields{"namespace": cc.ns, "panic": r})
		}
	}()
	fn(ch)
}

func (cc *Cache[V]) post(kind bridge.Kind, key string, m bridge.Message) {
	if cc.poster == nil {
		cc.drop(kind, key, fmt.Errorf("no bridge: %w", ErrPersistenceUnavailable))
		return
	}
	if err := cc.poster.Post(m); err != nil {
		cc.drop(kind, key, err)
	}
}

func (cc *Cache[V]) drop(kind bridge.Kind, key string, err error) {
	f := Fields{"namespace": cc.ns, "op": kind.String(), "err": err}
	if key != "" {
		f["key"] = key
	}
	cc.log.Warn("cache sync dropped", f)
	cc.hooks.SyncDropped(cc.ns, kind.String(), err)
}
