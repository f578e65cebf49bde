// Package memstore is an ordered in-memory store.Store.
//
// A Registry hands out independent handles onto named databases, the way several
// tabs open the same on-device database; New returns a standalone store.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/unkn0wn-root/offsync/store"
)

var ErrClosed = errors.New("memstore: handle closed")

type data struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// Store is one handle onto an in-memory map.
type Store struct {
	d      *data
	mu     sync.RWMutex
	closed bool
}

var _ store.Store = (*Store)(nil)

// New returns a store backed by its own private map.
func New() *Store {
	return &Store{d: &data{m: make(map[string][]byte)}}
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.check(); err != nil {
		return nil, false, err
	}
	s.d.mu.RLock()
	v, ok := s.d.m[key]
	s.d.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	cp := append([]byte(nil), value...)
	s.d.mu.Lock()
	s.d.m[key] = cp
	s.d.mu.Unlock()
	return nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	s.d.mu.RLock()
	_, ok := s.d.m[key]
	s.d.mu.RUnlock()
	return ok, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.check(); err != nil {
		return err
	}
	s.d.mu.Lock()
	delete(s.d.m, key)
	s.d.mu.Unlock()
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	s.d.mu.Lock()
	s.d.m = make(map[string][]byte)
	s.d.mu.Unlock()
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	s.d.mu.RLock()
	n := len(s.d.m)
	s.d.mu.RUnlock()
	return n, nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	s.d.mu.RLock()
	keys := make([]string, 0, len(s.d.m))
	for k := range s.d.m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.d.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Iterate(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	if err := s.check(); err != nil {
		return err
	}
	s.d.mu.RLock()
	snap := make([]store.Entry, 0, len(s.d.m))
	for k, v := range s.d.m {
		if strings.HasPrefix(k, prefix) {
			snap = append(snap, store.Entry{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	s.d.mu.RUnlock()
	sort.Slice(snap, func(i, j int) bool { return snap[i].Key < snap[j].Key })
	return store.Visit(ctx, snap, fn)
}

// Close invalidates this handle only; data stays reachable from other handles.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Registry owns named in-memory databases.
type Registry struct {
	mu  sync.Mutex
	dbs map[string]*data
}

func NewRegistry() *Registry {
	return &Registry{dbs: make(map[string]*data)}
}

// Open returns a new handle on (dbName, storeName), creating it on first use.
// It satisfies store.Opener.
func (r *Registry) Open(_ context.Context, dbName, storeName string) (store.Store, error) {
	if dbName == "" || storeName == "" {
		return nil, errors.New("memstore: db and store names are required")
	}
	id := dbName + "/" + storeName
	r.mu.Lock()
	d, ok := r.dbs[id]
	if !ok {
		d = &data{m: make(map[string][]byte)}
		r.dbs[id] = d
	}
	r.mu.Unlock()
	return &Store{d: d}, nil
}
