package bigcache

import (
	"context"
	"errors"
	"sync"

	"github.com/unkn0wn-root/offsync/store"
)

// Registry keeps one cache per (db, store) pair for the life of the process.
// Handles share it and closing a handle releases nothing; Close the Registry
// to free the memory.
type Registry struct {
	cfg Config

	mu     sync.Mutex
	m      map[string]*Store
	closed bool
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, m: make(map[string]*Store)}
}

type handle struct{ *Store }

func (handle) Close(context.Context) error { return nil }

// Open satisfies store.Opener.
func (r *Registry) Open(_ context.Context, dbName, storeName string) (store.Store, error) {
	if dbName == "" || storeName == "" {
		return nil, errors.New("bigcache: db and store names are required")
	}
	id := dbName + "/" + storeName
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("bigcache: registry closed")
	}
	s, ok := r.m[id]
	if !ok {
		var err error
		if s, err = New(r.cfg); err != nil {
			return nil, err
		}
		r.m[id] = s
	}
	return handle{s}, nil
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var errs []error
	for id, s := range r.m {
		errs = append(errs, s.c.Close())
		delete(r.m, id)
	}
	return errors.Join(errs...)
}
