// Package bigcache is a volatile in-process store.Store on allegro/bigcache.
// Entries vanish on restart or after LifeWindow; use it where the durable copy
// is a best-effort mirror.
package bigcache

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/offsync/store"
)

type Store struct {
	c *bc.BigCache
}

var _ store.Store = (*Store)(nil)

type Config struct {
	LifeWindow         time.Duration // default 24h
	CleanWindow        time.Duration
	Shards             int // power of two
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Store, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 24 * time.Hour
	}
	conf := bc.DefaultConfig(life)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	conf.Verbose = false
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	// BigCache has no per-entry TTL; LifeWindow applies to all.
	return s.c.Set(key, value)
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (s *Store) Clear(context.Context) error { return s.c.Reset() }

func (s *Store) Count(context.Context) (int, error) { return s.c.Len(), nil }

// snapshot walks the shards; bigcache has no key order so it sorts afterwards.
func (s *Store) snapshot(prefix string) []store.Entry {
	var out []store.Entry
	it := s.c.Iterator()
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			continue // evicted under the iterator
		}
		if !strings.HasPrefix(e.Key(), prefix) {
			continue
		}
		out = append(out, store.Entry{Key: e.Key(), Value: append([]byte(nil), e.Value()...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	snap := s.snapshot(prefix)
	keys := make([]string, len(snap))
	for i, e := range snap {
		keys[i] = e.Key
	}
	return keys, nil
}

func (s *Store) Iterate(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	return store.Visit(ctx, s.snapshot(prefix), fn)
}

func (s *Store) Close(context.Context) error { return s.c.Close() }
