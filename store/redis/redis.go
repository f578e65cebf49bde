// Package redis is a durable store.Store on go-redis. All keys of a store live
// under "<prefix>:"; scans use SCAN with a glob-escaped match so namespace
// characters never act as wildcards.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/offsync/internal/util"
	"github.com/unkn0wn-root/offsync/store"
)

var ErrNilClient = errors.New("redis store: nil client")

const (
	scanCount  = 512
	chunkSize  = 256
	defaultPre = "offsync"
)

type Store struct {
	rdb         goredis.UniversalClient
	base        string
	closeClient bool
}

var _ store.Store = (*Store)(nil)

type Config struct {
	Client goredis.UniversalClient
	// Prefix scopes every key of this store; default "offsync".
	Prefix      string
	CloseClient bool // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	p := cfg.Prefix
	if p == "" {
		p = defaultPre
	}
	return &Store{rdb: cfg.Client, base: p + util.KeySep, closeClient: cfg.CloseClient}, nil
}

// Opener scopes every (dbName, storeName) pair to "<prefix>:<db>:<store>:" on one
// shared client. Handles never close the client.
func Opener(client goredis.UniversalClient, prefix string) store.Opener {
	if prefix == "" {
		prefix = defaultPre
	}
	return func(_ context.Context, dbName, storeName string) (store.Store, error) {
		if dbName == "" || storeName == "" {
			return nil, errors.New("redis store: db and store names are required")
		}
		return New(Config{Client: client, Prefix: prefix + util.KeySep + dbName + util.KeySep + storeName})
	}
}

func (s *Store) k(key string) string { return s.base + key }

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.k(key)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, s.k(key), value, 0).Err()
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.k(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.k(key)).Err()
}

// scan returns the full redis keys under base+prefix, unsorted.
func (s *Store) scan(ctx context.Context, prefix string) ([]string, error) {
	match := util.GlobEscape(s.base+prefix) + "*"
	var (
		out    []string
		cursor uint64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", match, err)
		}
		out = append(out, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	keys, err := s.scan(ctx, "")
	if err != nil {
		return err
	}
	for i := 0; i < len(keys); i += chunkSize {
		end := min(i+chunkSize, len(keys))
		if err := s.rdb.Del(ctx, keys[i:end]...).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	keys, err := s.scan(ctx, "")
	if err != nil {
		return 0, err
	}
	return len(dedupe(keys)), nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	full, err := s.scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	full = dedupe(full)
	out := make([]string, 0, len(full))
	for _, k := range full {
		out = append(out, strings.TrimPrefix(k, s.base))
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Iterate(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	snap := make([]store.Entry, 0, len(keys))
	for i := 0; i < len(keys); i += chunkSize {
		end := min(i+chunkSize, len(keys))
		full := make([]string, 0, end-i)
		for _, k := range keys[i:end] {
			full = append(full, s.k(k))
		}
		vals, err := s.rdb.MGet(ctx, full...).Result()
		if err != nil {
			return err
		}
		for j, v := range vals {
			var b []byte
			switch vv := v.(type) {
			case nil:
				continue // deleted between SCAN and MGET
			case string:
				b = []byte(vv)
			case []byte:
				b = vv
			default:
				continue
			}
			snap = append(snap, store.Entry{Key: keys[i+j], Value: b})
		}
	}
	return store.Visit(ctx, snap, fn)
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// SCAN may return a key more than once.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
