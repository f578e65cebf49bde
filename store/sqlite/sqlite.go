// Package sqlite is a durable store.Store on modernc.org/sqlite (pure Go).
// Every store name maps to one table of the database file; the primary key is
// the composite string key.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/unkn0wn-root/offsync/store"
	_ "modernc.org/sqlite"
)

var storeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Store provides SQLite-backed durable key-value persistence.
type Store struct {
	sqlDB *sql.DB
	table string
}

var _ store.Store = (*Store)(nil)

// Open opens the database at path and ensures the table for storeName exists.
func Open(path, storeName string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if !storeNamePattern.MatchString(storeName) {
		return nil, fmt.Errorf("invalid store name %q", storeName)
	}
	cleanPath := filepath.Clean(path)
	// modernc.org/sqlite applies connection pragmas only in the _pragma form
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{sqlDB: sqlDB, table: `"` + storeName + `"`}
	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
	key TEXT PRIMARY KEY NOT NULL,
	value BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create store table: %w", err)
	}
	return s, nil
}

// Opener maps dbName to "<dir>/<dbName>.db", creating dir when needed.
func Opener(dir string) store.Opener {
	return func(_ context.Context, dbName, storeName string) (store.Store, error) {
		if !storeNamePattern.MatchString(dbName) {
			return nil, fmt.Errorf("invalid db name %q", dbName)
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		return Open(filepath.Join(dir, dbName+".db"), storeName)
	}
}

// Close releases the SQLite connection.
func (s *Store) Close(context.Context) error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT value FROM `+s.table+` WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO `+s.table+` (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, key, value, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM `+s.table+` WHERE key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM `+s.table); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// prefix match by byte comparison; LIKE would treat % and _ in keys as wildcards
const prefixWhere = ` WHERE substr(key, 1, length(?)) = ?`

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT key FROM `+s.table+prefixWhere+` ORDER BY key`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

func (s *Store) Iterate(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	snap, err := s.snapshot(ctx, prefix)
	if err != nil {
		return err
	}
	return store.Visit(ctx, snap, fn)
}

// snapshot reads and closes the result set before any callback runs, so fn can
// write through the same pool without holding a cursor open.
func (s *Store) snapshot(ctx context.Context, prefix string) ([]store.Entry, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT key, value FROM `+s.table+prefixWhere+` ORDER BY key`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []store.Entry
	for rows.Next() {
		var e store.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}
