// Package store implements the durable key-value engine backing slotcache
// vaults. Each logical store is one SQLite database file holding a single
// token-keyed table, opened through modernc.org/sqlite (pure Go, no CGO).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrClosed indicates an operation against a store whose handle was closed.
var ErrClosed = errors.New("store: closed")

// CorruptError reports that a store file failed its integrity probe at open.
type CorruptError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *CorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store: %s is corrupted: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("store: %s is corrupted", e.Path)
}

// Unwrap returns the underlying error.
func (e *CorruptError) Unwrap() error { return e.Err }

// Options tunes how a store is opened.
type Options struct {
	// Key enables at-rest sealing of values when set. Must be exactly 32
	// bytes; the same key must be supplied on every open of the same file.
	Key []byte
}

// Store is a durable token-to-bytes mapping with a per-token change feed.
// All methods are safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
	seal *sealer
	hub  *hub

	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if absent) the store file at path. A file that fails
// the SQLite integrity probe is reported as a CorruptError; the caller
// decides whether to delete and recreate it.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	var seal *sealer
	if len(opts.Key) > 0 {
		var err error
		seal, err = newSealer(opts.Key)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One writer at a time keeps per-statement commits strictly ordered.
	db.SetMaxOpenConns(1)

	var probe string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&probe); err != nil {
		_ = db.Close()
		return nil, &CorruptError{Path: path, Err: err}
	}
	if probe != "ok" {
		_ = db.Close()
		return nil, &CorruptError{Path: path, Err: errors.New(probe)}
	}

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v BLOB NOT NULL)"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init %s: %w", path, err)
	}

	return &Store{
		db:   db,
		path: path,
		seal: seal,
		hub:  newHub(),
	}, nil
}

func dsn(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

// Path returns the store's database file path.
func (s *Store) Path() string { return s.path }

// Get returns the value stored under key. The second result reports whether
// the key is present; an absent key is not an error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.guard(); err != nil {
		return nil, false, err
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx, "SELECT v FROM kv WHERE k = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}

	if s.seal != nil {
		raw, err = s.seal.open(raw)
		if err != nil {
			return nil, false, fmt.Errorf("get %q: %w", key, err)
		}
	}
	return raw, true, nil
}

// Put stores value under key, replacing any previous value, and signals
// watchers of that key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.guard(); err != nil {
		return err
	}

	raw := value
	if s.seal != nil {
		var err error
		raw, err = s.seal.sealValue(value)
		if err != nil {
			return fmt.Errorf("put %q: %w", key, err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v",
		key, raw)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}

	s.hub.notify(key)
	return nil
}

// Delete removes key from the store. Deleting an absent key is not an error;
// watchers are signalled either way.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.guard(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE k = ?", key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}

	s.hub.notify(key)
	return nil
}

// Clear removes every key from the store and signals all watchers.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv"); err != nil {
		return fmt.Errorf("clear: %w", err)
	}

	s.hub.notifyAll()
	return nil
}

// Keys returns every key in the store in lexical order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT k FROM kv ORDER BY k")
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("keys: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	return keys, nil
}

// Len returns the number of keys in the store.
func (s *Store) Len(ctx context.Context) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv").Scan(&n); err != nil {
		return 0, fmt.Errorf("len: %w", err)
	}
	return n, nil
}

// Compact reclaims unused space in the store file.
func (s *Store) Compact(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	return nil
}

// Watch registers a change signal for key. The returned channel carries one
// pending signal at most; consecutive mutations coalesce. The cancel func
// must be called to release the registration.
func (s *Store) Watch(key string) (<-chan struct{}, func()) {
	return s.hub.watch(key)
}

// Close releases the database handle. Further operations fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.notifyAll()
	return s.db.Close()
}

func (s *Store) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}
