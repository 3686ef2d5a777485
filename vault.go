package slotcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/electwix/slotcache/internal/logging"
	"github.com/electwix/slotcache/internal/store"
)

// StampStoreName is the reserved identifier of the shared timestamp store.
// It maps every token to the epoch-millisecond of its last write.
const StampStoreName = "slotcache-stamps"

// Directory permissions for the vault root.
const vaultDirPerm = 0o750

// Options configures a vault.
type Options struct {
	// Dir is the root directory holding the store files. Empty selects the
	// platform default (os.UserCacheDir()/slotcache).
	Dir string
	// EncryptionKey enables at-rest sealing of stored values when set.
	// Must be exactly 32 bytes and stable across opens of the same vault.
	EncryptionKey []byte
	// Logger receives operational logging; defaults to slog.Default().
	Logger logging.Logger
}

// Vault owns the process-scoped store handles: the shared timestamp store and
// one value store per (payload-kind, name) pair. It is constructed once by
// Open and torn down explicitly by Close; caches never outlive their vault.
type Vault struct {
	dir    string
	key    []byte
	logger logging.Logger
	stamps *store.Store

	mu     sync.Mutex
	values map[string]*store.Store
	closed bool
}

// Open initializes a vault rooted at opts.Dir. The shared timestamp store is
// opened first; if its file is corrupted it is deleted, recreated empty, and
// opened once more. A second failure is returned as a CorruptionError.
func Open(ctx context.Context, opts Options) (*Vault, error) {
	dir := opts.Dir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("slotcache: resolve default dir: %w", err)
		}
		dir = filepath.Join(base, "slotcache")
	}
	if err := os.MkdirAll(dir, vaultDirPerm); err != nil {
		return nil, fmt.Errorf("slotcache: create vault dir: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewSlogAdapter(slog.Default())
	}

	path := filepath.Join(dir, StampStoreName+".db")
	stamps, err := store.Open(ctx, path, store.Options{Key: opts.EncryptionKey})
	if err != nil {
		var corrupt *store.CorruptError
		if !errors.As(err, &corrupt) {
			return nil, fmt.Errorf("slotcache: open timestamp store: %w", err)
		}
		// Timestamps are regenerable metadata; recover by delete and
		// recreate rather than failing initialization.
		logger.Warn("timestamp store corrupted; recreating", "path", path)
		removeStoreFiles(path)
		stamps, err = store.Open(ctx, path, store.Options{Key: opts.EncryptionKey})
		if err != nil {
			return nil, &CorruptionError{Store: StampStoreName, Err: err}
		}
	}

	return &Vault{
		dir:    dir,
		key:    opts.EncryptionKey,
		logger: logger,
		stamps: stamps,
		values: make(map[string]*store.Store),
	}, nil
}

// Dir returns the vault's root directory.
func (v *Vault) Dir() string { return v.dir }

// valueStore opens (or reuses) the value store backing the given file name.
// Handles are shared between caches addressing the same (kind, name) pair and
// owned by the vault.
func (v *Vault) valueStore(ctx context.Context, file string) (*store.Store, error) {
	if file == StampStoreName+".db" {
		return nil, fmt.Errorf("slotcache: store name %q is reserved", StampStoreName)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrNotInitialized
	}
	if st, ok := v.values[file]; ok {
		return st, nil
	}

	st, err := store.Open(ctx, filepath.Join(v.dir, file), store.Options{Key: v.key})
	if err != nil {
		return nil, fmt.Errorf("slotcache: open value store %s: %w", file, err)
	}
	v.values[file] = st
	return st, nil
}

// Close tears the vault down, releasing every store handle. Cache operations
// against a closed vault fail with ErrNotInitialized. Close is idempotent.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true

	var errs []error
	for _, st := range v.values {
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := v.stamps.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// removeStoreFiles deletes a store's database file along with the WAL
// sidecar files SQLite keeps next to it.
func removeStoreFiles(path string) {
	_ = os.Remove(path)
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
}
