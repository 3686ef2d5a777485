package slotcache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/electwix/slotcache/internal/store"
)

// Cache is one persistent, expiring slot of T. Obtain instances through New;
// the zero Cache is not usable.
//
// Mutations (Write, Delete, ClearAll, Compact) are serialized per instance:
// they acquire the instance's mutation scope with the caller's context, so a
// context deadline bounds the wait and a timed-out operation performs no
// partial mutation. Reads never block on that scope except when they trigger
// an expiration reset.
type Cache[T any] struct {
	vault  *Vault
	values *store.Store
	stamps *store.Store
	cfg    resolved[T]

	// sem is the per-instance mutation serializer. A weighted semaphore
	// rather than a sync.Mutex because acquisition must honor the caller's
	// context deadline.
	sem *semaphore.Weighted

	// now is swapped out in tests.
	now func() time.Time
}

// New registers a cache slot with the vault, opening (or reusing) the value
// store for the payload kind and cfg.Name.
func New[T any](v *Vault, cfg Config[T]) (*Cache[T], error) {
	ctx := context.Background()
	values, err := v.valueStore(ctx, storeFileName(kindName[T](), cfg.Name))
	if err != nil {
		return nil, err
	}

	return &Cache[T]{
		vault:  v,
		values: values,
		stamps: v.stamps,
		cfg:    cfg.resolve(v.logger),
		sem:    semaphore.NewWeighted(1),
		now:    time.Now,
	}, nil
}

// Token returns the composite key identifying this slot in the value store
// and the shared timestamp store.
func (c *Cache[T]) Token() string { return c.cfg.token }

// Read returns the slot's current value after lazy expiration evaluation:
//
//   - never written: the initial value, with no side effect
//   - stored and within validity: the stored value
//   - stored but older than the validity duration: the slot is reset to the
//     initial value, a fresh timestamp is stamped, and the initial value is
//     returned
//
// An intentionally stored nil (for nil-capable payloads) is returned as-is
// and never treated as stale. Store failures go through the error hook and
// Read falls back to the initial value; the only error Read ever returns is
// ErrNotInitialized.
func (c *Cache[T]) Read(ctx context.Context) (T, error) {
	raw, ok, err := c.values.Get(ctx, c.cfg.token)
	if err != nil {
		return c.readFallback(err)
	}
	if !ok {
		// Absence predates any write; it is not staleness.
		return c.cfg.initial, nil
	}

	value, err := c.cfg.codec.Decode(raw)
	if err != nil {
		return c.readFallback(err)
	}

	// An intentionally cached nil must not be reverted by policy alone.
	if isNilValue(value) && !isNilValue(c.cfg.initial) {
		return value, nil
	}

	if c.cfg.validity == 0 {
		return value, nil
	}

	stamp, ok, err := c.readStamp(ctx)
	if err != nil {
		return c.readFallback(err)
	}
	if !ok {
		// No age to compare against.
		return value, nil
	}

	if age := c.now().Sub(time.UnixMilli(stamp)); age <= c.cfg.validity {
		return value, nil
	}
	return c.reset(ctx, stamp)
}

// reset installs the initial value over a stale entry. It runs under the
// mutation serializer so the value+timestamp pair can never be observed torn
// by concurrent writers, and re-checks staleness after acquisition: a writer
// that slipped in ahead of us has already refreshed the slot.
func (c *Cache[T]) reset(ctx context.Context, staleStamp int64) (T, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		// The caller gave up waiting. The entry is stale, so the initial
		// value is still the correct answer; a later read will retry the
		// reset.
		return c.cfg.initial, nil
	}
	defer c.sem.Release(1)

	stamp, ok, err := c.readStamp(ctx)
	if err != nil {
		return c.readFallback(err)
	}
	if ok && stamp != staleStamp {
		// Refreshed while we waited; serve the new value.
		raw, present, err := c.values.Get(ctx, c.cfg.token)
		if err != nil {
			return c.readFallback(err)
		}
		if !present {
			return c.cfg.initial, nil
		}
		value, err := c.cfg.codec.Decode(raw)
		if err != nil {
			return c.readFallback(err)
		}
		return value, nil
	}

	raw, err := c.cfg.codec.Encode(c.cfg.initial)
	if err != nil {
		return c.readFallback(err)
	}
	if err := c.values.Put(ctx, c.cfg.token, raw); err != nil {
		return c.readFallback(err)
	}
	if err := c.writeStamp(ctx); err != nil {
		return c.readFallback(err)
	}

	c.cfg.logger.Info("cache entry expired; reset to initial value",
		"stale_since", time.UnixMilli(staleStamp))
	return c.cfg.initial, nil
}

// Write stores value and stamps the current time, atomically with respect to
// every other mutation of this instance.
func (c *Cache[T]) Write(ctx context.Context, value T) error {
	return c.mutate(ctx, func(ctx context.Context) error {
		raw, err := c.cfg.codec.Encode(value)
		if err != nil {
			return err
		}
		if err := c.values.Put(ctx, c.cfg.token, raw); err != nil {
			return err
		}
		return c.writeStamp(ctx)
	})
}

// Delete removes this instance's token (and its timestamp record) from the
// value store. Other tokens in the same store are untouched; compare
// ClearAll.
func (c *Cache[T]) Delete(ctx context.Context) error {
	return c.mutate(ctx, func(ctx context.Context) error {
		if err := c.values.Delete(ctx, c.cfg.token); err != nil {
			return err
		}
		return c.stamps.Delete(ctx, c.cfg.token)
	})
}

// ClearAll removes every token from this instance's value store, including
// entries written by other instance ids and prefixes sharing the store. This
// asymmetry with Delete is deliberate and mirrors the reference behavior.
func (c *Cache[T]) ClearAll(ctx context.Context) error {
	return c.mutate(ctx, func(ctx context.Context) error {
		keys, err := c.values.Keys(ctx)
		if err != nil {
			return err
		}
		if err := c.values.Clear(ctx); err != nil {
			return err
		}
		// Timestamp records mirror the value records they stamp.
		for _, key := range keys {
			if err := c.stamps.Delete(ctx, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Compact reclaims unused space in the value store.
func (c *Cache[T]) Compact(ctx context.Context) error {
	return c.mutate(ctx, func(ctx context.Context) error {
		return c.values.Compact(ctx)
	})
}

// mutate runs fn under the mutation serializer. Acquisition honors ctx: on
// cancellation or deadline the operation fails up front, having touched
// nothing. Failures inside fn are absorbed through the error hook, except
// ErrNotInitialized which always propagates.
func (c *Cache[T]) mutate(ctx context.Context, fn func(context.Context) error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("slotcache: acquire mutation scope: %w", err)
	}
	defer c.sem.Release(1)

	if err := fn(ctx); err != nil {
		if errors.Is(err, store.ErrClosed) {
			return ErrNotInitialized
		}
		c.cfg.onError(err)
		return nil
	}
	return nil
}

// readFallback classifies a read-path failure: ErrNotInitialized propagates,
// anything else goes to the error hook and the initial value stands in.
func (c *Cache[T]) readFallback(err error) (T, error) {
	if errors.Is(err, store.ErrClosed) {
		return c.cfg.initial, ErrNotInitialized
	}
	c.cfg.onError(err)
	return c.cfg.initial, nil
}

func (c *Cache[T]) readStamp(ctx context.Context) (int64, bool, error) {
	raw, ok, err := c.stamps.Get(ctx, c.cfg.token)
	if err != nil || !ok {
		return 0, false, err
	}
	stamp, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("slotcache: malformed timestamp record: %w", err)
	}
	return stamp, true, nil
}

func (c *Cache[T]) writeStamp(ctx context.Context) error {
	ms := strconv.FormatInt(c.now().UnixMilli(), 10)
	return c.stamps.Put(ctx, c.cfg.token, []byte(ms))
}

// isNilValue reports whether v is an explicit nil of a nil-capable type.
func isNilValue(v any) bool {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
