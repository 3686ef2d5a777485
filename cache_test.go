package slotcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/electwix/slotcache/internal/logging"
)

type session struct {
	User  string `json:"user"`
	Seq   int    `json:"seq"`
	Email string `json:"email,omitempty"`
}

// fakeClock makes expiration deterministic without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(context.Background(), Options{
		Dir:    t.TempDir(),
		Logger: logging.NewNopLogger(),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func mustRead[T any](t *testing.T, c *Cache[T]) T {
	t.Helper()
	got, err := c.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	return got
}

func mustWrite[T any](t *testing.T, c *Cache[T], value T) {
	t.Helper()
	if err := c.Write(context.Background(), value); err != nil {
		t.Fatalf("Write(%v) error = %v", value, err)
	}
}

func TestCache_ReadUnwritten(t *testing.T) {
	v := testVault(t)
	c, err := New(v, Config[session]{InitialValue: session{User: "nobody"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := mustRead(t, c)
	if diff := cmp.Diff(session{User: "nobody"}, got); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}
}

func TestCache_WriteReadRoundTrip(t *testing.T) {
	v := testVault(t)
	c, err := New(v, Config[session]{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	want := session{User: "ada", Seq: 7, Email: "ada@example.com"}
	mustWrite(t, c, want)

	got := mustRead(t, c)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Read() mismatch (-want +got):\n%s", diff)
	}
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	c, err := New(v, Config[int]{InitialValue: 0, Validity: 10 * time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	clock := newFakeClock()
	c.now = clock.Now

	mustWrite(t, c, 42)

	clock.Advance(5 * time.Second)
	if got := mustRead(t, c); got != 42 {
		t.Errorf("Read() at t=5s = %d, want 42", got)
	}

	clock.Advance(6 * time.Second)
	if got := mustRead(t, c); got != 0 {
		t.Errorf("Read() at t=11s = %d, want 0", got)
	}

	// The reset stamped a fresh timestamp, so it does not repeat.
	stamp, ok, err := c.readStamp(ctx)
	if err != nil || !ok {
		t.Fatalf("readStamp() = %v, %v, %v", stamp, ok, err)
	}
	if want := clock.Now().UnixMilli(); stamp != want {
		t.Errorf("stamp after reset = %d, want %d", stamp, want)
	}
	if got := mustRead(t, c); got != 0 {
		t.Errorf("second Read() after reset = %d, want 0", got)
	}
}

func TestCache_NeverExpires(t *testing.T) {
	v := testVault(t)
	c, err := New(v, Config[int]{InitialValue: -1, Validity: NoExpiry})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	clock := newFakeClock()
	c.now = clock.Now

	mustWrite(t, c, 42)
	clock.Advance(10 * 365 * 24 * time.Hour)

	if got := mustRead(t, c); got != 42 {
		t.Errorf("Read() after ten years = %d, want 42", got)
	}
}

func TestCache_NilPayload(t *testing.T) {
	t.Run("cached nil survives expiry", func(t *testing.T) {
		v := testVault(t)
		seven := 7
		c, err := New(v, Config[*int]{InitialValue: &seven, Validity: 10 * time.Second})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		clock := newFakeClock()
		c.now = clock.Now

		mustWrite(t, c, nil)
		clock.Advance(time.Hour)

		if got := mustRead(t, c); got != nil {
			t.Errorf("Read() = %v, want nil (intentional nil must not be reset)", *got)
		}
	})

	t.Run("nil initial value", func(t *testing.T) {
		v := testVault(t)
		c, err := New(v, Config[*int]{Validity: 10 * time.Second})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		mustWrite(t, c, nil)
		if got := mustRead(t, c); got != nil {
			t.Errorf("Read() = %v, want nil", *got)
		}
	})
}

func TestCache_DeleteVsClearAll(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	a, err := New(v, Config[int]{ID: "a"})
	if err != nil {
		t.Fatalf("New(a) error = %v", err)
	}
	b, err := New(v, Config[int]{ID: "b"})
	if err != nil {
		t.Fatalf("New(b) error = %v", err)
	}

	mustWrite(t, a, 1)
	mustWrite(t, b, 2)

	// Delete removes only this instance's token.
	if err := a.Delete(ctx); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := mustRead(t, a); got != 0 {
		t.Errorf("a.Read() after Delete = %d, want 0", got)
	}
	if got := mustRead(t, b); got != 2 {
		t.Errorf("b.Read() after a.Delete = %d, want 2", got)
	}
	if _, ok, _ := a.readStamp(ctx); ok {
		t.Error("a's timestamp record survived Delete")
	}

	// ClearAll wipes every token in the shared value store.
	mustWrite(t, a, 1)
	if err := a.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if got := mustRead(t, a); got != 0 {
		t.Errorf("a.Read() after ClearAll = %d, want 0", got)
	}
	if got := mustRead(t, b); got != 0 {
		t.Errorf("b.Read() after ClearAll = %d, want 0", got)
	}
	if _, ok, _ := b.readStamp(ctx); ok {
		t.Error("b's timestamp record survived ClearAll")
	}
}

func TestCache_MutationTimeout(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	c, err := New(v, Config[int]{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	mustWrite(t, c, 1)

	// Hold the mutation scope so the write below must wait.
	if err := c.sem.Acquire(ctx, 1); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer c.sem.Release(1)

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = c.Write(timeoutCtx, 99)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Write() under held scope error = %v, want DeadlineExceeded", err)
	}

	// The timed-out write performed no partial mutation.
	if got := mustRead(t, c); got != 1 {
		t.Errorf("Read() after timed-out write = %d, want 1", got)
	}
}

func TestCache_ConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	c, err := New(v, Config[int]{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Write(ctx, i); err != nil {
				t.Errorf("Write(%d) error = %v", i, err)
			}
		}()
	}
	wg.Wait()

	got := mustRead(t, c)
	if got < 0 || got >= writers {
		t.Errorf("Read() = %d, want one of the written values", got)
	}
	if _, ok, err := c.readStamp(ctx); err != nil || !ok {
		t.Errorf("timestamp record missing after concurrent writes (ok=%v, err=%v)", ok, err)
	}
}

type failingCodec struct{}

func (failingCodec) Encode(int) ([]byte, error) { return []byte("x"), nil }
func (failingCodec) Decode([]byte) (int, error) { return 0, fmt.Errorf("decode blew up") }

func TestCache_ErrorHookFallback(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	var hooked []error
	c, err := New(v, Config[int]{
		InitialValue: -5,
		Codec:        failingCodec{},
		OnError:      func(err error) { hooked = append(hooked, err) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := c.values.Put(ctx, c.Token(), []byte("garbage")); err != nil {
		t.Fatalf("seed value: %v", err)
	}

	got, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != -5 {
		t.Errorf("Read() = %d, want initial value -5", got)
	}
	if len(hooked) != 1 {
		t.Errorf("error hook invoked %d times, want 1", len(hooked))
	}
}

func TestCache_NotInitialized(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	var hooked int
	c, err := New(v, Config[int]{OnError: func(error) { hooked++ }})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	mustWrite(t, c, 1)

	if err := v.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := c.Read(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Read() after Close error = %v, want ErrNotInitialized", err)
	}
	if err := c.Write(ctx, 2); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Write() after Close error = %v, want ErrNotInitialized", err)
	}
	if err := c.Delete(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Delete() after Close error = %v, want ErrNotInitialized", err)
	}
	if hooked != 0 {
		t.Errorf("error hook invoked %d times for ErrNotInitialized, want 0", hooked)
	}
}

func TestCache_DistinctKinds(t *testing.T) {
	v := testVault(t)

	ints, err := New(v, Config[int]{})
	if err != nil {
		t.Fatalf("New[int]() error = %v", err)
	}
	sessions, err := New(v, Config[session]{})
	if err != nil {
		t.Fatalf("New[session]() error = %v", err)
	}

	if ints.Token() == sessions.Token() {
		t.Fatalf("distinct payload kinds share token %q", ints.Token())
	}

	mustWrite(t, ints, 42)
	got := mustRead(t, sessions)
	if diff := cmp.Diff(session{}, got); diff != "" {
		t.Errorf("session slot affected by int write (-want +got):\n%s", diff)
	}
}

func TestConfig_Defaults(t *testing.T) {
	logger := logging.NewNopLogger()

	t.Run("zero config", func(t *testing.T) {
		r := Config[session]{}.resolve(logger)
		if r.validity != DefaultValidity {
			t.Errorf("validity = %v, want %v", r.validity, DefaultValidity)
		}
		if r.token != kindName[session]() {
			t.Errorf("token = %q, want %q", r.token, kindName[session]())
		}
		if _, ok := r.codec.(JSONCodec[session]); !ok {
			t.Errorf("codec = %T, want JSONCodec", r.codec)
		}
		if r.onError == nil {
			t.Error("onError hook not defaulted")
		}
	})

	t.Run("no expiry", func(t *testing.T) {
		r := Config[session]{Validity: NoExpiry}.resolve(logger)
		if r.validity != 0 {
			t.Errorf("validity = %v, want 0 (never expires)", r.validity)
		}
	})

	t.Run("prefix and id", func(t *testing.T) {
		r := Config[session]{Prefix: "sess", ID: "-primary"}.resolve(logger)
		if r.token != "sess-primary" {
			t.Errorf("token = %q, want %q", r.token, "sess-primary")
		}
	})
}
