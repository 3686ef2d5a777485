package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change signal")
	}
}

func assertNoSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("unexpected change signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatch_SignalOnMutation(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, filepath.Join(t.TempDir(), "kv.db"), Options{})

	ch, cancel := s.Watch("token")
	defer cancel()

	if err := s.Put(ctx, "token", []byte("v")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	waitSignal(t, ch)

	if err := s.Delete(ctx, "token"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	waitSignal(t, ch)
}

func TestWatch_FiltersByKey(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, filepath.Join(t.TempDir(), "kv.db"), Options{})

	ch, cancel := s.Watch("watched")
	defer cancel()

	if err := s.Put(ctx, "other", []byte("v")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	assertNoSignal(t, ch)
}

func TestWatch_ClearSignalsAllWatchers(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, filepath.Join(t.TempDir(), "kv.db"), Options{})

	chA, cancelA := s.Watch("a")
	defer cancelA()
	chB, cancelB := s.Watch("b")
	defer cancelB()

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	waitSignal(t, chA)
	waitSignal(t, chB)
}

func TestWatch_Cancel(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, filepath.Join(t.TempDir(), "kv.db"), Options{})

	ch, cancel := s.Watch("token")
	cancel()

	if err := s.Put(ctx, "token", []byte("v")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	assertNoSignal(t, ch)
}

func TestWatch_Coalesces(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, filepath.Join(t.TempDir(), "kv.db"), Options{})

	ch, cancel := s.Watch("token")
	defer cancel()

	// Several undrained mutations collapse into a single pending signal.
	for i := 0; i < 5; i++ {
		if err := s.Put(ctx, "token", []byte{byte(i)}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	waitSignal(t, ch)
	assertNoSignal(t, ch)
}
