package search

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncerCoalescesBursts(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(20 * time.Millisecond)
	var calls atomic.Int32
	results := make(chan int, 10)

	for i := 1; i <= 5; i++ {
		value := i
		d.Trigger(func() {
			calls.Add(1)
			results <- value
		})
	}

	select {
	case got := <-results:
		if got != 5 {
			t.Fatalf("expected trailing call with value 5, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("debounced call never fired")
	}

	time.Sleep(60 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected exactly one call, got %d", n)
	}
}

func TestDebouncerStopCancelsPendingCall(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(20 * time.Millisecond)
	var calls atomic.Int32

	d.Trigger(func() { calls.Add(1) })
	d.Stop()

	time.Sleep(60 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Fatalf("expected no calls after Stop, got %d", n)
	}
}

func TestNewDebouncerDefaultsDelay(t *testing.T) {
	t.Parallel()

	if d := NewDebouncer(0); d.delay != DefaultDebounceDelay {
		t.Fatalf("expected default delay %s, got %s", DefaultDebounceDelay, d.delay)
	}
}
