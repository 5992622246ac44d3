package timer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quark-os/quark/internal/timer"
)

func TestNewZeroIntervalTimerStillTicks(t *testing.T) {
	tm := timer.New(0)

	done := make(chan struct{})
	go func() {
		tm.Tick(func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Tick never returned")
	}
}

func TestTickCountsAndInvokesHandler(t *testing.T) {
	tm := timer.New(time.Millisecond)

	calls := 0
	for i := 0; i < 3; i++ {
		if err := tm.Tick(func() error {
			calls++
			return nil
		}); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}

	if tm.Ticks() != 3 {
		t.Fatalf("Ticks() = %d, want 3", tm.Ticks())
	}
}

func TestTickPropagatesHandlerError(t *testing.T) {
	tm := timer.New(time.Millisecond)

	wantErr := errors.New("boom")
	err := tm.Tick(func() error { return wantErr })

	if !errors.Is(err, wantErr) {
		t.Fatalf("Tick: got %v, want %v", err, wantErr)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	tm := timer.New(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- tm.Run(ctx, func() error { return nil })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run: got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRunStopsOnHandlerError(t *testing.T) {
	tm := timer.New(time.Millisecond)

	wantErr := errors.New("stop")

	done := make(chan error, 1)
	go func() {
		done <- tm.Run(context.Background(), func() error { return wantErr })
	}()

	select {
	case err := <-done:
		if !errors.Is(err, wantErr) {
			t.Fatalf("Run: got %v, want %v", err, wantErr)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after handler error")
	}
}
