// Package timer simulates the periodic interrupt source (the PIT,
// programmed to IRQ0) that drives the scheduler. Real hardware free-runs at
// a programmed divisor; the simulator exposes the same "one tick fires one
// handler call" shape without needing a real clock, so tests can single-step
// it deterministically and a live demo can drive it from a [time.Ticker].
package timer

import (
	"context"
	"time"

	"github.com/quark-os/quark/internal/log"
)

// DefaultInterval is the nominal tick period used for the
// scheduler: approximately 100 Hz.
const DefaultInterval = 10 * time.Millisecond

// IRQ is the hardware line the PIT is wired to.
const IRQ = uint8(0)

// Handler is called once per tick. It returns an error only if the
// simulation should stop.
type Handler func() error

// Timer periodically invokes a handler, either by explicit [Timer.Tick]
// calls from a test/scenario driver, or by [Timer.Run] against a real
// [time.Ticker] for the interactive demo.
type Timer struct {
	interval time.Duration
	ticks    uint64

	log *log.Logger
}

// New creates a timer with the given tick interval. An interval of zero
// uses DefaultInterval.
func New(interval time.Duration) *Timer {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Timer{interval: interval, log: log.DefaultLogger()}
}

// Tick fires the handler once and counts the tick. This is the entry point
// scenario-driven tests use to advance the scheduler deterministically,
// without needing a wall-clock [time.Ticker].
func (t *Timer) Tick(h Handler) error {
	t.ticks++

	t.log.Debug("timer: tick", "count", t.ticks)

	return h()
}

// Ticks returns the number of ticks delivered so far.
func (t *Timer) Ticks() uint64 { return t.ticks }

// Run fires the handler once per interval until the context is cancelled or
// the handler returns an error.
func (t *Timer) Run(ctx context.Context, h Handler) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.Tick(h); err != nil {
				return err
			}
		}
	}
}
