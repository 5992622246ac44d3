// Package rtc simulates the real-time-clock device, virtualized per
// terminal: the hardware free-runs at a fixed 1024 Hz and every terminal
// derives its own requested rate from that base tick by counting a
// rollover, exactly as the reference driver's RTC_handler loops over every
// terminal on each base interrupt. Its device-state-a-handler-mutates,
// blocked-reader-polls shape is the same one a single-consumer interrupt
// device would use, generalized to fan one interrupt source out across
// three terminals instead of serving one consumer.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quark-os/quark/internal/log"
	"github.com/quark-os/quark/internal/term"
)

// IRQ is the hardware line the RTC is wired to.
const IRQ = uint8(8)

// BaseRate is the fixed hardware frequency the RTC free-runs at once
// programmed to its maximum: 1024 Hz, per RTC_1024_SET.
const BaseRate = 1024

// MinRate and MaxRate bound the power-of-two rate a terminal may request.
const (
	MinRate = 2
	MaxRate = 1024
)

// BaseInterval is the wall-clock period between base ticks for the
// interactive demo's real driver.
const BaseInterval = time.Second / BaseRate

// ErrBadRate is returned for a requested rate outside [MinRate, MaxRate] or
// not a power of two.
var ErrBadRate = errors.New("rtc: rate must be a power of two between 2 and 1024")

// Controller drives the virtualized RTC for every terminal from a single
// base-rate tick source.
type Controller struct {
	terminals *term.Manager

	log *log.Logger
}

// New creates a controller bound to the terminal manager whose TCBs hold
// the per-terminal rollover/counter/latch state.
func New(terminals *term.Manager) *Controller {
	return &Controller{terminals: terminals, log: log.DefaultLogger()}
}

// Rollover converts a requested rate in Hz to the rollover count against
// BaseRate, validating that it is a power of two in range. This mirrors
// RTC_write's value checks and its `RTC_ROLLOVER_MAX / value` computation.
func Rollover(rate uint32) (uint32, error) {
	if rate < MinRate || rate > MaxRate {
		return 0, fmt.Errorf("%w: %d", ErrBadRate, rate)
	}

	if rate&(rate-1) != 0 {
		return 0, fmt.Errorf("%w: %d", ErrBadRate, rate)
	}

	return BaseRate / rate, nil
}

// Open resets a terminal's virtualized rate to the reference driver's
// default of 2 Hz, as RTC_open does on every open.
func (c *Controller) Open(terminalID int) error {
	rollover, err := Rollover(MinRate)
	if err != nil {
		return err
	}

	c.terminals.Terminal(terminalID).SetRTCRollover(rollover)

	return nil
}

// Close resets the terminal's rate back to the 2 Hz default, as RTC_close
// does.
func (c *Controller) Close(terminalID int) error {
	return c.Open(terminalID)
}

// SetRate validates and installs a new virtualized rate for one terminal,
// the rtc file's write operation.
func (c *Controller) SetRate(terminalID int, rate uint32) error {
	rollover, err := Rollover(rate)
	if err != nil {
		return err
	}

	c.terminals.Terminal(terminalID).SetRTCRollover(rollover)
	c.log.Debug("rtc: rate set", "terminal", terminalID, "rate", rate)

	return nil
}

// Read blocks until the next virtualized interrupt latches for the given
// terminal. A blocking rtc read spins in kernel mode with
// interrupts enabled; the caller is expected to invoke this from a
// goroutine the scheduler can still "rotate" (i.e. one not holding any
// kernel-wide lock), which a plain busy-poll loop satisfies.
func (c *Controller) Read(ctx context.Context, terminalID int) error {
	tcb := c.terminals.Terminal(terminalID)

	for {
		if tcb.ConsumeRTCLatch() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Tick delivers one base-rate (1024 Hz) interrupt to every terminal,
// advancing each one's virtualized counter and latching an interrupt for
// any terminal whose rollover is reached. This is the handler the PIC's
// IRQ8 line invokes once per base tick, mirroring RTC_handler's loop over
// MAX_NUM_TERMINAL.
func (c *Controller) Tick() {
	for i := 0; i < term.NumTerminals; i++ {
		if c.terminals.Terminal(i).RTCTick() {
			c.log.Debug("rtc: latched", "terminal", i)
		}
	}
}

// Run delivers base-rate ticks from a real wall clock until the context is
// cancelled, for the interactive demo.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(BaseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick()
		}
	}
}
