// Package sched implements the round-robin scheduler that rotates the
// running context among the M=3 terminals' foreground processes once per
// timer tick. It drives [timer.Timer]'s clock-driven callback the same way
// any periodic handler would, generalized from "step one unit of work" to
// "swap in the next terminal's process", and its tick steps are ported from
// student-distrib/scheduler.c.
package sched

import (
	"context"
	"errors"

	"github.com/quark-os/quark/internal/log"
	"github.com/quark-os/quark/internal/paging"
	"github.com/quark-os/quark/internal/pic"
	"github.com/quark-os/quark/internal/term"
	"github.com/quark-os/quark/internal/timer"
)

// schedulable is the view of a terminal's foreground process the scheduler
// needs: its page directory, to reload CR3 with. term.Process only names
// ID(), keeping the term package independent of proc; the scheduler asserts
// this wider interface against whatever Foreground() actually holds (a
// *proc.PCB in every real wiring, never referenced here directly to avoid
// an import cycle between proc and sched).
type schedulable interface {
	term.Process
	Directory() *paging.Directory
}

// ErrNoForeground names the case of a terminal with no foreground process
// to switch to. [Scheduler.Tick] does not return it: it skips such a
// terminal without an error.
var ErrNoForeground = errors.New("sched: terminal has no foreground process")

// Scheduler rotates CR3 among the terminals' foreground processes. There is
// no kernel stack per process in this simulator — see [proc.Table] — so the
// "save outgoing frame pointer, load incoming one" step of a tick
// handler has nothing to act on; the scheduler performs only the
// EOI/rotate/reload steps that have a concrete effect here.
type Scheduler struct {
	pic       *pic.PIC
	terminals *term.Manager
	bus       *paging.Bus

	current int

	log *log.Logger
}

// New creates a scheduler starting at terminal 0.
func New(p *pic.PIC, terminals *term.Manager, bus *paging.Bus) *Scheduler {
	return &Scheduler{pic: p, terminals: terminals, bus: bus, log: log.DefaultLogger()}
}

// Current returns the terminal index the scheduler most recently switched
// to.
func (s *Scheduler) Current() int { return s.current }

// Tick implements the timer tick handler: it EOIs the timer IRQ, advances to
// the next terminal round-robin, and, if that terminal has a foreground
// process, reloads the page directory bus with it. A terminal with no
// foreground process yet (boot, or between a halt and its respawn) is
// skipped without error — the previous mapping stays active until the next
// tick finds someone to run.
func (s *Scheduler) Tick() error {
	if err := s.pic.SendEOI(timer.IRQ); err != nil {
		return err
	}

	s.current = (s.current + 1) % term.NumTerminals

	fg := s.terminals.Terminal(s.current).Foreground()
	if fg == nil {
		s.log.Debug("sched: skip idle terminal", "terminal", s.current)
		return nil
	}

	next, ok := fg.(schedulable)
	if !ok {
		return nil
	}

	s.bus.LoadDirectory(next.Directory())

	s.log.Debug("sched: switched", "terminal", s.current, "process", next.ID())

	return nil
}

// Run drives Tick from a live [timer.Timer] until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, t *timer.Timer) error {
	return t.Run(ctx, s.Tick)
}
