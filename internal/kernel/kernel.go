// Package kernel assembles the simulator's pieces into one bootable Machine
// and implements the boot sequence: paging, IDT, PIC, timer, parse
// the file system image, open terminal 0, and start the three terminals'
// root shells.
//
// Machine plays the role any top-level simulator type does — wiring its
// core, memory, and device table together — generalized here from one
// device bus to the full paging/interrupt/process/terminal/rtc/storage
// stack.
package kernel

import (
	"context"
	"fmt"

	"github.com/quark-os/quark/internal/arch"
	"github.com/quark-os/quark/internal/fs"
	"github.com/quark-os/quark/internal/idt"
	"github.com/quark-os/quark/internal/log"
	"github.com/quark-os/quark/internal/paging"
	"github.com/quark-os/quark/internal/pic"
	"github.com/quark-os/quark/internal/proc"
	"github.com/quark-os/quark/internal/rtc"
	"github.com/quark-os/quark/internal/sched"
	"github.com/quark-os/quark/internal/slab"
	"github.com/quark-os/quark/internal/term"
	"github.com/quark-os/quark/internal/timer"
)

// KeyboardIRQ is the hardware line the PS/2 keyboard controller is wired to.
const KeyboardIRQ = uint8(1)

// Machine is every booted component, wired together and ready to run.
type Machine struct {
	PIC       *pic.PIC
	IDT       *idt.Table
	Bus       *paging.Bus
	Terminals *term.Manager
	RTC       *rtc.Controller
	Allocator *slab.Allocator
	FS        *fs.Image
	Procs     *proc.Table
	Sched     *sched.Scheduler
	Timer     *timer.Timer

	log *log.Logger
}

// Boot parses rawFS as a file-system image, wires every subsystem together,
// registers the given programs against the process table, and installs the
// timer and keyboard IDT vectors — everything the boot sequence lists up through
// "enable IRQ0 and IRQ1" — but does not yet start any terminal; call
// [Machine.Run] for that.
func Boot(rawFS []byte, programs map[string]proc.Program) (*Machine, error) {
	fsImage, err := fs.Parse(rawFS)
	if err != nil {
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}

	terminals := term.NewManager()
	rtcCtl := rtc.New(terminals)
	bus := paging.NewBus()
	allocator := slab.New()

	procs := proc.NewTable(fsImage, terminals, rtcCtl, bus, allocator)
	for name, p := range programs {
		procs.Register(name, p)
	}

	p := pic.New()
	table := idt.New()
	schd := sched.New(p, terminals, bus)

	if err := table.Install(pic.Vector(timer.IRQ), idt.InterruptGate, func(f *idt.Frame) error {
		return schd.Tick()
	}); err != nil {
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}

	if err := table.Install(pic.Vector(KeyboardIRQ), idt.InterruptGate, func(f *idt.Frame) error {
		terminals.HandleScancode(uint8(f.Regs[arch.EBX]))
		return p.SendEOI(KeyboardIRQ)
	}); err != nil {
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}

	if err := p.EnableIRQ(timer.IRQ); err != nil {
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}

	if err := p.EnableIRQ(KeyboardIRQ); err != nil {
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}

	m := &Machine{
		PIC:       p,
		IDT:       table,
		Bus:       bus,
		Terminals: terminals,
		RTC:       rtcCtl,
		Allocator: allocator,
		FS:        fsImage,
		Procs:     procs,
		Sched:     schd,
		Timer:     timer.New(0),
		log:       log.DefaultLogger(),
	}

	m.log.Info("kernel: boot complete", "dentries", fsImage.NumDentries())

	return m, nil
}

// Tick raises and dispatches one timer interrupt, the unit [Machine.Run]
// drives repeatedly and a scenario-driven test drives one step at a time.
func (m *Machine) Tick() error {
	if err := m.PIC.Raise(timer.IRQ); err != nil {
		return err
	}

	return m.IDT.Dispatch(&idt.Frame{Vector: pic.Vector(timer.IRQ)})
}

// HandleScancode raises and dispatches one keyboard interrupt carrying a
// decoded PS/2 scan code. There is no real port I/O to read the code from,
// so it rides the interrupt frame's ebx register — the interactive termio
// bridge and keyboard-driven tests both call this directly in place of a
// real keyboard controller's IRQ1 assertion.
func (m *Machine) HandleScancode(code uint8) error {
	if err := m.PIC.Raise(KeyboardIRQ); err != nil {
		return err
	}

	return m.IDT.Dispatch(&idt.Frame{
		Vector: pic.Vector(KeyboardIRQ),
		Regs:   arch.RegisterFile{arch.EBX: uint32(code)},
	})
}

// Run starts the three terminals' root shells, each in its own goroutine
// per the "three threads of control" model, the rtc base tick, and the
// timer-driven scheduler, and blocks until ctx is cancelled or one of them
// exits with an error. A root shell that halts is respawned forever by
// [proc.Table.StartTerminal]; the only way one of those goroutines reports
// an error is a missing or malformed "shell" image, a boot-time mistake.
func (m *Machine) Run(ctx context.Context) error {
	errs := make(chan error, term.NumTerminals+2) // One slot per terminal, plus rtc and the timer.

	for tid := 0; tid < term.NumTerminals; tid++ {
		tid := tid
		go func() {
			errs <- m.Procs.StartTerminal(ctx, tid)
		}()
	}

	go func() {
		errs <- m.RTC.Run(ctx)
	}()

	go func() {
		errs <- m.Timer.Run(ctx, m.Sched.Tick)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errs:
		return err
	}
}
