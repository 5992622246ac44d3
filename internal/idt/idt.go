// Package idt simulates the interrupt descriptor table and the common
// dispatch linkage: 256 vectors, three gate flavors (trap, interrupt,
// syscall), and a single dispatcher that routes a vector either to the
// syscall handler or to a per-vector handler table.
//
// Its one-priority-level, one-driver dispatch shape is generalized here to
// "256 vectors, one handler each", plus a syscall fast path at 0x80.
package idt

import (
	"errors"
	"fmt"

	"github.com/quark-os/quark/internal/arch"
	"github.com/quark-os/quark/internal/log"
)

// Gate identifies the descriptor flavor installed at a vector, which
// determines the privilege level that may reach it and whether IF is
// cleared on entry.
type Gate uint8

const (
	// TrapGate is used for CPU exception vectors (0x00-0x13). Supervisor
	// DPL; IF is left unchanged on entry.
	TrapGate Gate = iota

	// InterruptGate is used for hardware IRQ vectors (0x20-0x2f).
	// Supervisor DPL; IF is cleared on entry.
	InterruptGate

	// SyscallGate is the single gate reachable from user mode (DPL=3),
	// installed at vector 0x80.
	SyscallGate
)

func (g Gate) String() string {
	switch g {
	case TrapGate:
		return "trap"
	case InterruptGate:
		return "interrupt"
	case SyscallGate:
		return "syscall"
	default:
		return "unknown"
	}
}

// Reserved vector ranges.
const (
	NumVectors = 256

	ExceptionBase = 0x00
	ExceptionTop  = 0x13

	IRQBase = 0x20
	IRQTop  = 0x2f

	SyscallVector = 0x80
)

// Frame is the uniform register frame the common linkage pushes before
// calling the dispatcher, mirroring the fixed push order the common linkage
// requires: vector number, general-purpose registers, segment registers.
type Frame struct {
	Vector  uint8
	Regs    arch.RegisterFile
	EFLAGS  arch.EFLAGS
	Caller  arch.IRETFrame
	ErrCode uint32 // Some exceptions (e.g. page fault) push an error code.
}

// Handler services one vector. It may mutate Regs (in particular EAX, the
// syscall return-value register) and returns an error only for conditions
// the dispatcher itself must act on (double fault).
type Handler func(f *Frame) error

// entry is one descriptor slot.
type entry struct {
	gate    Gate
	handler Handler
	present bool
}

// Table is the 256-entry IDT plus the dispatcher that walks it.
type Table struct {
	entries [NumVectors]entry
	syscall Handler

	log *log.Logger
}

// New creates an empty table. Vectors are populated with [Table.Install]
// and [Table.InstallSyscall] during boot, mirroring a boot sequence's "GDT,
// paging, IDT, PIC, timer, ..." setup order.
func New() *Table {
	return &Table{log: log.DefaultLogger()}
}

// ErrBadVector is returned for a vector number outside the gate's reserved
// range, or a syscall dispatch with no handler installed.
var ErrBadVector = errors.New("idt: bad vector")

// Install registers a handler for an exception or hardware-interrupt
// vector, using the gate type appropriate to its range.
func (t *Table) Install(vector uint8, gate Gate, h Handler) error {
	switch gate {
	case TrapGate:
		if vector > ExceptionTop {
			return fmt.Errorf("%w: trap gate at %#02x", ErrBadVector, vector)
		}
	case InterruptGate:
		if vector < IRQBase || vector > IRQTop {
			return fmt.Errorf("%w: interrupt gate at %#02x", ErrBadVector, vector)
		}
	case SyscallGate:
		return fmt.Errorf("%w: use InstallSyscall for vector 0x80", ErrBadVector)
	}

	t.entries[vector] = entry{gate: gate, handler: h, present: true}
	t.log.Debug("idt: installed", "vector", vector, "gate", gate)

	return nil
}

// InstallSyscall registers the single syscall gate at vector 0x80.
func (t *Table) InstallSyscall(h Handler) {
	t.syscall = h
	t.entries[SyscallVector] = entry{gate: SyscallGate, present: true}
	t.log.Debug("idt: installed syscall gate", "vector", SyscallVector)
}

// Dispatch is the common linkage's tail call: it routes to the syscall
// handler for vector 0x80, otherwise to the vector's installed handler. It
// returns ErrBadVector if nothing is installed there — the double-fault
// case that is never recovered.
func (t *Table) Dispatch(f *Frame) error {
	if f.Vector == SyscallVector {
		if t.syscall == nil {
			return fmt.Errorf("%w: no syscall handler", ErrBadVector)
		}

		t.log.Debug("idt: syscall", "eax", f.Regs[arch.EAX])

		return t.syscall(f)
	}

	e := t.entries[f.Vector]
	if !e.present {
		return fmt.Errorf("%w: vector %#02x not installed", ErrBadVector, f.Vector)
	}

	t.log.Debug("idt: dispatch", "vector", f.Vector, "gate", e.gate)

	return e.handler(f)
}

// Gate reports which gate, if any, is installed at a vector. The second
// return value is false if nothing is installed.
func (t *Table) Gate(vector uint8) (Gate, bool) {
	e := t.entries[vector]
	return e.gate, e.present
}
