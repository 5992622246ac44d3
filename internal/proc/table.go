// Package proc implements process creation and termination: the PCB slot
// table, execute's image-load-and-transfer sequence, and halt's unwind back
// to a parent. There is no real IA-32 core to IRET into, so "transferring
// control to user mode" means calling a registered [Program] function
// synchronously; halt's "unwind to the parent's captured frame" is Go's own
// call stack plus a panic recovered at the right execute call, which is
// exactly the shape a saved-frame-pointer unwind asks for without
// needing a real stack to manipulate.
//
// loadImage's header-validate-then-copy shape is generalized here from raw
// object code to an ELF-like image, and run's recoverable "stop running
// this program" signal is the same idea a loader's halt/run loop already
// needs for any program format.
package proc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/quark-os/quark/internal/fs"
	"github.com/quark-os/quark/internal/log"
	"github.com/quark-os/quark/internal/paging"
	"github.com/quark-os/quark/internal/rtc"
	"github.com/quark-os/quark/internal/slab"
	"github.com/quark-os/quark/internal/term"
)

// N is the fixed number of process slots.
const N = 6

// KilledByException is the status halt reports for a process terminated by
// an unhandled exception, per the convention "256 means killed by exception".
const KilledByException = 256

// Program is a loaded executable's behavior. Since there is no x86 decoder
// here, a Program stands in for "the instructions the ELF image's entry
// point would run"; it is looked up by filename after the image's header
// has been validated. It receives a Context bound to its own PCB and
// returns the exit status halt(status) would have been called with.
type Program func(ctx *Context) int

// ErrNoSlots is returned when every one of the N PCB slots is active.
var ErrNoSlots = errors.New("proc: no free process slots")

// Table owns the N PCB slots and the collaborators execute/halt touch:
// the file-system image programs load from, the terminal manager and rtc
// controller that back stdin/stdout and the rtc file type, the slab
// allocator malloc/free serve from, and the paging bus that models CR3.
type Table struct {
	mut   sync.Mutex
	slots [N]*PCB

	programs map[string]Program

	fsImage   *fs.Image
	terminals *term.Manager
	rtc       *rtc.Controller
	bus       *paging.Bus
	allocator *slab.Allocator

	log *log.Logger
}

// NewTable creates an empty process table bound to its collaborators.
func NewTable(fsImage *fs.Image, terminals *term.Manager, rtcCtl *rtc.Controller, bus *paging.Bus, allocator *slab.Allocator) *Table {
	return &Table{
		programs:  make(map[string]Program),
		fsImage:   fsImage,
		terminals: terminals,
		rtc:       rtcCtl,
		bus:       bus,
		allocator: allocator,
		log:       log.DefaultLogger(),
	}
}

// Register binds a filename to the Go function that simulates running it.
// Boot registers "shell" and the image's other programs before starting
// the first terminal.
func (t *Table) Register(filename string, p Program) {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.programs[filename] = p
}

// allocPCB allocates a PCB slot and binds its stdin/stdout to the owning
// terminal's driver. A root shell (root == true) must land in slot
// terminalID itself, per execute's step 3 special case and spec.md §8
// Property #1 (p.parent == nil iff p.id == p.terminal_id): slots
// 0..term.NumTerminals-1 are reserved for the three terminals' root shells
// and are never handed to a nested execute. A nested execute instead
// first-fits among the remaining slots, term.NumTerminals..N-1, which can
// never collide with a terminal id and so never violates the invariant,
// regardless of how StartTerminal's three goroutines race to start up.
func (t *Table) allocPCB(terminalID int, root bool) (*PCB, error) {
	t.mut.Lock()
	defer t.mut.Unlock()

	if root {
		if t.slots[terminalID] != nil && t.slots[terminalID].active {
			return nil, ErrNoSlots
		}

		return t.bindSlot(terminalID, terminalID), nil
	}

	for i := term.NumTerminals; i < N; i++ {
		if t.slots[i] != nil && t.slots[i].active {
			continue
		}

		return t.bindSlot(i, terminalID), nil
	}

	return nil, ErrNoSlots
}

// bindSlot creates and installs the PCB for slot i, bound to terminalID's
// stdin/stdout. Callers must hold t.mut.
func (t *Table) bindSlot(i, terminalID int) *PCB {
	p := &PCB{id: i, active: true, terminalID: terminalID, directory: paging.New(i)}

	stdio := &terminalFileOps{tcb: t.terminals.Terminal(terminalID)}
	p.openFiles[0] = descriptor{ops: stdio, inUse: true}
	p.openFiles[1] = descriptor{ops: stdio, inUse: true}

	t.slots[i] = p

	return p
}

// Active returns every currently occupied PCB slot, for diagnostics (a
// process listing) rather than for execute/halt itself.
func (t *Table) Active() []*PCB {
	t.mut.Lock()
	defer t.mut.Unlock()

	var out []*PCB

	for _, p := range t.slots {
		if p != nil && p.Active() {
			out = append(out, p)
		}
	}

	return out
}

func (t *Table) releaseSlot(p *PCB) {
	t.mut.Lock()
	defer t.mut.Unlock()

	p.mut.Lock()
	p.active = false
	p.mut.Unlock()
}

// ExecuteRoot runs exactly one root-shell life cycle for a terminal: a PCB
// with no parent whose terminal_id equals its own slot id, per execute's
// step 3 special case. It returns once that shell halts.
func (t *Table) ExecuteRoot(terminalID int, command string) (int, error) {
	return t.execute(nil, command, terminalID)
}

// StartTerminal runs a terminal's root shell forever, respawning "shell"
// each time it halts, since a root terminal must never go
// idle. It returns when ctx is cancelled, or earlier if a shell spawn
// itself fails outright (a missing or malformed image); it is meant to be
// started in its own goroutine at boot — one of the three terminal "threads
// of control".
func (t *Table) StartTerminal(ctx context.Context, terminalID int) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := t.ExecuteRoot(terminalID, "shell"); err != nil {
			return err
		}
	}
}

// Execute runs execute(command) on behalf of the given caller PCB (the
// process that invoked it, never nil for a syscall-driven execute).
func (t *Table) Execute(caller *PCB, command string) (int, error) {
	return t.execute(caller, command, caller.terminalID)
}

// execute implements the numbered execute sequence. terminalID is the
// console a root shell binds to; for a nested execute it is inherited from
// the caller.
func (t *Table) execute(caller *PCB, command string, terminalID int) (int, error) {
	filename, args, err := splitCommand(command)
	if err != nil {
		return -1, err
	}

	img, err := loadImage(t.fsImage, filename)
	if err != nil {
		return -1, err
	}

	child, err := t.allocPCB(terminalID, caller == nil)
	if err != nil {
		return -1, err
	}

	child.mut.Lock()
	child.filename = filename
	child.args = args

	if caller != nil {
		child.parent = caller
	}

	child.mut.Unlock()

	t.terminals.Terminal(terminalID).SetForeground(child)
	t.bus.LoadDirectory(child.directory)

	t.log.Debug("proc: execute", "slot", child.id, "filename", filename, "entry", fmt.Sprintf("%#x", img.entry))

	program, ok := t.programs[filename]
	if !ok {
		t.releaseSlot(child)
		return -1, fmt.Errorf("%w: %q has no registered behavior", ErrBadImage, filename)
	}

	return t.run(child, program)
}

// haltSignal is the panic value Context.Halt raises to unwind out of a
// Program's call stack, regardless of how deeply nested it is, to be
// recovered by the run call that is this process's own execute frame.
type haltSignal struct {
	status int
}

// run invokes a program's behavior and recovers its halt, mirroring the
// "unwind to the parent's captured frame with status in the return
// register" step of halt without needing a real stack to unwind.
func (t *Table) run(p *PCB, program Program) (status int, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig, ok := r.(haltSignal)
			if !ok {
				panic(r) // Not ours; a genuine bug, let it propagate.
			}

			status = t.finishHalt(p, sig.status)
		}
	}()

	ctx := &Context{table: t, pcb: p}
	exitStatus := program(ctx)

	return t.finishHalt(p, exitStatus&0xff), nil
}

// finishHalt performs halt(status)'s steps once a program has either
// returned normally or called Context.Halt. It is idempotent-safe to call
// once per run.
func (t *Table) finishHalt(p *PCB, status int) int {
	for i := 2; i < NumFDs; i++ {
		if p.openFiles[i].inUse {
			p.openFiles[i].ops.Close()
			p.openFiles[i] = descriptor{}
		}
	}

	if p.vidmapActive {
		p.directory.DeactivateVidmap()
		p.vidmapActive = false
	}

	parent := p.Parent()

	if parent != nil {
		t.terminals.Terminal(p.terminalID).SetForeground(parent)
		t.bus.LoadDirectory(parent.directory)
		t.releaseSlot(p)

		return status
	}

	// A root shell has no parent to rebind the terminal to; releasing the
	// slot is all finishHalt does here. Respawning it ("a root terminal
	// never goes idle") is [Table.StartTerminal]'s loop, not this call's
	// job — recursing here would grow one Go stack frame per respawn
	// forever, which a real kernel's stack-per-process scheme doesn't pay.
	t.releaseSlot(p)

	return status
}

// splitCommand implements execute's step 1 and 4: the first
// whitespace-delimited token (up to MaxFilenameLen bytes) becomes the
// filename, and the remaining, leading-space-stripped tail becomes args.
func splitCommand(command string) (filename, args string, err error) {
	i := 0
	for i < len(command) && command[i] == ' ' {
		i++
	}

	start := i
	for i < len(command) && command[i] != ' ' {
		i++
	}

	filename = command[start:i]
	if len(filename) > MaxFilenameLen {
		return "", "", fmt.Errorf("%w: filename longer than %d bytes", ErrBadImage, MaxFilenameLen)
	}

	for i < len(command) && command[i] == ' ' {
		i++
	}

	args = command[i:]
	if len(args) > MaxArgsLen {
		args = args[:MaxArgsLen]
	}

	return filename, args, nil
}
