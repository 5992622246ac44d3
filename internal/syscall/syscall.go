// Package syscall wires the IDT's vector-0x80 register convention to the
// thirteen process-surface calls [proc.Context] implements. Real hardware
// reads a syscall's pointer arguments out of linear memory at the address an
// argument register holds; this simulator has no byte-addressable physical
// memory behind [paging.Bus] to read that address from, so a [Frame] carries
// a loaded program's pointer-valued arguments (a buffer, a path, a command
// line) as native Go values alongside the real eax/ebx/ecx/edx convention —
// the same kind of documented simplification the loader's ELF-header-only
// validation and proc's Program registry already make.
//
// Dispatch plays the role any single dispatch table does — one entry point,
// one selector register — generalized to the fixed eax-selects-handler
// syscall ABI student-distrib/syscall.c implements.
package syscall

import (
	"github.com/quark-os/quark/internal/arch"
	"github.com/quark-os/quark/internal/idt"
	"github.com/quark-os/quark/internal/proc"
)

// Number identifies one of the thirteen syscalls, matching the fixed table
// and the value a user program loads into eax before `int 0x80`.
type Number uint32

const (
	Halt Number = iota + 1
	Execute
	Read
	Write
	Open
	Close
	GetArgs
	Vidmap
	SetHandler
	Sigreturn
	Malloc
	Free
	Ioctl
)

// errStatus is the uint32 eax contents a failed syscall reports: -1, per
// the "return -1 in eax" convention, reinterpreted as unsigned.
const errStatus = uint32(0xffffffff)

// Frame is an [idt.Frame] for vector 0x80, plus the pointer-valued arguments
// the caller has already resolved to native Go values. Regs[arch.EAX] holds
// the syscall Number on entry and the return value on exit; Regs[arch.EBX],
// [arch.ECX], and [arch.EDX] hold the scalar arguments (fd, size, cmd, a
// vidmap/malloc/free address) exactly as the ABI specifies.
type Frame struct {
	idt.Frame

	Buf     []byte // read/write/getargs's buffer argument.
	Path    string // open's filename argument.
	Command string // execute's command-line argument.
}

// Dispatch decodes f.Regs[arch.EAX] as a syscall Number, performs it against
// ctx, and writes the result back into f.Regs[arch.EAX]. It never returns an
// error for a well-formed unknown number; it reports errStatus instead, the
// same way an out-of-range eax does on real hardware (this simulator names no
// distinct "bad syscall number" fault).
//
// Halt does not return to its caller: [proc.Context.Halt] panics, unwound by
// the enclosing [proc.Table.run], exactly as a direct ctx.Halt call would.
func Dispatch(ctx *proc.Context, f *Frame) {
	switch Number(f.Regs[arch.EAX]) {
	case Halt:
		ctx.Halt(int(int32(f.Regs[arch.EBX])))
	case Execute:
		status, err := ctx.Execute(f.Command)
		f.Regs[arch.EAX] = result(uint32(status), err)
	case Read:
		n, err := ctx.Read(int(f.Regs[arch.EBX]), f.Buf)
		f.Regs[arch.EAX] = result(uint32(n), err)
	case Write:
		n, err := ctx.Write(int(f.Regs[arch.EBX]), f.Buf)
		f.Regs[arch.EAX] = result(uint32(n), err)
	case Open:
		fd, err := ctx.Open(f.Path)
		f.Regs[arch.EAX] = result(uint32(fd), err)
	case Close:
		err := ctx.Close(int(f.Regs[arch.EBX]))
		f.Regs[arch.EAX] = result(0, err)
	case GetArgs:
		err := ctx.GetArgs(f.Buf)
		f.Regs[arch.EAX] = result(0, err)
	case Vidmap:
		addr, err := ctx.Vidmap(arch.Addr(f.Regs[arch.EBX]))
		f.Regs[arch.EAX] = result(uint32(addr), err)
	case SetHandler:
		f.Regs[arch.EAX] = result(0, ctx.SetHandler())
	case Sigreturn:
		f.Regs[arch.EAX] = result(0, ctx.Sigreturn())
	case Malloc:
		addr, err := ctx.Malloc(f.Regs[arch.EBX])
		f.Regs[arch.EAX] = result(uint32(addr), err)
	case Free:
		err := ctx.Free(arch.Addr(f.Regs[arch.EBX]))
		f.Regs[arch.EAX] = result(0, err)
	case Ioctl:
		ret, err := ctx.Ioctl(int(f.Regs[arch.EBX]), int(f.Regs[arch.ECX]), f.Regs[arch.EDX])
		f.Regs[arch.EAX] = result(ret, err)
	default:
		f.Regs[arch.EAX] = errStatus
	}
}

func result(v uint32, err error) uint32 {
	if err != nil {
		return errStatus
	}

	return v
}
