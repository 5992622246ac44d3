// Package arch defines the fixed-width types and CPU-level constants shared
// by every layer of the kernel simulator: addresses, privilege levels, the
// EFLAGS-equivalent status word, and the shape of an IRET frame.
//
// The real IA-32 core executes these concepts in silicon; here they are
// plain Go values the rest of the simulator reads and mutates in their
// place.
package arch

import "fmt"

// Addr is a 32-bit linear (virtual) or physical address.
type Addr uint32

func (a Addr) String() string { return fmt.Sprintf("%#08x", uint32(a)) }

// Page returns the address truncated to its containing 4 KiB page boundary.
func (a Addr) Page() Addr { return a &^ (PageSize - 1) }

// SuperPage returns the address truncated to its containing 4 MiB boundary.
func (a Addr) SuperPage() Addr { return a &^ (SuperPageSize - 1) }

// Sizes of the two page granularities this kernel maps.
const (
	PageSize      = Addr(4 * 1024)
	SuperPageSize = Addr(4 * 1024 * 1024)
)

// Privilege is the CPU ring a piece of code executes with. The simulator
// only distinguishes the two rings the kernel actually uses.
type Privilege uint8

const (
	Supervisor Privilege = iota // Ring 0.
	User                        // Ring 3.
)

func (p Privilege) String() string {
	if p == Supervisor {
		return "supervisor"
	}

	return "user"
}

// EFLAGS models the subset of the x86 flags register the simulator cares
// about: the interrupt-enable flag. Exception and critical-section code
// saves and restores it exactly as the common linkage describes.
type EFLAGS uint32

const (
	// FlagIF is the interrupt-enable flag. Interrupt gates clear it on
	// entry; trap gates leave it alone.
	FlagIF EFLAGS = 1 << 9
)

func (f EFLAGS) InterruptsEnabled() bool { return f&FlagIF != 0 }

func (f EFLAGS) String() string {
	state := "IF=0"
	if f.InterruptsEnabled() {
		state = "IF=1"
	}

	return fmt.Sprintf("%#08x (%s)", uint32(f), state)
}

// Selector is a segment selector loaded into a segment register. The
// simulator only needs to distinguish the four selectors the kernel and the
// user programs use; it does not model a real GDT.
type Selector uint16

const (
	KernelCodeSelector Selector = 0x0008
	KernelDataSelector Selector = 0x0010
	UserCodeSelector   Selector = 0x001b // RPL 3
	UserDataSelector   Selector = 0x0023 // RPL 3
)

// IRETFrame is the register frame an IRET instruction consumes to transfer
// control, privilege, and stack from one context to another. execute builds
// one to drop a freshly loaded program into user mode; the interrupt/
// exception/syscall linkage builds one on every trap into the kernel.
type IRETFrame struct {
	EIP    Addr     // Instruction to resume at.
	CS     Selector // Code segment for that instruction.
	EFLAGS EFLAGS   // Flags to restore.
	ESP    Addr     // Stack pointer, only present when privilege changes.
	SS     Selector // Stack segment, only present when privilege changes.
}

func (f IRETFrame) String() string {
	return fmt.Sprintf("IRET{EIP:%s CS:%#04x EFLAGS:%s ESP:%s SS:%#04x}",
		f.EIP, uint16(f.CS), f.EFLAGS, f.ESP, uint16(f.SS))
}

// GPR identifies one of the general-purpose registers the syscall ABI and
// the saved interrupt frame both reference by name.
type GPR uint8

const (
	EAX GPR = iota
	EBX
	ECX
	EDX
	ESI
	EDI
	EBP
	ESP
	NumGPR
)

// RegisterFile is the set of general purpose registers saved by the common
// interrupt/syscall linkage.
type RegisterFile [NumGPR]uint32

func (rf RegisterFile) String() string {
	names := [NumGPR]string{"EAX", "EBX", "ECX", "EDX", "ESI", "EDI", "EBP", "ESP"}

	s := ""
	for i, v := range rf {
		s += fmt.Sprintf("%s:%#08x ", names[i], v)
	}

	return s
}
