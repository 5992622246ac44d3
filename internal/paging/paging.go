// Package paging simulates the per-process page directory model from
// a fixed-layout directory with an identity-mapped kernel
// range, a 4 MiB user super-page unique to each process slot, and a vidmap
// window that aliases either physical video memory or the owning
// terminal's off-screen buffer.
//
// Real paging is enforced by the MMU on every memory access; the simulator
// instead keeps the directory as an explicit table of entries and answers
// "what is this virtual address mapped to, and is that access allowed"
// directly, resolving a logical address to its backing page or a fault
// without a real bus or MMU underneath it.
package paging

import (
	"errors"
	"fmt"

	"github.com/quark-os/quark/internal/arch"
	"github.com/quark-os/quark/internal/log"
)

// Directory indices named by the layout below.
const (
	EntryKernelLow   = 0  // 0-4 MiB, 4 KiB pages, identity mapped.
	EntryKernelSuper = 1  // 4-8 MiB, 4 MiB super-page.
	EntryCache       = 8  // 32-36 MiB, kernel slab cache, 4 KiB pages.
	EntryUserSuper   = 32 // 128-132 MiB, 4 MiB user program + stack.
	EntryUserVideo   = 33 // 132-132.004 MiB, 4 KiB vidmap window.

	NumDirectoryEntries = 1024
)

// Virtual address space layout constants for this simulator.
const (
	KernelLowBase   = arch.Addr(0)
	KernelSuperBase = arch.Addr(4 * 1024 * 1024)
	CacheBase       = arch.Addr(32 * 1024 * 1024)
	UserSuperBase   = arch.Addr(128 * 1024 * 1024)
	UserVideoBase   = arch.Addr(0x084B8000)
	HeapBase        = arch.Addr(136 * 1024 * 1024)
	HeapTop         = arch.Addr(168 * 1024 * 1024)

	VideoMemPhys = arch.Addr(0xB8000)

	// UserImageBase is where execute copies the program image, per
	// the ELF-like format's fixed load address.
	UserImageBase = arch.Addr(0x08048000)

	// UserStackTop is the initial ESP execute sets for a new process:
	// the top of the 4 MiB user super-page, minus a word, per the fixed
	// load sequence.
	UserStackTop = UserSuperBase + arch.SuperPageSize - 4

	// slotSpan is the per-process physical offset multiplier: process id
	// N's super-page backs virtual 128 MiB with physical 8 MiB + N*4MiB.
	slotSpan  = arch.Addr(4 * 1024 * 1024)
	slotBase0 = arch.Addr(8 * 1024 * 1024)
)

// Access describes the permissions and granularity of an entry, the
// "tagged set" map_page takes as flags.
type Access struct {
	Super    bool // 4 MiB super-page vs. 4 KiB page-table entry.
	User     bool // User-accessible vs. supervisor-only.
	Writable bool
	Present  bool

	// Backing names which allocator owns the memory behind this mapping,
	// the {slab|buddy} tag map_page's flag set also carries. It has no
	// effect on translation; it is recorded so a caller mapping a page can
	// be required to say where it came from.
	Backing Backing
}

// Backing tags the allocator a MapPage caller got its physical page from.
type Backing int

const (
	backingUnspecified Backing = iota
	BackingSlab
	BackingBuddy
)

// entry is one directory slot: either a super-page mapping or a pointer to
// a 4 KiB page table, modeled directly rather than via a second indirection
// table, since every table this kernel uses (kernel low, cache, user video)
// has a single well-known purpose.
type entry struct {
	access Access
	target arch.Addr          // Physical base this entry (or its pages) map to.
	pages  map[arch.Addr]page // 4 KiB sub-pages, keyed by page-aligned VA, for non-super entries.
}

type page struct {
	phys    arch.Addr
	access  Access
	present bool
}

// Directory is one process's page directory: the four tables listed above,
// represented as a sparse map of populated entries plus the slot-specific
// bookkeeping (owning process, vidmap state) the rest of the kernel needs
// to reason about remaps.
type Directory struct {
	id      int // Process slot, 0..N-1; determines the user super-page's physical target.
	entries map[int]*entry

	vidmapActive bool
	vidmapTarget arch.Addr // Either VideoMemPhys or a terminal's screen buffer address.

	log *log.Logger
}

// errors returned by the paging operations below.
var (
	ErrBadFlags  = errors.New("paging: invalid flag combination")
	ErrNotMapped = errors.New("paging: address not mapped")
	errAccess    = errors.New("paging: access violation")
)

// New creates a process's page directory pre-populated with the kernel
// template entries every process shares bit-for-bit (entries 0, 1, 8) and
// the process-unique user super-page at entry 32, per the directory
// invariant.
func New(id int) *Directory {
	d := &Directory{
		id:      id,
		entries: make(map[int]*entry),
		log:     log.DefaultLogger(),
	}

	d.entries[EntryKernelLow] = &entry{
		access: Access{User: false, Writable: true, Present: true},
		pages:  map[arch.Addr]page{},
	}
	d.mapKernelIdentity()

	d.entries[EntryKernelSuper] = &entry{
		access: Access{Super: true, User: false, Writable: true, Present: true},
		target: KernelSuperBase,
	}

	d.entries[EntryCache] = &entry{
		access: Access{User: false, Writable: true, Present: true},
		pages:  map[arch.Addr]page{},
	}

	d.entries[EntryUserSuper] = &entry{
		access: Access{Super: true, User: true, Writable: true, Present: true},
		target: slotBase0 + arch.Addr(id)*slotSpan,
	}

	return d
}

// mapKernelIdentity populates the low 4 MiB identity table, including the
// video page at 0xB8000, matching "entry 0 -> kernel page table
// ... covering 0-4 MiB including video".
func (d *Directory) mapKernelIdentity() {
	low := d.entries[EntryKernelLow]
	for _, va := range []arch.Addr{0, VideoMemPhys} {
		low.pages[va.Page()] = page{phys: va.Page(), access: low.access, present: true}
	}
}

// ID returns the process slot this directory belongs to.
func (d *Directory) ID() int { return d.id }

// UserPhysBase returns the physical address backing this slot's 4 MiB user
// super-page: 8 MiB + id*4 MiB.
func (d *Directory) UserPhysBase() arch.Addr {
	return slotBase0 + arch.Addr(d.id)*slotSpan
}

// SameKernelMappings reports whether two directories agree on the kernel
// entries bit-for-bit, an invariant held across every process.
func SameKernelMappings(a, b *Directory) bool {
	for _, idx := range []int{EntryKernelLow, EntryKernelSuper, EntryCache} {
		ea, eb := a.entries[idx], b.entries[idx]
		if ea.access != eb.access || ea.target != eb.target {
			return false
		}
	}

	return true
}

// MapPage updates or creates the directory/table entry addressed by va.
// access must describe exactly one granularity and one privilege level, be
// marked present (MarkNotPresent is how a mapping is torn down, not a
// not-present MapPage call), and name which allocator backs the page;
// ErrBadFlags rejects anything else.
func (d *Directory) MapPage(va, pa arch.Addr, access Access) error {
	if err := validateAccess(access); err != nil {
		return err
	}

	idx := directoryIndex(va)

	if access.Super {
		d.entries[idx] = &entry{access: access, target: pa.SuperPage()}
		d.log.Debug("paging: mapped super-page", "va", va, "pa", pa)

		return nil
	}

	e, ok := d.entries[idx]
	if !ok || e.pages == nil {
		e = &entry{access: access, pages: map[arch.Addr]page{}}
		d.entries[idx] = e
	}

	e.pages[va.Page()] = page{phys: pa.Page(), access: access, present: true}
	d.log.Debug("paging: mapped page", "va", va, "pa", pa)

	return nil
}

// validateAccess rejects the flag combinations map_page refuses: a mapping
// that isn't Present (use MarkNotPresent instead), and one naming no backing
// allocator at all.
func validateAccess(access Access) error {
	if !access.Present {
		return fmt.Errorf("%w: mapped page must be marked present", ErrBadFlags)
	}

	if access.Backing != BackingSlab && access.Backing != BackingBuddy {
		return fmt.Errorf("%w: backing must be slab or buddy", ErrBadFlags)
	}

	return nil
}

// MarkNotPresent clears the present bit for the page at va. For 4 KiB
// pages it also removes the table entry; backing memory is never freed
// here — this operation alone does not reclaim memory.
func (d *Directory) MarkNotPresent(va arch.Addr) {
	idx := directoryIndex(va)

	e, ok := d.entries[idx]
	if !ok {
		return
	}

	if e.pages == nil {
		e.access.Present = false
		return
	}

	delete(e.pages, va.Page())
}

// Translate resolves a virtual address to its physical target and access
// rights, or ErrNotMapped / an access-control error if the current
// privilege can't reach it. This stands in for the MMU walk a page-fault
// handler would otherwise trigger.
func (d *Directory) Translate(va arch.Addr, priv arch.Privilege) (arch.Addr, Access, error) {
	idx := directoryIndex(va)

	e, ok := d.entries[idx]
	if !ok || !e.access.Present {
		return 0, Access{}, fmt.Errorf("%w: %s", ErrNotMapped, va)
	}

	access := e.access

	var phys arch.Addr
	if e.pages == nil {
		offset := va - arch.Addr(idx)*arch.SuperPageSize
		phys = e.target + offset
	} else {
		p, ok := e.pages[va.Page()]
		if !ok || !p.present {
			return 0, Access{}, fmt.Errorf("%w: %s", ErrNotMapped, va)
		}

		access = p.access
		phys = p.phys + (va - va.Page())
	}

	if priv == arch.User && !access.User {
		return 0, Access{}, fmt.Errorf("%w: %s is supervisor-only", errAccess, va)
	}

	return phys, access, nil
}

// ActivateVidmap aims the vidmap page-table entry (directory entry 33) at
// physical video memory, enabling a process's view of the screen it owns.
func (d *Directory) ActivateVidmap() {
	d.vidmapActive = true
	d.vidmapTarget = VideoMemPhys
	d.entries[EntryUserVideo] = &entry{
		access: Access{User: true, Writable: true, Present: true},
		pages: map[arch.Addr]page{
			UserVideoBase.Page(): {phys: VideoMemPhys, access: Access{User: true, Writable: true, Present: true}, present: true},
		},
	}
}

// RemapVidmap retargets an already-active vidmap window to the given
// off-screen buffer's physical address — used when the process's terminal
// loses foreground status, per activate/deactivate_proc_vidmem.
func (d *Directory) RemapVidmap(target arch.Addr) {
	if !d.vidmapActive {
		return
	}

	d.vidmapTarget = target
	d.entries[EntryUserVideo] = &entry{
		access: Access{User: true, Writable: true, Present: true},
		pages: map[arch.Addr]page{
			UserVideoBase.Page(): {phys: target, access: Access{User: true, Writable: true, Present: true}, present: true},
		},
	}
}

// DeactivateVidmap clears the vidmap entry entirely, per halt's "clear the
// vidmap PTE" step.
func (d *Directory) DeactivateVidmap() {
	d.vidmapActive = false
	delete(d.entries, EntryUserVideo)
}

// VidmapActive reports whether the vidmap window is currently mapped.
func (d *Directory) VidmapActive() bool { return d.vidmapActive }

// directoryIndex returns the top-10-bit directory index for a 4 MiB-grain
// address (the directory indexes 4 MiB super-pages directly, matching
// "kernel supervisor 4 MiB super-page" entries).
func directoryIndex(va arch.Addr) int {
	return int(va / arch.SuperPageSize)
}

// Bus is the interface the CPU/MMU simulator uses to apply a directory
// swap, mediating every access through whichever directory is current.
// LoadDirectory records which directory is "current"; only changes to the
// current directory need a TLB flush, modeled here as a no-op Flush the
// caller can assert was called.
type Bus struct {
	current *Directory
	flushes int

	log *log.Logger
}

// NewBus creates a paging bus with no directory loaded.
func NewBus() *Bus { return &Bus{log: log.DefaultLogger()} }

// LoadDirectory writes CR3 (swaps the current directory) and always
// flushes, matching "every directory swap issues a CR3 reload".
func (b *Bus) LoadDirectory(d *Directory) {
	b.current = d
	b.flushes++
	b.log.Debug("paging: CR3 reload", "pid", d.id)
}

// Current returns the currently loaded directory.
func (b *Bus) Current() *Directory { return b.current }

// FlushIfCurrent issues a TLB flush only if the given directory is the one
// currently loaded — changes to a non-current directory need no flush.
func (b *Bus) FlushIfCurrent(d *Directory) {
	if b.current == d {
		b.flushes++
	}
}

// Flushes returns the number of TLB flushes issued so far, for tests that
// assert on TLB discipline.
func (b *Bus) Flushes() int { return b.flushes }

// Translate resolves va through the currently loaded directory.
func (b *Bus) Translate(va arch.Addr, priv arch.Privilege) (arch.Addr, Access, error) {
	if b.current == nil {
		return 0, Access{}, fmt.Errorf("%w: no directory loaded", ErrNotMapped)
	}

	return b.current.Translate(va, priv)
}

// PageFault is returned by a caller (the CPU simulator) that attempts an
// access Translate rejects; it carries the information a page-fault
// handler logs before terminating the process: the faulting address and
// whether the fault happened in supervisor context.
type PageFault struct {
	Addr      arch.Addr
	Privilege arch.Privilege
	Err       error
}

func (pf *PageFault) Error() string {
	return fmt.Sprintf("paging: page fault at %s (%s): %s", pf.Addr, pf.Privilege, pf.Err)
}

func (pf *PageFault) Unwrap() error { return pf.Err }
