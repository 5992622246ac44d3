// Package slab simulates the kernel's fixed-size object allocator: a 4 MiB
// region partitioned into per-size-class caches, each backed by pages with
// a bitmap of free/allocated objects. It stands in for the hand-rolled
// slab allocator the reference kernel bolts onto its physical memory map;
// its locking discipline (one mutex per cache, plus an "atomic" variant for
// handler-context callers) is ported directly from the reference description of
// malloc/free rather than generalized from an existing allocator.
package slab

import (
	"errors"
	"fmt"
	"sync"

	"github.com/quark-os/quark/internal/arch"
	"github.com/quark-os/quark/internal/log"
)

// Base and Size describe the physical region the slab allocator owns:
// 4 MiB starting at physical 32 MiB, matching the cache page table every
// process directory maps read/write, supervisor-only.
const (
	Base = arch.Addr(32 * 1024 * 1024)
	Size = arch.Addr(4 * 1024 * 1024)

	pagesPerRegion = uint32(Size / arch.PageSize)
)

// classSizes are the fixed object sizes the allocator serves. A request is
// rounded up to the smallest class that fits it.
var classSizes = [...]uint32{1, 4, 8, 16, 32, 64, 256, 512}

// MaxObjectSize is the largest request kmalloc can satisfy from a cache;
// anything bigger falls through to the stub page allocator.
const MaxObjectSize = 512

// Flags tags a request the way a map_page flag set does: which
// privilege level the allocation serves and whether the caller needs the
// atomic (interrupts-disabled) path because it runs in handler context.
type Flags struct {
	Atomic bool
	User   bool
}

// page is one 4 KiB page within a cache: a bitmap of which object slots are
// taken, plus a redundant byte-per-slot marker — a belt-and-suspenders
// scheme the reference allocator itself uses, not something this port
// invented.
type page struct {
	bitmap []uint64
	marks  []byte // 0 = free, 1 = allocated; mirrors the bitmap bit.
}

func newPage(objectsPerPage uint32) *page {
	return &page{
		bitmap: make([]uint64, (objectsPerPage+63)/64),
		marks:  make([]byte, objectsPerPage),
	}
}

// cache serves one fixed object size from its own slice of the slab
// region, one page at a time.
type cache struct {
	mut sync.Mutex

	objectSize     uint32
	objectsPerPage uint32
	base           arch.Addr
	pageCount      uint32
	pages          []*page
}

func newCache(objectSize uint32, base arch.Addr, regionSize arch.Addr) *cache {
	objectsPerPage := uint32(arch.PageSize) / objectSize
	pageCount := uint32(regionSize) / uint32(arch.PageSize)

	c := &cache{
		objectSize:     objectSize,
		objectsPerPage: objectsPerPage,
		base:           base,
		pageCount:      pageCount,
		pages:          make([]*page, pageCount),
	}

	for i := range c.pages {
		c.pages[i] = newPage(objectsPerPage)
	}

	return c
}

// alloc finds the first free object slot across the cache's pages, marks it
// taken, and returns its address.
func (c *cache) alloc() (arch.Addr, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	for pageIdx, p := range c.pages {
		for obj := uint32(0); obj < c.objectsPerPage; obj++ {
			word, bit := obj/64, obj%64
			if p.bitmap[word]&(1<<bit) != 0 {
				continue
			}

			p.bitmap[word] |= 1 << bit
			p.marks[obj] = 1

			addr := c.base + arch.Addr(uint32(pageIdx))*arch.PageSize + arch.Addr(obj*c.objectSize)

			return addr, nil
		}
	}

	return 0, ErrExhausted
}

// free clears the slot an address decodes to.
func (c *cache) free(addr arch.Addr) error {
	offset := uint32(addr - c.base)
	pageIdx := offset / uint32(arch.PageSize)
	withinPage := offset % uint32(arch.PageSize)
	obj := withinPage / c.objectSize

	if pageIdx >= c.pageCount || withinPage%c.objectSize != 0 {
		return fmt.Errorf("%w: %s misaligned for size %d", ErrBadPointer, addr, c.objectSize)
	}

	c.mut.Lock()
	defer c.mut.Unlock()

	p := c.pages[pageIdx]
	word, bit := obj/64, obj%64

	if p.bitmap[word]&(1<<bit) == 0 {
		return fmt.Errorf("%w: %s double free", ErrBadPointer, addr)
	}

	p.bitmap[word] &^= 1 << bit
	p.marks[obj] = 0

	return nil
}

// Allocator is the full 4 MiB slab region, one cache per size class. kfree
// decodes which cache owns a pointer from the partition it falls in,
// mirroring "decode the cache index from the physical address"
// scheme over a per-cache contiguous slice of the region rather than a
// shared bit-field, a design decision recorded as an Open Question
// resolution.
type Allocator struct {
	caches []*cache

	// atomicMut models the saved-and-restored interrupt flag an atomic
	// request holds around its cache operation, in place of a real spin
	// lock. Malloc and Free take it only when Flags.Atomic is set.
	atomicMut sync.Mutex

	log *log.Logger
}

// ErrExhausted is returned when a cache has no free object slots left.
var ErrExhausted = errors.New("slab: cache exhausted")

// ErrTooLarge is returned for a request above MaxObjectSize; the reference
// kernel's buddy page allocator that would serve it is a stub that always
// fails.
var ErrTooLarge = errors.New("slab: request exceeds 512 bytes; page allocator is unimplemented")

// ErrBadPointer is returned by Free for an address that doesn't decode to a
// valid, currently-allocated object.
var ErrBadPointer = errors.New("slab: bad pointer")

// New partitions the slab region evenly across the fixed size classes.
func New() *Allocator {
	a := &Allocator{log: log.DefaultLogger()}

	regionSize := Size / arch.Addr(len(classSizes))
	base := Base

	for _, size := range classSizes {
		a.caches = append(a.caches, newCache(size, base, regionSize))
		base += regionSize
	}

	return a
}

// classFor returns the cache index serving a given request size, or -1 if
// no class fits (the request must fall through to the page allocator).
func classFor(size uint32) int {
	for i, s := range classSizes {
		if size <= s {
			return i
		}
	}

	return -1
}

// Malloc rounds size up to the nearest object-size class and returns an
// address from that cache. Requests above MaxObjectSize return ErrTooLarge,
// per the stubbed page allocator, left as an open question.
func (a *Allocator) Malloc(size uint32, flags Flags) (arch.Addr, error) {
	idx := classFor(size)
	if idx < 0 {
		return 0, ErrTooLarge
	}

	if flags.Atomic {
		a.atomicMut.Lock()
		defer a.atomicMut.Unlock()
	}

	addr, err := a.caches[idx].alloc()
	if err != nil {
		return 0, fmt.Errorf("slab: class %d: %w", classSizes[idx], err)
	}

	a.log.Debug("slab: malloc", "size", size, "class", classSizes[idx], "addr", addr)

	return addr, nil
}

// Free releases a previously-allocated address, locating its owning cache
// by which partition of the region the address falls in.
func (a *Allocator) Free(addr arch.Addr, flags Flags) error {
	if flags.Atomic {
		a.atomicMut.Lock()
		defer a.atomicMut.Unlock()
	}

	for _, c := range a.caches {
		regionEnd := c.base + arch.Addr(c.pageCount)*arch.PageSize
		if addr >= c.base && addr < regionEnd {
			return c.free(addr)
		}
	}

	return fmt.Errorf("%w: %s outside slab region", ErrBadPointer, addr)
}
