package proc

import (
	"errors"
	"fmt"

	"github.com/quark-os/quark/internal/arch"
	"github.com/quark-os/quark/internal/fs"
	"github.com/quark-os/quark/internal/paging"
	"github.com/quark-os/quark/internal/slab"
)

// Context is the surface a running [Program] (or the syscall dispatcher
// acting on its behalf) uses to perform the thirteen syscalls a process may
// make. It is bound to one PCB for the program's entire run.
type Context struct {
	table *Table
	pcb   *PCB
}

// PCB returns the process this context belongs to, for collaborators (the
// scheduler, the syscall dispatcher) that need the underlying slot.
func (c *Context) PCB() *PCB { return c.pcb }

// Halt implements syscall 1: it never returns to the caller, unwinding
// instead through a panic the enclosing [Table.run] recovers.
func (c *Context) Halt(status int) {
	panic(haltSignal{status: status & 0xff})
}

// Execute implements syscall 2: execute(cmd), recursively.
func (c *Context) Execute(command string) (int, error) {
	return c.table.Execute(c.pcb, command)
}

// ErrInvalidFD is returned for a descriptor number outside 0..NumFDs-1 or
// one with no open file.
var ErrInvalidFD = errors.New("proc: invalid file descriptor")

// Read implements syscall 3. fd 1 (stdout) can never be read from.
func (c *Context) Read(fd int, buf []byte) (int, error) {
	if fd == 1 {
		return -1, fmt.Errorf("%w: fd 1 is write-only", ErrInvalidFD)
	}

	c.pcb.mut.Lock()
	ok := c.pcb.fdInUse(fd)
	ops := c.pcb.openFiles[fd].ops
	c.pcb.mut.Unlock()

	if !ok {
		return -1, fmt.Errorf("%w: %d", ErrInvalidFD, fd)
	}

	return ops.Read(buf)
}

// Write implements syscall 4. fd 0 (stdin) can never be written to.
func (c *Context) Write(fd int, buf []byte) (int, error) {
	if fd == 0 {
		return -1, fmt.Errorf("%w: fd 0 is read-only", ErrInvalidFD)
	}

	c.pcb.mut.Lock()
	ok := c.pcb.fdInUse(fd)
	ops := c.pcb.openFiles[fd].ops
	c.pcb.mut.Unlock()

	if !ok {
		return -1, fmt.Errorf("%w: %d", ErrInvalidFD, fd)
	}

	return ops.Write(buf)
}

// Open implements syscall 5: it consults the file-system dentry's type to
// pick a vtable (rtc, directory, or regular file), binds a fresh
// descriptor, and calls its Open.
func (c *Context) Open(path string) (int, error) {
	fd := c.pcb.allocFD()
	if fd < 0 {
		return -1, fmt.Errorf("%w: open-file table full", ErrInvalidFD)
	}

	dentry, err := c.table.fsImage.ReadDentryByName(path)
	if err != nil {
		return -1, err
	}

	var ops FileOps

	switch dentry.Type {
	case fs.TypeRTC:
		ops = &rtcFileOps{ctl: c.table.rtc, terminalID: c.pcb.terminalID}
	case fs.TypeDirectory:
		ops = &directoryFileOps{img: c.table.fsImage}
	default:
		ops = &regularFileOps{img: c.table.fsImage, desc: &c.pcb.openFiles[fd]}
	}

	if err := ops.Open(path); err != nil {
		return -1, err
	}

	c.pcb.mut.Lock()
	c.pcb.openFiles[fd] = descriptor{ops: ops, inodeRef: dentry.Inode, inUse: true}
	c.pcb.mut.Unlock()

	return fd, nil
}

// Close implements syscall 6: fd 0 and 1 may never be closed.
func (c *Context) Close(fd int) error {
	if fd == 0 || fd == 1 {
		return fmt.Errorf("%w: cannot close stdio", ErrInvalidFD)
	}

	c.pcb.mut.Lock()
	defer c.pcb.mut.Unlock()

	if !c.pcb.fdInUse(fd) {
		return fmt.Errorf("%w: %d", ErrInvalidFD, fd)
	}

	ops := c.pcb.openFiles[fd].ops
	c.pcb.openFiles[fd] = descriptor{}

	return ops.Close()
}

// ErrArgsTooLong is returned by GetArgs when the saved command tail does
// not fit in the caller's buffer.
var ErrArgsTooLong = errors.New("proc: args do not fit buffer")

// GetArgs implements syscall 7.
func (c *Context) GetArgs(buf []byte) error {
	args := c.pcb.Args()
	if len(args)+1 > len(buf) {
		return ErrArgsTooLong
	}

	copy(buf, args)
	buf[len(args)] = 0

	return nil
}

// ErrVidmapRange is returned when the caller's output pointer does not lie
// within its own user super-page.
var ErrVidmapRange = errors.New("proc: vidmap output pointer out of range")

// Vidmap implements syscall 8: it activates the vidmap window for this
// process's terminal and reports the user-visible address it was mapped
// at.
func (c *Context) Vidmap(out arch.Addr) (arch.Addr, error) {
	base := paging.UserSuperBase
	top := base + arch.SuperPageSize

	if out < base || out >= top {
		return 0, ErrVidmapRange
	}

	c.pcb.directory.ActivateVidmap()
	c.pcb.vidmapActive = true

	return paging.UserVideoBase, nil
}

// ErrReserved is returned by the two placeholder signal syscalls.
var ErrReserved = errors.New("proc: reserved syscall")

// SetHandler implements syscall 9: reserved, always fails.
func (c *Context) SetHandler() error { return ErrReserved }

// Sigreturn implements syscall 10: reserved, always fails.
func (c *Context) Sigreturn() error { return ErrReserved }

// ErrHeapExhausted is returned when a process has mapped every page in its
// heap window and Malloc is called again.
var ErrHeapExhausted = errors.New("proc: user heap window exhausted")

// Malloc implements syscall 11: it allocates from the slab region, then maps
// the backing page into the caller's heap window at 136 MiB via
// [paging.Directory.MapPage], and returns the mapped, user-accessible
// address rather than the raw (supervisor-only) slab address — the
// page-table bookkeeping the reference kmalloc's KMEM_USER path performs
// with kptr += USER_SPACE_HEAP_OFFSET.
func (c *Context) Malloc(size uint32) (arch.Addr, error) {
	phys, err := c.table.allocator.Malloc(size, slab.Flags{User: true})
	if err != nil {
		return 0, err
	}

	pageVA, ok := c.pcb.allocHeapPage()
	if !ok {
		return 0, ErrHeapExhausted
	}

	offset := phys - phys.Page()

	if err := c.pcb.directory.MapPage(pageVA, phys, paging.Access{
		User:     true,
		Writable: true,
		Present:  true,
		Backing:  paging.BackingSlab,
	}); err != nil {
		return 0, err
	}

	return pageVA + offset, nil
}

// Free implements syscall 12: it takes an address [Context.Malloc]
// returned, translates it through the caller's heap window back to the slab
// address, and returns that object to the allocator.
func (c *Context) Free(addr arch.Addr) error {
	phys, _, err := c.pcb.directory.Translate(addr, arch.User)
	if err != nil {
		return err
	}

	return c.table.allocator.Free(phys, slab.Flags{User: true})
}

// Ioctl implements syscall 13: it delegates to the fd's vtable if the
// vtable supports device control, otherwise fails.
func (c *Context) Ioctl(fd int, cmd int, arg uint32) (uint32, error) {
	c.pcb.mut.Lock()
	ok := c.pcb.fdInUse(fd)
	ops := c.pcb.openFiles[fd].ops
	c.pcb.mut.Unlock()

	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrInvalidFD, fd)
	}

	ioctl, ok := ops.(IoctlOps)
	if !ok {
		return 0, fmt.Errorf("%w: fd %d has no ioctl", ErrInvalidFD, fd)
	}

	return ioctl.Ioctl(cmd, arg)
}
