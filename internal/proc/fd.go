package proc

import "errors"

// NumFDs is the fixed per-process open-file table size, K=8. Slots 0 and 1
// are reserved for stdin/stdout, bound to the owning terminal.
const NumFDs = 8

// ErrBadFD names an out-of-range or unused descriptor. The syscalls in this
// package report that case with [ErrInvalidFD]; nothing here returns ErrBadFD.
var ErrBadFD = errors.New("proc: bad file descriptor")

// FileOps is the type-erased vtable a descriptor binds to. The core knows
// four flavors: terminal, rtc, regular file, directory.
type FileOps interface {
	Open(name string) error
	Close() error
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
}

// IoctlOps is implemented by vtables that also expose a device control
// operation (the terminal's mode and audio codes, a regular file's
// seek and backspace-mode toggles). The rtc vtable has none.
type IoctlOps interface {
	Ioctl(cmd int, arg uint32) (uint32, error)
}

// descriptor is one entry in a PCB's open-file table.
type descriptor struct {
	ops      FileOps
	inodeRef uint32
	filePos  uint32
	inUse    bool

	// backspaceMode is "delete mode" (SDM) toggled by a regular file's
	// ioctl: a successful write would move filePos backward instead of
	// forward. The image here is read-only, so a write never succeeds to
	// observe it, but the toggle itself is still tracked.
	backspaceMode bool
}
