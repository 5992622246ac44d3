package syscall

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/quark-os/quark/internal/arch"
	"github.com/quark-os/quark/internal/fs"
	"github.com/quark-os/quark/internal/paging"
	"github.com/quark-os/quark/internal/proc"
	"github.com/quark-os/quark/internal/rtc"
	"github.com/quark-os/quark/internal/slab"
	"github.com/quark-os/quark/internal/term"
)

// buildImage assembles a minimal fs image containing one regular file per
// name, each holding a synthetic ELF header only.
func buildImage(t *testing.T, names ...string) *fs.Image {
	t.Helper()

	buf := new(bytes.Buffer)

	type header struct {
		DirCount, InodeCount, DataCount uint32
		Reserved                        [52]byte
	}

	n := uint32(len(names))

	if err := binary.Write(buf, binary.LittleEndian, header{DirCount: n, InodeCount: n + 1, DataCount: n + 1}); err != nil {
		t.Fatal(err)
	}

	for i, name := range names {
		dentry := make([]byte, 64)
		copy(dentry[:32], name)
		binary.LittleEndian.PutUint32(dentry[32:], uint32(fs.TypeRegular))
		binary.LittleEndian.PutUint32(dentry[36:], uint32(i+1))
		buf.Write(dentry)
	}

	buf.Write(make([]byte, 4096-buf.Len()))

	elfContents := append([]byte{0x7f, 'E', 'L', 'F'}, make([]byte, 28-4)...)
	binary.LittleEndian.PutUint32(elfContents[24:], 0x08048000)

	buf.Write(make([]byte, 4096)) // Inode 0, reserved.

	for i := range names {
		inodeBlock := make([]byte, 4096)
		binary.LittleEndian.PutUint32(inodeBlock, uint32(len(elfContents)))
		binary.LittleEndian.PutUint32(inodeBlock[4:], uint32(i+1))
		buf.Write(inodeBlock)
	}

	buf.Write(make([]byte, 4096)) // Data block 0, unused: index 0 marks an empty slot.

	for range names {
		block := make([]byte, 4096)
		copy(block, elfContents)
		buf.Write(block)
	}

	img, err := fs.Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("fs.Parse: %v", err)
	}

	return img
}

func newTestTable(t *testing.T, names ...string) *proc.Table {
	t.Helper()

	tbl, _ := newTestTableWithTerminals(t, names...)
	return tbl
}

func newTestTableWithTerminals(t *testing.T, names ...string) (*proc.Table, *term.Manager) {
	t.Helper()

	img := buildImage(t, names...)
	terminals := term.NewManager()
	rtcCtl := rtc.New(terminals)
	bus := paging.NewBus()
	allocator := slab.New()

	return proc.NewTable(img, terminals, rtcCtl, bus, allocator), terminals
}

func TestDispatchMallocAndFreeRoundTrip(t *testing.T) {
	tbl := newTestTable(t, "shell")

	var gotAddr uint32

	tbl.Register("shell", func(ctx *proc.Context) int {
		f := &Frame{}
		f.Regs[arch.EAX] = uint32(Malloc)
		f.Regs[arch.EBX] = 16

		Dispatch(ctx, f)
		gotAddr = f.Regs[arch.EAX]

		if gotAddr == 0xffffffff {
			t.Error("malloc syscall reported failure")
		}

		freeFrame := &Frame{}
		freeFrame.Regs[arch.EAX] = uint32(Free)
		freeFrame.Regs[arch.EBX] = gotAddr

		Dispatch(ctx, freeFrame)
		if freeFrame.Regs[arch.EAX] == 0xffffffff {
			t.Error("free syscall reported failure")
		}

		ctx.Halt(0)
		return 0
	})

	if _, err := tbl.ExecuteRoot(0, "shell"); err != nil {
		t.Fatalf("ExecuteRoot: %v", err)
	}

	if gotAddr == 0 {
		t.Fatal("malloc never ran")
	}
}

func TestDispatchWriteThenReadThroughStdio(t *testing.T) {
	tbl, terminals := newTestTableWithTerminals(t, "shell")

	var wrote, read int
	var readBuf [3]byte

	tbl.Register("shell", func(ctx *proc.Context) int {
		writeFrame := &Frame{Buf: []byte("hi\n")}
		writeFrame.Regs[arch.EAX] = uint32(Write)
		writeFrame.Regs[arch.EBX] = 1

		Dispatch(ctx, writeFrame)
		wrote = int(int32(writeFrame.Regs[arch.EAX]))

		readFrame := &Frame{Buf: readBuf[:]}
		readFrame.Regs[arch.EAX] = uint32(Read)
		readFrame.Regs[arch.EBX] = 0

		done := make(chan struct{})
		go func() {
			Dispatch(ctx, readFrame)
			read = int(int32(readFrame.Regs[arch.EAX]))
			close(done)
		}()

		for _, c := range "ok\n" {
			if c == '\n' {
				terminals.Terminal(0).PushKey(term.Key{Enter: true, SwitchTo: -1})
				continue
			}

			terminals.Terminal(0).PushKey(term.Key{Rune: c})
		}

		<-done

		ctx.Halt(0)
		return 0
	})

	if _, err := tbl.ExecuteRoot(0, "shell"); err != nil {
		t.Fatalf("ExecuteRoot: %v", err)
	}

	if wrote != 3 {
		t.Fatalf("write returned %d, want 3", wrote)
	}

	if read != 3 {
		t.Fatalf("read returned %d, want 3", read)
	}
}

func TestDispatchUnknownNumberReportsFailure(t *testing.T) {
	tbl := newTestTable(t, "shell")

	var eax uint32

	tbl.Register("shell", func(ctx *proc.Context) int {
		f := &Frame{}
		f.Regs[arch.EAX] = 99

		Dispatch(ctx, f)
		eax = f.Regs[arch.EAX]

		ctx.Halt(0)
		return 0
	})

	if _, err := tbl.ExecuteRoot(0, "shell"); err != nil {
		t.Fatalf("ExecuteRoot: %v", err)
	}

	if eax != 0xffffffff {
		t.Fatalf("eax = %#x, want 0xffffffff for an unknown syscall number", eax)
	}
}
