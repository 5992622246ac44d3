package main_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/quark-os/quark/internal/fs"
	"github.com/quark-os/quark/internal/kernel"
	"github.com/quark-os/quark/internal/log"
	"github.com/quark-os/quark/internal/proc"
)

// buildImage assembles a minimal fs image containing one regular file per
// name, each holding a synthetic ELF header only.
func buildImage(t *testing.T, names ...string) []byte {
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

	return buf.Bytes()
}

// TestBootRunsRootShells boots a machine end to end — the file system image,
// paging, interrupts, process table, and the three terminals' root shells —
// and runs it for a short, bounded time, the way a real boot would run
// forever until halted externally.
func TestBootRunsRootShells(tt *testing.T) {
	t := testHarness{tt}

	log.LogLevel.Set(log.Error)

	raw := buildImage(tt, "shell")

	halted := make(chan struct{}, 3)

	m, err := kernel.Boot(raw, map[string]proc.Program{
		"shell": func(ctx *proc.Context) int {
			select {
			case halted <- struct{}{}:
			default:
			}

			ctx.Halt(0)

			return 0
		},
	})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	ctx, cancel := t.Context()
	defer cancel()

	start := time.Now()
	err = m.Run(ctx)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		t.Logf("test: ok, elapsed: %s", elapsed)
	default:
		t.Errorf("test: error: %s, elapsed: %s", err, elapsed)
	}

	select {
	case <-halted:
	default:
		t.Error("no root shell ever ran")
	}
}

type testHarness struct {
	*testing.T
}

// timeout is how long to let the machine run. It is very likely every root
// shell has run and halted (and been respawned) many times over well before
// this elapses.
const timeout = 1 * time.Second

func (testHarness) Context() (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
