package cmd

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/quark-os/quark/internal/cli"
	"github.com/quark-os/quark/internal/fs"
	"github.com/quark-os/quark/internal/kernel"
	"github.com/quark-os/quark/internal/log"
	"github.com/quark-os/quark/internal/proc"
	"github.com/quark-os/quark/internal/term"
)

// Demo is a demonstration command.
func Demo() cli.Command {
	return new(demo)
}

type demo struct {
	debug bool
	quiet bool
}

func (demo) Description() string {
	return "boot the kernel and run a scripted shell session"
}

func (d demo) Usage(out io.Writer) error {
	var err error
	_, err = fmt.Fprintln(out, `
demo [ -debug | -quiet ]

Boot the simulated kernel, run a scripted root shell that executes one child
program against the file system image, and print the resulting terminal
screen.`)

	return err
}

func (d *demo) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)

	fs.BoolVar(&d.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&d.quiet, "quiet", false, "enable quiet output, terminal screen only")

	return fs
}

func (d demo) Run(ctx context.Context, args []string, out io.Writer, _ *log.Logger) int {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if d.quiet {
		log.LogLevel.Set(log.Error)
	}

	if d.debug {
		log.LogLevel.Set(log.Debug)
	}

	logger := log.NewFormattedLogger(os.Stdout)
	log.SetDefault(logger)
	log.DefaultLogger = func() *log.Logger {
		return logger
	}

	logger.Info("booting machine")

	done := make(chan struct{})

	programs := map[string]proc.Program{
		"cat":   catProgram(),
		"shell": shellProgram(done),
	}

	m, err := kernel.Boot(buildDemoImage(), programs)
	if err != nil {
		logger.Error(err.Error())
		return 2
	}

	go func() {
		err := m.Run(ctx)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			logger.Error(err.Error())
		}
	}()

	select {
	case <-done:
		cancel() // Stop the root shells from respawning before we print.
	case <-ctx.Done():
	}

	printScreen(out, m.Terminals.Terminal(0).Snapshot())

	logger.Info("demo completed")

	return 0
}

// catProgram opens, reads, and writes out the file its command line names,
// exercising the open/read/write/close syscall surface against the file
// system image.
func catProgram() proc.Program {
	return func(c *proc.Context) int {
		fd, err := c.Open(c.PCB().Args())
		if err != nil {
			_, _ = c.Write(1, []byte(err.Error()+"\n"))
			c.Halt(1)
		}

		buf := make([]byte, 256)

		n, err := c.Read(fd, buf)
		if err != nil {
			_, _ = c.Write(1, []byte(err.Error()+"\n"))
			c.Halt(1)
		}

		_, _ = c.Write(1, buf[:n])
		_ = c.Close(fd)

		c.Halt(0)

		return 0
	}
}

// shellProgram greets the terminal, executes "cat" against a file in the
// demo image, reports its exit status, then signals done so the CLI command
// can stop the machine and print the resulting screen instead of letting
// the root shell respawn forever.
func shellProgram(done chan struct{}) proc.Program {
	return func(c *proc.Context) int {
		_, _ = c.Write(1, []byte("quark boot shell\n"))

		status, err := c.Execute("cat frame0.txt")
		if err != nil {
			_, _ = c.Write(1, []byte(err.Error()+"\n"))
		} else {
			_, _ = c.Write(1, []byte(fmt.Sprintf("cat exited %d\n", status)))
		}

		select {
		case <-done:
		default:
			close(done)
		}

		c.Halt(0)

		return 0
	}
}

// printScreen renders a terminal's 25x80 grid as trimmed text lines.
func printScreen(out io.Writer, screen [term.Rows][term.Cols]term.Cell) {
	for y := 0; y < term.Rows; y++ {
		var line strings.Builder

		for x := 0; x < term.Cols; x++ {
			ch := screen[y][x].Char
			if ch == 0 {
				ch = ' '
			}

			line.WriteByte(ch)
		}

		fmt.Fprintln(out, strings.TrimRight(line.String(), " "))
	}
}

// buildDemoImage assembles a minimal read-only file-system image for the
// demo: two executables carrying only a synthetic ELF header (their
// behavior comes from the registered [proc.Program], not from decoding
// their bytes) and one regular text file for "cat" to read.
func buildDemoImage() []byte {
	elfStub := append([]byte{0x7f, 'E', 'L', 'F'}, make([]byte, 24)...)
	binary.LittleEndian.PutUint32(elfStub[24:], 0x08048000)

	files := []struct {
		name string
		data []byte
	}{
		{name: "shell", data: elfStub},
		{name: "cat", data: elfStub},
		{name: "frame0.txt", data: []byte("Hello from the quark file system.\n")},
	}

	buf := new(bytes.Buffer)

	type header struct {
		DirCount, InodeCount, DataCount uint32
		Reserved                        [52]byte
	}

	n := uint32(len(files))
	_ = binary.Write(buf, binary.LittleEndian, header{DirCount: n, InodeCount: n + 1, DataCount: n + 1})

	for i, f := range files {
		dentry := make([]byte, 64)
		copy(dentry[:32], f.name)
		binary.LittleEndian.PutUint32(dentry[32:], uint32(fs.TypeRegular))
		binary.LittleEndian.PutUint32(dentry[36:], uint32(i+1))
		buf.Write(dentry)
	}

	buf.Write(make([]byte, 4096-buf.Len()))

	buf.Write(make([]byte, 4096)) // Inode 0, reserved.

	for i, f := range files {
		inodeBlock := make([]byte, 4096)
		binary.LittleEndian.PutUint32(inodeBlock, uint32(len(f.data)))
		binary.LittleEndian.PutUint32(inodeBlock[4:], uint32(i+1))
		buf.Write(inodeBlock)
	}

	buf.Write(make([]byte, 4096)) // Data block 0, unused: index 0 marks an empty slot.

	for _, f := range files {
		block := make([]byte, 4096)
		copy(block, f.data)
		buf.Write(block)
	}

	return buf.Bytes()
}
