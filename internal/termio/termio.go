// Package termio bridges a real OS terminal — raw mode via golang.org/x/term,
// termios tuning via golang.org/x/sys/unix — to one simulated console's line
// discipline and 25x80 screen grid, for the interactive demo command.
//
// Console plays the role any raw-mode terminal bridge does, generalized from
// a single keyboard/display register pair to a [term.TCB]'s PushKey line
// discipline and Snapshot screen buffer.
package termio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
	xterm "golang.org/x/term"

	"github.com/quark-os/quark/internal/log"
	vterm "github.com/quark-os/quark/internal/term"
)

// ErrNoTTY is returned when the given input stream is not a terminal, so raw
// mode and the termios tuning this package needs cannot be applied.
var ErrNoTTY = errors.New("termio: not a TTY")

// Console bridges one real terminal to a [vterm.Manager]: it forwards
// keystrokes read from in to whichever of the manager's terminals is active,
// and redraws that terminal's screen to out whenever it changes.
type Console struct {
	in, out *os.File
	fd      int
	state   *xterm.State

	terminals *vterm.Manager

	log *log.Logger
}

// NewConsole puts in into raw mode and sets its termios VMIN/VTIME so reads
// return one byte at a time with no line buffering (VMIN=1, VTIME=0).
// Callers must call [Console.Restore] when done.
func NewConsole(in, out *os.File, terminals *vterm.Manager) (*Console, error) {
	fd := int(in.Fd())

	if !xterm.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	state, err := xterm.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTTY, err)
	}

	c := &Console{
		in:        in,
		out:       out,
		fd:        fd,
		state:     state,
		terminals: terminals,
		log:       log.DefaultLogger(),
	}

	if err := c.setTerminalParams(1, 0); err != nil {
		_ = xterm.Restore(fd, state)
		return nil, err
	}

	return c, nil
}

func (c *Console) setTerminalParams(vmin, vtime byte) error {
	termios, err := unix.IoctlGetTermios(c.fd, getTermiosIoctl)
	if err != nil {
		return fmt.Errorf("termio: get termios: %w", err)
	}

	termios.Cc[unix.VMIN] = vmin
	termios.Cc[unix.VTIME] = vtime

	if err := unix.IoctlSetTermios(c.fd, setTermiosIoctl, termios); err != nil {
		return fmt.Errorf("termio: set termios: %w", err)
	}

	return nil
}

// Restore returns the terminal to the state it was in before [NewConsole].
func (c *Console) Restore() error {
	return xterm.Restore(c.fd, c.state)
}

// Run forwards keystrokes to the manager's active terminal and redraws the
// screen on every change, blocking until ctx is cancelled or reading from
// the console fails.
func (c *Console) Run(ctx context.Context) error {
	redraw := make(chan struct{}, 1)

	c.terminals.Listen(func(active int, screen [vterm.Rows][vterm.Cols]vterm.Cell) {
		select {
		case redraw <- struct{}{}:
		default:
		}
	})

	keyErrs := make(chan error, 1)
	go func() {
		keyErrs <- c.readKeys(ctx)
	}()

	c.paint()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-keyErrs:
			return err
		case <-redraw:
			c.paint()
		}
	}
}

// readKeys reads raw bytes from the console one at a time, translating them
// into [vterm.Key] values and pushing them to whichever terminal is
// currently active, until ctx is cancelled or the read fails.
func (c *Console) readKeys(ctx context.Context) error {
	r := bufio.NewReader(c.in)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		b, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("termio: read: %w", err)
		}

		c.push(b)
	}
}

// push translates one raw input byte into the active terminal's line
// discipline. There is no PS/2 scan code to decode here — the console
// forwards already-decoded bytes straight to [vterm.TCB.PushKey], unlike
// [vterm.Manager.HandleScancode]'s machine-keyboard path.
func (c *Console) push(b byte) {
	active := c.terminals.Active()

	switch b {
	case '\r', '\n':
		active.PushKey(vterm.Key{Enter: true, SwitchTo: -1})
	case 0x7f, 0x08:
		active.PushKey(vterm.Key{Backspace: true, SwitchTo: -1})
	case '\t':
		active.PushKey(vterm.Key{Tab: true, SwitchTo: -1})
	default:
		if b >= 0x20 && b < 0x7f {
			active.PushKey(vterm.Key{Rune: rune(b)})
		}
	}
}

// paint clears the real screen and redraws the active terminal's full
// 25x80 grid. The simulator has no notion of a damage region, so every
// redraw repaints the whole screen, exactly as a full VGA text-mode refresh
// would.
func (c *Console) paint() {
	screen := c.terminals.Active().Snapshot()

	var b strings.Builder

	b.WriteString("\x1b[H\x1b[2J")

	for y := 0; y < vterm.Rows; y++ {
		for x := 0; x < vterm.Cols; x++ {
			ch := screen[y][x].Char
			if ch == 0 {
				ch = ' '
			}

			b.WriteByte(ch)
		}

		if y < vterm.Rows-1 {
			b.WriteString("\r\n")
		}
	}

	fmt.Fprint(c.out, b.String())
}
