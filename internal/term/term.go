// Package term simulates the three logical consoles (TCBs) the scheduler
// rotates among, and the keyboard/display glue that binds whichever one is
// active to the physical screen: a mutex-guarded device pair with a listener
// list for output and a condition-variable-gated buffer for input,
// generalized from one console to M=3, with an active index that picks
// which one drives physical video and receives keystrokes.
package term

import (
	"fmt"
	"sync"

	"github.com/quark-os/quark/internal/log"
)

// Screen geometry, fixed by the VGA text mode the kernel uses.
const (
	Rows = 25
	Cols = 80

	// LineBufferSize is the longest line terminal_read can return in a
	// single call: 128 data bytes plus the trailing newline.
	LineBufferSize = 129

	// NumTerminals is the fixed number of logical consoles, M=3.
	NumTerminals = 3
)

// OutputMode selects whether keystrokes fed to [TCB.PushKey] are echoed to
// the screen (EchoMode) or only buffered (RawMode). [TCB.TerminalWrite]
// does not consult it: it moves the cursor and sets the left margin the
// same way in both modes.
type OutputMode int

const (
	RawMode OutputMode = iota
	EchoMode
)

// Cell is one VGA text-mode character cell: a byte and its color attribute.
type Cell struct {
	Char byte
	Attr uint8
}

// DefaultAttr is the attribute written to freshly-cleared or scrolled-in
// cells: white on black.
const DefaultAttr = uint8(0x07)

// Process is the minimal view a TCB needs of its foreground process; it
// avoids an import of the process package, which in turn depends on
// terminals for stdin/stdout.
type Process interface {
	ID() int
}

// TCB is one logical console's complete state: cursor, screen, scrollback,
// the line currently being assembled by terminal_read, and this terminal's
// virtualized RTC fields.
type TCB struct {
	id int

	mut sync.Mutex

	cursorX, cursorY int
	limitX           int // Left margin after the last prompt terminal_write printed.
	memAttribute     uint8
	outputMode       OutputMode

	screen  [Rows][Cols]Cell
	history [Rows][Cols]Cell

	lineBuffer [LineBufferSize]byte
	bufferIdx  int
	lineReady  *sync.Cond
	lineDone   bool

	foreground Process

	// Per-terminal virtualized RTC state, mutated by the rtc package's base
	// tick and polled by a blocked rtc reader exactly as the reference driver does.
	rtcRollover uint32
	rtcCounter  uint32
	rtcLatch    bool

	audio AudioDevice

	log *log.Logger
}

func newTCB(id int) *TCB {
	t := &TCB{id: id, memAttribute: DefaultAttr, audio: NullAudioDevice{}, log: log.DefaultLogger()}
	t.lineReady = sync.NewCond(&t.mut)
	t.clearLocked()

	return t
}

// ID returns the terminal's index, 0..NumTerminals-1.
func (t *TCB) ID() int { return t.id }

// SetForeground binds the process whose kernel stack the scheduler swaps in
// for this terminal.
func (t *TCB) SetForeground(p Process) {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.foreground = p
}

// Foreground returns the terminal's current foreground process, or nil.
func (t *TCB) Foreground() Process {
	t.mut.Lock()
	defer t.mut.Unlock()

	return t.foreground
}

// Clear blanks the screen and resets the cursor to the origin.
func (t *TCB) Clear() {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.clearLocked()
}

func (t *TCB) clearLocked() {
	for y := 0; y < Rows; y++ {
		for x := 0; x < Cols; x++ {
			t.screen[y][x] = Cell{Char: ' ', Attr: t.memAttribute}
		}
	}

	t.cursorX, t.cursorY = 0, 0
	t.limitX = 0
}

// Putc writes one character at the cursor, advancing it and scrolling the
// screen up one line when it runs off the bottom. '\n' moves to the start of
// the next line; '\b' erases the previous character, never crossing
// limitX.
func (t *TCB) Putc(c byte) {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.putcLocked(c)
}

func (t *TCB) putcLocked(c byte) {
	switch c {
	case '\n':
		t.cursorX = 0
		t.cursorY++
	case '\b':
		if t.cursorX > t.limitX {
			t.cursorX--
			t.screen[t.cursorY][t.cursorX] = Cell{Char: ' ', Attr: t.memAttribute}
		}

		return
	default:
		t.screen[t.cursorY][t.cursorX] = Cell{Char: c, Attr: t.memAttribute}
		t.cursorX++
	}

	if t.cursorX >= Cols {
		t.cursorX = 0
		t.cursorY++
	}

	if t.cursorY >= Rows {
		t.scrollLocked()
		t.cursorY = Rows - 1
	}
}

func (t *TCB) scrollLocked() {
	copy(t.history[:], t.screen[:])

	for y := 0; y < Rows-1; y++ {
		t.screen[y] = t.screen[y+1]
	}

	for x := 0; x < Cols; x++ {
		t.screen[Rows-1][x] = Cell{Char: ' ', Attr: t.memAttribute}
	}
}

// Puts writes a string one byte at a time via Putc.
func (t *TCB) Puts(s string) {
	for i := 0; i < len(s); i++ {
		t.Putc(s[i])
	}
}

// TerminalWrite implements the terminal file operation's write: it writes
// length bytes from buf starting at the cursor and sets limitX to the
// column the cursor ends at, so a subsequent backspace from a shell's
// readline can't erase the prompt it just printed.
func (t *TCB) TerminalWrite(buf []byte) (int, error) {
	t.mut.Lock()
	defer t.mut.Unlock()

	for _, b := range buf {
		t.putcLocked(b)
	}

	t.limitX = t.cursorX

	return len(buf), nil
}

// PushKey feeds one decoded keystroke into the line discipline. Printable
// runes and backspace edit the line buffer and echo (in EchoMode) to the
// screen; Enter terminates the line and wakes a blocked TerminalRead.
func (t *TCB) PushKey(k Key) {
	t.mut.Lock()
	defer t.mut.Unlock()

	switch {
	case k.Enter:
		if t.bufferIdx < LineBufferSize {
			t.lineBuffer[t.bufferIdx] = '\n'
			t.bufferIdx++
		}

		if t.outputMode == EchoMode {
			t.putcLocked('\n')
		}

		t.lineDone = true
		t.lineReady.Broadcast()
	case k.Backspace:
		if t.bufferIdx > 0 {
			t.bufferIdx--

			if t.outputMode == EchoMode {
				t.putcLocked('\b')
			}
		}
	case k.Tab:
		// No completion support; the core treats tab as a no-op keystroke.
	case k.Rune != 0:
		if t.bufferIdx < LineBufferSize-1 {
			t.lineBuffer[t.bufferIdx] = byte(k.Rune)
			t.bufferIdx++

			if t.outputMode == EchoMode {
				t.putcLocked(byte(k.Rune))
			}
		}
	}
}

// TerminalRead implements the terminal file operation's read: it blocks
// until a full line (terminated by Enter) is available, then copies up to
// len(buf) bytes of it out and resets the line buffer for the next read.
func (t *TCB) TerminalRead(buf []byte) (int, error) {
	t.mut.Lock()
	defer t.mut.Unlock()

	for !t.lineDone {
		t.lineReady.Wait()
	}

	n := copy(buf, t.lineBuffer[:t.bufferIdx])

	t.bufferIdx = 0
	t.lineDone = false

	return n, nil
}

// SetOutputMode switches between raw and echoing/cursor output.
func (t *TCB) SetOutputMode(mode OutputMode) {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.outputMode = mode
}

// AudioDevice is the minimal collaborator a terminal's ioctl dispatch needs
// to back the play/stop/load-frequency codes: open/ioctl only, no real
// sound, since there is no DSP to program. NullAudioDevice satisfies this
// with no-ops; a test double can instead record the calls it sees.
type AudioDevice interface {
	Play()
	Stop()
	LoadSineWave(frequency uint32)
}

// NullAudioDevice discards every call, the default audio collaborator for a
// terminal that has none wired in.
type NullAudioDevice struct{}

func (NullAudioDevice) Play()              {}
func (NullAudioDevice) Stop()              {}
func (NullAudioDevice) LoadSineWave(uint32) {}

// SetAudioDevice replaces the terminal's audio collaborator, letting a test
// observe play/stop/load-frequency calls a program's ioctl makes.
func (t *TCB) SetAudioDevice(dev AudioDevice) {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.audio = dev
}

// PlayAudio, StopAudio, and LoadSineWave forward to the terminal's audio
// collaborator, matching terminal_ioctl's TERMINAL_IOCTL_PLAY_AUDIO,
// TERMINAL_IOCTL_STOP_AUDIO, and TERMINAL_IOCTL_LOAD_SINEWAVE cases.
func (t *TCB) PlayAudio() {
	t.mut.Lock()
	dev := t.audio
	t.mut.Unlock()

	dev.Play()
}

func (t *TCB) StopAudio() {
	t.mut.Lock()
	dev := t.audio
	t.mut.Unlock()

	dev.Stop()
}

func (t *TCB) LoadSineWave(frequency uint32) {
	t.mut.Lock()
	dev := t.audio
	t.mut.Unlock()

	dev.LoadSineWave(frequency)
}

// Cursor returns the current cursor position.
func (t *TCB) Cursor() (x, y int) {
	t.mut.Lock()
	defer t.mut.Unlock()

	return t.cursorX, t.cursorY
}

// Snapshot copies the terminal's current screen buffer out, for a display
// listener to render without holding the TCB's lock.
func (t *TCB) Snapshot() [Rows][Cols]Cell {
	t.mut.Lock()
	defer t.mut.Unlock()

	return t.screen
}

// SetRTCRollover sets the virtualized RTC rollover count — the number of
// base-rate ticks between latched interrupts — and resets the counter, the
// way RTC_open and a successful rtc write both do on the original hardware.
func (t *TCB) SetRTCRollover(rollover uint32) {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.rtcRollover = rollover
	t.rtcCounter = 0
}

// RTCTick advances this terminal's virtualized RTC counter by one base-rate
// tick, latching (and reporting) an interrupt once the counter reaches the
// rollover, exactly as the reference RTC_handler's per-terminal loop does.
func (t *TCB) RTCTick() (latched bool) {
	t.mut.Lock()
	defer t.mut.Unlock()

	if t.rtcRollover == 0 {
		return false
	}

	t.rtcCounter++
	if t.rtcCounter >= t.rtcRollover {
		t.rtcCounter = 0
		t.rtcLatch = true

		return true
	}

	return false
}

// ConsumeRTCLatch reports and clears the terminal's latched RTC interrupt.
// A blocked rtc read spins on this exactly as the reference driver's
// rtc_interrupt_occurred busy-loop does.
func (t *TCB) ConsumeRTCLatch() bool {
	t.mut.Lock()
	defer t.mut.Unlock()

	latched := t.rtcLatch
	t.rtcLatch = false

	return latched
}

func (t *TCB) String() string {
	t.mut.Lock()
	defer t.mut.Unlock()

	return fmt.Sprintf("TCB(id:%d cursor:%d,%d mode:%d)", t.id, t.cursorX, t.cursorY, t.outputMode)
}

// Manager owns the M=3 terminals and tracks which one is active: the one
// whose screen is mirrored to physical video and which receives keyboard
// focus. It plays the role a single console's display listener list plays,
// generalized to "notify whichever listener cares about the currently
// active one".
type Manager struct {
	mut       sync.Mutex
	terminals [NumTerminals]*TCB
	active    int
	translate *Translator
	listeners []func(active int, screen [Rows][Cols]Cell)

	log *log.Logger
}

// NewManager creates the three terminals, all inactive save terminal 0.
func NewManager() *Manager {
	m := &Manager{translate: NewTranslator(), log: log.DefaultLogger()}

	for i := range m.terminals {
		m.terminals[i] = newTCB(i)
	}

	return m
}

// Terminal returns the TCB for a given index.
func (m *Manager) Terminal(id int) *TCB {
	return m.terminals[id]
}

// Active returns the currently active terminal.
func (m *Manager) Active() *TCB {
	m.mut.Lock()
	defer m.mut.Unlock()

	return m.terminals[m.active]
}

// ActiveID returns the active terminal's index.
func (m *Manager) ActiveID() int {
	m.mut.Lock()
	defer m.mut.Unlock()

	return m.active
}

// NextTerminal cycles the active terminal forward, mirroring ALT+F2. The
// core only calls this from the keyboard handler; the scheduler never
// touches terminal state directly.
func (m *Manager) NextTerminal() int {
	m.mut.Lock()
	m.active = (m.active + 1) % NumTerminals
	next := m.active
	m.mut.Unlock()

	m.log.Debug("term: switched", "active", next)
	m.notify()

	return next
}

// Listen registers a callback invoked with the active terminal's screen
// whenever the active terminal changes or receives a keystroke through
// [Manager.HandleScancode] — the bridge a real VGA-mirroring driver or the
// interactive termio bridge renders from. Writes through
// [TCB.TerminalWrite] or [TCB.Putc] do not invoke it.
func (m *Manager) Listen(fn func(active int, screen [Rows][Cols]Cell)) {
	m.mut.Lock()
	defer m.mut.Unlock()

	m.listeners = append(m.listeners, fn)
}

func (m *Manager) notify() {
	m.mut.Lock()
	active := m.active
	m.mut.Unlock()

	screen := m.terminals[active].Snapshot()
	for _, fn := range m.listeners {
		fn(active, screen)
	}
}

// HandleScancode decodes one PS/2 scan code and, for a make code bound to a
// printable key, a line-control key, or the ALT+F2 switch chord, applies it
// to the active terminal (or performs the switch).
func (m *Manager) HandleScancode(scancode uint8) {
	key, ok := m.translate.Translate(scancode)
	if !ok {
		return
	}

	if key.SwitchTo == nextTerminalChord {
		m.NextTerminal()
		return
	}

	active := m.Active()
	active.PushKey(key)
	m.notify()
}
