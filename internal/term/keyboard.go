package term

import "github.com/quark-os/quark/internal/log"

// Scan-code-to-ASCII tables for US QWERTY, PS/2 scan set 1. Ported from the
// keycode_mapping/shift_keycode_mapping tables in the reference keyboard
// driver: the low byte of each make code indexes directly into one of these
// tables, selected by the current shift state.
const (
	releaseMask = uint8(0x80) // Set on a break code; the make code is the low 7 bits.

	scanLeftCtrl   = uint8(0x1d)
	scanLeftShift  = uint8(0x2a)
	scanRightShift = uint8(0x36)
	scanLeftAlt    = uint8(0x38)
	scanCapsLock   = uint8(0x3a)
	scanBackspace  = uint8(0x0e)
	scanEnter      = uint8(0x1c)
	scanTab        = uint8(0x0f)
	scanF2         = uint8(0x3c)
)

// keycodeMapping holds the unshifted character for each scan code, indexed by
// scan code value. A zero entry has no printable mapping.
var keycodeMapping = [0x3b]byte{
	0x02: '1', 0x03: '2', 0x04: '3', 0x05: '4', 0x06: '5',
	0x07: '6', 0x08: '7', 0x09: '8', 0x0a: '9', 0x0b: '0',
	0x0c: '-', 0x0d: '=',
	0x10: 'q', 0x11: 'w', 0x12: 'e', 0x13: 'r', 0x14: 't',
	0x15: 'y', 0x16: 'u', 0x17: 'i', 0x18: 'o', 0x19: 'p',
	0x1a: '[', 0x1b: ']',
	0x1e: 'a', 0x1f: 's', 0x20: 'd', 0x21: 'f', 0x22: 'g',
	0x23: 'h', 0x24: 'j', 0x25: 'k', 0x26: 'l',
	0x27: ';', 0x28: '\'', 0x29: '`',
	0x2b: '\\',
	0x2c: 'z', 0x2d: 'x', 0x2e: 'c', 0x2f: 'v', 0x30: 'b',
	0x31: 'n', 0x32: 'm',
	0x33: ',', 0x34: '.', 0x35: '/',
	0x39: ' ',
}

// shiftKeycodeMapping is the same table with shift applied: letters go
// upper-case, the number row goes to its punctuation shift.
var shiftKeycodeMapping = [0x3b]byte{
	0x02: '!', 0x03: '@', 0x04: '#', 0x05: '$', 0x06: '%',
	0x07: '^', 0x08: '&', 0x09: '*', 0x0a: '(', 0x0b: ')',
	0x0c: '_', 0x0d: '+',
	0x10: 'Q', 0x11: 'W', 0x12: 'E', 0x13: 'R', 0x14: 'T',
	0x15: 'Y', 0x16: 'U', 0x17: 'I', 0x18: 'O', 0x19: 'P',
	0x1a: '{', 0x1b: '}',
	0x1e: 'A', 0x1f: 'S', 0x20: 'D', 0x21: 'F', 0x22: 'G',
	0x23: 'H', 0x24: 'J', 0x25: 'K', 0x26: 'L',
	0x27: ':', 0x28: '"', 0x29: '~',
	0x2b: '|',
	0x2c: 'Z', 0x2d: 'X', 0x2e: 'C', 0x2f: 'V', 0x30: 'B',
	0x31: 'N', 0x32: 'M',
	0x33: '<', 0x34: '>', 0x35: '?',
	0x39: ' ',
}

// Key is the decoded result of one scan code, after modifier state and caps
// lock have been folded in.
type Key struct {
	Rune      rune // Zero if this code has no printable mapping.
	Backspace bool
	Enter     bool
	Tab       bool
	SwitchTo  int // nextTerminalChord for an ALT+F2 chord, otherwise -1.
}

// Translator holds the make/break modifier state a real keyboard controller
// would latch internally: both shift keys, ctrl, alt, and caps lock's
// toggle.
type Translator struct {
	shift, ctrl, alt, capsLock bool

	log *log.Logger
}

// NewTranslator creates a translator with no modifiers held.
func NewTranslator() *Translator {
	return &Translator{log: log.DefaultLogger()}
}

// Translate decodes one scan code, updating modifier state and, for a
// make code, returning the resulting key. Break codes (high bit set) only
// update modifier state and return ok=false.
func (tr *Translator) Translate(scancode uint8) (Key, bool) {
	released := scancode&releaseMask != 0
	code := scancode &^ releaseMask

	switch code {
	case scanLeftShift, scanRightShift:
		tr.shift = !released
		return Key{}, false
	case scanLeftCtrl:
		tr.ctrl = !released
		return Key{}, false
	case scanLeftAlt:
		tr.alt = !released
		return Key{}, false
	case scanCapsLock:
		if released {
			tr.capsLock = !tr.capsLock
		}

		return Key{}, false
	}

	if released {
		return Key{}, false
	}

	switch code {
	case scanBackspace:
		return Key{Backspace: true, SwitchTo: -1}, true
	case scanEnter:
		return Key{Enter: true, SwitchTo: -1}, true
	case scanTab:
		return Key{Tab: true, SwitchTo: -1}, true
	case scanF2:
		if tr.alt {
			return Key{SwitchTo: nextTerminalChord}, true
		}
	}

	if int(code) >= len(keycodeMapping) {
		return Key{}, false
	}

	r := rune(keycodeMapping[code])
	if tr.shift {
		r = rune(shiftKeycodeMapping[code])
	}

	if r == 0 {
		return Key{}, false
	}

	if tr.capsLock && r >= 'a' && r <= 'z' && !tr.shift {
		r -= 'a' - 'A'
	} else if tr.capsLock && r >= 'A' && r <= 'Z' && tr.shift {
		r += 'a' - 'A'
	}

	if tr.ctrl && r >= 'a' && r <= 'z' {
		r -= 'a' - 1 // CTRL+A -> 0x01, etc.
	}

	return Key{Rune: r, SwitchTo: -1}, true
}

// nextTerminalChord is a sentinel meaning "ALT+F2 was pressed"; the manager
// resolves it to whichever terminal follows the current one.
const nextTerminalChord = -2
