package term

import (
	"sync"
	"testing"
	"time"
)

func TestTCBPutcAdvancesCursor(t *testing.T) {
	tcb := newTCB(0)

	tcb.Putc('a')
	tcb.Putc('b')

	x, y := tcb.Cursor()
	if x != 2 || y != 0 {
		t.Fatalf("cursor = %d,%d, want 2,0", x, y)
	}

	snap := tcb.Snapshot()
	if snap[0][0].Char != 'a' || snap[0][1].Char != 'b' {
		t.Fatalf("screen[0] = %q%q, want ab", snap[0][0].Char, snap[0][1].Char)
	}
}

func TestTCBPutcNewlineAndScroll(t *testing.T) {
	tcb := newTCB(0)

	for i := 0; i < Rows; i++ {
		tcb.Putc('x')
		tcb.Putc('\n')
	}

	_, y := tcb.Cursor()
	if y != Rows-1 {
		t.Fatalf("cursor y = %d, want %d after scrolling", y, Rows-1)
	}
}

func TestTCBBackspaceRespectsLimitX(t *testing.T) {
	tcb := newTCB(0)
	tcb.SetOutputMode(EchoMode) // Backspace only moves the cursor when echoed.

	tcb.TerminalWrite([]byte("$ "))
	tcb.PushKey(Key{Rune: 'x'})
	tcb.PushKey(Key{Backspace: true})
	tcb.PushKey(Key{Backspace: true}) // Must not erase the prompt.

	x, _ := tcb.Cursor()
	if x < tcb.limitX {
		t.Fatalf("cursor x = %d crossed limitX = %d", x, tcb.limitX)
	}
}

func TestTerminalReadBlocksUntilEnter(t *testing.T) {
	tcb := newTCB(0)
	tcb.SetOutputMode(RawMode)

	done := make(chan struct{})
	var n int
	var buf [LineBufferSize]byte

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		var err error
		n, err = tcb.TerminalRead(buf[:])
		if err != nil {
			t.Errorf("TerminalRead: %v", err)
		}

		close(done)
	}()

	select {
	case <-done:
		t.Fatal("TerminalRead returned before a line was available")
	case <-time.After(20 * time.Millisecond):
	}

	for _, r := range "hi" {
		tcb.PushKey(Key{Rune: r})
	}
	tcb.PushKey(Key{Enter: true})

	wg.Wait()

	if string(buf[:n]) != "hi\n" {
		t.Fatalf("read %q, want %q", buf[:n], "hi\n")
	}
}

func TestManagerNextTerminalCycles(t *testing.T) {
	m := NewManager()

	if m.ActiveID() != 0 {
		t.Fatalf("initial active = %d, want 0", m.ActiveID())
	}

	if got := m.NextTerminal(); got != 1 {
		t.Fatalf("NextTerminal = %d, want 1", got)
	}

	if got := m.NextTerminal(); got != 2 {
		t.Fatalf("NextTerminal = %d, want 2", got)
	}

	if got := m.NextTerminal(); got != 0 {
		t.Fatalf("NextTerminal wrapped to %d, want 0", got)
	}
}

func TestManagerHandleScancodeSwitchesOnAltF2(t *testing.T) {
	m := NewManager()

	m.HandleScancode(scanLeftAlt)
	m.HandleScancode(scanF2)

	if m.ActiveID() != 1 {
		t.Fatalf("active = %d, want 1 after ALT+F2", m.ActiveID())
	}
}

type recordingAudio struct {
	played, stopped bool
	frequency       uint32
}

func (r *recordingAudio) Play() { r.played = true }
func (r *recordingAudio) Stop() { r.stopped = true }

func (r *recordingAudio) LoadSineWave(freq uint32) { r.frequency = freq }

func TestTCBAudioDeviceDispatch(t *testing.T) {
	tcb := newTCB(0)

	dev := &recordingAudio{}
	tcb.SetAudioDevice(dev)

	tcb.PlayAudio()
	if !dev.played {
		t.Fatal("PlayAudio did not reach the audio device")
	}

	tcb.LoadSineWave(440)
	if dev.frequency != 440 {
		t.Fatalf("frequency = %d, want 440", dev.frequency)
	}

	tcb.StopAudio()
	if !dev.stopped {
		t.Fatal("StopAudio did not reach the audio device")
	}
}

func TestTranslatorShiftAndCaps(t *testing.T) {
	tr := NewTranslator()

	k, ok := tr.Translate(0x1e) // 'a'
	if !ok || k.Rune != 'a' {
		t.Fatalf("Translate('a') = %+v, %v", k, ok)
	}

	tr.Translate(scanLeftShift)

	k, ok = tr.Translate(0x1e)
	if !ok || k.Rune != 'A' {
		t.Fatalf("Translate(shift+'a') = %+v, %v", k, ok)
	}

	tr.Translate(scanLeftShift | releaseMask)
	tr.Translate(scanCapsLock)
	tr.Translate(scanCapsLock | releaseMask) // Caps lock toggles on release.

	k, ok = tr.Translate(0x1e)
	if !ok || k.Rune != 'A' {
		t.Fatalf("Translate(caps+'a') = %+v, %v", k, ok)
	}
}
