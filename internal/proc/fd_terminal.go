package proc

import "github.com/quark-os/quark/internal/term"

// terminalFileOps is the terminal vtable stdin/stdout are bound to: reads
// pull a line from the owning TCB's line discipline, writes push bytes to
// its screen.
type terminalFileOps struct {
	tcb *term.TCB
}

func (t *terminalFileOps) Open(string) error { return nil }
func (t *terminalFileOps) Close() error      { return nil }

func (t *terminalFileOps) Read(buf []byte) (int, error) {
	return t.tcb.TerminalRead(buf)
}

func (t *terminalFileOps) Write(buf []byte) (int, error) {
	return t.tcb.TerminalWrite(buf)
}

// Terminal ioctl command codes, matching TERMINAL_IOCTL_SET_OUTPUT_MODE,
// TERMINAL_IOCTL_PLAY_AUDIO, TERMINAL_IOCTL_LOAD_SINEWAVE, and
// TERMINAL_IOCTL_STOP_AUDIO.
const (
	ioctlSetOutputMode = 1
	ioctlPlayAudio     = 2
	ioctlLoadSineWave  = 3
	ioctlStopAudio     = 4
)

// Ioctl lets a program switch its terminal between raw and echoing output,
// or drive the terminal's audio collaborator: start/stop playback, or load
// a new sine-wave frequency into it.
func (t *terminalFileOps) Ioctl(cmd int, arg uint32) (uint32, error) {
	switch cmd {
	case ioctlSetOutputMode:
		t.tcb.SetOutputMode(term.OutputMode(arg))
	case ioctlPlayAudio:
		t.tcb.PlayAudio()
	case ioctlLoadSineWave:
		t.tcb.LoadSineWave(arg)
	case ioctlStopAudio:
		t.tcb.StopAudio()
	}

	return 0, nil
}
