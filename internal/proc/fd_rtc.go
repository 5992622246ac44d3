package proc

import (
	"context"

	"github.com/quark-os/quark/internal/rtc"
)

// rtcFileOps is the rtc vtable: open resets the virtualized rate to the
// reference driver's 2 Hz default, write sets a new rate, and read blocks
// until the next virtualized interrupt latches for the owning terminal.
type rtcFileOps struct {
	ctl        *rtc.Controller
	terminalID int
}

func (r *rtcFileOps) Open(string) error { return r.ctl.Open(r.terminalID) }
func (r *rtcFileOps) Close() error      { return r.ctl.Close(r.terminalID) }

func (r *rtcFileOps) Read(buf []byte) (int, error) {
	if err := r.ctl.Read(context.Background(), r.terminalID); err != nil {
		return 0, err
	}

	return 0, nil
}

func (r *rtcFileOps) Write(buf []byte) (int, error) {
	if len(buf) < 4 {
		return -1, rtc.ErrBadRate
	}

	rate := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24

	if err := r.ctl.SetRate(r.terminalID, rate); err != nil {
		return -1, err
	}

	return len(buf), nil
}
