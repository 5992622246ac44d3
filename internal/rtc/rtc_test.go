package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/quark-os/quark/internal/term"
)

func TestRolloverValidatesPowerOfTwo(t *testing.T) {
	cases := []struct {
		rate    uint32
		wantErr bool
		want    uint32
	}{
		{rate: 2, want: 512},
		{rate: 1024, want: 1},
		{rate: 32, want: 32},
		{rate: 3, wantErr: true},
		{rate: 1, wantErr: true},
		{rate: 2048, wantErr: true},
		{rate: 0, wantErr: true},
	}

	for _, c := range cases {
		got, err := Rollover(c.rate)
		if c.wantErr {
			if err == nil {
				t.Errorf("Rollover(%d) = %d, nil, want error", c.rate, got)
			}

			continue
		}

		if err != nil {
			t.Errorf("Rollover(%d) unexpected error: %v", c.rate, err)
		}

		if got != c.want {
			t.Errorf("Rollover(%d) = %d, want %d", c.rate, got, c.want)
		}
	}
}

func TestControllerTickLatchesAtRollover(t *testing.T) {
	terminals := term.NewManager()
	c := New(terminals)

	if err := c.SetRate(0, 32); err != nil {
		t.Fatalf("SetRate: %v", err)
	}

	rollover := BaseRate / 32

	for i := 0; i < rollover-1; i++ {
		c.Tick()
	}

	if terminals.Terminal(0).ConsumeRTCLatch() {
		t.Fatal("latched before rollover reached")
	}

	c.Tick()

	if !terminals.Terminal(0).ConsumeRTCLatch() {
		t.Fatal("expected latch at rollover")
	}
}

func TestControllerTicksTerminalsIndependently(t *testing.T) {
	terminals := term.NewManager()
	c := New(terminals)

	if err := c.SetRate(0, 32); err != nil {
		t.Fatalf("SetRate: %v", err)
	}

	if err := c.SetRate(1, 2); err != nil {
		t.Fatalf("SetRate: %v", err)
	}

	var latches [2]int

	// One second of base ticks: terminal 0 (32 Hz) should latch 32 times and
	// terminal 1 (2 Hz) twice, each counted on its own.
	for i := 0; i < BaseRate; i++ {
		c.Tick()

		for tid := range latches {
			if terminals.Terminal(tid).ConsumeRTCLatch() {
				latches[tid]++
			}
		}
	}

	if latches[0] != 32 || latches[1] != 2 {
		t.Fatalf("latches over one second = %v, want [32 2]", latches)
	}
}

func TestReadBlocksUntilLatch(t *testing.T) {
	terminals := term.NewManager()
	c := New(terminals)

	if err := c.SetRate(0, 1024); err != nil {
		t.Fatalf("SetRate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Read(ctx, 0) }()

	time.Sleep(5 * time.Millisecond)
	c.Tick()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Tick")
	}
}
