package pic_test

import (
	"testing"

	"github.com/quark-os/quark/internal/pic"
)

func TestNewMasksEverythingButCascade(t *testing.T) {
	p := pic.New()

	for irq := uint8(0); irq < 16; irq++ {
		want := irq != 2
		if got := p.Masked(irq); got != want {
			t.Errorf("Masked(%d) = %v, want %v", irq, got, want)
		}
	}
}

func TestEnableDisableIRQ(t *testing.T) {
	p := pic.New()

	if err := p.EnableIRQ(0); err != nil {
		t.Fatalf("EnableIRQ(0): %v", err)
	}

	if p.Masked(0) {
		t.Fatal("irq 0 still masked after EnableIRQ")
	}

	if err := p.DisableIRQ(0); err != nil {
		t.Fatalf("DisableIRQ(0): %v", err)
	}

	if !p.Masked(0) {
		t.Fatal("irq 0 not masked after DisableIRQ")
	}
}

func TestEnableDisableSlaveIRQ(t *testing.T) {
	p := pic.New()

	if err := p.EnableIRQ(10); err != nil {
		t.Fatalf("EnableIRQ(10): %v", err)
	}

	if p.Masked(10) {
		t.Fatal("irq 10 still masked after EnableIRQ")
	}

	if !p.Masked(8) {
		t.Fatal("irq 8 unexpectedly unmasked")
	}
}

func TestIRQOutOfRange(t *testing.T) {
	p := pic.New()

	if err := p.EnableIRQ(16); err == nil {
		t.Fatal("expected error for irq 16")
	}

	if err := p.Raise(200); err == nil {
		t.Fatal("expected error for irq 200")
	}

	if err := p.SendEOI(16); err == nil {
		t.Fatal("expected error for irq 16")
	}
}

func TestVector(t *testing.T) {
	cases := []struct {
		irq  uint8
		want uint8
	}{
		{0, 0x20},
		{7, 0x27},
		{8, 0x28},
		{15, 0x2f},
	}

	for _, c := range cases {
		if got := pic.Vector(c.irq); got != c.want {
			t.Errorf("Vector(%d) = %#02x, want %#02x", c.irq, got, c.want)
		}
	}
}

func TestSendEOIMasterLine(t *testing.T) {
	p := pic.New()

	if err := p.Raise(0); err != nil {
		t.Fatalf("Raise(0): %v", err)
	}

	if err := p.SendEOI(0); err != nil {
		t.Fatalf("SendEOI(0): %v", err)
	}

	if p.Spurious() != 0 {
		t.Fatalf("Spurious() = %d, want 0", p.Spurious())
	}
}

func TestSendEOISlaveLineAlsoEOIsCascade(t *testing.T) {
	p := pic.New()

	if err := p.Raise(10); err != nil {
		t.Fatalf("Raise(10): %v", err)
	}

	if err := p.SendEOI(10); err != nil {
		t.Fatalf("SendEOI(10): %v", err)
	}

	if p.Spurious() != 0 {
		t.Fatalf("Spurious() = %d, want 0", p.Spurious())
	}
}

func TestSendEOISpuriousMasterIRQ7NotRaised(t *testing.T) {
	p := pic.New()

	if err := p.SendEOI(7); err != nil {
		t.Fatalf("SendEOI(7): %v", err)
	}

	if p.Spurious() != 1 {
		t.Fatalf("Spurious() = %d, want 1", p.Spurious())
	}
}

func TestSendEOISpuriousSlaveIRQ15NotRaised(t *testing.T) {
	p := pic.New()

	if err := p.SendEOI(15); err != nil {
		t.Fatalf("SendEOI(15): %v", err)
	}

	if p.Spurious() != 1 {
		t.Fatalf("Spurious() = %d, want 1", p.Spurious())
	}
}

func TestSendEOIGenuineIRQ7NotCountedSpurious(t *testing.T) {
	p := pic.New()

	if err := p.Raise(7); err != nil {
		t.Fatalf("Raise(7): %v", err)
	}

	if err := p.SendEOI(7); err != nil {
		t.Fatalf("SendEOI(7): %v", err)
	}

	if p.Spurious() != 0 {
		t.Fatalf("Spurious() = %d, want 0", p.Spurious())
	}
}
