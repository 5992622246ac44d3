// Package pic simulates the two cascaded 8259 programmable interrupt
// controllers that the kernel uses to route hardware IRQs 0-15 to vectors
// 0x20-0x2f. Its single-priority-level, one-handler-per-line shape is
// generalized here to a real two-chip cascade, and its initialization,
// masking, and spurious-IRQ handling are ported from student-distrib/i8259.c.
package pic

import (
	"fmt"

	"github.com/quark-os/quark/internal/log"
)

// Vector bases. The master maps IRQs 0-7 to 0x20-0x27; the slave maps IRQs
// 8-15 to 0x28-0x2f, cascaded through the master's IRQ2 line.
const (
	MasterBase = uint8(0x20)
	SlaveBase  = uint8(0x28)

	cascadeIRQ = uint8(2)
)

// End-of-interrupt and spurious IRQ lines.
const (
	eoiCommand = uint8(0x20)

	irqSlaveSpurious  = uint8(15)
	irqMasterSpurious = uint8(7)
)

// chip models one half of the cascade: its interrupt-mask register and
// in-service register.
type chip struct {
	mask uint8 // IMR: 1 bit disables that line.
	isr  uint8 // ISR: 1 bit means that line's handler is running.
}

// PIC is the pair of cascaded controllers. All 16 IRQ lines are masked at
// reset, matching i8259_init's MASK_ALL_INT, except for IRQ2 which the
// master unmasks immediately to let the slave's interrupts through.
type PIC struct {
	master, slave chip

	spurious int // Count of dropped spurious interrupts, for diagnostics.

	log *log.Logger
}

// New creates and initializes the controller pair with every line masked
// save the master's cascade input.
func New() *PIC {
	p := &PIC{
		master: chip{mask: 0xff},
		slave:  chip{mask: 0xff},
		log:    log.DefaultLogger(),
	}

	p.EnableIRQ(cascadeIRQ)

	return p
}

// errBadIRQ is returned for an IRQ line number outside of 0..15.
var errBadIRQ = fmt.Errorf("pic: irq out of range")

func checkIRQ(irq uint8) error {
	if irq > 15 {
		return fmt.Errorf("%w: %d", errBadIRQ, irq)
	}

	return nil
}

// EnableIRQ unmasks the given IRQ line, issuing a single mask-register write
// to the chip that owns it.
func (p *PIC) EnableIRQ(irq uint8) error {
	if err := checkIRQ(irq); err != nil {
		return err
	}

	if irq < 8 {
		p.master.mask &^= 1 << irq
	} else {
		p.slave.mask &^= 1 << (irq - 8)
	}

	p.log.Debug("pic: enabled", "irq", irq)

	return nil
}

// DisableIRQ masks the given IRQ line.
func (p *PIC) DisableIRQ(irq uint8) error {
	if err := checkIRQ(irq); err != nil {
		return err
	}

	if irq < 8 {
		p.master.mask |= 1 << irq
	} else {
		p.slave.mask |= 1 << (irq - 8)
	}

	p.log.Debug("pic: disabled", "irq", irq)

	return nil
}

// Masked returns true if the IRQ line is currently masked.
func (p *PIC) Masked(irq uint8) bool {
	if irq < 8 {
		return p.master.mask&(1<<irq) != 0
	}

	return p.slave.mask&(1<<(irq-8)) != 0
}

// Raise marks the IRQ line as in-service, as real hardware does the instant
// it signals the CPU. The caller (the simulated timer or keyboard) calls
// this before dispatching to the vector's handler.
func (p *PIC) Raise(irq uint8) error {
	if err := checkIRQ(irq); err != nil {
		return err
	}

	if irq < 8 {
		p.master.isr |= 1 << irq
	} else {
		p.slave.isr |= 1 << (irq - 8)
	}

	return nil
}

// Vector returns the IDT vector number for an IRQ line.
func Vector(irq uint8) uint8 {
	if irq < 8 {
		return MasterBase + irq
	}

	return SlaveBase + (irq - 8)
}

// SendEOI issues a specific end-of-interrupt for the line, per the PIC
// policy: for irq<8, one write to the master; for irq>=8, one write to the
// slave with irq-8 and one to the master with the cascade line.
//
// Before acking IRQ 7 or IRQ 15 the handler checks whether the line's own
// ISR bit is actually set; if it is clear, the interrupt is spurious and is
// dropped without an EOI to the chip that didn't really interrupt. IRQ 7
// consults the master's ISR and IRQ 15 consults the slave's — the original
// kernel consulted the slave's ISR for both checks, a bug this simulator
// does not reproduce.
func (p *PIC) SendEOI(irq uint8) error {
	if err := checkIRQ(irq); err != nil {
		return err
	}

	switch irq {
	case irqMasterSpurious:
		if p.master.isr&(1<<irq) == 0 {
			p.spurious++
			p.log.Debug("pic: spurious", "irq", irq)

			return nil // No EOI at all.
		}
	case irqSlaveSpurious:
		if p.slave.isr&(1<<(irq-8)) == 0 {
			p.spurious++
			p.log.Debug("pic: spurious", "irq", irq)

			p.master.isr &^= 1 << cascadeIRQ
			p.master.outb(eoiCommand | cascadeIRQ)

			return nil // Master EOI only; slave never interrupted.
		}
	}

	if irq < 8 {
		p.master.isr &^= 1 << irq
		p.master.outb(eoiCommand | irq)
	} else {
		p.slave.isr &^= 1 << (irq - 8)
		p.slave.outb(eoiCommand | (irq - 8))

		p.master.isr &^= 1 << cascadeIRQ
		p.master.outb(eoiCommand | cascadeIRQ)
	}

	return nil
}

// outb is a no-op placeholder for the single-byte port write real hardware
// would perform; the simulator has already applied the ISR-bit effect and
// only records that a write happened, for logging/testing.
func (c *chip) outb(uint8) {}

// Spurious returns the running count of dropped spurious interrupts.
func (p *PIC) Spurious() int { return p.spurious }

func (p *PIC) String() string {
	return fmt.Sprintf("PIC(master: mask=%#02x isr=%#02x, slave: mask=%#02x isr=%#02x, spurious=%d)",
		p.master.mask, p.master.isr, p.slave.mask, p.slave.isr, p.spurious)
}
