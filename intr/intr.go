// Package intr implements the per-hart nestable interrupt-disable
// primitive every spinlock acquire/release in this kernel is built on.
// It is its own package so that spinlock, sleep, and the trap handler
// all share one implementation instead of three copies.
package intr

import "github.com/ekureina/rv6-riscv-ekureina/csr"

// Cpu holds the nesting state for one hart, including that hart's own CSR
// file. The kernel core never allocates this itself; whatever supplies
// the current-cpu handle is expected to own one Cpu value per hart and
// pass its pointer into Push/Pop.
// Real silicon gives every hart an independent sstatus register
// for free; CSR is carried here explicitly so this package's own tests can
// run several simulated harts as goroutines without one hart's IntrOn
// racing another's IntrOff on a register they don't actually share.
type Cpu struct {
	Nesting int         // push() calls not yet matched by pop()
	SavedIE bool        // interrupt-enable flag as of the outermost push()
	CSR     csr.Backend // this hart's CSR file
}

// NewCpu returns a Cpu with a fresh simulated CSR backend, interrupts
// initially enabled (matching a hart that hasn't yet run its boot-time
// IntrOff). Production boot code instead builds a Cpu per hart with CSR
// set to that hart's real backend.
func NewCpu() *Cpu {
	return &Cpu{CSR: csr.NewSimBackend()}
}

// Push disables interrupts on c's hart, recording whether they were
// enabled so the matching Pop can restore that state. Safe to call while
// already nested: only the outermost Push captures SavedIE.
func Push(c *Cpu) {
	ie := c.CSR.IntrGet()
	c.CSR.IntrOff()
	if c.Nesting == 0 {
		c.SavedIE = ie
	}
	c.Nesting++
}

// Pop reverses one Push. It panics if interrupts are currently enabled
// (meaning Push was never called, or something re-enabled them underneath
// us) or if depth is already zero (an unmatched Pop); both are
// programming errors, not recoverable conditions.
func Pop(c *Cpu) {
	if c.CSR.IntrGet() {
		panic("intr: Pop called with interrupts enabled")
	}
	if c.Nesting < 1 {
		panic("intr: Pop without matching Push")
	}
	c.Nesting--
	if c.Nesting == 0 && c.SavedIE {
		c.CSR.IntrOn()
	}
}

// Held reports whether this hart currently holds at least one Push.
func Held(c *Cpu) bool {
	return c.Nesting > 0
}
