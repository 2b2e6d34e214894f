// Package plic tracks which external interrupt IDs are currently
// claimed, giving package trap's device-interrupt dispatch a
// claim/complete pair instead of a hard-coded device ID. External IRQs
// arrive from the platform rather than being allocated by kernel code,
// so arrival (Pend) and the claim/complete handshake are modeled
// separately.
package plic

import "sync"

// IRQ_t identifies one external interrupt source.
type IRQ_t uint32

// UART0IRQ is the interrupt ID QEMU's virt machine wires the 16550 UART to.
const UART0IRQ IRQ_t = 10

// Plic_t tracks pending and claimed interrupt IDs for one PLIC instance.
type Plic_t struct {
	mu      sync.Mutex
	pending map[IRQ_t]bool
	claimed map[IRQ_t]bool
}

// New returns an empty PLIC with no pending or claimed interrupts.
func New() *Plic_t {
	return &Plic_t{
		pending: make(map[IRQ_t]bool),
		claimed: make(map[IRQ_t]bool),
	}
}

// Pend marks irq as asserted by the platform. On real hardware this is the
// PLIC's own job; tests call it directly to simulate a device asserting
// its line.
func (pl *Plic_t) Pend(irq IRQ_t) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.pending[irq] = true
}

// Claim picks one pending interrupt, moves it to the claimed set, and
// returns its ID. Returns (0, false) if nothing is pending; trap's
// Devintr treats that as "interrupt line asserted but no source found"
// and reports an unrecognized interrupt.
func (pl *Plic_t) Claim() (IRQ_t, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	for irq := range pl.pending {
		delete(pl.pending, irq)
		if pl.claimed[irq] {
			panic("plic: claim of already-claimed irq")
		}
		pl.claimed[irq] = true
		return irq, true
	}
	return 0, false
}

// Complete acknowledges irq, the PLIC-level counterpart to a real
// sifive_plic write that lets the source re-assert. Panics if irq was not
// claimed; a double-complete is a programming-invariant violation, not a
// recoverable error.
func (pl *Plic_t) Complete(irq IRQ_t) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if !pl.claimed[irq] {
		panic("plic: complete of unclaimed irq")
	}
	delete(pl.claimed, irq)
}
