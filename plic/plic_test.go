package plic

import "testing"

func TestClaimReturnsPendingAndOnlyOnce(t *testing.T) {
	pl := New()
	pl.Pend(UART0IRQ)

	irq, ok := pl.Claim()
	if !ok || irq != UART0IRQ {
		t.Fatalf("Claim = (%d, %v), want (%d, true)", irq, ok, UART0IRQ)
	}

	if _, ok := pl.Claim(); ok {
		t.Fatalf("second Claim found a pending irq, want none")
	}
}

func TestCompleteAllowsReclaim(t *testing.T) {
	pl := New()
	pl.Pend(UART0IRQ)
	irq, _ := pl.Claim()
	pl.Complete(irq)

	pl.Pend(UART0IRQ)
	if _, ok := pl.Claim(); !ok {
		t.Fatalf("expected to reclaim irq after Complete+Pend")
	}
}

func TestCompleteOfUnclaimedPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic completing an unclaimed irq")
		}
	}()
	New().Complete(UART0IRQ)
}

func TestClaimOnEmptyReturnsFalse(t *testing.T) {
	if _, ok := New().Claim(); ok {
		t.Fatalf("Claim on an empty PLIC returned true")
	}
}
