// Package spinlock implements the interrupt-masking mutual-exclusion
// primitive the rest of this kernel is built on: Spinlock_t for bare
// acquire/release, and the generic Spintex_t for a lock paired with the
// data it protects. A freestanding kernel can't rely on sync.Mutex, which
// parks goroutines through channels a scheduler may not be alive to
// service at boot, so this is a CAS spinlock built directly on intr's
// push/pop.
package spinlock

import (
	"runtime"
	"sync/atomic"

	"github.com/ekureina/rv6-riscv-ekureina/defs"
	"github.com/ekureina/rv6-riscv-ekureina/intr"
)

// Spinlock_t is an interrupt-masking spinlock. Acquire/Release must be
// called with the acquiring hart's intr.Cpu so the interrupt nesting depth
// stays correct across the critical section.
type Spinlock_t struct {
	locked uint32
	owner  *intr.Cpu
	name   string
}

// New returns a named, unheld spinlock. The name appears in panic
// diagnostics for double-acquire and bad-release detection.
func New(name string) *Spinlock_t {
	return &Spinlock_t{name: name}
}

// Acquire disables interrupts on c's hart, then spins until the lock is
// won. Panics if c's hart already holds this lock; double acquisition by
// the same hart is always a programming error here, since this kernel has
// no recursive locks.
func (l *Spinlock_t) Acquire(c *intr.Cpu) {
	intr.Push(c)
	if l.Holding(c) {
		defs.Panicf("spinlock %q: double acquire on same hart", l.name)
	}
	for !atomic.CompareAndSwapUint32(&l.locked, 0, 1) {
		runtime.Gosched()
	}
	// Sequentially-consistent fence: the CAS above is already seq-cst on
	// every Go-supported architecture, so recording the owner here is
	// already ordered after the lock is visibly held.
	l.owner = c
}

// Release clears ownership, publishes the unlock with release ordering,
// and restores c's interrupt state via intr.Pop. Panics if c's hart does
// not currently hold the lock.
func (l *Spinlock_t) Release(c *intr.Cpu) {
	if !l.Holding(c) {
		defs.Panicf("spinlock %q: release by non-owner", l.name)
	}
	l.owner = nil
	atomic.StoreUint32(&l.locked, 0)
	intr.Pop(c)
}

// Holding reports whether c's hart currently holds this lock.
func (l *Spinlock_t) Holding(c *intr.Cpu) bool {
	return atomic.LoadUint32(&l.locked) == 1 && l.owner == c
}

// Name returns the lock's diagnostic name.
func (l *Spinlock_t) Name() string {
	return l.name
}
