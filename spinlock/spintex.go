package spinlock

import (
	"github.com/ekureina/rv6-riscv-ekureina/defs"
	"github.com/ekureina/rv6-riscv-ekureina/intr"
)

// Spintex_t pairs a Spinlock_t with the data it guards, so the data can
// never be touched without holding the lock. Lock returns a Guard_t; the
// guard's Val is only meaningful while the guard is live.
type Spintex_t[T any] struct {
	lock Spinlock_t
	val  T
}

// NewSpintex wraps v behind a newly created, named spinlock.
func NewSpintex[T any](name string, v T) *Spintex_t[T] {
	return &Spintex_t[T]{lock: *New(name), val: v}
}

// Guard_t is the scope-bound handle returned by Lock. Unlock releases the
// underlying spinlock; using the guard afterward is a programming error,
// detected via the held flag rather than silently corrupting state.
type Guard_t[T any] struct {
	sx   *Spintex_t[T]
	c    *intr.Cpu
	held bool
}

// Lock acquires sx's spinlock and returns a guard granting access to the
// protected value for the lifetime of the critical section.
func (sx *Spintex_t[T]) Lock(c *intr.Cpu) *Guard_t[T] {
	sx.lock.Acquire(c)
	return &Guard_t[T]{sx: sx, c: c, held: true}
}

// Val returns a pointer to the guarded value. Panics if the guard has
// already been unlocked.
func (g *Guard_t[T]) Val() *T {
	if !g.held {
		defs.Panicf("spintex: Val() on a released guard")
	}
	return &g.sx.val
}

// Unlock releases the underlying spinlock. Calling Unlock twice, or
// calling it on a guard produced by UnlockForSleep, panics.
func (g *Guard_t[T]) Unlock() {
	if !g.held {
		defs.Panicf("spintex: double Unlock")
	}
	g.held = false
	g.sx.lock.Release(g.c)
}

// UnlockForSleep releases the underlying spinlock but leaves the guard
// value otherwise intact, so sleep.Sleep can hand the same guard back to
// the caller once the process is rescheduled. It exists only for the
// sleep primitive; every other caller should use Unlock.
func (g *Guard_t[T]) UnlockForSleep() {
	if !g.held {
		defs.Panicf("spintex: UnlockForSleep on a released guard")
	}
	g.held = false
	g.sx.lock.Release(g.c)
}

// Relock re-acquires the spinlock released by UnlockForSleep and marks the
// guard live again. Only sleep.Sleep calls this, immediately after the
// process is rescheduled.
func (g *Guard_t[T]) Relock() {
	if g.held {
		defs.Panicf("spintex: Relock on a still-held guard")
	}
	g.sx.lock.Acquire(g.c)
	g.held = true
}

// Cpu returns the hart the guard was acquired on, so sleep.Sleep can
// re-derive it without the caller threading it through separately.
func (g *Guard_t[T]) Cpu() *intr.Cpu {
	return g.c
}
