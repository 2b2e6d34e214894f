package trap

import (
	"unsafe"

	"github.com/ekureina/rv6-riscv-ekureina/intr"
	"github.com/ekureina/rv6-riscv-ekureina/proc"
	"github.com/ekureina/rv6-riscv-ekureina/spinlock"
)

// Ticks_t is the global tick counter the supervisor timer interrupt
// advances. Every sleeper waiting on ticks
// (e.g. a future timekeeping syscall) wakes on Chan_ each time it
// advances.
type Ticks_t struct {
	sx    *spinlock.Spintex_t[uint64]
	sched proc.Scheduler
}

// NewTicks wires a tick counter to the scheduler seam its Wakeup needs.
func NewTicks(sched proc.Scheduler) *Ticks_t {
	return &Ticks_t{sx: spinlock.NewSpintex("ticks", uint64(0)), sched: sched}
}

// Clockintr advances the counter by one and wakes anything sleeping on
// Chan_. Called once per supervisor timer interrupt.
func (t *Ticks_t) Clockintr(c *intr.Cpu) {
	guard := t.sx.Lock(c)
	*guard.Val()++
	guard.Unlock()
	t.sched.Wakeup(t.Chan_())
}

// Get returns the current tick count.
func (t *Ticks_t) Get(c *intr.Cpu) uint64 {
	guard := t.sx.Lock(c)
	defer guard.Unlock()
	return *guard.Val()
}

// Chan_ is this counter's sleep-channel token.
func (t *Ticks_t) Chan_() proc.Chan_t {
	return proc.Chan_t(uintptr(unsafe.Pointer(t)))
}
