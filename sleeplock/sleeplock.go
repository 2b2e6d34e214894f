// Package sleeplock implements a blocking lock for long-held resources,
// built directly on spinlock.Spintex_t and the sleep/wakeup rendezvous
// in package sleep.
package sleeplock

import (
	"unsafe"

	"github.com/ekureina/rv6-riscv-ekureina/intr"
	"github.com/ekureina/rv6-riscv-ekureina/proc"
	"github.com/ekureina/rv6-riscv-ekureina/sleep"
	"github.com/ekureina/rv6-riscv-ekureina/spinlock"
)

// held_t keeps held and ownerPid updated together under the same
// Spintex_t, so "held=true iff owner_pid is set" never observes a
// half-updated state.
type held_t struct {
	held     bool
	ownerPid int
}

// Sleeplock_t is a blocking lock: a spin-guarded held/owner pair plus a
// diagnostic name.
type Sleeplock_t struct {
	sx   *spinlock.Spintex_t[held_t]
	name string
}

// New returns a named, unheld sleep-lock.
func New(name string) *Sleeplock_t {
	return &Sleeplock_t{sx: spinlock.NewSpintex(name, held_t{}), name: name}
}

// Acquire blocks until l is free, then marks it held by p.Pid. Spurious
// wakeups are tolerated: the wait loop re-checks l.held every time it is
// woken.
func (l *Sleeplock_t) Acquire(c *intr.Cpu, p *proc.Proc_t, sched proc.Scheduler) {
	guard := l.sx.Lock(c)
	for guard.Val().held {
		guard = sleep.Sleep(p, l.chan_(), guard, sched)
	}
	guard.Val().held = true
	guard.Val().ownerPid = p.Pid
	guard.Unlock()
}

// Release marks l free and wakes every process sleeping on it.
func (l *Sleeplock_t) Release(c *intr.Cpu, sched proc.Scheduler) {
	guard := l.sx.Lock(c)
	guard.Val().held = false
	guard.Val().ownerPid = 0
	guard.Unlock()
	sched.Wakeup(l.chan_())
}

// Holding reports whether p currently holds l.
func (l *Sleeplock_t) Holding(c *intr.Cpu, p *proc.Proc_t) bool {
	guard := l.sx.Lock(c)
	defer guard.Unlock()
	return guard.Val().held && guard.Val().ownerPid == p.Pid
}

// chan_ is l's own address: sleeping processes and Release's wakeup
// agree on it without either side needing a separately allocated token.
func (l *Sleeplock_t) chan_() proc.Chan_t {
	return proc.Chan_t(uintptr(unsafe.Pointer(l)))
}

// Name returns the lock's diagnostic name.
func (l *Sleeplock_t) Name() string { return l.name }
