// Package sleep implements the sleep/wakeup rendezvous: atomically
// publish a sleep channel under the process's own lock, park, and come
// back with the caller's original spinlock reacquired.
package sleep

import (
	"github.com/ekureina/rv6-riscv-ekureina/proc"
	"github.com/ekureina/rv6-riscv-ekureina/spinlock"
)

// Sleep atomically releases guard's underlying spinlock and blocks p on
// chan_, returning a freshly reacquired guard once something calls
// sched.Wakeup(chan_) and the scheduler runs p again. Five steps:
// acquire p.Lock, release guard, publish chan_/Sleeping under p.Lock,
// switch away, and on return clear chan_, release p.Lock, and reacquire
// the original lock.
//
// Callers must already hold the lock guard wraps; Sleep takes ownership
// of guard and returns a new, live guard over the same Spintex_t.
func Sleep[T any](p *proc.Proc_t, chan_ proc.Chan_t, guard *spinlock.Guard_t[T], sched proc.Scheduler) *spinlock.Guard_t[T] {
	c := guard.Cpu()

	// Acquiring p.Lock before releasing guard's spinlock is what makes
	// this atomic with respect to a concurrent Wakeup: a waker must take
	// p.Lock too (proc.Scheduler's Wakeup contract) before it can see
	// p.Chan, so it can never run between our release and our publish of
	// p.Chan below.
	p.Lock.Acquire(c)
	guard.UnlockForSleep()

	p.Chan = chan_
	p.State = proc.Sleeping

	sched.Sched(p)

	p.Chan = 0
	p.Lock.Release(c)

	guard.Relock()
	return guard
}
