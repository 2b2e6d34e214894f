// Package proc supplies the process-record boundary of the kernel core:
// the fields physmem, vm, trap, console, and syscall touch, plus the
// narrow hooks (scheduler switch, wakeup, kill) that the externally-owned
// fork/exec/exit and scheduler loop are expected to provide. Nothing here
// grows a process table, a scheduler, or fork/exec/exit; tests build a
// bare Proc_t and a fake Scheduler to drive the packages that depend on
// this seam.
package proc

import (
	"sync/atomic"

	"github.com/ekureina/rv6-riscv-ekureina/spinlock"
	"github.com/ekureina/rv6-riscv-ekureina/vm"
)

// State enumerates the usual Unix-like process lifecycle; sysinfo's
// "processes not in Unused state" count ranges over it.
type State int

const (
	Unused State = iota
	Sleeping
	Runnable
	Running
	Zombie
)

// Chan_t is the opaque sleep-channel token, typically the address of a
// shared variable; any comparable value naming a wait queue works, so
// this module never needs to know what address arithmetic backs it.
type Chan_t uintptr

// Trapframe_t is the register-save area the trampoline assembly fills
// on trap entry. Only the fields the trap handler
// and alarm logic in this module actually read or write are named; a real
// kernel's trapframe carries additional fields (kernel satp/sp/hartid)
// that never flow through Go code and so are omitted here.
type Trapframe_t struct {
	Epc uint64
	Ra, Sp, Gp, Tp                 uint64
	T0, T1, T2                     uint64
	S0, S1                         uint64
	A0, A1, A2, A3, A4, A5, A6, A7 uint64
	S2, S3, S4, S5, S6, S7, S8, S9, S10, S11 uint64
	T3, T4, T5, T6                 uint64
}

// Proc_t carries exactly the fields the kernel core touches on a process
// record. Lock is held across a scheduler switch, so it is a bare
// Spinlock_t rather than a Spintex_t: the sleep primitive needs to
// release it itself, not through a guard whose lifetime would have to
// span the switch.
type Proc_t struct {
	Lock spinlock.Spinlock_t

	State State
	Chan  Chan_t

	Pagetable *vm.Pagetable_t
	Trapframe *Trapframe_t

	Pid int

	TracingMask uint64

	AlarmInterval        uint64
	AlarmHandler         uint64
	TicksSinceLastAlarm  uint64
	InAlarmHandler       int
	AlarmTrapframe       Trapframe_t

	killed uint32 // atomic; set by SetKilled, read by Killed
}

// SetKilled marks p killed. Idempotent and safe to call from any hart,
// including one handling an unrelated trap for a different process.
func (p *Proc_t) SetKilled() {
	atomic.StoreUint32(&p.killed, 1)
}

// Killed reports whether p has been marked killed. Checked at the
// cooperative exit points: after ecall, and by a sleeper in console.Read
// between wakeups.
func Killed(p *Proc_t) bool {
	return atomic.LoadUint32(&p.killed) != 0
}

// Scheduler is the seam into the externally-owned scheduler loop,
// process table, and kill/exit machinery.
// Every package here that needs to reschedule, wake a
// channel, or terminate a process takes one of these rather than calling
// a global, so tests can supply a fake that just records calls.
type Scheduler interface {
	// Sched switches away from the calling process; it returns once the
	// process has been rescheduled to run again. Called with p.Lock held.
	Sched(p *Proc_t)
	// Yield gives up the remainder of the current process's timeslice
	// without blocking it, used after a timer tick.
	Yield()
	// Wakeup scans the process table and moves every Sleeping process
	// whose Chan equals chan_ to Runnable, holding each process's Lock
	// while it reads Chan and State; sleep.Sleep relies on that.
	Wakeup(chan_ Chan_t)
	// Exit terminates the calling process; it does not return.
	Exit(status int)
}
