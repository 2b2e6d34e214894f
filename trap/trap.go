// Package trap dispatches traps taken from user mode: Usertrap's
// ecall/exception/interrupt triage, Devintr's external/timer
// classification, the store-page-fault-to-CoW-resolution path, and the
// alarm-timer snapshot/restore/redirect logic. It is built on package
// csr for cause/value registers, package vm for the CoW resolution and
// walk it needs, package plic and package uart for the
// external-interrupt branch, and package syscall for the ecall branch.
// The trampoline/entry assembly that actually saves/restores registers
// and issues sret lives outside this module; UsertrapRet performs the
// stvec/sepc half of that return path, the piece a Go function can
// meaningfully model.
package trap

import (
	"fmt"

	"github.com/ekureina/rv6-riscv-ekureina/csr"
	"github.com/ekureina/rv6-riscv-ekureina/intr"
	"github.com/ekureina/rv6-riscv-ekureina/kstats"
	"github.com/ekureina/rv6-riscv-ekureina/plic"
	"github.com/ekureina/rv6-riscv-ekureina/proc"
	"github.com/ekureina/rv6-riscv-ekureina/syscall"
	"github.com/ekureina/rv6-riscv-ekureina/uart"
	"github.com/ekureina/rv6-riscv-ekureina/vm"
)

// Deps bundles every collaborator Usertrap needs beyond the Cpu and
// Proc_t it is handling a trap for. KernelVec and UserVec are the stvec
// targets for the two trap directions; their values are link-time
// addresses of entry assembly outside this module's scope, carried here
// so Usertrap/UsertrapRet can perform the stvec switch itself.
type Deps struct {
	Sched     proc.Scheduler
	Plic      *plic.Plic_t
	Uart      *uart.Uart_t
	Ticks     *Ticks_t
	Syscalls  *syscall.Syscalls_t
	KernelVec uint64
	UserVec   uint64
}

// Stats tallies interrupt dispatches. Counting is compiled out unless
// kstats.Enabled is set.
var Stats struct {
	Ecall kstats.Counter_t
	Ext   kstats.Counter_t
	Timer kstats.Counter_t
}

// Devintr classifies the current trap:
// returns 2 for the supervisor timer interrupt (after driving the tick
// counter), 1 for an external interrupt it successfully claimed (only the
// UART's is routed to a driver; any other claimed IRQ is completed
// without one), or 0 if the trap is not a recognized device interrupt
// at all.
func Devintr(c *intr.Cpu, pl *plic.Plic_t, u *uart.Uart_t, ticks *Ticks_t) int {
	scause := c.CSR.Read(csr.Scause)
	if !csr.IsInterrupt(scause) {
		return 0
	}
	switch csr.Code(scause) {
	case csr.InterruptSEI:
		irq, ok := pl.Claim()
		if !ok {
			return 0
		}
		if irq == plic.UART0IRQ {
			u.Intr(c)
		}
		pl.Complete(irq)
		Stats.Ext.Inc()
		return 1
	case csr.InterruptSTI:
		ticks.Clockintr(c)
		Stats.Timer.Inc()
		return 2
	default:
		return 0
	}
}

// Usertrap is the entry point for every trap taken from user mode: an
// ecall, a store-page fault, or a device interrupt. It dispatches to the
// matching handler, kills p on an unrecognized cause, and hands control
// back to UsertrapRet when p survives.
func Usertrap(c *intr.Cpu, p *proc.Proc_t, d Deps) {
	if c.CSR.Read(csr.Sstatus)&csr.SstatusSPP != 0 {
		panic("trap: usertrap entered from supervisor mode")
	}
	// Traps taken while we are in the kernel must go to the kernel vector,
	// not back through the user trampoline.
	c.CSR.Write(csr.Stvec, d.KernelVec)
	p.Trapframe.Epc = c.CSR.Read(csr.Sepc)

	scause := c.CSR.Read(csr.Scause)
	timerFired := false

	switch {
	case scause == csr.ScauseEcallU:
		if proc.Killed(p) {
			d.Sched.Exit(-1)
			return
		}
		p.Trapframe.Epc += 4 // skip past the ecall instruction on return
		c.CSR.IntrOn()
		Stats.Ecall.Inc()
		d.Syscalls.Dispatch(c, p)

	case scause == csr.ScauseStorePage:
		handleStorePageFault(c, p)

	default:
		switch Devintr(c, d.Plic, d.Uart, d.Ticks) {
		case 0:
			fmt.Printf("trap: unrecognized scause %#x pid %d, killing\n", scause, p.Pid)
			p.SetKilled()
		case 2:
			timerFired = true
			handleAlarmTick(p)
		}
	}

	if proc.Killed(p) {
		d.Sched.Exit(-1)
		return
	}
	if timerFired {
		d.Sched.Yield()
	}
	UsertrapRet(c, p, d)
}

// handleStorePageFault resolves a store page fault by delegating to
// vm.ResolveCOWFault when the faulting PTE is tagged copy-on-write, and
// kills the process for any other cause (an invalid or genuinely
// read-only mapping).
func handleStorePageFault(c *intr.Cpu, p *proc.Proc_t) {
	stval := c.CSR.Read(csr.Stval)
	va := vm.PGROUNDDOWN(vm.Va_t(stval))
	if va >= vm.MaxVA {
		p.SetKilled()
		return
	}
	pte, err := vm.Walk(p.Pagetable, va, false)
	if err != 0 || !pte.HasFlag(vm.PteV) {
		p.SetKilled()
		return
	}
	if pte.RSW() == vm.RswCoWPage && !pte.HasFlag(vm.PteW) {
		if e := vm.ResolveCOWFault(p.Pagetable, pte); e != 0 {
			p.SetKilled()
		}
		return
	}
	p.SetKilled()
}

// handleAlarmTick advances p's tick-since-last-alarm counter and, once it
// reaches the configured interval, snapshots the trapframe and redirects
// execution to the alarm handler.
// Re-entry is suppressed while a previous invocation is still in flight
// (InAlarmHandler != 0), matching sigreturn's clearing of that flag.
func handleAlarmTick(p *proc.Proc_t) {
	if p.AlarmInterval == 0 {
		return
	}
	p.TicksSinceLastAlarm++
	if p.TicksSinceLastAlarm < p.AlarmInterval || p.InAlarmHandler != 0 {
		return
	}
	p.AlarmTrapframe = *p.Trapframe
	p.InAlarmHandler = 1
	p.TicksSinceLastAlarm = 0
	p.Trapframe.Epc = p.AlarmHandler
}

// UsertrapRet is the return half of the trap: the actual register
// restore and sret live in trampoline assembly outside this module's
// scope, but pointing stvec back at the user-side vector and restoring
// sepc to the (possibly alarm-redirected) trapframe PC are the pieces of
// that path worth modeling directly.
func UsertrapRet(c *intr.Cpu, p *proc.Proc_t, d Deps) {
	c.CSR.Write(csr.Stvec, d.UserVec)
	c.CSR.Write(csr.Sepc, p.Trapframe.Epc)
}
