package trap

import (
	"testing"

	"github.com/ekureina/rv6-riscv-ekureina/csr"
	"github.com/ekureina/rv6-riscv-ekureina/intr"
	"github.com/ekureina/rv6-riscv-ekureina/physmem"
	"github.com/ekureina/rv6-riscv-ekureina/plic"
	"github.com/ekureina/rv6-riscv-ekureina/proc"
	"github.com/ekureina/rv6-riscv-ekureina/syscall"
	"github.com/ekureina/rv6-riscv-ekureina/syslimit"
	"github.com/ekureina/rv6-riscv-ekureina/uart"
	"github.com/ekureina/rv6-riscv-ekureina/vm"
)

type nopUartBackend struct{}

func (nopUartBackend) ReadReg(off int) byte { return uart.LsrTxIdle }
func (nopUartBackend) WriteReg(off int, v byte) {}

type fakeSched struct {
	yields, exits int
	exitStatus    int
	wakeups       []proc.Chan_t
}

func (f *fakeSched) Sched(p *proc.Proc_t) {}
func (f *fakeSched) Yield()               { f.yields++ }
func (f *fakeSched) Wakeup(ch proc.Chan_t) { f.wakeups = append(f.wakeups, ch) }
func (f *fakeSched) Exit(status int) {
	f.exits++
	f.exitStatus = status
}

type fakeProcs struct{}

func (fakeProcs) NProc() int { return 1 }

type fakeShutdown struct{}

func (fakeShutdown) WriteTestDevice(v uint16) {}
func (fakeShutdown) Halt()                    {}

func newTestDeps(sched proc.Scheduler) (Deps, *physmem.Allocator_t) {
	alloc := physmem.NewAllocator(make([]byte, 16*physmem.PageSize))
	return Deps{
		Sched:     sched,
		Plic:      plic.New(),
		Uart:      uart.New(nopUartBackend{}, nil, sched),
		Ticks:     NewTicks(sched),
		Syscalls:  syscall.New(alloc, syslimit.New(64<<20, 1), fakeProcs{}, fakeShutdown{}),
		KernelVec: 0xffffffc000000000,
		UserVec:   0xffffffc000001000,
	}, alloc
}

func newTestProcAndPT(t *testing.T, c *intr.Cpu, alloc *physmem.Allocator_t) *proc.Proc_t {
	t.Helper()
	pt, err := vm.NewPagetable(alloc, c)
	if err != 0 {
		t.Fatalf("NewPagetable: %d", err)
	}
	return &proc.Proc_t{Pagetable: pt, Trapframe: &proc.Trapframe_t{}}
}

func TestDevintrTimerAdvancesTicksAndReturns2(t *testing.T) {
	c := intr.NewCpu()
	d, _ := newTestDeps(&fakeSched{})
	c.CSR.Write(csr.Scause, csr.InterruptBit|csr.InterruptSTI)

	which := Devintr(c, d.Plic, d.Uart, d.Ticks)
	if which != 2 {
		t.Fatalf("Devintr = %d, want 2", which)
	}
	if got := d.Ticks.Get(c); got != 1 {
		t.Fatalf("ticks = %d, want 1", got)
	}
}

func TestDevintrExternalClaimsAndCompletes(t *testing.T) {
	c := intr.NewCpu()
	d, _ := newTestDeps(&fakeSched{})
	d.Plic.Pend(plic.UART0IRQ)
	c.CSR.Write(csr.Scause, csr.InterruptBit|csr.InterruptSEI)

	which := Devintr(c, d.Plic, d.Uart, d.Ticks)
	if which != 1 {
		t.Fatalf("Devintr = %d, want 1", which)
	}
	if _, ok := d.Plic.Claim(); ok {
		t.Fatalf("irq should already be claimed and completed")
	}
}

func TestDevintrUnknownCauseReturns0(t *testing.T) {
	c := intr.NewCpu()
	d, _ := newTestDeps(&fakeSched{})
	c.CSR.Write(csr.Scause, 0) // not even an interrupt

	if which := Devintr(c, d.Plic, d.Uart, d.Ticks); which != 0 {
		t.Fatalf("Devintr = %d, want 0", which)
	}
}

func TestUsertrapEcallDispatchesSyscallAndAdvancesEpc(t *testing.T) {
	c := intr.NewCpu()
	sched := &fakeSched{}
	d, alloc := newTestDeps(sched)
	p := newTestProcAndPT(t, c, alloc)

	c.CSR.Write(csr.Scause, csr.ScauseEcallU)
	c.CSR.Write(csr.Sepc, 0x1000)
	p.Trapframe.A7 = syscall.SysTrace
	p.Trapframe.A0 = 0xf

	Usertrap(c, p, d)

	if p.Trapframe.Epc != 0x1004 {
		t.Fatalf("Epc = %#x, want %#x", p.Trapframe.Epc, 0x1004)
	}
	if p.Trapframe.A0 != 0 {
		t.Fatalf("A0 = %#x, want 0 (syscall succeeded)", p.Trapframe.A0)
	}
	if got := c.CSR.Read(csr.Sepc); got != 0x1004 {
		t.Fatalf("sepc not restored by UsertrapRet: %#x", got)
	}
	if got := c.CSR.Read(csr.Stvec); got != d.UserVec {
		t.Fatalf("stvec = %#x after return to user, want %#x", got, d.UserVec)
	}
}

func TestUsertrapStorePageFaultResolvesCOWForSoleOwner(t *testing.T) {
	c := intr.NewCpu()
	sched := &fakeSched{}
	d, alloc := newTestDeps(sched)
	p := newTestProcAndPT(t, c, alloc)

	pa, _ := alloc.Alloc(c)
	if err := vm.Mappages(p.Pagetable, 0, vm.PGSIZE, pa, vm.PteR|vm.PteU); err != 0 {
		t.Fatalf("Mappages: %d", err)
	}
	pte, err := vm.Walk(p.Pagetable, 0, false)
	if err != 0 {
		t.Fatalf("Walk: %d", err)
	}
	pte.SetRSW(vm.RswCoWPage)

	c.CSR.Write(csr.Scause, csr.ScauseStorePage)
	c.CSR.Write(csr.Stval, 0)

	Usertrap(c, p, d)

	if proc.Killed(p) {
		t.Fatalf("process killed resolving a sole-owner CoW fault")
	}
	if !pte.HasFlag(vm.PteW) {
		t.Fatalf("PTE not made writable after CoW resolution")
	}
}

func TestUsertrapKillsOnUnrecognizedCause(t *testing.T) {
	c := intr.NewCpu()
	sched := &fakeSched{}
	d, alloc := newTestDeps(sched)
	p := newTestProcAndPT(t, c, alloc)

	c.CSR.Write(csr.Scause, 123) // neither ecall, store-page-fault, nor a recognized interrupt

	Usertrap(c, p, d)

	if sched.exits != 1 || sched.exitStatus != -1 {
		t.Fatalf("exits=%d status=%d, want (1, -1)", sched.exits, sched.exitStatus)
	}
}

func TestUsertrapTimerFiresYieldAndAdvancesAlarm(t *testing.T) {
	c := intr.NewCpu()
	sched := &fakeSched{}
	d, alloc := newTestDeps(sched)
	p := newTestProcAndPT(t, c, alloc)
	p.AlarmInterval = 1
	p.AlarmHandler = 0x2000

	c.CSR.Write(csr.Scause, csr.InterruptBit|csr.InterruptSTI)

	Usertrap(c, p, d)

	if sched.yields != 1 {
		t.Fatalf("yields = %d, want 1", sched.yields)
	}
	if p.Trapframe.Epc != 0x2000 {
		t.Fatalf("Epc = %#x, want alarm handler %#x", p.Trapframe.Epc, 0x2000)
	}
	if p.InAlarmHandler != 1 {
		t.Fatalf("InAlarmHandler not set")
	}
}
