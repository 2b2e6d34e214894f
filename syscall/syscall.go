// Package syscall implements the system call surface: trace, sysinfo,
// shutdown, pgaccess, pgdirty, sigalarm, and sigreturn. Sysinfo_t
// exposes its own raw bytes via an unsafe cast so it can be handed
// straight to vm.CopyOut. Package trap calls Dispatch, which decodes the
// syscall number and argument registers out of proc.Proc_t's trapframe.
package syscall

import (
	"fmt"
	"unsafe"

	"github.com/ekureina/rv6-riscv-ekureina/defs"
	"github.com/ekureina/rv6-riscv-ekureina/intr"
	"github.com/ekureina/rv6-riscv-ekureina/physmem"
	"github.com/ekureina/rv6-riscv-ekureina/proc"
	"github.com/ekureina/rv6-riscv-ekureina/syslimit"
	"github.com/ekureina/rv6-riscv-ekureina/vm"
)

// Syscall numbers.
const (
	SysTrace     uint64 = 1
	SysSysinfo   uint64 = 2
	SysShutdown  uint64 = 3
	SysPgaccess  uint64 = 4
	SysPgdirty   uint64 = 5
	SysSigalarm  uint64 = 6
	SysSigreturn uint64 = 7
)

// maxPages bounds pgaccess/pgdirty's scan count to what fits in the
// 32-bit result bitmask.
const maxPages = 32

// Sysinfo_t is the struct sys_sysinfo copies out to userspace.
type Sysinfo_t struct {
	freeMem  uint64
	nProc    uint64
	maxMem   uint64
	cpuCount uint64
}

// Bytes exposes Sysinfo_t's raw bytes for copyout.
func (si *Sysinfo_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(*si)
	sl := (*[sz]uint8)(unsafe.Pointer(&si.freeMem))
	return sl[:]
}

// ProcessSource reports the one process-table fact sysinfo needs (the
// count of processes not in the Unused state), kept behind an interface
// since the process table itself lives outside this module.
type ProcessSource interface {
	NProc() int
}

// ShutdownBackend is sys_shutdown's seam onto the QEMU test device at
// physical address 0x100000.
type ShutdownBackend interface {
	// WriteTestDevice writes v to the test-device MMIO register. A real
	// QEMU instance tears the machine down before this call returns.
	WriteTestDevice(v uint16)
	// Halt parks the hart (e.g. a wfi loop). Called as a failsafe if
	// WriteTestDevice returns control instead of QEMU exiting; a panic
	// here would just reprint diagnostics forever on a machine that was
	// already asked to shut down.
	Halt()
}

// shutdownWord is the QEMU virt test-device value requesting a clean
// power-off.
const shutdownWord uint16 = 0x5555

// Syscalls_t holds every dependency the syscall surface needs beyond the
// calling process and its pagetable.
type Syscalls_t struct {
	alloc    *physmem.Allocator_t
	limit    *syslimit.Syslimit_t
	procs    ProcessSource
	shutdown ShutdownBackend
}

// New wires a Syscalls_t to its dependencies.
func New(alloc *physmem.Allocator_t, limit *syslimit.Syslimit_t, procs ProcessSource, shutdown ShutdownBackend) *Syscalls_t {
	return &Syscalls_t{alloc: alloc, limit: limit, procs: procs, shutdown: shutdown}
}

// Trace sets p's syscall tracing bitmask. Bit n controls whether syscall
// number n's dispatch is logged.
func (s *Syscalls_t) Trace(p *proc.Proc_t, mask uint64) defs.Err_t {
	p.TracingMask = mask
	return 0
}

// Sysinfo copies a populated Sysinfo_t to user memory at dstVa.
func (s *Syscalls_t) Sysinfo(c *intr.Cpu, p *proc.Proc_t, dstVa vm.Va_t) defs.Err_t {
	si := Sysinfo_t{
		freeMem:  uint64(s.alloc.FreeCount(c)) * physmem.PageSize,
		nProc:    uint64(s.procs.NProc()),
		maxMem:   s.limit.MaxMem,
		cpuCount: uint64(s.limit.CPUCount),
	}
	return vm.CopyOut(p.Pagetable, dstVa, si.Bytes())
}

// Shutdown asks QEMU's test device to power the machine off. If control
// somehow returns (e.g. running outside QEMU), it halts the hart rather
// than looping.
func (s *Syscalls_t) Shutdown() defs.Err_t {
	s.shutdown.WriteTestDevice(shutdownWord)
	s.shutdown.Halt()
	return 0
}

// pgscan implements the shared body of pgaccess/pgdirty: scan count pages
// starting at va, collect a bitmask of which ones have bit set, clear that
// bit in each, and copy the bitmask out to outVa.
func pgscan(p *proc.Proc_t, va vm.Va_t, count int, outVa vm.Va_t, bit vm.Pte_t) defs.Err_t {
	if count < 0 || count > maxPages {
		return -defs.EINVAL
	}
	var mask uint32
	for i := 0; i < count; i++ {
		pte, err := vm.Walk(p.Pagetable, va+vm.Va_t(i*vm.PGSIZE), false)
		if err != 0 || !pte.HasFlag(vm.PteV) {
			continue
		}
		if pte.HasFlag(bit) {
			mask |= 1 << uint(i)
			pte.ClearFlag(bit)
		}
	}
	buf := []byte{byte(mask), byte(mask >> 8), byte(mask >> 16), byte(mask >> 24)}
	return vm.CopyOut(p.Pagetable, outVa, buf)
}

// Pgaccess reports and clears the accessed bit over count pages starting
// at va.
func (s *Syscalls_t) Pgaccess(p *proc.Proc_t, va vm.Va_t, count int, outVa vm.Va_t) defs.Err_t {
	return pgscan(p, va, count, outVa, vm.PteA)
}

// Pgdirty reports and clears the dirty bit over count pages starting at
// va.
func (s *Syscalls_t) Pgdirty(p *proc.Proc_t, va vm.Va_t, count int, outVa vm.Va_t) defs.Err_t {
	return pgscan(p, va, count, outVa, vm.PteD)
}

// Sigalarm arms (interval > 0) or disarms (interval == 0 && handler == 0)
// p's periodic alarm. Any other combination is a usage error.
func (s *Syscalls_t) Sigalarm(p *proc.Proc_t, interval, handler uint64) defs.Err_t {
	if interval > 0 {
		p.AlarmInterval = interval
		p.AlarmHandler = handler
		p.TicksSinceLastAlarm = 0
		return 0
	}
	if handler == 0 {
		p.AlarmInterval = 0
		p.AlarmHandler = 0
		return 0
	}
	return -defs.EINVAL
}

// Sigreturn restores p's trapframe from the snapshot taken when its alarm
// handler was invoked, clears in_alarm_handler, and returns the a0 value
// that was live at the time of the alarm.
func (s *Syscalls_t) Sigreturn(p *proc.Proc_t) uint64 {
	saved := p.AlarmTrapframe.A0
	*p.Trapframe = p.AlarmTrapframe
	p.InAlarmHandler = 0
	return saved
}

// errRet converts an Err_t to the 0/-1 convention userspace sees.
func errRet(err defs.Err_t) uint64 {
	if err != 0 {
		return ^uint64(0)
	}
	return 0
}

// Dispatch decodes the syscall number and arguments from p's trapframe
// (a7 is the number, a0..a2 are arguments, per the RISC-V calling
// convention), invokes the matching handler, writes its return value to
// a0, and, if the bit for this syscall number is set in p.TracingMask,
// logs a trace line.
func (s *Syscalls_t) Dispatch(c *intr.Cpu, p *proc.Proc_t) {
	tf := p.Trapframe
	num := tf.A7
	var ret uint64

	switch num {
	case SysTrace:
		ret = errRet(s.Trace(p, tf.A0))
	case SysSysinfo:
		ret = errRet(s.Sysinfo(c, p, vm.Va_t(tf.A0)))
	case SysShutdown:
		ret = errRet(s.Shutdown())
	case SysPgaccess:
		ret = errRet(s.Pgaccess(p, vm.Va_t(tf.A0), int(tf.A1), vm.Va_t(tf.A2)))
	case SysPgdirty:
		ret = errRet(s.Pgdirty(p, vm.Va_t(tf.A0), int(tf.A1), vm.Va_t(tf.A2)))
	case SysSigalarm:
		ret = errRet(s.Sigalarm(p, tf.A0, tf.A1))
	case SysSigreturn:
		ret = s.Sigreturn(p)
	default:
		ret = errRet(-defs.EINVAL)
	}

	if num < 64 && p.TracingMask&(1<<num) != 0 {
		fmt.Printf("pid %d: syscall %d -> %d\n", p.Pid, num, int64(ret))
	}
	tf.A0 = ret
}
