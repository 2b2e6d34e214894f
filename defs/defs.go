// Package defs holds the error type and small constants shared by every
// other package in this kernel core, so that no two packages invent their
// own incompatible error convention.
package defs

import (
	"fmt"

	"github.com/ekureina/rv6-riscv-ekureina/caller"
)

// Err_t is the kernel-internal error convention: 0 is success, a negative
// value is the negation of one of the E* constants below. Syscalls translate an Err_t to
// the 0/-1 convention userspace sees; everywhere else in the core the
// distinct negative values are preserved so callers can tell failures
// apart.
type Err_t int

const (
	EPERM        Err_t = 1
	ENOMEM       Err_t = 2
	EINVAL       Err_t = 3
	EFAULT       Err_t = 4
	ENAMETOOLONG Err_t = 5
	ESRCH        Err_t = 6
	E2BIG        Err_t = 7
	ENOHEAP      Err_t = 8
)

// Tid_t identifies a kernel thread (one per process in this core's model;
// the thread/process table itself lives outside this module).
type Tid_t int

// Device identifiers. Only the console device is touched by this core;
// the rest of the numbering space is reserved for the excluded filesystem
// layer so device numbers stay stable if that layer is added later.
const (
	D_CONSOLE int = 1
	D_FIRST       = D_CONSOLE
	D_LAST        = D_CONSOLE
)

// Panicf prints a formatted diagnostic followed by the Go call chain, then
// panics. The invariant checks in physmem, vm, and spinlock funnel
// through it: print the diagnostic, then halt. intr, plic, and trap
// raise their invariant panics with a plain panic instead.
func Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Printf("panic: %s\n", msg)
	caller.Dump(2)
	panic(msg)
}
