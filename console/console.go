// Package console implements the tty line discipline: an input buffer
// with editing (^U, backspace/DEL, ^D, \r->\n translation), a blocking
// read of completed lines, and a write pass-through to the UART.
// circbuf.Buf_t backs the 128-byte input buffer; blocking uses the same
// Spintex_t/sleep machinery as every other blocking primitive in this
// kernel.
package console

import (
	"unsafe"

	"github.com/ekureina/rv6-riscv-ekureina/circbuf"
	"github.com/ekureina/rv6-riscv-ekureina/defs"
	"github.com/ekureina/rv6-riscv-ekureina/intr"
	"github.com/ekureina/rv6-riscv-ekureina/proc"
	"github.com/ekureina/rv6-riscv-ekureina/sleep"
	"github.com/ekureina/rv6-riscv-ekureina/spinlock"
	"github.com/ekureina/rv6-riscv-ekureina/uart"
	"github.com/ekureina/rv6-riscv-ekureina/vm"
)

const bufSize = 128

// Control codes the line discipline reacts to.
const (
	CtrlP     = 0x10 // external procdump
	CtrlU     = 0x15 // kill current edit line
	CtrlD     = 0x04 // EOF
	Backspace = 0x08
	Del       = 0x7f
)

// state_t is the console input buffer, with the invariant
// readIdx <= writeIdx <= editIdx <= readIdx+128. Bytes in
// [writeIdx, editIdx) belong to the line still being edited.
type state_t struct {
	buf      *circbuf.Buf_t
	readIdx  int
	writeIdx int
	editIdx  int
}

// Console_t is one console device: the line-discipline state plus the
// UART it echoes to and reads interrupt bytes from, and the scheduler
// seam its blocking Read uses.
type Console_t struct {
	sx       *spinlock.Spintex_t[state_t]
	uart     *uart.Uart_t
	sched    proc.Scheduler
	procdump func()
}

// New wires a console to its UART and scheduler. procdump is invoked for
// ^P; pass nil to ignore it.
func New(u *uart.Uart_t, sched proc.Scheduler, procdump func()) *Console_t {
	return &Console_t{
		sx:       spinlock.NewSpintex("cons", state_t{buf: circbuf.New(bufSize)}),
		uart:     u,
		sched:    sched,
		procdump: procdump,
	}
}

// Write copies n bytes from user memory at srcVa to the UART, one byte at
// a time via the cross-address-space copy-in helper, stopping early on a
// copy error. Returns the number of bytes actually written.
func (cons *Console_t) Write(c *intr.Cpu, p *proc.Proc_t, pt *vm.Pagetable_t, srcVa vm.Va_t, n int) (int, defs.Err_t) {
	i := 0
	for ; i < n; i++ {
		b, err := vm.CopyIn(pt, srcVa+vm.Va_t(i), 1)
		if err != 0 {
			break
		}
		cons.uart.Putc(c, p, b[0])
	}
	return i, 0
}

// Read delivers up to n bytes of completed input lines to user memory at
// dstVa, blocking while the buffer is empty. Returns −1 if the process
// is killed while waiting, preserves EOF semantics across calls by
// pushing back a ^D once bytes have already been delivered, and stops as
// soon as a newline is delivered.
func (cons *Console_t) Read(c *intr.Cpu, p *proc.Proc_t, pt *vm.Pagetable_t, dstVa vm.Va_t, n int) (int, defs.Err_t) {
	guard := cons.sx.Lock(c)
	total := 0

	for total < n {
		for guard.Val().readIdx == guard.Val().writeIdx {
			if proc.Killed(p) {
				guard.Unlock()
				return 0, -1
			}
			guard = sleep.Sleep(p, cons.chan_(), guard, cons.sched)
		}

		st := guard.Val()
		b := st.buf.At(st.readIdx)
		st.readIdx++

		if b == CtrlD {
			if total > 0 {
				st.readIdx-- // preserve ^D for the next Read call
			}
			break
		}

		if err := vm.CopyOut(pt, dstVa, []byte{b}); err != 0 {
			break
		}
		dstVa += 1
		total++
		if b == '\n' {
			break
		}
	}

	guard.Unlock()
	return total, 0
}

// Intr is the UART ISR's per-byte callback (uart.InputSink): apply the
// line-discipline editing rules and publish a completed line to readers.
func (cons *Console_t) Intr(c *intr.Cpu, b byte) {
	guard := cons.sx.Lock(c)
	defer guard.Unlock()
	st := guard.Val()

	switch b {
	case CtrlP:
		if cons.procdump != nil {
			cons.procdump()
		}
	case CtrlU:
		for st.editIdx > st.writeIdx && st.buf.At(st.editIdx-1) != '\n' {
			st.editIdx--
			cons.echo(c, '\b')
			cons.echo(c, ' ')
			cons.echo(c, '\b')
		}
	case Backspace, Del:
		if st.editIdx > st.writeIdx {
			st.editIdx--
			cons.echo(c, '\b')
			cons.echo(c, ' ')
			cons.echo(c, '\b')
		}
	default:
		if st.editIdx-st.readIdx < bufSize {
			if b == '\r' {
				b = '\n'
			}
			cons.echo(c, b)
			st.buf.Set(st.editIdx, b)
			st.editIdx++
			if b == '\n' || b == CtrlD || st.editIdx-st.readIdx == bufSize {
				st.writeIdx = st.editIdx
				cons.sched.Wakeup(cons.chan_())
			}
		}
	}
}

func (cons *Console_t) echo(c *intr.Cpu, b byte) {
	cons.uart.PutcSync(c, b)
}

// chan_ is this console's sleep-channel token, the console instance's
// own address; Spintex_t does not expose the guarded value's address
// across package boundaries, so the buffer cursor itself can't serve.
func (cons *Console_t) chan_() proc.Chan_t {
	return proc.Chan_t(uintptr(unsafe.Pointer(cons)))
}
