// Package uart implements the 16550-compatible console UART driver:
// register model, synchronous putc for panic/echo paths, a ring-buffered
// asynchronous putc that blocks the calling process when full, and
// interrupt-driven RX drain + TX continuation. circbuf.Buf_t backs the
// tx ring; blocking uses the same Spintex_t/sleep machinery as every
// other blocking primitive in this kernel.
package uart

import (
	"unsafe"

	"github.com/ekureina/rv6-riscv-ekureina/circbuf"
	"github.com/ekureina/rv6-riscv-ekureina/intr"
	"github.com/ekureina/rv6-riscv-ekureina/kstats"
	"github.com/ekureina/rv6-riscv-ekureina/proc"
	"github.com/ekureina/rv6-riscv-ekureina/sleep"
	"github.com/ekureina/rv6-riscv-ekureina/spinlock"
)

// Register offsets within the 8-register 16550 MMIO window at physical
// base 0x10000000.
const (
	RegRHR = 0 // receive holding register (read)
	RegTHR = 0 // transmit holding register (write)
	RegIER = 1 // interrupt enable
	RegFCR = 2 // FIFO control (write)
	RegISR = 2 // interrupt status (read)
	RegLCR = 3 // line control
	RegLSR = 5 // line status
)

// LSR bits this driver inspects.
const (
	LsrRxReady byte = 1 << 0
	LsrTxIdle  byte = 1 << 5 // THR empty
)

// LCR bits.
const (
	LcrDLAB  byte = 1 << 7 // divisor-latch access bit
	Lcr8Bits byte = 0x03   // 8 data bits, no parity, 1 stop bit (8N1)
)

// IER bits.
const (
	IerRxReady byte = 1 << 0
	IerTxEmpty byte = 1 << 1
)

// FCR bits: enable FIFOs and reset both.
const FcrEnableReset byte = 0x07

// Divisor for 38.4 kbaud at the expected UART clock rate.
const (
	DivisorLSB byte = 3
	DivisorMSB byte = 0
)

// Backend is the seam between this package's protocol logic and the
// actual MMIO window. A real boot image's backend reads/writes the
// physical 0x10000000 window directly; tests use simBackend.
type Backend interface {
	ReadReg(off int) byte
	WriteReg(off int, v byte)
}

// InputSink receives each byte the ISR drains from the receive FIFO.
// Console implements this; Uart_t depends only on the interface so this
// package never imports console (console imports uart for Putc, so the
// dependency can only run one way).
type InputSink interface {
	Intr(c *intr.Cpu, b byte)
}

const ringCap = 32

// Stats tallies bytes moved by the ISR paths. Counting is compiled out
// unless kstats.Enabled is set.
var Stats struct {
	Rx kstats.Counter_t
	Tx kstats.Counter_t
}

type ring_t struct {
	buf       *circbuf.Buf_t
	writePos  int
	readPos   int
}

func (r *ring_t) full() bool  { return r.writePos-r.readPos == r.buf.Cap() }
func (r *ring_t) empty() bool { return r.writePos == r.readPos }

// Uart_t is the driver instance for one 16550 device.
type Uart_t struct {
	backend Backend
	sink    InputSink
	sched   proc.Scheduler
	ring    *spinlock.Spintex_t[ring_t]
}

// New wires a driver to its MMIO backend, its console-side input sink,
// and the scheduler seam Putc's blocking path needs for sleep/wakeup.
func New(backend Backend, sink InputSink, sched proc.Scheduler) *Uart_t {
	return &Uart_t{
		backend: backend,
		sink:    sink,
		sched:   sched,
		ring:    spinlock.NewSpintex("uart_tx", ring_t{buf: circbuf.New(ringCap)}),
	}
}

// Init configures 8N1 at 38.4 kbaud, resets both FIFOs, and enables RX
// and TX interrupts.
func (u *Uart_t) Init(c *intr.Cpu) {
	u.backend.WriteReg(RegIER, 0)

	u.backend.WriteReg(RegLCR, LcrDLAB)
	u.backend.WriteReg(RegRHR, DivisorLSB)
	u.backend.WriteReg(RegIER, DivisorMSB)
	u.backend.WriteReg(RegLCR, Lcr8Bits)

	u.backend.WriteReg(RegFCR, FcrEnableReset)
	u.backend.WriteReg(RegIER, IerRxReady|IerTxEmpty)
}

// PutcSync writes one byte directly with interrupts masked, spinning
// until the transmit holding register is empty. Used for panic and
// local echo, where blocking on the ring would be unsafe or pointless.
func (u *Uart_t) PutcSync(c *intr.Cpu, b byte) {
	intr.Push(c)
	for u.backend.ReadReg(RegLSR)&LsrTxIdle == 0 {
	}
	u.backend.WriteReg(RegTHR, b)
	intr.Pop(c)
}

// Putc enqueues b on the transmit ring, blocking the calling process
// while the ring is full.
func (u *Uart_t) Putc(c *intr.Cpu, p *proc.Proc_t, b byte) {
	guard := u.ring.Lock(c)
	for guard.Val().full() {
		guard = sleep.Sleep(p, u.chanReadPos(), guard, u.sched)
	}
	r := guard.Val()
	r.buf.Set(r.writePos, b)
	r.writePos++
	u.startLocked(r)
	guard.Unlock()
}

// startLocked drains ring into the THR while it is empty and the ring is
// non-empty, waking any Putc waiters after each byte it frees up. Caller
// must hold u.ring's lock.
func (u *Uart_t) startLocked(r *ring_t) {
	for {
		if r.empty() || u.backend.ReadReg(RegLSR)&LsrTxIdle == 0 {
			return
		}
		b := r.buf.At(r.readPos)
		r.readPos++
		u.sched.Wakeup(u.chanReadPos())
		Stats.Tx.Inc()
		u.backend.WriteReg(RegTHR, b)
	}
}

// Getc returns the next received byte and true if the receive FIFO has
// one ready, or (0, false) otherwise.
func (u *Uart_t) Getc(c *intr.Cpu) (byte, bool) {
	if u.backend.ReadReg(RegLSR)&LsrRxReady == 0 {
		return 0, false
	}
	return u.backend.ReadReg(RegRHR), true
}

// Intr is the UART's interrupt handler: drain every ready input byte to
// the console, then continue draining the transmit ring.
func (u *Uart_t) Intr(c *intr.Cpu) {
	for {
		b, ok := u.Getc(c)
		if !ok {
			break
		}
		Stats.Rx.Inc()
		u.sink.Intr(c, b)
	}
	guard := u.ring.Lock(c)
	u.startLocked(guard.Val())
	guard.Unlock()
}

// chanReadPos is this driver's stable sleep-channel token: the driver
// instance's own address offset by one, since Spintex_t does not expose
// the guarded value's raw address across package boundaries.
func (u *Uart_t) chanReadPos() proc.Chan_t {
	return proc.Chan_t(uintptr(unsafe.Pointer(u)) + 1)
}
