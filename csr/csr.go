// Package csr models the Supervisor-mode control/status registers this
// kernel touches: sstatus, sie, sepc, scause, stval, satp, sscratch, plus
// the frame-pointer read used by diagnostics. The bit-level encode/decode
// logic here is pure Go and unit-testable; the actual register access is a
// pair of indirections (Read*/Write*) that a real boot image wires to
// hart-level assembly, the same way the trampoline and entry assembly
// live outside this module. The default indirection is a
// software-simulated register bank (csr_sim.go) so every other package in
// this module can be tested without real hardware.
package csr

// Bit positions within sstatus this kernel inspects.
const (
	SstatusSIE  uint64 = 1 << 1 // supervisor interrupt enable
	SstatusSPIE uint64 = 1 << 5 // prior SIE, restored by sret
	SstatusSPP  uint64 = 1 << 8 // previous privilege mode (0=user, 1=supervisor)
)

// Bit positions within sie/sip this kernel enables.
const (
	SieSSIE uint64 = 1 << 1 // supervisor software interrupt
	SieSTIE uint64 = 1 << 5 // supervisor timer interrupt
	SieSEIE uint64 = 1 << 9 // supervisor external interrupt
)

// scause values the trap handler distinguishes. The high bit marks an
// interrupt rather than an exception; Code masks it off.
const (
	InterruptBit    uint64 = 1 << 63
	ScauseEcallU    uint64 = 8
	ScauseStorePage uint64 = 15
	InterruptSTI    uint64 = 5 // supervisor timer interrupt
	InterruptSEI    uint64 = 9 // supervisor external interrupt
)

// IsInterrupt reports whether scause describes an interrupt rather than an
// exception.
func IsInterrupt(scause uint64) bool {
	return scause&InterruptBit != 0
}

// Code masks off the interrupt bit, leaving the exception/interrupt code.
func Code(scause uint64) uint64 {
	return scause &^ InterruptBit
}

// SatpModeSv39 is the paging-mode field of satp that selects Sv39.
const SatpModeSv39 uint64 = 8

// MakeSatp packs an Sv39 root page-table physical page number into the
// satp format: mode in bits 63:60, ASID in 59:44 (unused, left zero), PPN
// in 43:0.
func MakeSatp(rootPPN uint64) uint64 {
	return SatpModeSv39<<60 | rootPPN
}

// SatpPPN extracts the root page-table PPN from a satp value.
func SatpPPN(satp uint64) uint64 {
	return satp & ((1 << 44) - 1)
}

// Reg names the registers this package indirects through Read/Write for.
type Reg int

const (
	Sstatus Reg = iota
	Sie
	Sepc
	Scause
	Stval
	Stvec
	Satp
	Sscratch
	nregs
)

// Read and Write dispatch to the current backend (simulated by default;
// see SetBackend). A real boot image calls SetBackend once, at startup,
// with a Backend whose methods are backed by hart assembly.
var backend Backend = simBackend{regs: new([nregs]uint64)}

// Backend is the seam between this package's bit-level logic and the
// actual CSR instructions. Exactly one concrete type exists today
// (simBackend, for host-side testing); a real target supplies its own
// alongside the trampoline/entry assembly this module's scope excludes.
type Backend interface {
	Read(Reg) uint64
	Write(Reg, uint64)
	IntrGet() bool
	IntrOn()
	IntrOff()
	FramePointer() uintptr
}

// SetBackend installs b as the CSR access backend. Call once at boot,
// before any other package in this module touches a CSR.
func SetBackend(b Backend) {
	backend = b
}

func ReadSstatus() uint64    { return backend.Read(Sstatus) }
func WriteSstatus(v uint64)  { backend.Write(Sstatus, v) }
func ReadSie() uint64        { return backend.Read(Sie) }
func WriteSie(v uint64)      { backend.Write(Sie, v) }
func ReadSepc() uint64       { return backend.Read(Sepc) }
func WriteSepc(v uint64)     { backend.Write(Sepc, v) }
func ReadScause() uint64     { return backend.Read(Scause) }
func ReadStval() uint64      { return backend.Read(Stval) }
func ReadStvec() uint64      { return backend.Read(Stvec) }
func WriteStvec(v uint64)    { backend.Write(Stvec, v) }
func ReadSatp() uint64       { return backend.Read(Satp) }
func WriteSatp(v uint64)     { backend.Write(Satp, v) }
func ReadSscratch() uint64   { return backend.Read(Sscratch) }
func WriteSscratch(v uint64) { backend.Write(Sscratch, v) }

// IntrGet reports whether interrupts are currently enabled on this hart
// (sstatus.SIE). intr.Push/Pop are the only callers that should need this.
func IntrGet() bool { return backend.IntrGet() }

// IntrOn enables interrupts on this hart (sets sstatus.SIE).
func IntrOn() { backend.IntrOn() }

// IntrOff disables interrupts on this hart (clears sstatus.SIE).
func IntrOff() { backend.IntrOff() }

// FramePointer returns the current frame pointer, used by panic-time stack
// walks that want native frames in addition to caller.Dump's Go frames.
func FramePointer() uintptr { return backend.FramePointer() }
