package csr

// simBackend is a software model of the CSR bank, sufficient to exercise
// intr/spinlock/trap logic in tests without real RISC-V hardware. sstatus
// starts with SIE set, matching a hart that begins with interrupts enabled
// before this kernel's boot path runs its first IntrOff.
type simBackend struct {
	regs *[nregs]uint64
}

func (s simBackend) Read(r Reg) uint64   { return s.regs[r] }
func (s simBackend) Write(r Reg, v uint64) { s.regs[r] = v }

func (s simBackend) IntrGet() bool {
	return s.regs[Sstatus]&SstatusSIE != 0
}

func (s simBackend) IntrOn() {
	s.regs[Sstatus] |= SstatusSIE
}

func (s simBackend) IntrOff() {
	s.regs[Sstatus] &^= SstatusSIE
}

func (s simBackend) FramePointer() uintptr {
	return 0
}

// NewSimBackend returns a fresh, independent simulated register bank.
// Tests that need isolation from other tests' CSR state call
// csr.SetBackend(csr.NewSimBackend()) in a setup step.
func NewSimBackend() Backend {
	regs := new([nregs]uint64)
	regs[Sstatus] = SstatusSIE
	return simBackend{regs: regs}
}

func init() {
	backend = NewSimBackend()
}
