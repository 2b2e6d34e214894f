// Package fwcfg implements big-endian selector/data register access to
// QEMU's optional fw_cfg device at 0x10100000, used at boot to read
// machine-provided configuration (e.g. the nb-cpus item) before the FDT
// is parsed, or to cross-check it afterward. The protocol is: write a
// 16-bit selector, then stream bytes from the data register. The same
// Backend-seam pattern as package uart and package csr keeps this
// host-testable without QEMU.
package fwcfg

import "github.com/ekureina/rv6-riscv-ekureina/util"

// Selector IDs this kernel reads.
const (
	SelSignature uint16 = 0x0000
	SelNbCPUs    uint16 = 0x0005
	SelRAMSize   uint16 = 0x0019
)

// Backend is the seam between this package's protocol logic and the
// fw_cfg MMIO window.
type Backend interface {
	WriteSelector(sel uint16)
	ReadData() byte
}

// FwCfg_t is a client of one fw_cfg device.
type FwCfg_t struct {
	backend Backend
}

// New wires a client to its backend.
func New(backend Backend) *FwCfg_t {
	return &FwCfg_t{backend: backend}
}

// ReadBytes selects item sel and reads n bytes from its data stream.
func (f *FwCfg_t) ReadBytes(sel uint16, n int) []byte {
	f.backend.WriteSelector(sel)
	out := make([]byte, n)
	for i := range out {
		out[i] = f.backend.ReadData()
	}
	return out
}

// ReadUint32 selects item sel and reads a big-endian 32-bit value from it.
func (f *FwCfg_t) ReadUint32(sel uint16) uint32 {
	return util.ReadBE32(f.ReadBytes(sel, 4), 0)
}

// NbCPUs reads the nb-cpus item: the number of virtual CPUs QEMU
// configured, used to cross-check fdt.Info_t.CPUCount.
func (f *FwCfg_t) NbCPUs() int {
	return int(f.ReadUint32(SelNbCPUs))
}

// RAMSize reads the ram_size item in bytes, used to cross-check
// fdt.Info_t.MemoryBytes.
func (f *FwCfg_t) RAMSize() uint64 {
	b := f.ReadBytes(SelRAMSize, 8)
	return uint64(util.ReadBE32(b, 0))<<32 | uint64(util.ReadBE32(b, 4))
}
