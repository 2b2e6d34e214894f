// Package vm implements Sv39 page-table manipulation: the PTE bitfield,
// the three-level walk, page-table population, copy-on-write fork
// (Uvmcopy), and the cross-address-space copies that resolve a CoW fault
// inline. A software-reserved PTE bit tags shared copy-on-write pages.
package vm

import (
	"unsafe"

	"github.com/ekureina/rv6-riscv-ekureina/physmem"
)

// Pte_t is one 64-bit Sv39 page-table entry: a typed wrapper with named
// accessors, so raw bit offsets never leak across packages; every other
// package in this core reaches a PTE's bits only through these methods.
type Pte_t uint64

// Sv39 PTE flag bits.
const (
	PteV Pte_t = 1 << 0
	PteR Pte_t = 1 << 1
	PteW Pte_t = 1 << 2
	PteX Pte_t = 1 << 3
	PteU Pte_t = 1 << 4
	PteA Pte_t = 1 << 6
	PteD Pte_t = 1 << 7
)

// rswShift/rswMask locate the two-bit RSW field (bits 9:8).
const (
	rswShift = 8
	rswMask  = 0x3
)

// Rsw_t is the two-bit software-reserved PTE field, repurposed to mark a
// copy-on-write page.
type Rsw_t uint64

const (
	RswDefault Rsw_t = 0
	RswCoWPage Rsw_t = 1
)

const ppnShift = 10

// MakePTE packs a physical page number and flag bits into a PTE, with
// RswDefault. Callers that need a CoW tag call SetRSW afterward.
func MakePTE(ppn uint64, flags Pte_t) Pte_t {
	return Pte_t(ppn<<ppnShift) | (flags &^ (rswMask << rswShift))
}

// HasFlag reports whether every bit set in f is set in pte.
func (pte Pte_t) HasFlag(f Pte_t) bool {
	return pte&f == f
}

// SetFlag sets the bits in f.
func (pte *Pte_t) SetFlag(f Pte_t) {
	*pte |= f
}

// ClearFlag clears the bits in f.
func (pte *Pte_t) ClearFlag(f Pte_t) {
	*pte &^= f
}

// PPN extracts the 44-bit physical page number.
func (pte Pte_t) PPN() uint64 {
	return uint64(pte) >> ppnShift
}

// PA returns the physical page address a leaf PTE maps to.
func (pte Pte_t) PA() physmem.Pa_t {
	return physmem.Pa_t(pte.PPN() * physmem.PageSize)
}

// RSW returns the two-bit software-reserved tag.
func (pte Pte_t) RSW() Rsw_t {
	return Rsw_t(uint64(pte) >> rswShift & rswMask)
}

// SetRSW replaces the RSW field, leaving everything else untouched.
func (pte *Pte_t) SetRSW(r Rsw_t) {
	*pte = (*pte &^ Pte_t(rswMask<<rswShift)) | Pte_t(r)<<rswShift
}

// Flags returns the low ten bits: the V/R/W/X/U/A/D flag bits plus RSW,
// together in one value so Uvmcopy and the CoW fault handler can move
// the permission bits and the CoW tag as a unit.
func (pte Pte_t) Flags() Pte_t {
	return pte & ((1 << ppnShift) - 1)
}

// storeAtomic publishes pte's full 64 bits in one store. CoW resolution
// uses this instead of a mark-invalid / remap / restore sequence, which
// would leave a window where a concurrent walker observes an invalid
// mapping.
func storeAtomic(pte *Pte_t, v Pte_t) {
	*(*uint64)(unsafe.Pointer(pte)) = uint64(v)
}
