package vm

import (
	"unsafe"

	"github.com/ekureina/rv6-riscv-ekureina/defs"
	"github.com/ekureina/rv6-riscv-ekureina/intr"
	"github.com/ekureina/rv6-riscv-ekureina/physmem"
	"github.com/ekureina/rv6-riscv-ekureina/util"
)

// Va_t is a 39-bit Sv39 virtual address.
type Va_t uintptr

// MaxVA is one bit less than the full 39-bit Sv39 range, xv6's choice,
// repeated here, of staying below 2^38 so that sign-extension of the
// 39th bit never needs special-casing.
const MaxVA Va_t = 1 << 38

// PGSIZE mirrors physmem's page granularity under an Sv39-flavored name
// for callers in this package.
const (
	PGSIZE  = physmem.PageSize
	pteSize = 8
	ptesPerPage = PGSIZE / pteSize // 512
)

// PGROUNDDOWN/PGROUNDUP align a virtual address to the page below/above.
func PGROUNDDOWN(va Va_t) Va_t { return Va_t(util.Rounddown(uint64(va), PGSIZE)) }
func PGROUNDUP(va Va_t) Va_t   { return Va_t(util.Roundup(uint64(va), PGSIZE)) }

// vaIndex extracts the 9-bit page-table index for level (2, 1, or 0).
func vaIndex(va Va_t, level int) int {
	shift := 12 + 9*level
	return int(va>>shift) & (ptesPerPage - 1)
}

// Pagetable_t is an Sv39 page table: a root physical page plus the
// allocator that owns it and every intermediate table page it grows.
type Pagetable_t struct {
	Root  physmem.Pa_t
	Alloc *physmem.Allocator_t
	Cpu   *intr.Cpu
}

// NewPagetable allocates and zeroes a fresh, empty root page table.
func NewPagetable(alloc *physmem.Allocator_t, c *intr.Cpu) (*Pagetable_t, defs.Err_t) {
	root, ok := alloc.Alloc(c)
	if !ok {
		return nil, -defs.ENOMEM
	}
	zeroPage(alloc, root)
	return &Pagetable_t{Root: root, Alloc: alloc, Cpu: c}, 0
}

func zeroPage(alloc *physmem.Allocator_t, pa physmem.Pa_t) {
	b := alloc.PageBytes(pa)
	for i := range b {
		b[i] = 0
	}
}

func ptesOf(alloc *physmem.Allocator_t, pa physmem.Pa_t) *[ptesPerPage]Pte_t {
	b := alloc.PageBytes(pa)
	return (*[ptesPerPage]Pte_t)(unsafe.Pointer(&b[0]))
}

// Walk returns a pointer to the level-0 PTE mapping va, walking (and,
// if allocate is set, creating) the intermediate page-table pages along
// the way. It lives in this package rather than behind an outside seam
// because every mapping, copy, and fault-resolution operation here
// depends on it for its own correctness.
func Walk(pt *Pagetable_t, va Va_t, allocate bool) (*Pte_t, defs.Err_t) {
	if va >= MaxVA {
		return nil, -defs.EFAULT
	}
	pa := pt.Root
	for level := 2; level > 0; level-- {
		ptes := ptesOf(pt.Alloc, pa)
		pte := &ptes[vaIndex(va, level)]
		if !pte.HasFlag(PteV) {
			if !allocate {
				return nil, -defs.EFAULT
			}
			child, ok := pt.Alloc.Alloc(pt.Cpu)
			if !ok {
				return nil, -defs.ENOMEM
			}
			zeroPage(pt.Alloc, child)
			*pte = MakePTE(uint64(child)/PGSIZE, PteV)
		}
		pa = pte.PA()
	}
	ptes := ptesOf(pt.Alloc, pa)
	return &ptes[vaIndex(va, 0)], 0
}

// Mappages installs a single leaf mapping for every page in [va, va+size)
// starting at physical address pa, with the given flag bits (PteV is
// added automatically). Panics on remap of an already-valid PTE;
// mapping over a live entry is a programming error, not a
// resource-exhaustion error.
func Mappages(pt *Pagetable_t, va Va_t, size int, pa physmem.Pa_t, flags Pte_t) defs.Err_t {
	if size == 0 {
		defs.Panicf("vm: Mappages with zero size")
	}
	first := PGROUNDDOWN(va)
	last := PGROUNDDOWN(va + Va_t(size) - 1)
	for v := first; ; v += PGSIZE {
		pte, err := Walk(pt, v, true)
		if err != 0 {
			return err
		}
		if pte.HasFlag(PteV) {
			defs.Panicf("vm: Mappages remap at va %#x", uintptr(v))
		}
		*pte = MakePTE(uint64(pa)/PGSIZE, flags|PteV)
		if v == last {
			break
		}
		pa += PGSIZE
	}
	return 0
}

// Unmappages clears the leaf PTEs covering [va, va+size), dropping one
// reference to each mapped physical page if freePages is set. Used to
// unwind a partially completed Uvmcopy.
func Unmappages(pt *Pagetable_t, va Va_t, size int, freePages bool) {
	if size == 0 {
		defs.Panicf("vm: Unmappages with zero size")
	}
	first := PGROUNDDOWN(va)
	last := PGROUNDDOWN(va + Va_t(size) - 1)
	for v := first; ; v += PGSIZE {
		pte, err := Walk(pt, v, false)
		if err == 0 && pte.HasFlag(PteV) {
			if freePages {
				pt.Alloc.Dealloc(pt.Cpu, pte.PA())
			}
			*pte = 0
		}
		if v == last {
			break
		}
	}
}

// Uvmcopy gives the child pagetable read-only, copy-on-write access to
// every page the parent maps in [0, size), the VM half of fork. For each
// writable parent page it clears W and tags RswCoWPage in both tables and
// bumps the shared page's refcount; non-writable pages are shared as-is.
func Uvmcopy(old, new_ *Pagetable_t, size int) defs.Err_t {
	mapped := 0
	for va := Va_t(0); va < Va_t(size); va += PGSIZE {
		pte, err := Walk(old, va, false)
		if err != 0 || !pte.HasFlag(PteV) {
			defs.Panicf("vm: Uvmcopy found no PTE for va %#x", uintptr(va))
		}

		writable := pte.HasFlag(PteW)
		if writable {
			pte.ClearFlag(PteW)
			pte.SetRSW(RswCoWPage)
		}
		pa := pte.PA()
		childFlags := pte.Flags()

		if err := Mappages(new_, va, PGSIZE, pa, childFlags); err != 0 {
			if writable {
				pte.SetFlag(PteW)
				pte.SetRSW(RswDefault)
			}
			// Drop the references taken for every page already shared
			// with the child; the shared pages survive with the parent's
			// reference still held.
			if mapped > 0 {
				Unmappages(new_, 0, mapped, true)
			}
			return -defs.ENOMEM
		}
		if writable {
			// Mappages builds the child PTE with RswDefault; tag it here.
			cpte, _ := Walk(new_, va, false)
			cpte.SetRSW(RswCoWPage)
		}
		old.Alloc.InPlaceCopy(old.Cpu, pa)
		mapped += PGSIZE
	}
	return 0
}

// resolveCOWFault resolves a CoW fault. If the faulting mapping holds the
// page's only reference, it sets W and clears RSW in place without
// copying. Otherwise it allocates a new page, copies the old page's
// contents into it, publishes the new mapping with W set and RSW
// cleared, and drops the old page's reference. Shared by CopyOut's inline resolution and package trap's
// store-page-fault handler.
func resolveCOWFault(pt *Pagetable_t, pte *Pte_t) defs.Err_t {
	if pt.Alloc.ExactlyOneRef(pt.Cpu, pte.PA()) {
		pte.SetFlag(PteW)
		pte.SetRSW(RswDefault)
		return 0
	}

	oldPa := pte.PA()
	newPa, ok := pt.Alloc.Alloc(pt.Cpu)
	if !ok {
		return -defs.ENOMEM
	}
	copy(pt.Alloc.PageBytes(newPa), pt.Alloc.PageBytes(oldPa))

	flags := pte.Flags()
	flags |= PteW
	flags &^= Pte_t(rswMask << rswShift)
	newPTE := MakePTE(uint64(newPa)/PGSIZE, flags|PteV)
	storeAtomic(pte, newPTE)

	pt.Alloc.Dealloc(pt.Cpu, oldPa)
	return 0
}

// ResolveCOWFault is the exported entry point package trap's store-page-
// fault handler calls after confirming the PTE is present and tagged
// RswCoWPage.
func ResolveCOWFault(pt *Pagetable_t, pte *Pte_t) defs.Err_t {
	return resolveCOWFault(pt, pte)
}

// CopyOut copies src into the user address space at dstVa, resolving a
// CoW fault inline when a touched page is tagged RswCoWPage and not
// writable. Fails on any invalid or non-user-accessible page; bytes
// already copied into earlier pages of the range stay written.
func CopyOut(pt *Pagetable_t, dstVa Va_t, src []byte) defs.Err_t {
	for len(src) > 0 {
		va0 := PGROUNDDOWN(dstVa)
		if va0 >= MaxVA {
			return -defs.EFAULT
		}
		pte, err := Walk(pt, va0, false)
		if err != 0 || !pte.HasFlag(PteV) || !pte.HasFlag(PteU) {
			return -defs.EFAULT
		}
		if !pte.HasFlag(PteW) && pte.RSW() == RswCoWPage {
			if err := resolveCOWFault(pt, pte); err != 0 {
				return err
			}
		}

		pageOff := int(dstVa) - int(va0)
		n := PGSIZE - pageOff
		if n > len(src) {
			n = len(src)
		}
		dst := pt.Alloc.PageBytes(pte.PA())
		copy(dst[pageOff:pageOff+n], src[:n])

		src = src[n:]
		dstVa = va0 + PGSIZE
	}
	return 0
}

// CopyIn reads n bytes from the user address space starting at srcVa.
// Used by console.Write to fetch one byte at a time from user memory;
// unlike CopyOut it never needs to resolve a CoW fault (a read-only CoW
// page is readable as-is).
func CopyIn(pt *Pagetable_t, srcVa Va_t, n int) ([]byte, defs.Err_t) {
	out := make([]byte, 0, n)
	for len(out) < n {
		va0 := PGROUNDDOWN(srcVa)
		if va0 >= MaxVA {
			return nil, -defs.EFAULT
		}
		pte, err := Walk(pt, va0, false)
		if err != 0 || !pte.HasFlag(PteV) || !pte.HasFlag(PteU) {
			return nil, -defs.EFAULT
		}
		pageOff := int(srcVa) - int(va0)
		want := n - len(out)
		avail := PGSIZE - pageOff
		if want > avail {
			want = avail
		}
		src := pt.Alloc.PageBytes(pte.PA())
		out = append(out, src[pageOff:pageOff+want]...)
		srcVa = va0 + PGSIZE
	}
	return out, 0
}
