// Package physmem is the page-granular physical memory allocator: a free
// list of whole pages plus a per-page reference count, which is what
// makes copy-on-write fork possible.
package physmem

import (
	"unsafe"

	"github.com/ekureina/rv6-riscv-ekureina/defs"
	"github.com/ekureina/rv6-riscv-ekureina/intr"
	"github.com/ekureina/rv6-riscv-ekureina/oommsg"
	"github.com/ekureina/rv6-riscv-ekureina/spinlock"
	"github.com/ekureina/rv6-riscv-ekureina/util"
)

// PageSize is the Sv39 page granularity.
const PageSize = 4096

// Pa_t is a physical address: in this host-testable model, the real
// address of a byte inside the backing pool slice rather than a separate
// simulated address space.
type Pa_t uintptr

// fillPattern is written across a freshly allocated page so that reads of
// forgotten-to-initialize memory are visibly wrong instead of silently
// zero.
const fillPattern = 0x05

// scrubPattern is written across a page when its last reference is freed.
const scrubPattern = 0x01

// maxRefcount is the ceiling of the uint16 refcount table; ordinary fork
// depths never approach it.
const maxRefcount = 0xffff

// Allocator_t is the page allocator for one contiguous physical pool.
// freelistLock and refcountsLock are separate locks, ordered freelist
// before refcounts everywhere; they are never merged because the CoW
// fault resolver in package vm takes refcountsLock alone for
// ExactlyOneRef without touching the free list at all.
type Allocator_t struct {
	pool []byte
	base Pa_t

	freelistLock  spinlock.Spinlock_t
	freeHead      Pa_t // 0 means empty

	refcountsLock spinlock.Spinlock_t
	refcounts     []uint16 // index (pa-base)/PageSize

	npages int
}

// NewAllocator carves a page allocator out of pool, reserving the lowest
// whole pages to hold the refcount table and putting every
// remaining page on the free list with refcount 0. pool's length must be
// a multiple of PageSize and pool must be page-aligned; callers in this
// module always obtain pool from a single make([]byte, n) so both hold.
func NewAllocator(pool []byte) *Allocator_t {
	if len(pool) == 0 || len(pool)%PageSize != 0 {
		defs.Panicf("physmem: pool size %d is not a multiple of PageSize", len(pool))
	}
	base := Pa_t(uintptr(unsafe.Pointer(&pool[0])))
	if uintptr(base)%PageSize != 0 {
		defs.Panicf("physmem: pool is not page-aligned")
	}

	totalPages := len(pool) / PageSize
	refcountBytes := totalPages * 2
	reservedPages := (refcountBytes + PageSize - 1) / PageSize

	a := &Allocator_t{
		pool: pool,
		base: base,
	}
	refcountRegion := pool[:reservedPages*PageSize]
	a.refcounts = unsafe.Slice((*uint16)(unsafe.Pointer(&refcountRegion[0])), totalPages)
	for i := range a.refcounts {
		a.refcounts[i] = 0
	}

	for i := totalPages - 1; i >= reservedPages; i-- {
		pa := a.pageAddr(i)
		a.pushFreeLocked(pa)
		a.npages++
	}
	return a
}

func (a *Allocator_t) pageAddr(i int) Pa_t {
	return a.base + Pa_t(i*PageSize)
}

func (a *Allocator_t) index(pa Pa_t) int {
	return int(pa-a.base) / PageSize
}

// PageBytes returns the PageSize-byte slice backing the page at pa. Used
// by package vm to view a page as a PTE array or raw data.
func (a *Allocator_t) PageBytes(pa Pa_t) []byte {
	off := uintptr(pa) - uintptr(a.base)
	return a.pool[off : off+PageSize]
}

// InPool reports whether pa names a page-aligned address within this
// allocator's managed pool.
func (a *Allocator_t) InPool(pa Pa_t) bool {
	if uintptr(pa)%PageSize != 0 {
		return false
	}
	return pa >= a.base && uintptr(pa) < uintptr(a.base)+uintptr(len(a.pool))
}

func (a *Allocator_t) nextPtr(pa Pa_t) *Pa_t {
	b := a.PageBytes(pa)
	return (*Pa_t)(unsafe.Pointer(&b[0]))
}

func (a *Allocator_t) pushFreeLocked(pa Pa_t) {
	*a.nextPtr(pa) = a.freeHead
	a.freeHead = pa
}

func (a *Allocator_t) popFreeLocked() (Pa_t, bool) {
	if a.freeHead == 0 {
		return 0, false
	}
	pa := a.freeHead
	a.freeHead = *a.nextPtr(pa)
	return pa, true
}

// Alloc pops one page off the free list, sets its refcount to 1, fills it
// with a recognizable byte pattern, and returns it. Returns false if the
// pool is exhausted. oommsg.OomCh is notified (best-effort, non-blocking)
// so an external memory-pressure daemon can react.
func (a *Allocator_t) Alloc(c *intr.Cpu) (Pa_t, bool) {
	a.freelistLock.Acquire(c)
	pa, ok := a.popFreeLocked()
	a.freelistLock.Release(c)
	if !ok {
		select {
		case oommsg.OomCh <- oommsg.Oommsg_t{Need: PageSize}:
		default:
		}
		return 0, false
	}

	a.refcountsLock.Acquire(c)
	a.refcounts[a.index(pa)] = 1
	a.refcountsLock.Release(c)

	b := a.PageBytes(pa)
	for i := range b {
		b[i] = fillPattern
	}
	return pa, true
}

// Dealloc releases one reference to pa. When the reference count reaches
// zero the page is scrubbed and returned to the free list. Panics on a
// misaligned or out-of-pool pointer, or on freeing an already-free page.
func (a *Allocator_t) Dealloc(c *intr.Cpu, pa Pa_t) {
	if !a.InPool(pa) {
		defs.Panicf("physmem: Dealloc of out-of-pool address %#x", uintptr(pa))
	}

	a.freelistLock.Acquire(c)
	a.refcountsLock.Acquire(c)
	idx := a.index(pa)
	if a.refcounts[idx] == 0 {
		a.refcountsLock.Release(c)
		a.freelistLock.Release(c)
		defs.Panicf("physmem: double free of page %#x", uintptr(pa))
	}
	a.refcounts[idx]--
	freed := a.refcounts[idx] == 0
	a.refcountsLock.Release(c)

	if freed {
		b := a.PageBytes(pa)
		for i := range b {
			b[i] = scrubPattern
		}
		a.pushFreeLocked(pa)
	}
	a.freelistLock.Release(c)
}

// InPlaceCopy increments pa's reference count without copying the page,
// the sharing half of fork's copy-on-write setup.
func (a *Allocator_t) InPlaceCopy(c *intr.Cpu, pa Pa_t) {
	a.refcountsLock.Acquire(c)
	idx := a.index(pa)
	if a.refcounts[idx] == 0 {
		a.refcountsLock.Release(c)
		defs.Panicf("physmem: InPlaceCopy of unreferenced page %#x", uintptr(pa))
	}
	if a.refcounts[idx] >= maxRefcount {
		a.refcountsLock.Release(c)
		defs.Panicf("physmem: refcount overflow on page %#x", uintptr(pa))
	}
	a.refcounts[idx]++
	a.refcountsLock.Release(c)
}

// ExactlyOneRef reports whether pa's reference count is exactly 1, used
// by the CoW fault handler to elide a copy when the faulter is the sole
// owner.
func (a *Allocator_t) ExactlyOneRef(c *intr.Cpu, pa Pa_t) bool {
	a.refcountsLock.Acquire(c)
	n := a.refcounts[a.index(pa)]
	a.refcountsLock.Release(c)
	return n == 1
}

// Refcount returns the current reference count of pa, for tests and
// diagnostics.
func (a *Allocator_t) Refcount(c *intr.Cpu, pa Pa_t) int {
	a.refcountsLock.Acquire(c)
	n := a.refcounts[a.index(pa)]
	a.refcountsLock.Release(c)
	return int(n)
}

// FreeCount returns the number of pages currently on the free list.
func (a *Allocator_t) FreeCount(c *intr.Cpu) int {
	a.freelistLock.Acquire(c)
	n := 0
	for pa := a.freeHead; pa != 0; pa = *a.nextPtr(pa) {
		n++
	}
	a.freelistLock.Release(c)
	return n
}

// TotalPages returns the number of allocatable pages this allocator
// manages (excluding the reserved refcount-table pages).
func (a *Allocator_t) TotalPages() int {
	return a.npages
}

// PageAligned reports whether size/align describe an allocation the page
// allocator can serve directly: at most one page, aligned to at most a
// page. Package slab uses this to decide whether to forward a request
// here instead of serving it from its own sub-page free list.
func PageAligned(size, align int) bool {
	return size <= PageSize && align <= PageSize
}

// RoundPage rounds n up to the next page boundary, used by callers that
// need a whole-page count from a byte size.
func RoundPage(n int) int {
	return int(util.Roundup(uint(n), uint(PageSize)))
}
