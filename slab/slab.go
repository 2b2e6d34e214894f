// Package slab implements the sub-page allocator layered above physmem's
// whole-page allocator: a global singly-linked free list of
// 16-byte-aligned headers, first-fit search with split-on-over-match,
// and miss handling that carves a fresh page into a used block plus a
// free remainder. Requests too large or too strictly aligned for the
// sub-page path are forwarded whole to the page allocator.
package slab

import (
	"unsafe"

	"github.com/ekureina/rv6-riscv-ekureina/defs"
	"github.com/ekureina/rv6-riscv-ekureina/intr"
	"github.com/ekureina/rv6-riscv-ekureina/physmem"
	"github.com/ekureina/rv6-riscv-ekureina/spinlock"
	"github.com/ekureina/rv6-riscv-ekureina/util"
)

// HeaderSize is the fixed 16-byte header every sub-page block (used or
// free) carries immediately before its payload; pages forwarded whole to
// physmem carry none: an 8-byte size field plus an 8-byte free-list link, reused as
// padding while the block is in use.
const HeaderSize = 16

// maxAlign is the largest alignment this allocator can satisfy from its
// own free list; anything stricter is forwarded to physmem, which hands
// back whole, page-aligned pages.
const maxAlign = 16

// subPageThreshold is the size cutoff for the sub-page path:
// below it a request can be served (and, on miss, still leave room for a
// free remainder header) from a single page; at or above it the request
// is forwarded whole.
const subPageThreshold = physmem.PageSize - 2*HeaderSize

// Allocator_t is a sub-page allocator layered on one physmem.Allocator_t.
// Forwarded whole-page blocks carry no header: they are returned at the
// page base, so Dealloc and Realloc tell the two block kinds apart by
// page alignment: a sub-page payload always sits at least one header
// into its page and can never be page-aligned.
type Allocator_t struct {
	page     *physmem.Allocator_t
	lock     spinlock.Spinlock_t
	freeHead uintptr // header address of the first free block, 0 = empty
}

// New wires a sub-page allocator to the page allocator it carves pages
// from on a free-list miss.
func New(page *physmem.Allocator_t) *Allocator_t {
	return &Allocator_t{page: page}
}

func sizeAt(hdr uintptr) *uint64  { return (*uint64)(unsafe.Pointer(hdr)) }
func nextAt(hdr uintptr) *uintptr { return (*uintptr)(unsafe.Pointer(hdr + 8)) }

// blockSize rounds a requested payload size up to a 16-byte-aligned total
// block size (header included).
func blockSize(size int) uint64 {
	return uint64(util.Roundup(uint(size)+HeaderSize, HeaderSize))
}

// Alloc returns a pointer to a size-byte block aligned to align. Requests
// with align > 16 or size >= the sub-page threshold are forwarded whole
// to the page allocator; everything else is served from this allocator's
// free list, splitting a larger free block or carving a fresh page.
// Requests larger than a page, or aligned stricter than a page, cannot be
// served at all and fail with EINVAL.
func (a *Allocator_t) Alloc(c *intr.Cpu, size, align int) (uintptr, defs.Err_t) {
	if !physmem.PageAligned(size, align) {
		return 0, -defs.EINVAL
	}
	if align > maxAlign || size >= subPageThreshold {
		pa, ok := a.page.Alloc(c)
		if !ok {
			return 0, -defs.ENOMEM
		}
		return uintptr(pa), 0
	}

	need := blockSize(size)

	a.lock.Acquire(c)
	if hdr, ok := a.takeFreeLocked(need); ok {
		a.lock.Release(c)
		return hdr + HeaderSize, 0
	}
	a.lock.Release(c)

	pa, ok := a.page.Alloc(c)
	if !ok {
		return 0, -defs.ENOMEM
	}
	base := uintptr(pa)
	*sizeAt(base) = need
	remSize := physmem.PageSize - need
	if remSize > 0 {
		remainder := base + uintptr(need)
		a.lock.Acquire(c)
		*sizeAt(remainder) = remSize
		*nextAt(remainder) = a.freeHead
		a.freeHead = remainder
		a.lock.Release(c)
	}
	return base + HeaderSize, 0
}

// takeFreeLocked performs the first-fit search: if the matching block
// exceeds need by at least one header's worth it is split and the tail
// reinserted; otherwise the whole block is unlinked. Caller must hold
// a.lock.
func (a *Allocator_t) takeFreeLocked(need uint64) (uintptr, bool) {
	var prev uintptr
	cur := a.freeHead
	for cur != 0 {
		sz := *sizeAt(cur)
		next := *nextAt(cur)
		if sz >= need {
			if sz >= need+HeaderSize {
				remainder := cur + uintptr(need)
				*sizeAt(remainder) = sz - need
				*nextAt(remainder) = next
				if prev == 0 {
					a.freeHead = remainder
				} else {
					*nextAt(prev) = remainder
				}
				*sizeAt(cur) = need
			} else if prev == 0 {
				a.freeHead = next
			} else {
				*nextAt(prev) = next
			}
			return cur, true
		}
		prev = cur
		cur = next
	}
	return 0, false
}

// Dealloc returns a block obtained from Alloc to its source: the free
// list for a sub-page block, or the page allocator for a forwarded whole
// page.
func (a *Allocator_t) Dealloc(c *intr.Cpu, ptr uintptr) {
	if ptr%physmem.PageSize == 0 {
		a.page.Dealloc(c, physmem.Pa_t(ptr))
		return
	}
	hdr := ptr - HeaderSize
	a.lock.Acquire(c)
	*nextAt(hdr) = a.freeHead
	a.freeHead = hdr
	a.lock.Release(c)
}

// Realloc resizes the block at ptr to newSize, preserving
// min(old, new) bytes of content. If the existing block already has room
// it is kept in place; when shrinking enough to free a full header's
// worth, the freed tail is split off and returned to the free list rather
// than wasted. A forwarded
// whole-page block stays in place while the new size still warrants a
// whole page, and otherwise reallocates, since physmem has no notion of
// resizing a page.
func (a *Allocator_t) Realloc(c *intr.Cpu, ptr uintptr, newSize int) (uintptr, defs.Err_t) {
	oldPayloadSize := physmem.PageSize
	if ptr%physmem.PageSize != 0 {
		hdr := ptr - HeaderSize
		oldTotal := *sizeAt(hdr)
		need := blockSize(newSize)
		if need <= oldTotal {
			if oldTotal-need >= HeaderSize {
				remainder := hdr + uintptr(need)
				a.lock.Acquire(c)
				*sizeAt(remainder) = oldTotal - need
				*nextAt(remainder) = a.freeHead
				a.freeHead = remainder
				a.lock.Release(c)
				*sizeAt(hdr) = need
			}
			return ptr, 0
		}
		oldPayloadSize = int(oldTotal) - HeaderSize
	} else if newSize <= physmem.PageSize && newSize >= subPageThreshold {
		return ptr, 0
	}

	newPtr, err := a.Alloc(c, newSize, 1)
	if err != 0 {
		return 0, err
	}
	n := util.Min(oldPayloadSize, newSize)
	copy(Bytes(newPtr, n), Bytes(ptr, n))
	a.Dealloc(c, ptr)
	return newPtr, 0
}

// Bytes returns the n-byte payload slice backing ptr, for callers that
// need direct read/write access to an allocated block.
func Bytes(ptr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
}
