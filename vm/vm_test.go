package vm

import (
	"testing"

	"github.com/ekureina/rv6-riscv-ekureina/defs"
	"github.com/ekureina/rv6-riscv-ekureina/intr"
	"github.com/ekureina/rv6-riscv-ekureina/physmem"
)

func newTestPagetable(t *testing.T) (*physmem.Allocator_t, *intr.Cpu, *Pagetable_t) {
	t.Helper()
	pool := make([]byte, 64*physmem.PageSize*2)
	alloc := physmem.NewAllocator(pool)
	c := intr.NewCpu()
	pt, err := NewPagetable(alloc, c)
	if err != 0 {
		t.Fatalf("NewPagetable failed: %d", err)
	}
	return alloc, c, pt
}

func TestPTEFlagsAndRSWRoundtrip(t *testing.T) {
	pte := MakePTE(0x1234, PteV|PteR|PteW|PteU)
	if !pte.HasFlag(PteV | PteR | PteW | PteU) {
		t.Fatal("expected flags to be set")
	}
	if pte.PPN() != 0x1234 {
		t.Fatalf("PPN = %#x, want %#x", pte.PPN(), 0x1234)
	}
	pte.SetRSW(RswCoWPage)
	if pte.RSW() != RswCoWPage {
		t.Fatal("RSW should read back as RswCoWPage")
	}
	pte.ClearFlag(PteW)
	if pte.HasFlag(PteW) {
		t.Fatal("ClearFlag(PteW) should clear W")
	}
	if pte.RSW() != RswCoWPage {
		t.Fatal("ClearFlag(PteW) must not disturb RSW")
	}
}

func TestWalkAllocatesIntermediatePages(t *testing.T) {
	_, _, pt := newTestPagetable(t)
	va := Va_t(0x1000)
	pte, err := Walk(pt, va, false)
	if err != -defs.EFAULT {
		t.Fatalf("Walk without allocate on unmapped va: err=%d pte=%v", err, pte)
	}
	pte, err = Walk(pt, va, true)
	if err != 0 {
		t.Fatalf("Walk with allocate failed: %d", err)
	}
	if pte.HasFlag(PteV) {
		t.Fatal("freshly walked leaf PTE should not itself be valid yet")
	}
}

func TestMappagesAndRemapPanics(t *testing.T) {
	alloc, c, pt := newTestPagetable(t)
	pa, _ := alloc.Alloc(c)
	if err := Mappages(pt, 0, PGSIZE, pa, PteR|PteW|PteU); err != 0 {
		t.Fatalf("Mappages failed: %d", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic remapping an already-valid PTE")
		}
	}()
	Mappages(pt, 0, PGSIZE, pa, PteR|PteU)
}

func TestUvmcopySharesWritablePageReadOnly(t *testing.T) {
	alloc, c, parent := newTestPagetable(t)
	child, err := NewPagetable(alloc, c)
	if err != 0 {
		t.Fatalf("NewPagetable(child) failed: %d", err)
	}

	pa, _ := alloc.Alloc(c)
	if err := Mappages(parent, 0, PGSIZE, pa, PteR|PteW|PteU); err != 0 {
		t.Fatalf("Mappages failed: %d", err)
	}

	if err := Uvmcopy(parent, child, PGSIZE); err != 0 {
		t.Fatalf("Uvmcopy failed: %d", err)
	}

	ppte, _ := Walk(parent, 0, false)
	cpte, _ := Walk(child, 0, false)
	if ppte.HasFlag(PteW) || cpte.HasFlag(PteW) {
		t.Fatal("both parent and child PTEs should be read-only after Uvmcopy")
	}
	if ppte.RSW() != RswCoWPage || cpte.RSW() != RswCoWPage {
		t.Fatal("both parent and child PTEs should be tagged RswCoWPage")
	}
	if ppte.PA() != cpte.PA() {
		t.Fatal("parent and child should map the same physical page")
	}
	if got := alloc.Refcount(c, pa); got != 2 {
		t.Fatalf("Refcount after Uvmcopy = %d, want 2", got)
	}
}

// TestCopyOutSingleOwnerElidesCopy: a forked page whose other owner has
// gone away should flip W in place instead of allocating.
func TestCopyOutSingleOwnerElidesCopy(t *testing.T) {
	alloc, c, pt := newTestPagetable(t)
	pa, _ := alloc.Alloc(c)
	if err := Mappages(pt, 0, PGSIZE, pa, PteR|PteU); err != 0 {
		t.Fatalf("Mappages failed: %d", err)
	}
	pte, _ := Walk(pt, 0, false)
	pte.SetRSW(RswCoWPage)

	if err := CopyOut(pt, 0, []byte{0xAB}); err != 0 {
		t.Fatalf("CopyOut failed: %d", err)
	}

	pte, _ = Walk(pt, 0, false)
	if !pte.HasFlag(PteW) {
		t.Fatal("PTE should be writable after single-owner CoW resolution")
	}
	if pte.PA() != pa {
		t.Fatal("single-owner CoW resolution must not allocate a new page")
	}
	if got := alloc.Refcount(c, pa); got != 1 {
		t.Fatalf("Refcount after single-owner resolution = %d, want 1", got)
	}
}

// TestCopyOutTwoOwnersCopies: with two live mappings, a write must
// allocate a fresh page and leave the other mapping's contents
// untouched.
func TestCopyOutTwoOwnersCopies(t *testing.T) {
	alloc, c, parent := newTestPagetable(t)
	child, _ := NewPagetable(alloc, c)

	pa, _ := alloc.Alloc(c)
	copy(alloc.PageBytes(pa), []byte("original"))
	if err := Mappages(parent, 0, PGSIZE, pa, PteR|PteW|PteU); err != 0 {
		t.Fatalf("Mappages failed: %d", err)
	}
	if err := Uvmcopy(parent, child, PGSIZE); err != 0 {
		t.Fatalf("Uvmcopy failed: %d", err)
	}

	if err := CopyOut(parent, 0, []byte("CHANGED!")); err != 0 {
		t.Fatalf("CopyOut failed: %d", err)
	}

	ppte, _ := Walk(parent, 0, false)
	cpte, _ := Walk(child, 0, false)
	if ppte.PA() == cpte.PA() {
		t.Fatal("parent should have been remapped to a new page")
	}
	if !ppte.HasFlag(PteW) || ppte.RSW() != RswDefault {
		t.Fatal("parent PTE should be writable, RSW cleared, after CoW copy")
	}
	if alloc.Refcount(c, cpte.PA()) != 1 {
		t.Fatalf("old page refcount = %d, want 1", alloc.Refcount(c, cpte.PA()))
	}
	childBytes := alloc.PageBytes(cpte.PA())
	if string(childBytes[:8]) != "original" {
		t.Fatalf("child should still read %q, got %q", "original", string(childBytes[:8]))
	}
}

func TestCopyOutRejectsKernelOnlyPage(t *testing.T) {
	alloc, c, pt := newTestPagetable(t)
	pa, _ := alloc.Alloc(c)
	if err := Mappages(pt, 0, PGSIZE, pa, PteR|PteW); err != 0 { // no PteU
		t.Fatalf("Mappages failed: %d", err)
	}
	if err := CopyOut(pt, 0, []byte{1}); err == 0 {
		t.Fatal("CopyOut into a non-user-accessible page should fail")
	}
}

func TestCopyOutBeyondMaxVAFails(t *testing.T) {
	_, _, pt := newTestPagetable(t)
	if err := CopyOut(pt, MaxVA, []byte{1}); err == 0 {
		t.Fatal("CopyOut at/above MaxVA should fail")
	}
}
