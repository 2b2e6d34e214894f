package spinlock

import (
	"math/rand"
	"runtime"
	"sync"
	"testing"

	"github.com/ekureina/rv6-riscv-ekureina/intr"
)

func TestAcquireReleaseRestoresCpuState(t *testing.T) {
	l := New("test")
	c := intr.NewCpu()
	c.CSR.IntrOn()

	l.Acquire(c)
	if !l.Holding(c) {
		t.Fatal("Holding should be true immediately after Acquire")
	}
	l.Release(c)
	if l.Holding(c) {
		t.Fatal("Holding should be false after Release")
	}
	if c.Nesting != 0 {
		t.Fatalf("Nesting = %d, want 0", c.Nesting)
	}
	if !c.CSR.IntrGet() {
		t.Fatal("Release should restore interrupts that were on before Acquire")
	}
}

func TestDoubleAcquirePanics(t *testing.T) {
	l := New("test")
	c := intr.NewCpu()
	l.Acquire(c)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double acquire by same hart")
		}
	}()
	l.Acquire(c)
}

func TestReleaseByNonOwnerPanics(t *testing.T) {
	l := New("test")
	owner := intr.NewCpu()
	other := intr.NewCpu()
	l.Acquire(owner)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic releasing a lock this hart doesn't hold")
		}
	}()
	l.Release(other)
}

// TestNoLostIncrements: N goroutines, each modeling a hart with its own
// intr.Cpu, race to increment a shared counter under the lock. If the lock
// ever let two critical sections interleave, the final count would be
// less than the number of increments performed.
func TestNoLostIncrements(t *testing.T) {
	l := New("counter")
	var counter int
	const harts = 8
	const itersPerHart = 500

	var wg sync.WaitGroup
	wg.Add(harts)
	for h := 0; h < harts; h++ {
		go func(seed int64) {
			defer wg.Done()
			c := intr.NewCpu()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < itersPerHart; i++ {
				l.Acquire(c)
				tmp := counter
				if r.Intn(16) == 0 {
					runtime.Gosched()
				}
				counter = tmp + 1
				l.Release(c)
			}
		}(int64(h))
	}
	wg.Wait()

	want := harts * itersPerHart
	if counter != want {
		t.Fatalf("counter = %d, want %d (lost increments under concurrent acquisition)", counter, want)
	}
}
