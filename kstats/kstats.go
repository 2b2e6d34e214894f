// Package kstats provides compile-time-gated interrupt/event counters:
// Counter_t.Inc() compiles down to nothing when Enabled is false, so the
// interrupt paths that tally through it cost nothing in a normal build.
package kstats

import "sync/atomic"

// Enabled gates every Counter_t.Inc() call to a no-op when false, so
// shipping with counting off costs nothing at the call site (the branch
// on a compile-time-constant false is eliminated by the Go compiler).
const Enabled = false

// Counter_t is a statistical counter, safe for concurrent increments
// from multiple harts.
type Counter_t int64

// Inc atomically increments c when kstats.Enabled.
func (c *Counter_t) Inc() {
	if Enabled {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Load returns c's current value.
func (c *Counter_t) Load() int64 {
	return atomic.LoadInt64((*int64)(c))
}
