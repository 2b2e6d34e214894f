// Package oommsg carries out-of-memory notifications from the page
// allocator to an external memory-pressure daemon. There is no resume
// handshake: the allocator never blocks on exhaustion, so only the
// notification direction exists.
package oommsg

// Oommsg_t is sent on OomCh when the page allocator's free list is empty.
type Oommsg_t struct {
	Need int
}

// OomCh is notified, best-effort, whenever physmem.Alloc finds the free
// list empty. Sends are non-blocking (see physmem.Alloc): a daemon that
// isn't currently receiving simply misses the notification rather than
// stalling the allocator.
var OomCh chan Oommsg_t = make(chan Oommsg_t)
