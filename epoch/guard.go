// Package epoch provides the reference-counted reclamation guard used
// to gate freeing a PD's payload (on mini-page promotion) and retiring
// an SPD (once both tier pointers go null): reclamation busy-waits
// until no reference holder observes the target address. This is a
// reference-counted quiescent-state
// reclaimer rather than a full hazard-pointer table: simpler, and
// sufficient since the guarded regions (one payload, one SPD) are never
// swapped for an unrelated address underneath a live reference.
package epoch

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Guard tracks how many goroutines currently hold a reference to the
// object it protects.
type Guard struct {
	refs int64
}

// Enter registers one reference. Must be paired with Leave.
func (g *Guard) Enter() { atomic.AddInt64(&g.refs, 1) }

// Leave releases one reference.
func (g *Guard) Leave() { atomic.AddInt64(&g.refs, -1) }

// Refs reports the current reference count.
func (g *Guard) Refs() int64 { return atomic.LoadInt64(&g.refs) }

// Drain busy-waits until no goroutine holds a reference. Callers must
// first ensure no *new* reference can be acquired (e.g. by unlinking
// the object from the structure readers discover it through).
func (g *Guard) Drain() {
	spins := 0
	for atomic.LoadInt64(&g.refs) > 0 {
		spins++
		if spins < 64 {
			runtime.Gosched()
		} else {
			time.Sleep(time.Microsecond)
		}
	}
}
