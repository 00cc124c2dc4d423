// Package replacer implements the per-tier concurrent clock replacer:
// a fixed-length ring of page descriptor slots plus a clock hand, with
// lock-free add/evict via CAS on each slot.
package replacer

import (
	"sync/atomic"
	"unsafe"

	"github.com/zxjcarrot/spitfire/page"
	"github.com/zxjcarrot/spitfire/pageid"
)

// Replacer is one tier's clock. EvictDirty controls whether a dirty PD
// may be evicted directly from the ring; this is false for DRAM when
// logging is enabled (forcing write-out via the page cleaner) and true
// for NVM (NVM writes are already durable).
type Replacer struct {
	slots []unsafe.Pointer // *page.Descriptor
	hand  uint64

	bytesInBuffer int64
	capacityBytes int64

	EvictDirty bool

	// Starved is signaled (non-blocking send) after a full sweep makes
	// no progress, so a page cleaner can be woken.
	Starved chan struct{}
}

func New(numSlots int, capacityBytes int64, evictDirty bool) *Replacer {
	return &Replacer{
		slots:         make([]unsafe.Pointer, numSlots),
		capacityBytes: capacityBytes,
		EvictDirty:    evictDirty,
		Starved:       make(chan struct{}, 1),
	}
}

func (r *Replacer) slotLoad(i int) *page.Descriptor {
	return (*page.Descriptor)(atomic.LoadPointer(&r.slots[i]))
}

func (r *Replacer) slotCAS(i int, old, new *page.Descriptor) bool {
	return atomic.CompareAndSwapPointer(&r.slots[i], unsafe.Pointer(old), unsafe.Pointer(new))
}

func (r *Replacer) nextHand() int {
	h := atomic.AddUint64(&r.hand, 1) - 1
	return int(h % uint64(len(r.slots)))
}

func (r *Replacer) BytesInBuffer() int64 { return atomic.LoadInt64(&r.bytesInBuffer) }

// Add installs d into the first free slot found within one full sweep
// from the hand. If adding size would exceed capacity it first evicts
// one descriptor via Swap(nil, 0). Returns the evicted descriptor, or
// nil if none was evicted.
func (r *Replacer) Add(d *page.Descriptor, size int64) *page.Descriptor {
	var evicted *page.Descriptor
	if atomic.LoadInt64(&r.bytesInBuffer)+size > r.capacityBytes {
		evicted = r.Swap(nil, 0)
	}
	n := len(r.slots)
	for step := 0; step < n; step++ {
		i := r.nextHand()
		if r.slotLoad(i) == nil {
			if r.slotCAS(i, nil, d) {
				atomic.AddInt64(&r.bytesInBuffer, size)
				return evicted
			}
		}
	}
	// ring fully occupied despite byte budget allowing it (fragmented
	// sizes): fall back to a real eviction sweep.
	if evicted == nil {
		evicted = r.Swap(d, size)
	}
	return evicted
}

// Swap performs one clock sweep of up to len(slots) steps, evicting
// the first unpinned, already-seen (second-chance) descriptor and
// installing d in its place. Returns the evicted descriptor.
func (r *Replacer) Swap(d *page.Descriptor, size int64) *page.Descriptor {
	n := len(r.slots)
	numPinned := 0
	for {
		for step := 0; step < n; step++ {
			i := r.nextHand()
			cur := r.slotLoad(i)
			if cur == nil {
				if d != nil && r.slotCAS(i, nil, d) {
					atomic.AddInt64(&r.bytesInBuffer, size)
					return nil
				}
				continue
			}
			if cur.PinCount() > 0 {
				numPinned++
				if numPinned >= n {
					break // nothing evictable this sweep; signal starvation below
				}
				continue
			}
			if cur.Dirty && !r.EvictDirty {
				continue
			}
			if cur.Used() {
				cur.ClearUsed()
				continue
			}
			if !cur.TryEvict() {
				continue // lost race to another evictor
			}
			if !r.slotCAS(i, cur, d) {
				// Shouldn't happen: we alone hold the evicted marker,
				// but guard against a racing Add targeting this slot.
				cur.Unpin()
				continue
			}
			if d != nil {
				atomic.AddInt64(&r.bytesInBuffer, size-evictedSize(cur))
			} else {
				atomic.AddInt64(&r.bytesInBuffer, -evictedSize(cur))
			}
			return cur
		}
		select {
		case r.Starved <- struct{}{}:
		default:
		}
		return nil
	}
}

// Replace swaps old for new in whichever slot currently holds old,
// adjusting the byte-in-buffer accounting, and leaves the clock hand
// untouched. Used for in-place identity changes that should keep
// their ring position, such as mini-page promotion. Returns false if
// old was not found resident (e.g. evicted concurrently), in which
// case the caller must fall back to Add.
func (r *Replacer) Replace(old, new *page.Descriptor, newSize int64) bool {
	for i := range r.slots {
		if r.slotLoad(i) == old {
			if r.slotCAS(i, old, new) {
				atomic.AddInt64(&r.bytesInBuffer, newSize-evictedSize(old))
				return true
			}
		}
	}
	return false
}

func evictedSize(d *page.Descriptor) int64 {
	return int64(len(d.Payload))
}

// EvictPurgable evicts every unpinned resident descriptor whose pid is
// in set, used by the MVCC purger. Pinned slots are
// left untouched.
func (r *Replacer) EvictPurgable(set map[pageid.PageID]bool) []*page.Descriptor {
	var evicted []*page.Descriptor
	for i := range r.slots {
		cur := r.slotLoad(i)
		if cur == nil || !set[cur.PID] {
			continue
		}
		if cur.PinCount() != 0 {
			continue
		}
		if !cur.TryEvict() {
			continue
		}
		if !r.slotCAS(i, cur, nil) {
			cur.Unpin()
			continue
		}
		atomic.AddInt64(&r.bytesInBuffer, -evictedSize(cur))
		evicted = append(evicted, cur)
	}
	return evicted
}
