package replacer

import (
	"testing"

	"github.com/zxjcarrot/spitfire/page"
	"github.com/zxjcarrot/spitfire/pageid"
)

func newTestDescriptor(offset uint32) *page.Descriptor {
	return page.NewDescriptor(pageid.New(0, offset), page.DRAMFull, nil)
}

func TestReplacer_AddWithinCapacity(t *testing.T) {
	r := New(4, int64(4*page.Size), false)
	d := newTestDescriptor(0)

	evicted := r.Add(d, int64(len(d.Payload)))
	if evicted != nil {
		t.Errorf("Add() within capacity evicted %v, want nil", evicted)
	}
	if got := r.BytesInBuffer(); got != int64(len(d.Payload)) {
		t.Errorf("BytesInBuffer() = %d, want %d", got, len(d.Payload))
	}
}

func TestReplacer_AddEvictsOverCapacity(t *testing.T) {
	// Capacity for exactly one page; the second Add must evict the first.
	r := New(4, int64(page.Size), false)
	d1 := newTestDescriptor(1)
	d2 := newTestDescriptor(2)

	if evicted := r.Add(d1, int64(len(d1.Payload))); evicted != nil {
		t.Fatalf("first Add() evicted %v, want nil", evicted)
	}

	evicted := r.Add(d2, int64(len(d2.Payload)))
	if evicted != d1 {
		t.Errorf("Add() over capacity evicted %v, want d1", evicted)
	}
	if !d1.Evicted() {
		t.Errorf("evicted descriptor's pin count was not set to the evicted sentinel")
	}
}

func TestReplacer_AddSkipsPinnedAndUsed(t *testing.T) {
	// One-slot-worth-of-capacity ring with a pinned resident: Swap must
	// pass over it and starve rather than evict a pinned page.
	r := New(1, int64(page.Size), false)
	d1 := newTestDescriptor(1)
	d1.TryPin()
	r.Add(d1, int64(len(d1.Payload)))

	d2 := newTestDescriptor(2)
	evicted := r.Add(d2, int64(len(d2.Payload)))
	if evicted != nil {
		t.Errorf("Add() evicted a pinned descriptor: %v", evicted)
	}
	select {
	case <-r.Starved:
	default:
		t.Errorf("Add() failed to evict but did not signal Starved")
	}
}

func TestReplacer_SwapGivesSecondChance(t *testing.T) {
	r := New(2, int64(2*page.Size), false)
	d1 := newTestDescriptor(1)
	d2 := newTestDescriptor(2)
	r.Add(d1, int64(len(d1.Payload)))
	r.Add(d2, int64(len(d2.Payload)))
	d1.SetUsed()

	d3 := newTestDescriptor(3)
	evicted := r.Swap(d3, int64(len(d3.Payload)))
	if evicted != d2 {
		t.Errorf("Swap() evicted %v, want d2 (d1 had its used bit set)", evicted)
	}
	if d1.Used() {
		t.Errorf("Swap() left d1's used bit set after giving it a second chance")
	}
}

func TestReplacer_EvictPurgable(t *testing.T) {
	r := New(4, int64(4*page.Size), false)
	d1 := newTestDescriptor(1)
	d2 := newTestDescriptor(2)
	d3 := newTestDescriptor(3)
	r.Add(d1, int64(len(d1.Payload)))
	r.Add(d2, int64(len(d2.Payload)))
	r.Add(d3, int64(len(d3.Payload)))

	set := map[pageid.PageID]bool{d1.PID: true, d3.PID: true}
	evicted := r.EvictPurgable(set)

	if len(evicted) != 2 {
		t.Fatalf("EvictPurgable() evicted %d descriptors, want 2", len(evicted))
	}
	if !d1.Evicted() || !d3.Evicted() {
		t.Errorf("EvictPurgable() did not mark both matching descriptors evicted")
	}
	if d2.Evicted() {
		t.Errorf("EvictPurgable() evicted a descriptor not in the purge set")
	}
}

func TestReplacer_EvictPurgableSkipsPinned(t *testing.T) {
	r := New(2, int64(2*page.Size), false)
	d1 := newTestDescriptor(1)
	d1.TryPin()
	r.Add(d1, int64(len(d1.Payload)))

	evicted := r.EvictPurgable(map[pageid.PageID]bool{d1.PID: true})
	if len(evicted) != 0 {
		t.Errorf("EvictPurgable() evicted a pinned descriptor")
	}
}

func TestReplacer_Replace(t *testing.T) {
	r := New(4, int64(4*page.Size), false)
	d1 := newTestDescriptor(1)
	r.Add(d1, int64(len(d1.Payload)))
	before := r.BytesInBuffer()

	d2 := page.NewDescriptor(d1.PID, page.DRAMFull, nil)
	if !r.Replace(d1, d2, int64(len(d2.Payload))) {
		t.Fatalf("Replace() failed to swap a resident descriptor")
	}
	if got := r.BytesInBuffer(); got != before {
		t.Errorf("BytesInBuffer() after same-size Replace() = %d, want %d", got, before)
	}

	evicted := r.EvictPurgable(map[pageid.PageID]bool{d2.PID: true})
	if len(evicted) != 1 || evicted[0] != d2 {
		t.Errorf("post-Replace ring does not hold d2: evicted=%v", evicted)
	}
}

func TestReplacer_ReplaceMissReportsFalse(t *testing.T) {
	r := New(2, int64(2*page.Size), false)
	d1 := newTestDescriptor(1)
	d2 := newTestDescriptor(2)
	if r.Replace(d1, d2, int64(len(d2.Payload))) {
		t.Errorf("Replace() succeeded against a descriptor never added to the ring")
	}
}
