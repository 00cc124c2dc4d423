package page

import (
	"sync/atomic"

	"github.com/zxjcarrot/spitfire/pageid"
)

// Descriptor is the per-tier metadata for one in-memory copy of a page.
// Exactly one Descriptor exists per (pid, tier).
type Descriptor struct {
	PID  pageid.PageID
	Type Type

	Latch OptLock

	// pin is signed; -1 denotes evicted.
	pin int32
	// used is the clock replacer's second-chance reference bit.
	used uint32

	Dirty        bool
	DirtyBits    *Bitset
	ResidentBits *Bitset

	Mini MiniPageIndex

	Payload []byte

	// Shared back-points to the owning SharedDescriptor; it is a
	// non-owning reference, resolved by the flusher to reach the
	// per-tier latches.
	Shared *SharedDescriptor

	// RecoveryLSN is the earliest WAL LSN that dirtied this page and
	// has not yet been flushed (mirrors the Dirty Page Table entry).
	RecoveryLSN uint64
}

func NewDescriptor(pid pageid.PageID, typ Type, shared *SharedDescriptor) *Descriptor {
	nblocks := BlocksPerPage
	payload := NewFullPayload()
	if typ == DRAMMini {
		nblocks = MiniMaxBlocks
		payload = NewMiniPayload()
	}
	return &Descriptor{
		PID:          pid,
		Type:         typ,
		pin:          0,
		DirtyBits:    NewBitset(nblocks),
		ResidentBits: NewBitset(nblocks),
		Payload:      payload,
		Shared:       shared,
	}
}

// TryPin increments the pin count, refusing to move a PD from evicted
// (-1) back to pinned. Returns false if the PD was already evicted.
func (d *Descriptor) TryPin() bool {
	for {
		cur := atomic.LoadInt32(&d.pin)
		if cur < 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&d.pin, cur, cur+1) {
			return true
		}
	}
}

func (d *Descriptor) Unpin() { atomic.AddInt32(&d.pin, -1) }

func (d *Descriptor) PinCount() int32 { return atomic.LoadInt32(&d.pin) }

// TryEvict CASes the pin count from 0 to -1, the atomic act that
// removes a PD from future readers' reach.
func (d *Descriptor) TryEvict() bool {
	return atomic.CompareAndSwapInt32(&d.pin, 0, -1)
}

func (d *Descriptor) Evicted() bool { return atomic.LoadInt32(&d.pin) < 0 }

func (d *Descriptor) SetUsed()   { atomic.StoreUint32(&d.used, 1) }
func (d *Descriptor) ClearUsed() { atomic.StoreUint32(&d.used, 0) }
func (d *Descriptor) Used() bool { return atomic.LoadUint32(&d.used) != 0 }

// MarkDirty sets the dirty flag and, for full pages, the per-block
// dirty bits over [firstBlock, lastBlock); mini-pages track dirtiness
// at whole-frame granularity in Dirty since every resident block of a
// mini-page is, by construction, fully written on admission.
func (d *Descriptor) MarkDirty(firstBlock, lastBlock int) {
	d.Dirty = true
	if d.Type == DRAMFull {
		d.DirtyBits.SetRange(firstBlock, lastBlock)
	}
}

// FullyResident reports whether every block of a full page is present.
func (d *Descriptor) FullyResident() bool {
	return d.ResidentBits.All()
}
