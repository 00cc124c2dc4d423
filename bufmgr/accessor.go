package bufmgr

import (
	"github.com/zxjcarrot/spitfire/bmerr"
	"github.com/zxjcarrot/spitfire/internal/xlog"
	"github.com/zxjcarrot/spitfire/page"
	"github.com/zxjcarrot/spitfire/wal"
)

// Accessor is the pinned handle Get returns: a byte-range view over
// one tier's resident copy of a page, plus the bookkeeping needed to
// release the pin and, for dirtying accesses, log the write and
// register the page with the WAL's Dirty Page Table.
type Accessor struct {
	m      *Manager
	spd    *page.SharedDescriptor
	d      *page.Descriptor
	intent Intent
	done   bool

	dirtied    bool
	undoOffset int
	undoSize   int
	undo       []byte
}

func newAccessor(m *Manager, spd *page.SharedDescriptor, d *page.Descriptor, intent Intent) *Accessor {
	return &Accessor{m: m, spd: spd, d: d, intent: intent}
}

// Descriptor exposes the underlying page descriptor, for callers that
// need the raw Type/Payload (e.g. the purger checking residency).
func (a *Accessor) Descriptor() *page.Descriptor { return a.d }

// PrepareForRead returns a slice over [offset, offset+size), fetching
// any missing mini-page blocks from SSD first. offset/size must fall
// within a single NVM block when the resident tier is a mini-page.
func (a *Accessor) PrepareForRead(offset, size int) ([]byte, error) {
	if err := a.ensureResident(offset, size); err != nil {
		return nil, err
	}
	return a.sliceFor(offset, size)
}

// PrepareForWrite is PrepareForRead plus marking the touched range
// dirty, since the caller is about to mutate the returned slice. The
// pre-mutation bytes over [offset, offset+size) are snapshotted as the
// access's undo image before the caller gets a chance to write to the
// returned slice.
func (a *Accessor) PrepareForWrite(offset, size int) ([]byte, error) {
	if err := a.ensureResident(offset, size); err != nil {
		return nil, err
	}
	buf, err := a.sliceFor(offset, size)
	if err != nil {
		return nil, err
	}
	a.MarkDirty(offset, size)
	return buf, nil
}

// MarkDirty records [offset, offset+size) as modified without
// returning a slice, for callers that already hold one from an
// earlier PrepareForRead in the same access. Must be called before
// the range is actually mutated, since it captures the pre-image for
// the access's eventual UPDATE log record.
func (a *Accessor) MarkDirty(offset, size int) {
	wasDirty := a.d.Dirty
	a.recordUndo(offset, size)
	first, last := page.BlockRange(offset, size)
	a.d.MarkDirty(first, last)
	if !wasDirty && a.d.Type != page.NVMFull {
		a.m.stats.addDRAMDirty(int64(len(a.d.Payload)))
	}
}

// recordUndo snapshots the pre-mutation bytes over [offset, offset+size)
// into the access's undo image, widening it to cover every range
// touched so far if this call extends beyond what was already
// captured.
func (a *Accessor) recordUndo(offset, size int) {
	if !a.dirtied {
		if pre, err := a.sliceFor(offset, size); err == nil {
			a.undo = append([]byte(nil), pre...)
			a.undoOffset = offset
			a.undoSize = size
		}
		a.dirtied = true
		return
	}

	lo, hi := offset, offset+size
	if a.undoOffset < lo {
		lo = a.undoOffset
	}
	if a.undoOffset+a.undoSize > hi {
		hi = a.undoOffset + a.undoSize
	}
	if lo == a.undoOffset && hi == a.undoOffset+a.undoSize {
		return // already covered by the existing undo image
	}

	widened := make([]byte, hi-lo)
	copy(widened[a.undoOffset-lo:], a.undo)
	if offset < a.undoOffset {
		if pre, err := a.sliceFor(offset, a.undoOffset-offset); err == nil {
			copy(widened[offset-lo:], pre)
		}
	}
	if tailStart := a.undoOffset + a.undoSize; offset+size > tailStart {
		if pre, err := a.sliceFor(tailStart, offset+size-tailStart); err == nil {
			copy(widened[tailStart-lo:], pre)
		}
	}
	a.undo = widened
	a.undoOffset = lo
	a.undoSize = hi - lo
}

func (a *Accessor) sliceFor(offset, size int) ([]byte, error) {
	if a.d.Type != page.DRAMMini {
		return a.d.Payload[offset : offset+size], nil
	}
	first, _ := page.BlockRange(offset, size)
	slot := a.d.Mini.Find(first)
	if slot < 0 {
		return nil, bmerr.New(bmerr.NotFound)
	}
	within := offset % page.BlockSize
	base := slot*page.BlockSize + within
	return a.d.Payload[base : base+size], nil
}

func (a *Accessor) ensureResident(offset, size int) error {
	if a.d.Type != page.DRAMMini {
		return nil // full pages are entirely resident once installed
	}
	first, last := page.BlockRange(offset, size)
	for block := first; block < last; block++ {
		slot := a.d.Mini.Find(block)
		if slot >= 0 && a.d.ResidentBits.Test(slot) {
			continue
		}
		if err := a.fetchBlock(block); err != nil {
			return err
		}
	}
	return nil
}

// fetchBlock pulls one block in from SSD on a mini-page's first touch
// of it: mini-pages fill in block by block as they are touched rather
// than reading the whole page eagerly.
func (a *Accessor) fetchBlock(block int) error {
	if a.d.Mini.WouldOverflow(block) {
		return bmerr.New(bmerr.OutOfCapacity)
	}
	full := a.m.ssd.NewAlignedBuffer()
	if err := a.m.ssd.ReadPage(a.d.PID, full); err != nil && bmerr.CodeOf(err) != bmerr.NotFound {
		return err
	}
	slot := a.d.Mini.Insert(block)
	srcOff := block * page.BlockSize
	dstOff := slot * page.BlockSize
	copy(a.d.Payload[dstOff:dstOff+page.BlockSize], full[srcOff:srcOff+page.BlockSize])
	a.d.ResidentBits.Set(slot)
	a.m.stats.incSSDRead()
	return nil
}

// FinishAccess releases the pin taken by Get. If the access dirtied
// the page, it emits a single UPDATE log record covering every byte
// range touched since the first PrepareForWrite/MarkDirty call, and
// the returned LSN becomes the page's Dirty Page Table entry so the
// page cleaner never flushes it ahead of the log.
func (a *Accessor) FinishAccess() {
	if a.done {
		return
	}
	a.done = true
	if a.dirtied && a.m.wal != nil {
		if err := a.logUpdate(); err != nil {
			xlog.Warnf("bufmgr: failed to log update for page %d: %v", a.d.PID, err)
		}
	}
	a.d.Unpin()
	a.spd.Guard.Leave()
}

// logUpdate builds the UPDATE record for the access's captured undo
// image and current (redo) bytes, appends it to the log, and records
// the returned LSN as the page's earliest unflushed LSN.
func (a *Accessor) logUpdate() error {
	redo, err := a.sliceFor(a.undoOffset, a.undoSize)
	if err != nil {
		return err
	}
	rec := &wal.Record{
		Type:   wal.Update,
		PageID: a.d.PID,
		Offset: uint64(a.undoOffset),
		Redo:   append([]byte(nil), redo...),
		Undo:   a.undo,
	}
	lsn, err := a.m.wal.Append(rec)
	if err != nil {
		return err
	}
	if a.d.RecoveryLSN == 0 {
		a.d.RecoveryLSN = lsn
	}
	a.m.wal.DirtyPage(uint64(a.d.PID), lsn)
	return nil
}

// Drop releases the accessor; the read-only call site's idiom, and
// equally correct for a dirtying access now that FinishAccess derives
// its own LSN instead of taking one from the caller.
func (a *Accessor) Drop() { a.FinishAccess() }

// Put is Manager-level sugar for a caller that mutated the payload
// directly (bypassing PrepareForWrite) and only needs the dirty bit
// set, and the page logged, before releasing the pin. Because the
// mutation already happened by the time Put is called, the captured
// undo image covers the whole page rather than a true pre-mutation
// snapshot; callers that need accurate undo bytes should go through
// PrepareForWrite instead.
func (m *Manager) Put(acc *Accessor, dirtied bool) {
	if dirtied && !acc.dirtied {
		acc.MarkDirty(0, len(acc.d.Payload))
	}
	acc.FinishAccess()
}
