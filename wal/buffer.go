package wal

import (
	"sync/atomic"
	"time"
)

// stopAllocationBit flags free_pos to mean "a rotation is in
// progress; spin". It must not collide with any
// realistic byte offset, so it's the sign bit of a 64-bit position.
const stopAllocationBit = uint64(1) << 63

// Buffer is the lock-free multi-slot log buffer: many
// writers claim disjoint byte ranges under a single CAS on freePos;
// rotation (handing a full buffer to the log manager) is serialized by
// the stop-allocation bit.
type Buffer struct {
	capacity int64
	data     []byte

	freePos     uint64 // high bit = stop-allocation
	filledBytes uint64

	startLSN uint64
}

func NewBuffer(capacity int64, startLSN uint64) *Buffer {
	return &Buffer{capacity: capacity, data: make([]byte, capacity), startLSN: startLSN}
}

func (b *Buffer) StartLSN() uint64 { return atomic.LoadUint64(&b.startLSN) }

// ClaimResult is returned by Claim.
type ClaimResult struct {
	LSN   uint64
	Slice []byte
	// Full is never set by Claim: a needed rotation is reported as
	// ok=false with StopAllocationSet() true instead.
	Full bool
}

// Claim reserves size bytes in the buffer, CASing freePos forward. It
// returns ok=false when a rotation is in progress or required; the
// caller should wait/retry against the (possibly new) current buffer.
func (b *Buffer) Claim(size int) (ClaimResult, bool) {
	for {
		pos := atomic.LoadUint64(&b.freePos)
		if pos&stopAllocationBit != 0 {
			return ClaimResult{}, false
		}
		if int64(pos)+int64(size) > b.capacity {
			atomic.CompareAndSwapUint64(&b.freePos, pos, pos|stopAllocationBit)
			return ClaimResult{}, false
		}
		newPos := pos + uint64(size)
		if atomic.CompareAndSwapUint64(&b.freePos, pos, newPos) {
			lsn := b.StartLSN() + pos
			slice := b.data[pos : pos+uint64(size)]
			return ClaimResult{LSN: lsn, Slice: slice}, true
		}
	}
}

// MarkFilled advances the filled-bytes counter by size after a claimed
// write has been copied in; filled_bytes, not free_pos, is the
// persistence watermark.
func (b *Buffer) MarkFilled(size int) {
	atomic.AddUint64(&b.filledBytes, uint64(size))
}

func (b *Buffer) FilledBytes() uint64 { return atomic.LoadUint64(&b.filledBytes) }

// StopAllocationSet reports whether a rotation has been requested.
func (b *Buffer) StopAllocationSet() bool {
	return atomic.LoadUint64(&b.freePos)&stopAllocationBit != 0
}

// ClaimedBytes returns the free_pos with the stop-allocation bit
// masked off, i.e. how many bytes writers have claimed.
func (b *Buffer) ClaimedBytes() uint64 {
	return atomic.LoadUint64(&b.freePos) &^ stopAllocationBit
}

// WaitUntilFilled busy-waits until every claimed hole has been filled
// (filled_bytes == claimed bytes), the winner's job before handing the
// buffer off for durable append.
func (b *Buffer) WaitUntilFilled() {
	target := b.ClaimedBytes()
	for b.FilledBytes() < target {
		time.Sleep(time.Microsecond)
	}
}

// Reset reinitializes the buffer for reuse after a rotation: stores
// the new start-LSN, clears filled_bytes, and resets free_pos to 0.
func (b *Buffer) Reset(newStartLSN uint64) {
	atomic.StoreUint64(&b.filledBytes, 0)
	atomic.StoreUint64(&b.startLSN, newStartLSN)
	atomic.StoreUint64(&b.freePos, 0)
}
