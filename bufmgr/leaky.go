package bufmgr

import (
	"sync/atomic"
	"unsafe"
)

// leakyBuffer is the "try-to-reuse-before-malloc" pool: a fixed-size
// array of atomic frame pointers. Get/Put never block;
// under contention they degrade to fall-through allocation (caller
// mallocs) or a dropped frame (caller frees it directly).
type leakyBuffer struct {
	slots []unsafe.Pointer // *[]byte, boxed
}

func newLeakyBuffer(n int) *leakyBuffer {
	return &leakyBuffer{slots: make([]unsafe.Pointer, n)}
}

// frameBox lets us store a []byte (a multi-word value) behind a single
// unsafe.Pointer slot.
type frameBox struct{ buf []byte }

// Get scans for a non-null slot and CASes it to null, returning the
// reclaimed frame, or nil if none was found.
func (l *leakyBuffer) Get() []byte {
	for i := range l.slots {
		p := atomic.LoadPointer(&l.slots[i])
		if p == nil {
			continue
		}
		if atomic.CompareAndSwapPointer(&l.slots[i], p, nil) {
			return (*frameBox)(p).buf
		}
	}
	return nil
}

// Put scans for a null slot and CASes buf in, returning true on
// success; false means the pool was full and the caller should free
// buf itself.
func (l *leakyBuffer) Put(buf []byte) bool {
	box := unsafe.Pointer(&frameBox{buf: buf})
	for i := range l.slots {
		if atomic.LoadPointer(&l.slots[i]) == nil {
			if atomic.CompareAndSwapPointer(&l.slots[i], nil, box) {
				return true
			}
		}
	}
	return false
}
