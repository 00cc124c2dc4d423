// Package nvmstore implements the NVM Page Allocator: a
// single memory-mapped arena handing out page-aligned frames.
package nvmstore

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/zxjcarrot/spitfire/bmerr"
	"github.com/zxjcarrot/spitfire/config"
)

// Arena is a memory-mapped file of page-aligned capacity, pre-sized
// ~1.1x the configured NVM buffer capacity to absorb fragmentation.
// Backed by golang.org/x/sys/unix for the Mmap/Msync calls the flush
// path needs.
type Arena struct {
	f             *os.File
	data          []byte
	capacityPages int
	bitmap        *atomicBitmap
}

// Open mmaps path (creating/truncating it if needed) to hold
// nvmBytes*1.1 worth of pages.
func Open(path string, nvmBytes uint64) (*Arena, error) {
	capacityBytes := nvmBytes * config.NVMArenaOverProvisionNumerator / config.NVMArenaOverProvisionDenominator
	capacityPages := int((capacityBytes + config.PageSize - 1) / config.PageSize)
	sizeBytes := int64(capacityPages) * config.PageSize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.IOError, err)
	}
	if err := f.Truncate(sizeBytes); err != nil {
		f.Close()
		return nil, bmerr.Wrap(bmerr.IOError, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(sizeBytes), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, bmerr.Wrap(bmerr.IOError, err)
	}
	return &Arena{
		f:             f,
		data:          data,
		capacityPages: capacityPages,
		bitmap:        newAtomicBitmap(capacityPages),
	}, nil
}

// Alloc finds-first-zero-and-sets a free frame, returning a slice over
// the mmap'd region. Busy-loops briefly on contention;
// repeated failure (arena exhausted) is reported as NotEnoughSpace so
// the caller can retry or give up, rather than busy-looping forever.
func (a *Arena) Alloc() ([]byte, error) {
	idx := a.bitmap.AllocFirstFree()
	if idx < 0 {
		return nil, bmerr.New(bmerr.NotEnoughSpace)
	}
	off := idx * config.PageSize
	return a.data[off : off+config.PageSize], nil
}

// Free clears the bit covering frame, identified by its offset within
// the mmap'd region.
func (a *Arena) Free(frame []byte) {
	off := a.offsetOf(frame)
	a.bitmap.Free(off / config.PageSize)
}

func (a *Arena) offsetOf(frame []byte) int {
	base := uintptr(unsafe.Pointer(&a.data[0]))
	ptr := uintptr(unsafe.Pointer(&frame[0]))
	return int(ptr - base)
}

// Sync flushes dirty mmap'd pages to the backing file (msync), used
// when a tier's "NVM write is already durable" assumption needs to be
// made true rather than merely implied by the page cache.
func (a *Arena) Sync() error {
	if err := unix.Msync(a.data, unix.MS_SYNC); err != nil {
		return bmerr.Wrap(bmerr.IOError, err)
	}
	return nil
}

func (a *Arena) Close() error {
	if err := unix.Munmap(a.data); err != nil {
		return bmerr.Wrap(bmerr.IOError, err)
	}
	return a.f.Close()
}

func (a *Arena) CapacityPages() int { return a.capacityPages }
