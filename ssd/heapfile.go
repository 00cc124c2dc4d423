// Package ssd owns stable storage: a directory of fixed-size heap
// files, each partitioned into fixed-size pages with a tail allocation
// bitmap.
package ssd

import (
	"os"

	"github.com/ncw/directio"

	"github.com/zxjcarrot/spitfire/config"
)

const (
	bitmapSyncAlign = 512
	pagesPerFile    = config.HeapFilePages
	bytesPerFile    = config.HeapFileByteSize
)

// rawFile is the subset of *os.File a heap file needs, narrowed so
// tests can swap in any small ReadAt/WriteAt/Close double without a
// real filesystem.
type rawFile interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Close() error
}

type syncer interface {
	Sync() error
}

func syncIfPossible(f rawFile) error {
	if s, ok := f.(syncer); ok {
		return s.Sync()
	}
	return nil
}

// heapFile is one fixed-size file hosting pagesPerFile pages plus one
// trailing bitmap page (1 bit per page).
type heapFile struct {
	no     uint32
	f      rawFile
	bitmap []byte // pagesPerFile bits, mirrored from the trailing page
}

func bitmapByteOffset() int64 { return int64(pagesPerFile) * config.PageSize }

func (h *heapFile) bitTest(i int) bool {
	return h.bitmap[i/8]&(1<<uint(i%8)) != 0
}

func (h *heapFile) bitSet(i int)   { h.bitmap[i/8] |= 1 << uint(i%8) }
func (h *heapFile) bitClear(i int) { h.bitmap[i/8] &^= 1 << uint(i%8) }

// firstUnsetBit scans the in-memory bitmap mirror for a free page.
func (h *heapFile) firstUnsetBit() int {
	for i := 0; i < pagesPerFile; i++ {
		if !h.bitTest(i) {
			return i
		}
	}
	return -1
}

// syncBitmapBit persists only the 512-byte-aligned slice of the
// bitmap page containing bit i.
func (h *heapFile) syncBitmapBit(i int) error {
	byteOff := i / 8
	sliceStart := (byteOff / bitmapSyncAlign) * bitmapSyncAlign
	sliceEnd := sliceStart + bitmapSyncAlign
	if sliceEnd > len(h.bitmap) {
		sliceEnd = len(h.bitmap)
	}
	off := bitmapByteOffset() + int64(sliceStart)
	if _, err := h.f.WriteAt(h.bitmap[sliceStart:sliceEnd], off); err != nil {
		return err
	}
	return syncIfPossible(h.f)
}

func (h *heapFile) readPage(offsetInFile uint32, buf []byte) error {
	_, err := h.f.ReadAt(buf[:config.PageSize], int64(offsetInFile)*config.PageSize)
	return err
}

func (h *heapFile) writePage(offsetInFile uint32, buf []byte) error {
	_, err := h.f.WriteAt(buf[:config.PageSize], int64(offsetInFile)*config.PageSize)
	return err
}

// createHeapFile fallocates a new backing file of bytesPerFile bytes
// with a zeroed bitmap page. When directIO is set the file is opened
// with O_DIRECT (ncw/directio), matching the enable_direct_io option;
// the caller must then pass directio.AlignedBlock buffers to ReadAt/
// WriteAt.
func createHeapFile(path string, no uint32, directIO bool) (*heapFile, error) {
	f, err := openRaw(path, directIO)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(bytesPerFile); err != nil {
		f.Close()
		return nil, err
	}
	return &heapFile{no: no, f: f, bitmap: make([]byte, (pagesPerFile+7)/8)}, nil
}

// openHeapFile loads an existing file and its bitmap mirror.
func openHeapFile(path string, no uint32, directIO bool) (*heapFile, error) {
	f, err := openRaw(path, directIO)
	if err != nil {
		return nil, err
	}
	bitmap := make([]byte, (pagesPerFile+7)/8)
	if _, err := f.ReadAt(bitmap, bitmapByteOffset()); err != nil {
		f.Close()
		return nil, err
	}
	return &heapFile{no: no, f: f, bitmap: bitmap}, nil
}

func openRaw(path string, directIO bool) (*os.File, error) {
	if directIO {
		return directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	}
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
}
