package ssd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ncw/directio"

	"github.com/zxjcarrot/spitfire/bmerr"
	"github.com/zxjcarrot/spitfire/config"
	"github.com/zxjcarrot/spitfire/pageid"
)

// MaxHeapFiles bounds the file-count ceiling; reached only under
// workloads far beyond practical sizing.
const MaxHeapFiles = 1 << 20

// Manager owns a directory of heapfile.<N> files. All public
// operations hold a single manager-level mutex: SSD I/O dominates, so
// contention on the mutex is negligible next to a syscall.
type Manager struct {
	mu       sync.Mutex
	dir      string
	files    []*heapFile
	lastIdx  int
	directIO bool
}

func NewManager(dir string, directIO bool) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	m := &Manager{dir: dir, directIO: directIO}
	if err := m.openExisting(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) filePath(no uint32) string {
	return filepath.Join(m.dir, fmt.Sprintf("heapfile.%d", no))
}

func (m *Manager) openExisting() error {
	for no := uint32(0); ; no++ {
		path := m.filePath(no)
		if _, err := os.Stat(path); err != nil {
			return nil
		}
		hf, err := openHeapFile(path, no, m.directIO)
		if err != nil {
			return err
		}
		m.files = append(m.files, hf)
	}
}

func (m *Manager) newFileLocked() (*heapFile, error) {
	if len(m.files) >= MaxHeapFiles {
		return nil, bmerr.New(bmerr.OutOfCapacity)
	}
	no := uint32(len(m.files))
	hf, err := createHeapFile(m.filePath(no), no, m.directIO)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.IOError, err)
	}
	m.files = append(m.files, hf)
	return hf, nil
}

// Allocate scans heap files round-robin from the last successful
// index, returning the first zero bit it finds. If all files are
// full it creates a new one. Fails with OutOfCapacity only once the
// file-count ceiling is hit.
func (m *Manager) Allocate() (pageid.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.files)
	for step := 0; step < n; step++ {
		idx := (m.lastIdx + step) % n
		hf := m.files[idx]
		if bit := hf.firstUnsetBit(); bit >= 0 {
			hf.bitSet(bit)
			if err := hf.syncBitmapBit(bit); err != nil {
				hf.bitClear(bit)
				return pageid.Invalid, bmerr.Wrap(bmerr.IOError, err)
			}
			m.lastIdx = idx
			return pageid.New(hf.no, uint32(bit)), nil
		}
	}

	hf, err := m.newFileLocked()
	if err != nil {
		return pageid.Invalid, err
	}
	hf.bitSet(0)
	if err := hf.syncBitmapBit(0); err != nil {
		return pageid.Invalid, bmerr.Wrap(bmerr.IOError, err)
	}
	m.lastIdx = len(m.files) - 1
	return pageid.New(hf.no, 0), nil
}

func (m *Manager) lookup(pid pageid.PageID) (*heapFile, bool) {
	fileNo := pid.FileNo()
	if int(fileNo) >= len(m.files) {
		return nil, false
	}
	return m.files[fileNo], true
}

// Free clears pid's allocation bit.
func (m *Manager) Free(pid pageid.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hf, ok := m.lookup(pid)
	if !ok {
		return bmerr.New(bmerr.NotFound)
	}
	off := pid.OffsetInFile()
	hf.bitClear(int(off))
	if err := hf.syncBitmapBit(int(off)); err != nil {
		return bmerr.Wrap(bmerr.IOError, err)
	}
	return nil
}

// ReadPage pread's pid's full page into buf. When direct I/O is
// enabled the caller must pass a directio.AlignedBlock.
func (m *Manager) ReadPage(pid pageid.PageID, buf []byte) error {
	m.mu.Lock()
	hf, ok := m.lookup(pid)
	m.mu.Unlock()
	if !ok {
		return bmerr.New(bmerr.NotFound)
	}
	if err := hf.readPage(pid.OffsetInFile(), buf); err != nil {
		return bmerr.Wrap(bmerr.IOError, err)
	}
	return nil
}

// WritePage pwrite's buf to pid's page location. The bit for pid must
// already be set; in a release build this is an assertion, so callers
// that violate it here simply get a best-effort write rather than a
// panic.
func (m *Manager) WritePage(pid pageid.PageID, buf []byte) error {
	m.mu.Lock()
	hf, ok := m.lookup(pid)
	m.mu.Unlock()
	if !ok {
		return bmerr.New(bmerr.NotFound)
	}
	if err := hf.writePage(pid.OffsetInFile(), buf); err != nil {
		return bmerr.Wrap(bmerr.IOError, err)
	}
	return nil
}

// NewAlignedBuffer allocates a page-sized buffer suitable for direct
// I/O when m was opened with directIO=true, else a plain slice.
func (m *Manager) NewAlignedBuffer() []byte {
	if m.directIO {
		return directio.AlignedBlock(config.PageSize)
	}
	return make([]byte, config.PageSize)
}

// Destroy removes all heap files under the directory, leaving the
// directory itself in place.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, hf := range m.files {
		hf.f.Close()
		os.Remove(m.filePath(hf.no))
	}
	m.files = nil
	return nil
}
