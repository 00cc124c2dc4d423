package wal

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/zxjcarrot/spitfire/bmerr"
	"github.com/zxjcarrot/spitfire/config"
	"github.com/zxjcarrot/spitfire/internal/xlog"
)

const mainRecordSize = 16 // latest_checkpoint:u64, start_lsn:u64

// mainRecord is the fixed header at the front of every log file.
type mainRecord struct {
	LatestCheckpoint uint64
	StartLSN         uint64
}

func (m mainRecord) encode() []byte {
	b := make([]byte, mainRecordSize)
	binary.LittleEndian.PutUint64(b[0:8], m.LatestCheckpoint)
	binary.LittleEndian.PutUint64(b[8:16], m.StartLSN)
	return b
}

func decodeMainRecord(b []byte) mainRecord {
	return mainRecord{
		LatestCheckpoint: binary.LittleEndian.Uint64(b[0:8]),
		StartLSN:         binary.LittleEndian.Uint64(b[8:16]),
	}
}

// fileBackend is one of the two NVM-mapped log files, append-only
// past its mainRecord header. It auto-extends (double-then-mmap) when
// asked for space past its current size.
type fileBackend struct {
	path     string
	f        *os.File
	data     []byte
	writePos int64 // next unwritten byte, relative to file start
}

func openBackend(path string, startLSN uint64) (*fileBackend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, bmerr.Wrap(bmerr.IOError, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, bmerr.Wrap(bmerr.IOError, err)
	}
	fb := &fileBackend{path: path, f: f}
	if info.Size() == 0 {
		if err := f.Truncate(config.DefaultLogFileSize); err != nil {
			f.Close()
			return nil, bmerr.Wrap(bmerr.IOError, err)
		}
		if err := fb.remap(config.DefaultLogFileSize); err != nil {
			return nil, err
		}
		mr := mainRecord{StartLSN: startLSN}
		copy(fb.data[:mainRecordSize], mr.encode())
		fb.writePos = mainRecordSize
	} else {
		if err := fb.remap(info.Size()); err != nil {
			return nil, err
		}
		fb.writePos = mainRecordSize
	}
	return fb, nil
}

func (fb *fileBackend) remap(size int64) error {
	if fb.data != nil {
		if err := unix.Munmap(fb.data); err != nil {
			return bmerr.Wrap(bmerr.IOError, err)
		}
	}
	data, err := unix.Mmap(int(fb.f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return bmerr.Wrap(bmerr.IOError, err)
	}
	fb.data = data
	return nil
}

func (fb *fileBackend) mainRecord() mainRecord { return decodeMainRecord(fb.data[:mainRecordSize]) }

func (fb *fileBackend) setMainRecord(mr mainRecord) {
	copy(fb.data[:mainRecordSize], mr.encode())
}

// ensureCapacity doubles (and remaps) the file until upto bytes fit.
func (fb *fileBackend) ensureCapacity(upto int64) error {
	cur := int64(len(fb.data))
	if upto <= cur {
		return nil
	}
	newSize := cur
	for newSize < upto {
		newSize *= 2
	}
	if err := fb.f.Truncate(newSize); err != nil {
		return bmerr.Wrap(bmerr.IOError, err)
	}
	if err := fb.remap(newSize); err != nil {
		// remap failure leaves the log unusable; there is no safe retry.
		xlog.Fatalf("wal: failed to remap %s to %d bytes: %v", fb.path, newSize, err)
	}
	return nil
}

// append copies buf to the backend's current write position, growing
// the file if needed, and advances writePos.
func (fb *fileBackend) append(buf []byte) (lsnOffset int64, err error) {
	start := fb.writePos
	if err := fb.ensureCapacity(start + int64(len(buf))); err != nil {
		return 0, err
	}
	copy(fb.data[start:start+int64(len(buf))], buf)
	fb.writePos = start + int64(len(buf))
	return start, nil
}

func (fb *fileBackend) truncateTo(size int64) error {
	if err := fb.f.Truncate(size); err != nil {
		return bmerr.Wrap(bmerr.IOError, err)
	}
	return fb.remap(size)
}

func (fb *fileBackend) sync() error {
	return unix.Msync(fb.data, unix.MS_SYNC)
}

// Manager owns the two log file backends and the active Buffer that
// writers claim space in. Exactly one backend is "current" at a time.
type Manager struct {
	pathPrefix string

	backends   [2]*fileBackend
	currentIdx int32 // atomic

	mu  sync.Mutex // serializes rotation
	buf *Buffer

	persistedLSN    uint64 // atomic
	lastRotationLSN uint64 // atomic; see RotationLSN

	dptMu sync.Mutex
	dpt   map[uint64]uint64 // pageid.PageID -> recovery LSN, keyed as uint64 to avoid an import cycle
}

const bufferCapacity = 4 * 1024 * 1024

// Open opens (or creates) the two log files at pathPrefix+".1" and
// pathPrefix+".2" and starts with backend 0 current.
func Open(pathPrefix string) (*Manager, error) {
	b0, err := openBackend(pathPrefix+".1", 0)
	if err != nil {
		return nil, err
	}
	b1, err := openBackend(pathPrefix+".2", 0)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		pathPrefix: pathPrefix,
		backends:   [2]*fileBackend{b0, b1},
		dpt:        make(map[uint64]uint64),
	}
	m.buf = NewBuffer(bufferCapacity, mainRecordSize)
	return m, nil
}

func (m *Manager) currentBackend() *fileBackend {
	return m.backends[atomic.LoadInt32(&m.currentIdx)]
}

func (m *Manager) PersistedLSN() uint64 { return atomic.LoadUint64(&m.persistedLSN) }

// Append claims space for r in the active Buffer, encodes it, and
// returns its LSN. If the claim reports the
// buffer needs rotating, Append drives the (serialized) rotation and
// retries against the fresh buffer.
func (m *Manager) Append(r *Record) (uint64, error) {
	size := r.EncodedSize()
	for {
		res, ok := m.buf.Claim(size)
		if ok {
			r.Encode(res.Slice)
			m.buf.MarkFilled(size)
			return res.LSN, nil
		}
		if m.buf.StopAllocationSet() {
			if err := m.rotate(); err != nil {
				return 0, err
			}
			continue
		}
	}
}

// rotate is the single winner's job step 3: wait for
// all holes in the current buffer to fill, append it to the current
// backend, and install a fresh zeroed buffer with its start-LSN.
func (m *Manager) rotate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.buf.StopAllocationSet() {
		return nil // another goroutine already rotated
	}

	m.buf.WaitUntilFilled()
	filled := m.buf.FilledBytes()
	backend := m.currentBackend()
	if _, err := backend.append(m.buf.data[:filled]); err != nil {
		return err
	}
	if err := backend.sync(); err != nil {
		return err
	}

	newStart := m.buf.StartLSN() + filled
	atomic.AddUint64(&m.persistedLSN, filled)
	m.buf.Reset(newStart)

	if err := m.switchLogFileIfTooBig(); err != nil {
		return err
	}
	return nil
}

// switchLogFileIfTooBig rotates the *file* (not the in-memory buffer)
// once the current one exceeds config.LogFileGrowthLimit: update its
// Main Record start-LSN, flip current_backend_idx, persist both Main
// Records, reset the new current backend to the post-header position,
// and force-flush every dirty page whose LSN is at or before the
// rotation point (the page cleaner drives that flush using the
// rotation LSN recorded here; see RotationLSN).
func (m *Manager) switchLogFileIfTooBig() error {
	cur := m.currentBackend()
	if int64(cur.writePos) < config.LogFileGrowthLimit {
		return nil
	}
	rotationLSN := m.buf.StartLSN()

	oldIdx := atomic.LoadInt32(&m.currentIdx)
	newIdx := 1 - oldIdx
	next := m.backends[newIdx]

	mr := cur.mainRecord()
	mr.StartLSN = rotationLSN
	cur.setMainRecord(mr)
	if err := cur.sync(); err != nil {
		return err
	}

	if err := next.truncateTo(config.DefaultLogFileSize); err != nil {
		return err
	}
	nmr := mainRecord{StartLSN: rotationLSN}
	next.setMainRecord(nmr)
	next.writePos = mainRecordSize
	if err := next.sync(); err != nil {
		return err
	}

	atomic.StoreInt32(&m.currentIdx, newIdx)
	atomic.StoreUint64(&m.lastRotationLSN, rotationLSN)
	return nil
}

// RotationLSN returns the watermark a page cleaner must force-flush up
// to after a file switch, closing the window where persisted_lsn
// advances before all pages dirtied before the switch are flushed.
func (m *Manager) RotationLSN() uint64 { return atomic.LoadUint64(&m.lastRotationLSN) }

// MaybeSwitchLogFile checks the current backend against
// config.LogFileGrowthLimit and rotates the file (not the in-memory
// buffer) if it's grown past it. The page cleaner calls this on every
// wakeup in addition to the rotation Append triggers when a buffer
// fills.
func (m *Manager) MaybeSwitchLogFile() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.switchLogFileIfTooBig()
}

// DirtyPage records pid (encoded as uint64) as dirtied at lsn if it is
// not already tracked (Dirty Page Table insert); an existing entry
// keeps the LSN it was first registered with.
func (m *Manager) DirtyPage(pid uint64, lsn uint64) {
	m.dptMu.Lock()
	defer m.dptMu.Unlock()
	if _, ok := m.dpt[pid]; !ok {
		m.dpt[pid] = lsn
	}
}

// CleanPage removes pid from the Dirty Page Table after a successful
// flush.
func (m *Manager) CleanPage(pid uint64) {
	m.dptMu.Lock()
	defer m.dptMu.Unlock()
	delete(m.dpt, pid)
}

// FlushablePages returns every (pid, recoveryLSN) pair whose LSN is at
// or below the persisted watermark, sorted ascending by LSN, for the
// page cleaner's batch flush.
func (m *Manager) FlushablePages() []DirtyEntry {
	watermark := m.PersistedLSN()
	m.dptMu.Lock()
	entries := make([]DirtyEntry, 0, len(m.dpt))
	for pid, lsn := range m.dpt {
		if lsn <= watermark {
			entries = append(entries, DirtyEntry{PID: pid, LSN: lsn})
		}
	}
	m.dptMu.Unlock()
	sortEntriesByLSN(entries)
	return entries
}

// DirtyEntry is one Dirty Page Table row.
type DirtyEntry struct {
	PID uint64
	LSN uint64
}

func sortEntriesByLSN(e []DirtyEntry) {
	for i := 1; i < len(e); i++ {
		for j := i; j > 0 && e[j].LSN < e[j-1].LSN; j-- {
			e[j], e[j-1] = e[j-1], e[j]
		}
	}
}

func (m *Manager) Close() error {
	for _, b := range m.backends {
		unix.Munmap(b.data)
		b.f.Close()
	}
	return nil
}
