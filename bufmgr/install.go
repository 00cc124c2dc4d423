package bufmgr

import (
	"runtime"
	"time"

	"github.com/zxjcarrot/spitfire/bmerr"
	"github.com/zxjcarrot/spitfire/internal/xlog"
	"github.com/zxjcarrot/spitfire/page"
	"github.com/zxjcarrot/spitfire/pageid"
)

// promoteMiniPage upgrades a resident DRAM_MINI descriptor to a full
// page when an operation needs whole-page access. The caller holds a pin on mini that is
// transferred to the returned descriptor.
func (m *Manager) promoteMiniPage(spd *page.SharedDescriptor, mini *page.Descriptor) (*page.Descriptor, error) {
	spd.DramLatch.Lock()
	defer spd.DramLatch.Unlock()

	if spd.DRAM() != mini {
		mini.Unpin()
		if d := spd.DRAM(); d != nil && d.TryPin() {
			return d, nil
		}
		return nil, bmerr.New(bmerr.PageEvicted)
	}

	full := m.ssd.NewAlignedBuffer()
	if err := m.ssd.ReadPage(mini.PID, full); err != nil && bmerr.CodeOf(err) != bmerr.NotFound {
		mini.Unpin()
		return nil, err
	}
	for slot := 0; slot < mini.Mini.NumBlocks; slot++ {
		if !mini.ResidentBits.Test(slot) {
			continue
		}
		block := int(mini.Mini.BlockPointers[slot])
		srcOff := slot * page.BlockSize
		dstOff := block * page.BlockSize
		copy(full[dstOff:dstOff+page.BlockSize], mini.Payload[srcOff:srcOff+page.BlockSize])
	}

	d := page.NewDescriptor(mini.PID, page.DRAMFull, spd)
	if buf := m.dramLeaky.Get(); buf != nil {
		d.Payload = buf
	}
	copy(d.Payload, full)
	d.ResidentBits.SetAll()
	d.Dirty = mini.Dirty
	d.RecoveryLSN = mini.RecoveryLSN
	d.TryPin()

	mini.Unpin()
	evicted := (*page.Descriptor)(nil)
	if !m.dramReplacer.Replace(mini, d, int64(len(d.Payload))) {
		evicted = m.dramReplacer.Add(d, int64(len(d.Payload)))
	}
	spd.SetDRAM(d)
	m.stats.incDRAMMini(-1)

	if evicted != nil {
		m.stats.incDRAMEviction()
		if err := m.Flush(evicted.PID, true, false); err != nil {
			return d, err
		}
	}
	return d, nil
}

// installDRAMFromNVM copies nvmDesc's payload into a freshly pinned
// DRAM_FULL descriptor, installing it in spd.
func (m *Manager) installDRAMFromNVM(spd *page.SharedDescriptor, nvmDesc *page.Descriptor) (*page.Descriptor, error) {
	spd.DramLatch.Lock()
	defer spd.DramLatch.Unlock()

	if d := spd.DRAM(); d != nil && d.TryPin() {
		return d, nil
	}

	d := page.NewDescriptor(spd.PID, page.DRAMFull, spd)
	if buf := m.dramLeaky.Get(); buf != nil {
		d.Payload = buf
	}
	copy(d.Payload, nvmDesc.Payload)
	d.ResidentBits.SetAll()
	d.TryPin()

	evicted := m.dramReplacer.Add(d, int64(len(d.Payload)))
	spd.SetDRAM(d)
	if evicted != nil {
		m.stats.incDRAMEviction()
		if err := m.Flush(evicted.PID, true, false); err != nil {
			return d, err
		}
	}
	return d, nil
}

// installFromSSD installs pid's first DRAM copy on a cold miss. Full
// pages are read eagerly; mini-pages start empty and fill in
// block-by-block as the accessor touches them (Accessor.fetchBlock).
func (m *Manager) installFromSSD(spd *page.SharedDescriptor, pid pageid.PageID, intent Intent) (*page.Descriptor, error) {
	spd.DramLatch.Lock()
	defer spd.DramLatch.Unlock()

	if d := spd.DRAM(); d != nil && d.TryPin() {
		return d, nil
	}

	typ := page.DRAMFull
	if m.cfg.EnableMiniPage && !intent.isFull() {
		typ = page.DRAMMini
	}
	d := page.NewDescriptor(pid, typ, spd)
	if typ == page.DRAMFull {
		if buf := m.dramLeaky.Get(); buf != nil {
			d.Payload = buf
		}
		if err := m.ssd.ReadPage(pid, d.Payload); err != nil {
			if bmerr.CodeOf(err) != bmerr.NotFound {
				return nil, err
			}
		} else {
			d.ResidentBits.SetAll()
		}
		m.stats.incSSDRead()
	} else {
		m.stats.incDRAMMini(1)
	}
	d.TryPin()

	evicted := m.dramReplacer.Add(d, int64(len(d.Payload)))
	spd.SetDRAM(d)
	if evicted != nil {
		m.stats.incDRAMEviction()
		if err := m.Flush(evicted.PID, true, false); err != nil {
			return d, err
		}
	}
	return d, nil
}

// maybeAdmitNVM decides, under the migration policy's Nr/Nw knobs and
// the HyMem admission set (when enabled), whether a DRAM_FULL page
// leaving DRAM should land in the NVM tier rather than falling
// straight to SSD. d.Dirty at call time distinguishes a write eviction
// (Nw) from a clean one (Nr); it must be read before the caller clears
// it.
func (m *Manager) maybeAdmitNVM(d *page.Descriptor) (bool, error) {
	if !m.cfg.EnableNVM || m.nvm == nil || m.nvmReplacer == nil || d.Type != page.DRAMFull {
		return false, nil
	}
	isRead := !d.Dirty
	bypass := m.policy.Load().BypassNVM(isRead, randFloat())
	if m.admission != nil {
		if bypass {
			if !m.admission.Contains(d.PID) {
				m.admission.Add(d.PID)
				return false, nil
			}
			m.admission.Remove(d.PID)
		} else {
			m.admission.Remove(d.PID)
		}
	} else if bypass {
		return false, nil
	}

	spd := d.Shared
	spd.NvmLatch.Lock()
	defer spd.NvmLatch.Unlock()

	if existing := spd.NVM(); existing != nil {
		copy(existing.Payload, d.Payload)
		if d.Dirty {
			existing.Dirty = true
			existing.DirtyBits.SetAll()
			if existing.RecoveryLSN == 0 {
				existing.RecoveryLSN = d.RecoveryLSN
			}
		}
		return true, m.nvm.Sync()
	}

	frame, err := m.nvm.Alloc()
	if err != nil {
		return false, nil // arena exhausted: caller falls back to SSD
	}
	copy(frame, d.Payload)
	nd := page.NewDescriptor(d.PID, page.NVMFull, spd)
	nd.Payload = frame
	nd.ResidentBits.SetAll()
	nd.TryPin()
	if d.Dirty {
		// DRAM's copy is about to be marked clean by the caller now that
		// NVM holds it; NVM still owes SSD a write on its own eviction.
		nd.Dirty = true
		nd.DirtyBits.SetAll()
		nd.RecoveryLSN = d.RecoveryLSN
	}

	evicted := m.nvmReplacer.Add(nd, int64(len(frame)))
	spd.SetNVM(nd)
	nd.Unpin()
	if err := m.nvm.Sync(); err != nil {
		return false, err
	}
	if evicted != nil {
		m.stats.incNVMEviction()
		if err := m.Flush(evicted.PID, true, false); err != nil {
			return false, err
		}
	}
	return true, nil
}

// flushMiniBlocks merges a dirty mini-page's resident blocks into the
// full page on SSD via read-modify-write, since SSD pages are only
// ever addressed whole.
func (m *Manager) flushMiniBlocks(d *page.Descriptor) error {
	buf := m.ssd.NewAlignedBuffer()
	if err := m.ssd.ReadPage(d.PID, buf); err != nil && bmerr.CodeOf(err) != bmerr.NotFound {
		return err
	}
	for slot := 0; slot < d.Mini.NumBlocks; slot++ {
		if !d.ResidentBits.Test(slot) {
			continue
		}
		block := int(d.Mini.BlockPointers[slot])
		srcOff := slot * page.BlockSize
		dstOff := block * page.BlockSize
		copy(buf[dstOff:dstOff+page.BlockSize], d.Payload[srcOff:srcOff+page.BlockSize])
	}
	if err := m.ssd.WritePage(d.PID, buf); err != nil {
		return bmerr.Wrap(bmerr.IOError, err)
	}
	m.stats.incSSDWrite()
	return nil
}

// waitForDurable blocks until the WAL has persisted d's recovery LSN,
// the write-ahead rule: a dirty page may not reach stable storage
// ahead of the log record that dirtied it. Callers that
// pass forced=true to Flush skip this (checkpoint/shutdown paths that
// already know the log is synced).
func (m *Manager) waitForDurable(d *page.Descriptor) {
	if m.wal == nil || d.RecoveryLSN == 0 {
		return
	}
	spins := 0
	for m.wal.PersistedLSN() < d.RecoveryLSN {
		spins++
		if spins < 64 {
			runtime.Gosched()
		} else {
			time.Sleep(time.Microsecond)
		}
		if spins == 10000 {
			xlog.Warnf("bufmgr: page %d stalled waiting for WAL durability (recovery_lsn=%d persisted_lsn=%d)",
				d.PID, d.RecoveryLSN, m.wal.PersistedLSN())
		}
	}
}
