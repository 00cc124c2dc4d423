package bufmgr

import (
	"github.com/zxjcarrot/spitfire/bmerr"
	"github.com/zxjcarrot/spitfire/page"
	"github.com/zxjcarrot/spitfire/pageid"
)

// Flush writes pid's dirty tiers back and, unless keepInBuffer is set,
// evicts it from both tiers once unpinned. forced skips the WAL-order
// wait for callers (checkpoint, shutdown) that already
// know the log is durable. It is also the landing point for
// replacer-driven evictions: the victim descriptor may already have
// been popped from its ring (Descriptor.Evicted() true) by the time
// Flush runs, in which case Flush only needs to write back and clear
// the SPD pointer.
func (m *Manager) Flush(pid pageid.PageID, forced bool, keepInBuffer bool) error {
	spd := m.table.Lookup(pid)
	if spd == nil {
		return nil
	}

	lock := m.flushLockFor(pid)
	lock.Lock()
	defer lock.Unlock()

	if d := spd.DRAM(); d != nil {
		if err := m.flushDRAM(spd, d, forced, keepInBuffer); err != nil {
			return err
		}
	}
	if m.nvmReplacer != nil {
		if d := spd.NVM(); d != nil {
			if err := m.flushNVM(spd, d, forced, keepInBuffer); err != nil {
				return err
			}
		}
	}
	if spd.Empty() {
		m.maybeRetire(pid, spd)
	}
	return nil
}

func (m *Manager) flushDRAM(spd *page.SharedDescriptor, d *page.Descriptor, forced, keepInBuffer bool) error {
	spd.DramLatch.Lock()
	defer spd.DramLatch.Unlock()
	if spd.DRAM() != d {
		return nil // raced with a concurrent flush/install of the same tier
	}

	if d.Dirty {
		if !forced {
			m.waitForDurable(d)
		}
		if err := m.writeBackDRAM(d); err != nil {
			return err
		}
	} else if !keepInBuffer && d.Type == page.DRAMFull {
		if _, err := m.maybeAdmitNVM(d); err != nil {
			return err
		}
	}

	if keepInBuffer {
		return nil
	}
	if !d.Evicted() && !d.TryEvict() {
		return nil // still pinned elsewhere; leave resident
	}
	spd.CASDRAM(d, nil)
	if d.Type == page.DRAMFull && len(d.Payload) == page.Size {
		m.dramLeaky.Put(d.Payload)
	} else if d.Type == page.DRAMMini {
		m.stats.incDRAMMini(-1)
	}
	return nil
}

func (m *Manager) flushNVM(spd *page.SharedDescriptor, d *page.Descriptor, forced, keepInBuffer bool) error {
	spd.NvmLatch.Lock()
	defer spd.NvmLatch.Unlock()
	if spd.NVM() != d {
		return nil
	}

	if d.Dirty {
		if !forced {
			m.waitForDurable(d)
		}
		if err := m.ssd.WritePage(d.PID, d.Payload); err != nil {
			return bmerr.Wrap(bmerr.IOError, err)
		}
		m.stats.incSSDWrite()
		if m.wal != nil {
			m.wal.CleanPage(uint64(d.PID))
		}
		d.Dirty = false
		d.RecoveryLSN = 0
	}

	if keepInBuffer {
		return nil
	}
	if !d.Evicted() && !d.TryEvict() {
		return nil
	}
	spd.CASNVM(d, nil)
	m.nvm.Free(d.Payload)
	return nil
}

// writeBackDRAM performs the actual write-out for a dirty DRAM_FULL or
// DRAM_MINI descriptor: mini-pages merge their resident blocks into
// the SSD page directly, full pages first offer themselves to the NVM
// tier via the migration policy before falling back to SSD.
func (m *Manager) writeBackDRAM(d *page.Descriptor) error {
	switch d.Type {
	case page.DRAMMini:
		if err := m.flushMiniBlocks(d); err != nil {
			return err
		}
	case page.DRAMFull:
		admitted, err := m.maybeAdmitNVM(d)
		if err != nil {
			return err
		}
		if !admitted {
			if err := m.ssd.WritePage(d.PID, d.Payload); err != nil {
				return bmerr.Wrap(bmerr.IOError, err)
			}
			m.stats.incSSDWrite()
		}
	}
	if m.wal != nil {
		m.wal.CleanPage(uint64(d.PID))
	}
	m.stats.addDRAMDirty(-int64(len(d.Payload)))
	d.Dirty = false
	d.DirtyBits.ClearAll()
	d.RecoveryLSN = 0
	return nil
}

// maybeRetire removes spd from the mapping table once both tiers have
// gone empty and drains any reader that registered against it before
// the removal.
func (m *Manager) maybeRetire(pid pageid.PageID, spd *page.SharedDescriptor) {
	if !spd.Empty() {
		return
	}
	if !m.table.Remove(pid, spd) {
		return
	}
	spd.Guard.Drain()
}
