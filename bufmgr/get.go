package bufmgr

import (
	"github.com/zxjcarrot/spitfire/bmerr"
	"github.com/zxjcarrot/spitfire/page"
	"github.com/zxjcarrot/spitfire/pageid"
)

// Get resolves pid to a pinned Accessor, walking DRAM, then NVM, then
// SSD. A descriptor evicted out from under a concurrent
// promotion restarts the whole lookup rather than erroring out.
func (m *Manager) Get(pid pageid.PageID, intent Intent) (*Accessor, error) {
	for {
		acc, err := m.get1(pid, intent)
		if err != nil && bmerr.CodeOf(err) == bmerr.PageEvicted {
			continue
		}
		return acc, err
	}
}

func (m *Manager) get1(pid pageid.PageID, intent Intent) (*Accessor, error) {
	spd, _ := m.table.LookupOrInsert(pid, page.NewShared(pid))
	spd.Guard.Enter()
	success := false
	defer func() {
		if !success {
			spd.Guard.Leave()
		}
	}()

	if d := spd.DRAM(); d != nil && d.TryPin() {
		m.stats.incDRAMHit()
		d.SetUsed()
		if intent.isFull() && d.Type == page.DRAMMini {
			promoted, err := m.promoteMiniPage(spd, d)
			if err != nil {
				return nil, err
			}
			d = promoted
		}
		success = true
		return newAccessor(m, spd, d, intent), nil
	}
	m.stats.incDRAMMiss()

	bypassDRAM := m.policy.Load().BypassDRAM(intent.isRead(), randFloat())

	if m.nvmReplacer != nil {
		if nd := spd.NVM(); nd != nil && nd.TryPin() {
			m.stats.incNVMHit()
			nd.SetUsed()
			if bypassDRAM {
				success = true
				return newAccessor(m, spd, nd, intent), nil
			}
			d, err := m.installDRAMFromNVM(spd, nd)
			nd.Unpin()
			if err != nil {
				return nil, err
			}
			success = true
			return newAccessor(m, spd, d, intent), nil
		}
		m.stats.incNVMMiss()
	}

	d, err := m.installFromSSD(spd, pid, intent)
	if err != nil {
		return nil, err
	}
	success = true
	return newAccessor(m, spd, d, intent), nil
}
