// Package bufmgr implements the three-tier buffer manager: the
// central get/put/flush surface composing the DRAM and NVM clock
// replacers, the sharded mapping table, the migration policy,
// mini-page admission, and the HyMem admission set.
package bufmgr

import (
	"math/rand"
	"sync"

	"github.com/zxjcarrot/spitfire/bmerr"
	"github.com/zxjcarrot/spitfire/config"
	"github.com/zxjcarrot/spitfire/mapping"
	"github.com/zxjcarrot/spitfire/nvmstore"
	"github.com/zxjcarrot/spitfire/page"
	"github.com/zxjcarrot/spitfire/pageid"
	"github.com/zxjcarrot/spitfire/replacer"
	"github.com/zxjcarrot/spitfire/ssd"
	"github.com/zxjcarrot/spitfire/wal"
)

// Intent names the four access modes Get accepts.
type Intent int

const (
	Read Intent = iota
	Write
	ReadFull
	WriteFull
)

func (i Intent) isRead() bool { return i == Read || i == ReadFull }
func (i Intent) isFull() bool { return i == ReadFull || i == WriteFull }

const numFlushLocks = 1024

// Manager is the three-tier buffer manager.
type Manager struct {
	cfg config.Config

	table *mapping.Table
	ssd   *ssd.Manager
	nvm   *nvmstore.Arena
	wal   *wal.Manager

	dramReplacer *replacer.Replacer
	nvmReplacer  *replacer.Replacer

	// dramLeaky is the only leaky pool: NVM frames live in the mmap'd
	// arena itself (nvmstore.Arena's bitmap is the allocator), so there
	// is nothing for an NVM-side reuse pool to hold.
	dramLeaky *leakyBuffer

	policy    *atomicPolicy
	admission *admissionSet

	flushLocks [numFlushLocks]sync.Mutex

	stats statCounters
}

// New constructs a buffer manager. ssdMgr is required; nvmArena and
// walMgr may be nil to run two-tier (DRAM+SSD) and/or without logging.
func New(cfg config.Config, ssdMgr *ssd.Manager, nvmArena *nvmstore.Arena, walMgr *wal.Manager) *Manager {
	dramSlots := int(cfg.DRAMBytes / (page.MiniMaxBlocks * page.BlockSize))
	if dramSlots < 16 {
		dramSlots = 16
	}
	m := &Manager{
		cfg:          cfg,
		table:        mapping.New(),
		ssd:          ssdMgr,
		nvm:          nvmArena,
		wal:          walMgr,
		dramReplacer: replacer.New(dramSlots, int64(cfg.DRAMBytes), walMgr == nil),
		dramLeaky:    newLeakyBuffer(32),
		policy:       newAtomicPolicy(MigrationPolicy{Dr: cfg.Dr, Dw: cfg.Dw, Nr: cfg.Nr, Nw: cfg.Nw}),
	}
	if cfg.EnableNVM && nvmArena != nil {
		nvmSlots := nvmArena.CapacityPages()
		m.nvmReplacer = replacer.New(nvmSlots, int64(cfg.NVMBytes), true)
	}
	if cfg.EnableHyMem {
		m.admission = newAdmissionSet(cfg.AdmissionSetCap)
	}
	return m
}

func (m *Manager) flushLockFor(pid pageid.PageID) *sync.Mutex {
	return &m.flushLocks[pid.ShardHash()%numFlushLocks]
}

// NewPage delegates to the SSD manager.
func (m *Manager) NewPage() (pageid.PageID, error) {
	return m.ssd.Allocate()
}

// FreePage ensures pid is evicted from both tiers, then frees it on SSD.
func (m *Manager) FreePage(pid pageid.PageID) error {
	if err := m.evictAllTiers(pid); err != nil {
		return err
	}
	if err := m.ssd.Free(pid); err != nil {
		return bmerr.Wrap(bmerr.IOError, err)
	}
	return nil
}

func (m *Manager) evictAllTiers(pid pageid.PageID) error {
	spd := m.table.Lookup(pid)
	if spd == nil {
		return nil
	}
	set := map[pageid.PageID]bool{pid: true}
	m.dramReplacer.EvictPurgable(set)
	if m.nvmReplacer != nil {
		m.nvmReplacer.EvictPurgable(set)
	}
	return m.Flush(pid, true, false)
}

// SetPolicy installs a new migration policy, called only by the
// annealing controller.
func (m *Manager) SetPolicy(p MigrationPolicy) { m.policy.Store(p.Clamp()) }

func (m *Manager) Policy() MigrationPolicy { return m.policy.Load() }

// EndPurging is a no-op hook reserved for the MVCC purger's shutdown
// handshake; purge.Purger itself owns the
// background goroutine and its stop channel.
func (m *Manager) EndPurging() {}

func (m *Manager) Stats() Stats {
	nvmBytes := int64(0)
	if m.nvmReplacer != nil {
		nvmBytes = m.nvmReplacer.BytesInBuffer()
	}
	return Stats{
		DRAMHits:       m.stats.dramHits,
		DRAMMisses:     m.stats.dramMisses,
		DRAMEvictions:  m.stats.dramEvictions,
		DRAMMiniPages:  m.stats.dramMiniPages,
		DRAMBytes:      m.dramReplacer.BytesInBuffer(),
		DRAMDirtyBytes: m.stats.loadDRAMDirty(),
		NVMHits:        m.stats.nvmHits,
		NVMMisses:      m.stats.nvmMisses,
		NVMEvictions:   m.stats.nvmEvictions,
		NVMBytes:       nvmBytes,
		SSDReads:       m.stats.ssdReads,
		SSDWrites:      m.stats.ssdWrites,
	}
}

// EvictPurgable walks both replacers and evicts every unpinned
// resident descriptor whose pid is in set, used by the MVCC purger.
// Evicted pages are then flushed to SSD.
func (m *Manager) EvictPurgable(set map[pageid.PageID]bool) error {
	evictedDRAM := m.dramReplacer.EvictPurgable(set)
	var evictedNVM []*page.Descriptor
	if m.nvmReplacer != nil {
		evictedNVM = m.nvmReplacer.EvictPurgable(set)
	}
	for _, d := range evictedDRAM {
		m.stats.incDRAMEviction()
		if err := m.Flush(d.PID, true, false); err != nil {
			return err
		}
	}
	for _, d := range evictedNVM {
		m.stats.incNVMEviction()
		if err := m.Flush(d.PID, true, false); err != nil {
			return err
		}
	}
	return nil
}

func randFloat() float64 { return rand.Float64() }
