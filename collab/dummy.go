package collab

import (
	"sync"

	"github.com/zxjcarrot/spitfire/pageid"
)

// DummyTable is an in-memory Table: store data in memory only and
// don't manage memory usage, standing in for a real heap table's
// purgable-page bookkeeping in tests.
type DummyTable struct {
	mu      sync.Mutex
	pages   map[pageid.PageID]uint64 // pid -> max end_ts among its tuples
	unlinks []pageid.PageID
}

// NewDummyTable constructs an empty table.
func NewDummyTable() *DummyTable {
	return &DummyTable{pages: make(map[pageid.PageID]uint64)}
}

// PutPage records pid as holding a tuple whose version is visible
// through maxEndTS (0 meaning "still open", i.e. never purgable).
func (t *DummyTable) PutPage(pid pageid.PageID, maxEndTS uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pages[pid] = maxEndTS
}

// CollectPurgablePages implements collab.Table: a page is purgable
// once every tuple on it has end_ts < minActiveTID and is nonzero
// (open tuples are never purgable).
func (t *DummyTable) CollectPurgablePages(minActiveTID uint64) ([]pageid.PageID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []pageid.PageID
	for pid, endTS := range t.pages {
		if endTS != 0 && endTS < minActiveTID {
			out = append(out, pid)
		}
	}
	return out, nil
}

// UnlinkPages implements collab.Table.
func (t *DummyTable) UnlinkPages(pids []pageid.PageID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pid := range pids {
		delete(t.pages, pid)
	}
	t.unlinks = append(t.unlinks, pids...)
	return nil
}

// Unlinked returns every pid ever passed to UnlinkPages, for test
// assertions.
func (t *DummyTable) Unlinked() []pageid.PageID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]pageid.PageID, len(t.unlinks))
	copy(out, t.unlinks)
	return out
}

// DummyTxnManager is an in-memory TxnManager: a fixed watermark plus
// a registry of tables, standing in for a real MVTO transaction
// manager in tests.
type DummyTxnManager struct {
	mu        sync.Mutex
	minActive uint64
	tables    []Table
}

// NewDummyTxnManager constructs a manager whose watermark starts at
// minActiveTID.
func NewDummyTxnManager(minActiveTID uint64) *DummyTxnManager {
	return &DummyTxnManager{minActive: minActiveTID}
}

func (m *DummyTxnManager) MinActiveTID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minActive
}

// SetMinActiveTID lets a test advance the watermark as it simulates
// transactions committing.
func (m *DummyTxnManager) SetMinActiveTID(tid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minActive = tid
}

func (m *DummyTxnManager) RegisterTable(t Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = append(m.tables, t)
}

func (m *DummyTxnManager) Tables() []Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Table, len(m.tables))
	copy(out, m.tables)
	return out
}
