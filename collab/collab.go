// Package collab declares the minimal interfaces the buffer manager's
// out-of-scope collaborators (the B+Tree/heap table, the MVTO
// transaction manager, the YCSB harness) are expected to satisfy.
package collab

import "github.com/zxjcarrot/spitfire/pageid"

// Table is a heap table or index registered with the transaction
// manager so the MVCC purger can ask it for purgable pages.
type Table interface {
	// CollectPurgablePages scans the version table and returns every
	// physical page id on which no tuple header has end_ts >= minActiveTID.
	CollectPurgablePages(minActiveTID uint64) ([]pageid.PageID, error)
	// UnlinkPages removes purged pages from the table's heap chain.
	UnlinkPages(pids []pageid.PageID) error
}

// TxnManager is the MVTO transaction manager.
type TxnManager interface {
	MinActiveTID() uint64
	RegisterTable(t Table)
	Tables() []Table
}
