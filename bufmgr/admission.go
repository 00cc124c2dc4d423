package bufmgr

import (
	"container/list"
	"sync"

	"github.com/zxjcarrot/spitfire/pageid"
)

// admissionSet is the bounded LRU of HyMem mode: pages that recently
// faced eviction from DRAM to SSD. When the migration policy says a
// leaving DRAM page bypasses NVM, the page still goes to NVM if it is
// already a member; otherwise it is added here and goes straight to
// SSD. Every admission to NVM removes the page from the set (see
// DESIGN.md for why both the insert and the remove side are needed).
type admissionSet struct {
	mu  sync.Mutex
	cap int
	ll  *list.List
	idx map[pageid.PageID]*list.Element
}

func newAdmissionSet(capacity int) *admissionSet {
	return &admissionSet{cap: capacity, ll: list.New(), idx: make(map[pageid.PageID]*list.Element)}
}

func (a *admissionSet) Contains(pid pageid.PageID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.idx[pid]
	return ok
}

// Add inserts pid as most-recently-used, evicting the LRU entry if the
// set is over capacity.
func (a *admissionSet) Add(pid pageid.PageID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.idx[pid]; ok {
		a.ll.MoveToFront(e)
		return
	}
	e := a.ll.PushFront(pid)
	a.idx[pid] = e
	if a.ll.Len() > a.cap {
		back := a.ll.Back()
		if back != nil {
			a.ll.Remove(back)
			delete(a.idx, back.Value.(pageid.PageID))
		}
	}
}

func (a *admissionSet) Remove(pid pageid.PageID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.idx[pid]; ok {
		a.ll.Remove(e)
		delete(a.idx, pid)
	}
}
