// Package mapping implements the buffer manager's concurrent pid ->
// SharedDescriptor hash map, sharded to keep per-bucket contention low.
package mapping

import (
	"sync"

	"github.com/zxjcarrot/spitfire/page"
	"github.com/zxjcarrot/spitfire/pageid"
)

const NumShards = 128

type shard struct {
	mu sync.RWMutex
	m  map[pageid.PageID]*page.SharedDescriptor
}

// Table is the sharded mapping table. The zero value is not usable;
// construct with New.
type Table struct {
	shards [NumShards]*shard
}

func New() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i] = &shard{m: make(map[pageid.PageID]*page.SharedDescriptor)}
	}
	return t
}

func (t *Table) shardFor(pid pageid.PageID) *shard {
	return t.shards[pid.ShardHash()%NumShards]
}

// Lookup returns the SPD for pid, or nil if absent.
func (t *Table) Lookup(pid pageid.PageID) *page.SharedDescriptor {
	s := t.shardFor(pid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[pid]
}

// LookupOrInsert returns the existing SPD for pid if present; otherwise
// it installs candidate and returns it. installed reports which
// happened, so the caller can discard a candidate that lost the race.
func (t *Table) LookupOrInsert(pid pageid.PageID, candidate *page.SharedDescriptor) (spd *page.SharedDescriptor, installed bool) {
	s := t.shardFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[pid]; ok {
		return existing, false
	}
	s.m[pid] = candidate
	return candidate, true
}

// Remove deletes pid's entry iff it still maps to spd (the caller has
// already confirmed spd is empty and drained).
func (t *Table) Remove(pid pageid.PageID, spd *page.SharedDescriptor) bool {
	s := t.shardFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[pid]; ok && cur == spd {
		delete(s.m, pid)
		return true
	}
	return false
}

// Range iterates every entry, locking all shards in order; used only
// by diagnostics/stats, never on a hot path.
func (t *Table) Range(f func(pageid.PageID, *page.SharedDescriptor) bool) {
	for _, s := range t.shards {
		s.mu.RLock()
	}
	defer func() {
		for _, s := range t.shards {
			s.mu.RUnlock()
		}
	}()
	for _, s := range t.shards {
		for pid, spd := range s.m {
			if !f(pid, spd) {
				return
			}
		}
	}
}

// Len returns the total number of resident page ids across all shards.
func (t *Table) Len() int {
	n := 0
	t.Range(func(pageid.PageID, *page.SharedDescriptor) bool { n++; return true })
	return n
}
