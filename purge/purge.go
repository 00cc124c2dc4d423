// Package purge implements the MVCC purger: a
// background sweep that asks every registered table for pages holding
// no version visible above the oldest active transaction, then evicts
// those pages out of the buffer manager and unlinks them from their
// owning table.
package purge

import (
	"sync"
	"time"

	"github.com/zxjcarrot/spitfire/bufmgr"
	"github.com/zxjcarrot/spitfire/collab"
	"github.com/zxjcarrot/spitfire/internal/xlog"
	"github.com/zxjcarrot/spitfire/pageid"
)

// Purger owns the background goroutine. Zero value is not usable;
// construct with New.
type Purger struct {
	bm       *bufmgr.Manager
	txnMgr   collab.TxnManager
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	lastRun time.Time
	purged  int64
}

// New constructs a purger that sweeps every interval. A zero interval
// defaults to 10 seconds.
func New(bm *bufmgr.Manager, txnMgr collab.TxnManager, interval time.Duration) *Purger {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Purger{
		bm:       bm,
		txnMgr:   txnMgr,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (p *Purger) Start() {
	go p.loop()
}

func (p *Purger) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if err := p.sweepOnce(); err != nil {
				xlog.Warnf("purge: sweep failed: %v", err)
			}
		}
	}
}

// Stop signals the loop to exit and blocks until it has, then tells
// the buffer manager purging has ended (bufmgr.Manager.EndPurging).
func (p *Purger) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
	p.bm.EndPurging()
}

// sweepOnce runs one pass over every registered table: collect
// purgable pages below the transaction manager's watermark, evict
// them from the buffer manager, then tell the table to drop them from
// its heap chain. Eviction happens before unlinking so a page that
// fails to flush is never orphaned from its table.
func (p *Purger) sweepOnce() error {
	minActive := p.txnMgr.MinActiveTID()
	var total int64
	for _, tbl := range p.txnMgr.Tables() {
		pids, err := tbl.CollectPurgablePages(minActive)
		if err != nil {
			return err
		}
		if len(pids) == 0 {
			continue
		}
		set := make(map[pageid.PageID]bool, len(pids))
		for _, pid := range pids {
			set[pid] = true
		}
		if err := p.bm.EvictPurgable(set); err != nil {
			return err
		}
		for _, pid := range pids {
			if err := p.bm.FreePage(pid); err != nil {
				return err
			}
		}
		if err := tbl.UnlinkPages(pids); err != nil {
			return err
		}
		total += int64(len(pids))
	}
	p.mu.Lock()
	p.lastRun = p.now()
	p.purged += total
	p.mu.Unlock()
	return nil
}

// now is split out so tests can stub time without relying on the
// wall clock.
func (p *Purger) now() time.Time { return time.Now() }

// Stats reports the cumulative purge count and the last sweep time,
// for diagnostics.
type Stats struct {
	TotalPurged int64
	LastRun     time.Time
}

func (p *Purger) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{TotalPurged: p.purged, LastRun: p.lastRun}
}
