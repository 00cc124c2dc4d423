package bufmgr

import (
	"sync"
	"time"

	"github.com/zxjcarrot/spitfire/config"
	"github.com/zxjcarrot/spitfire/internal/xlog"
	"github.com/zxjcarrot/spitfire/pageid"
	"github.com/zxjcarrot/spitfire/wal"
)

// PageCleaner is the background worker that keeps DRAM dirty pages
// from piling up ahead of demand and closes the window a log file
// switch opens between persisted_lsn and the pages it covers. It is a
// no-op if the manager was built without a WAL, since dirty pages are
// then evicted directly by the replacer instead of logged.
type PageCleaner struct {
	m        *Manager
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	lastRotation uint64
}

// NewPageCleaner constructs a cleaner for m, waking every interval (or
// config.PageCleanerInterval if interval is zero) in addition to
// whenever the DRAM replacer signals starvation.
func NewPageCleaner(m *Manager, interval time.Duration) *PageCleaner {
	if interval <= 0 {
		interval = config.PageCleanerInterval
	}
	return &PageCleaner{
		m:        m,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called. A no-op when the
// manager has no WAL.
func (pc *PageCleaner) Start() {
	if pc.m.wal == nil {
		close(pc.done)
		return
	}
	go pc.loop()
}

func (pc *PageCleaner) loop() {
	defer close(pc.done)
	ticker := time.NewTicker(pc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-pc.stop:
			return
		case <-ticker.C:
		case <-pc.m.dramReplacer.Starved:
		}
		if err := pc.sweepOnce(); err != nil {
			xlog.Warnf("bufmgr: page cleaner sweep failed: %v", err)
		}
	}
}

// Stop signals the loop to exit and blocks until it has.
func (pc *PageCleaner) Stop() {
	pc.stopOnce.Do(func() { close(pc.stop) })
	<-pc.done
}

// sweepOnce checks for an overdue log file switch, force-flushes
// anything that switch left short of persisted_lsn, and otherwise
// flushes a batch of dirty pages once the DRAM dirty ratio exceeds
// config.PageCleanerDirtyRatio.
func (pc *PageCleaner) sweepOnce() error {
	if pc.m.wal == nil {
		return nil
	}
	if err := pc.m.wal.MaybeSwitchLogFile(); err != nil {
		return err
	}

	entries := pc.m.wal.FlushablePages()

	if rot := pc.m.wal.RotationLSN(); rot != pc.lastRotation {
		pc.lastRotation = rot
		if err := pc.flushEntries(entries, rot, true, 0); err != nil {
			return err
		}
	}

	if pc.dramDirtyRatio() > config.PageCleanerDirtyRatio {
		if err := pc.flushEntries(entries, pc.m.wal.PersistedLSN(), false, config.PageCleanerBatchSize); err != nil {
			return err
		}
	}
	return nil
}

// flushEntries flushes (keeping pages resident; forced skips the WAL
// durability wait) every entry at
// or below watermark, in the ascending-LSN order FlushablePages
// already returns them in. A non-zero batchCap stops after that many
// flushes; zero means drain everything up to watermark.
func (pc *PageCleaner) flushEntries(entries []wal.DirtyEntry, watermark uint64, forced bool, batchCap int) error {
	n := 0
	for _, e := range entries {
		if e.LSN > watermark {
			break // entries are sorted ascending by LSN
		}
		if err := pc.m.Flush(pageid.PageID(e.PID), forced, true); err != nil {
			return err
		}
		n++
		if batchCap > 0 && n >= batchCap {
			break
		}
	}
	return nil
}

// dramDirtyRatio is the fraction of configured DRAM capacity currently
// marked dirty.
func (pc *PageCleaner) dramDirtyRatio() float64 {
	if pc.m.cfg.DRAMBytes == 0 {
		return 0
	}
	return float64(pc.m.stats.loadDRAMDirty()) / float64(pc.m.cfg.DRAMBytes)
}
