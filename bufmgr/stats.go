package bufmgr

import "sync/atomic"

// Stats is a point-in-time snapshot of buffer manager counters.
type Stats struct {
	DRAMHits       int64
	DRAMMisses     int64
	DRAMEvictions  int64
	DRAMMiniPages  int64
	DRAMBytes      int64
	DRAMDirtyBytes int64
	NVMHits        int64
	NVMMisses      int64
	NVMEvictions   int64
	NVMBytes       int64
	SSDReads       int64
	SSDWrites      int64
}

type statCounters struct {
	dramHits, dramMisses, dramEvictions, dramMiniPages int64
	dramDirtyBytes                                     int64
	nvmHits, nvmMisses, nvmEvictions                   int64
	ssdReads, ssdWrites                                int64
}

func (c *statCounters) incDRAMHit()      { atomic.AddInt64(&c.dramHits, 1) }
func (c *statCounters) incDRAMMiss()     { atomic.AddInt64(&c.dramMisses, 1) }
func (c *statCounters) incDRAMEviction() { atomic.AddInt64(&c.dramEvictions, 1) }
func (c *statCounters) incDRAMMini(d int64) {
	atomic.AddInt64(&c.dramMiniPages, d)
}
func (c *statCounters) addDRAMDirty(delta int64) { atomic.AddInt64(&c.dramDirtyBytes, delta) }
func (c *statCounters) loadDRAMDirty() int64      { return atomic.LoadInt64(&c.dramDirtyBytes) }
func (c *statCounters) incNVMHit()                { atomic.AddInt64(&c.nvmHits, 1) }
func (c *statCounters) incNVMMiss()                { atomic.AddInt64(&c.nvmMisses, 1) }
func (c *statCounters) incNVMEviction()            { atomic.AddInt64(&c.nvmEvictions, 1) }
func (c *statCounters) incSSDRead()                { atomic.AddInt64(&c.ssdReads, 1) }
func (c *statCounters) incSSDWrite()               { atomic.AddInt64(&c.ssdWrites, 1) }
