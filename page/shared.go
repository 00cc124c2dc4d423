package page

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/zxjcarrot/spitfire/epoch"
	"github.com/zxjcarrot/spitfire/pageid"
)

// SharedDescriptor is the mapping table's value for one page id: the
// SPD. It holds at most one DRAM and one NVM Descriptor,
// plus the three per-tier latches that serialize installation and
// eviction. The only nested acquisition is DRAM before NVM: writing a
// DRAM page back into NVM takes NvmLatch while DramLatch is held. No
// path takes DramLatch while holding NvmLatch, and SsdLatch is not
// acquired anywhere.
type SharedDescriptor struct {
	PID pageid.PageID

	dram unsafe.Pointer // *Descriptor
	nvm  unsafe.Pointer // *Descriptor

	DramLatch sync.Mutex
	NvmLatch  sync.Mutex
	SsdLatch  sync.Mutex

	// Guard gates retirement: a reader that looked this SPD up under
	// the mapping table shard lock registers here for the duration of
	// its access.
	Guard epoch.Guard
}

func NewShared(pid pageid.PageID) *SharedDescriptor {
	return &SharedDescriptor{PID: pid}
}

func (s *SharedDescriptor) DRAM() *Descriptor {
	return (*Descriptor)(atomic.LoadPointer(&s.dram))
}

func (s *SharedDescriptor) NVM() *Descriptor {
	return (*Descriptor)(atomic.LoadPointer(&s.nvm))
}

func (s *SharedDescriptor) SetDRAM(d *Descriptor) {
	atomic.StorePointer(&s.dram, unsafe.Pointer(d))
}

func (s *SharedDescriptor) SetNVM(d *Descriptor) {
	atomic.StorePointer(&s.nvm, unsafe.Pointer(d))
}

// CASDRAM installs d as the DRAM PD iff the current value is old.
func (s *SharedDescriptor) CASDRAM(old, d *Descriptor) bool {
	return atomic.CompareAndSwapPointer(&s.dram, unsafe.Pointer(old), unsafe.Pointer(d))
}

func (s *SharedDescriptor) CASNVM(old, d *Descriptor) bool {
	return atomic.CompareAndSwapPointer(&s.nvm, unsafe.Pointer(old), unsafe.Pointer(d))
}

// Empty reports whether both tier pointers are nil, the condition
// under which the SPD is eligible for retirement.
func (s *SharedDescriptor) Empty() bool {
	return s.DRAM() == nil && s.NVM() == nil
}
