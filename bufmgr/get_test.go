package bufmgr

import (
	"bytes"
	"testing"

	"github.com/zxjcarrot/spitfire/config"
	"github.com/zxjcarrot/spitfire/page"
)

func TestManager_WriteReadRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.EnableNVM = false
	m := newTestManager(t, testManagerOpts{cfg: cfg})

	pid, err := m.NewPage()
	if err != nil {
		t.Fatalf("NewPage() error = %v", err)
	}

	acc, err := m.Get(pid, WriteFull)
	if err != nil {
		t.Fatalf("Get(WriteFull) error = %v", err)
	}
	buf, err := acc.PrepareForWrite(0, 5)
	if err != nil {
		t.Fatalf("PrepareForWrite() error = %v", err)
	}
	copy(buf, "hello")
	acc.FinishAccess()

	acc2, err := m.Get(pid, ReadFull)
	if err != nil {
		t.Fatalf("Get(ReadFull) error = %v", err)
	}
	got, err := acc2.PrepareForRead(0, 5)
	if err != nil {
		t.Fatalf("PrepareForRead() error = %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("PrepareForRead() = %q, want %q", got, "hello")
	}
	acc2.Drop()

	if got := m.Stats().DRAMHits; got == 0 {
		t.Errorf("Stats().DRAMHits = 0, want > 0 after a resident re-read")
	}
}

func TestManager_MiniPageWriteThenPromoteToFull(t *testing.T) {
	cfg := config.Default()
	cfg.EnableNVM = false
	cfg.EnableMiniPage = true
	m := newTestManager(t, testManagerOpts{cfg: cfg})

	pid, err := m.NewPage()
	if err != nil {
		t.Fatalf("NewPage() error = %v", err)
	}

	acc, err := m.Get(pid, Write)
	if err != nil {
		t.Fatalf("Get(Write) error = %v", err)
	}
	if got := acc.Descriptor().Type; got != page.DRAMMini {
		t.Fatalf("Descriptor().Type = %v, want DRAM_MINI on a mini-page-intent cold miss", got)
	}
	buf, err := acc.PrepareForWrite(0, 4)
	if err != nil {
		t.Fatalf("PrepareForWrite() error = %v", err)
	}
	copy(buf, "data")
	acc.FinishAccess()

	if got := m.Stats().DRAMMiniPages; got != 1 {
		t.Errorf("Stats().DRAMMiniPages = %d, want 1 while the mini-page is resident", got)
	}

	accFull, err := m.Get(pid, WriteFull)
	if err != nil {
		t.Fatalf("Get(WriteFull) error = %v", err)
	}
	if got := accFull.Descriptor().Type; got != page.DRAMFull {
		t.Errorf("Descriptor().Type after a full-page intent = %v, want DRAM_FULL", got)
	}
	got, err := accFull.PrepareForRead(0, 4)
	if err != nil {
		t.Fatalf("PrepareForRead() on the promoted page error = %v", err)
	}
	if !bytes.Equal(got, []byte("data")) {
		t.Errorf("promoted page lost its mini-page data: got %q, want %q", got, "data")
	}
	accFull.Drop()

	if got := m.Stats().DRAMMiniPages; got != 0 {
		t.Errorf("Stats().DRAMMiniPages = %d after promotion, want 0", got)
	}
}

func TestManager_ReadMissingAllocatedPageIsZeroed(t *testing.T) {
	cfg := config.Default()
	cfg.EnableNVM = false
	m := newTestManager(t, testManagerOpts{cfg: cfg})

	pid, err := m.NewPage()
	if err != nil {
		t.Fatalf("NewPage() error = %v", err)
	}

	acc, err := m.Get(pid, ReadFull)
	if err != nil {
		t.Fatalf("Get(ReadFull) error = %v", err)
	}
	defer acc.Drop()
	got, err := acc.PrepareForRead(0, 16)
	if err != nil {
		t.Fatalf("PrepareForRead() error = %v", err)
	}
	want := make([]byte, 16)
	if !bytes.Equal(got, want) {
		t.Errorf("PrepareForRead() on a never-written page = %v, want all zeroes", got)
	}
}
