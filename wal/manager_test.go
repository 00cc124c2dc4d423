package wal

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestManager(t *testing.T) *Manager {
	t.Helper()
	prefix := filepath.Join(t.TempDir(), "log")
	m, err := Open(prefix)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestOpen_CreatesBothLogFiles(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "log")
	m, err := Open(prefix)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer m.Close()

	for _, suffix := range []string{".1", ".2"} {
		if _, err := os.Stat(prefix + suffix); err != nil {
			t.Errorf("Open() did not create %s: %v", prefix+suffix, err)
		}
	}
}

func TestManager_AppendReturnsIncreasingLSN(t *testing.T) {
	m := openTestManager(t)

	lsn1, err := m.Append(&Record{Type: Begin, TID: 1})
	if err != nil {
		t.Fatalf("Append() #1 error = %v", err)
	}
	lsn2, err := m.Append(&Record{Type: Commit, TID: 1})
	if err != nil {
		t.Fatalf("Append() #2 error = %v", err)
	}
	if lsn2 <= lsn1 {
		t.Errorf("Append() LSNs = %d, %d, want strictly increasing", lsn1, lsn2)
	}
}

func TestManager_AppendRotatesWhenBufferFills(t *testing.T) {
	m := openTestManager(t)
	// Shrink the in-memory buffer far below its production size so a
	// handful of small records force a rotation.
	m.buf = NewBuffer(64, m.buf.StartLSN())

	var lastLSN uint64
	for i := 0; i < 10; i++ {
		lsn, err := m.Append(&Record{Type: Begin, TID: uint64(i)})
		if err != nil {
			t.Fatalf("Append() #%d error = %v", i, err)
		}
		if lsn < lastLSN {
			t.Fatalf("Append() #%d LSN %d went backwards from %d", i, lsn, lastLSN)
		}
		lastLSN = lsn
	}
	if m.PersistedLSN() == 0 {
		t.Errorf("PersistedLSN() = 0 after forcing a rotation, want > 0")
	}
}

func TestManager_DirtyPageCleanPage(t *testing.T) {
	m := openTestManager(t)
	m.DirtyPage(42, 100)
	m.DirtyPage(42, 200) // earlier LSN wins; this must not overwrite it

	entries := m.FlushablePages()
	found := false
	for _, e := range entries {
		if e.PID == 42 {
			found = true
			if e.LSN != 100 {
				t.Errorf("DirtyPage() kept LSN %d for a re-dirtied page, want the first (100)", e.LSN)
			}
		}
	}
	if !found {
		t.Fatalf("FlushablePages() did not report pid 42")
	}

	m.CleanPage(42)
	for _, e := range m.FlushablePages() {
		if e.PID == 42 {
			t.Errorf("FlushablePages() still reports pid 42 after CleanPage()")
		}
	}
}

func TestManager_FlushablePagesRespectsWatermark(t *testing.T) {
	m := openTestManager(t)
	m.DirtyPage(1, m.PersistedLSN()+1000) // ahead of the current watermark
	for _, e := range m.FlushablePages() {
		if e.PID == 1 {
			t.Errorf("FlushablePages() reported a page dirtied past the persisted watermark")
		}
	}
}

func TestManager_RotationLSNInitiallyZero(t *testing.T) {
	m := openTestManager(t)
	if got := m.RotationLSN(); got != 0 {
		t.Errorf("RotationLSN() on a fresh manager = %d, want 0", got)
	}
}
