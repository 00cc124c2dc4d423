package bufmgr

import (
	"path/filepath"
	"testing"

	"github.com/zxjcarrot/spitfire/config"
	"github.com/zxjcarrot/spitfire/nvmstore"
	"github.com/zxjcarrot/spitfire/ssd"
	"github.com/zxjcarrot/spitfire/wal"
)

// testManagerOpts lets each test dial in only the tiers it needs; a
// real ssd.Manager always backs the SSD tier since Get's cold-miss
// path requires one.
type testManagerOpts struct {
	cfg     config.Config
	withWAL bool
}

func newTestManager(t *testing.T, opts testManagerOpts) *Manager {
	t.Helper()
	dir := t.TempDir()

	ssdMgr, err := ssd.NewManager(filepath.Join(dir, "ssd"), false)
	if err != nil {
		t.Fatalf("ssd.NewManager() error = %v", err)
	}

	var nvmArena *nvmstore.Arena
	if opts.cfg.EnableNVM {
		arena, err := nvmstore.Open(filepath.Join(dir, "nvm"), opts.cfg.NVMBytes)
		if err != nil {
			t.Fatalf("nvmstore.Open() error = %v", err)
		}
		t.Cleanup(func() { arena.Close() })
		nvmArena = arena
	}

	var walMgr *wal.Manager
	if opts.withWAL {
		wm, err := wal.Open(filepath.Join(dir, "log"))
		if err != nil {
			t.Fatalf("wal.Open() error = %v", err)
		}
		t.Cleanup(func() { wm.Close() })
		walMgr = wm
	}

	return New(opts.cfg, ssdMgr, nvmArena, walMgr)
}
