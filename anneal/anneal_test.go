package anneal

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/zxjcarrot/spitfire/bufmgr"
	"github.com/zxjcarrot/spitfire/config"
	"github.com/zxjcarrot/spitfire/ssd"
)

func newTestBufMgr(t *testing.T) *bufmgr.Manager {
	t.Helper()
	cfg := config.Default()
	cfg.EnableNVM = false
	ssdMgr, err := ssd.NewManager(filepath.Join(t.TempDir(), "ssd"), false)
	if err != nil {
		t.Fatalf("ssd.NewManager() error = %v", err)
	}
	return bufmgr.New(cfg, ssdMgr, nil, nil)
}

func assertClamped(t *testing.T, label string, p bufmgr.MigrationPolicy) {
	t.Helper()
	for name, v := range map[string]float64{"Dr": p.Dr, "Dw": p.Dw, "Nr": p.Nr, "Nw": p.Nw} {
		if v < 0.01 || v > 1 {
			t.Errorf("%s: %s = %v, want within [0.01, 1]", label, name, v)
		}
	}
}

func TestNeighbor_StaysWithinClampRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := bufmgr.MigrationPolicy{Dr: 0.5, Dw: 0.5, Nr: 0.5, Nw: 0.5}
	for i := 0; i < 100; i++ {
		got := neighbor(base, 1.0, rng)
		assertClamped(t, "neighbor()", got)
	}
}

func TestController_AcceptAlwaysTakesAnImprovement(t *testing.T) {
	bm := newTestBufMgr(t)
	c := New(bm, func() float64 { return 0 }, Options{})
	if !c.accept(5.0, 3.0, 1.0) {
		t.Errorf("accept(5, 3, T=1) = false, want true: a lower cost must always be taken")
	}
	if !c.accept(5.0, 5.0, 1.0) {
		t.Errorf("accept(5, 5, T=1) = false, want true: an equal cost must always be taken")
	}
}

func TestController_AcceptRejectsWorseningAtNearZeroTemp(t *testing.T) {
	bm := newTestBufMgr(t)
	c := New(bm, func() float64 { return 0 }, Options{})
	if c.accept(1.0, 100.0, 1e-12) {
		t.Errorf("accept(1, 100, T=1e-12) = true, want false: a large worsening at near-zero temperature should never be taken")
	}
}

func TestController_RunProducesAClampedPolicy(t *testing.T) {
	bm := newTestBufMgr(t)
	calls := 0
	cost := func() float64 {
		calls++
		p := bm.Policy()
		return p.Dr + p.Dw + p.Nr + p.Nw
	}
	c := New(bm, cost, Options{
		InitialTemp: 1,
		CoolingRate: 0.5,
		StatesPerT:  2,
		Window:      time.Millisecond,
		MinTemp:     0.2,
	})

	c.Run(5 * time.Second)

	if calls == 0 {
		t.Fatalf("Run() never invoked the cost function")
	}
	assertClamped(t, "bm.Policy() after Run()", bm.Policy())
}

func TestController_RunRespectsDeadline(t *testing.T) {
	bm := newTestBufMgr(t)
	cost := func() float64 { return 0 }
	c := New(bm, cost, Options{
		InitialTemp: 1,
		CoolingRate: 0.99, // slow cooling: would run many states without a deadline
		StatesPerT:  1000,
		Window:      10 * time.Millisecond,
		MinTemp:     1e-6,
	})

	start := time.Now()
	c.Run(50 * time.Millisecond)
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Errorf("Run() with a 50ms deadline took %v, want roughly bounded by the deadline", elapsed)
	}
}

func TestNew_DefaultOptionsApplied(t *testing.T) {
	bm := newTestBufMgr(t)
	c := New(bm, func() float64 { return 0 }, Options{})
	if c.initialTemp != 1.0 {
		t.Errorf("default initialTemp = %v, want 1.0", c.initialTemp)
	}
	if c.coolingRate != 0.9 {
		t.Errorf("default coolingRate = %v, want 0.9", c.coolingRate)
	}
	if c.statesPerT != 8 {
		t.Errorf("default statesPerT = %v, want 8", c.statesPerT)
	}
	if c.windowDur != 2*time.Second {
		t.Errorf("default windowDur = %v, want 2s", c.windowDur)
	}
	if c.minTemp != 1e-3 {
		t.Errorf("default minTemp = %v, want 1e-3", c.minTemp)
	}
}
