// Package anneal implements the adaptive migration policy controller:
// a simulated-annealing search over the four bypass-probability knobs
// (Dr, Dw, Nr, Nw), driven by a pluggable
// cost function so it stays independent of what "cost" means to the
// embedding application (latency, miss rate, NVM wear, ...).
package anneal

import (
	"math"
	"math/rand"
	"time"

	"github.com/zxjcarrot/spitfire/bufmgr"
	"github.com/zxjcarrot/spitfire/internal/xlog"
)

// CostFunc measures the current policy's badness after it has been
// active for one observation window; lower is better. Implementations
// typically read bufmgr.Manager.Stats() deltas (hit rates, eviction
// counts) collected over that window.
type CostFunc func() float64

// Controller runs the annealing loop against a bufmgr.Manager.
type Controller struct {
	bm   *bufmgr.Manager
	cost CostFunc

	initialTemp float64
	coolingRate float64
	statesPerT  int
	windowDur   time.Duration
	minTemp     float64

	rng *rand.Rand
}

// Options configures a Controller; zero values fall back to the
// teacher-sized defaults below.
type Options struct {
	InitialTemp float64       // T0
	CoolingRate float64       // alpha, applied as T *= alpha each step
	StatesPerT  int           // iterations attempted at each temperature
	Window      time.Duration // how long a candidate policy runs before its cost is sampled
	MinTemp     float64       // stop once T falls below this
}

func defaultOptions(o Options) Options {
	if o.InitialTemp <= 0 {
		o.InitialTemp = 1.0
	}
	if o.CoolingRate <= 0 {
		o.CoolingRate = 0.9
	}
	if o.StatesPerT <= 0 {
		o.StatesPerT = 8
	}
	if o.Window <= 0 {
		o.Window = 2 * time.Second
	}
	if o.MinTemp <= 0 {
		o.MinTemp = 1e-3
	}
	return o
}

// New constructs a Controller. cost is called once per candidate
// policy, after letting it run for Options.Window.
func New(bm *bufmgr.Manager, cost CostFunc, opts Options) *Controller {
	opts = defaultOptions(opts)
	return &Controller{
		bm:          bm,
		cost:        cost,
		initialTemp: opts.InitialTemp,
		coolingRate: opts.CoolingRate,
		statesPerT:  opts.StatesPerT,
		windowDur:   opts.Window,
		minTemp:     opts.MinTemp,
		rng:         rand.New(rand.NewSource(1)),
	}
}

// Run drives the annealing schedule to completion (T falls below
// MinTemp) or until deadline elapses, whichever comes first, and
// installs the best policy it found via bufmgr.Manager.SetPolicy.
// A non-positive deadline means "no wall-clock bound".
func (c *Controller) Run(deadline time.Duration) {
	start := time.Now()
	current := c.bm.Policy()
	currentCost := c.evaluate(current)
	best := current
	bestCost := currentCost

	for temp := c.initialTemp; temp > c.minTemp; temp *= c.coolingRate {
		if deadline > 0 && time.Since(start) > deadline {
			break
		}
		for i := 0; i < c.statesPerT; i++ {
			if deadline > 0 && time.Since(start) > deadline {
				break
			}
			candidate := neighbor(current, temp, c.rng)
			candidateCost := c.evaluate(candidate)

			if c.accept(currentCost, candidateCost, temp) {
				current = candidate
				currentCost = candidateCost
				if currentCost < bestCost {
					best = current
					bestCost = currentCost
				}
			}
		}
		xlog.Debugf("anneal: T=%.4f best_cost=%.4f policy=%+v", temp, bestCost, best)
	}

	c.bm.SetPolicy(best)
}

// evaluate installs p, lets it run for one observation window, then
// samples cost.
func (c *Controller) evaluate(p bufmgr.MigrationPolicy) float64 {
	c.bm.SetPolicy(p)
	time.Sleep(c.windowDur)
	return c.cost()
}

// accept implements the Metropolis criterion: always take an
// improvement, otherwise take a worsening move with probability
// exp(-delta/T).
func (c *Controller) accept(currentCost, candidateCost, temp float64) bool {
	if candidateCost <= currentCost {
		return true
	}
	delta := candidateCost - currentCost
	return c.rng.Float64() < math.Exp(-delta/temp)
}

// neighbor perturbs each knob by a Gaussian step scaled by the current
// temperature, clamped to the controller's valid range.
func neighbor(p bufmgr.MigrationPolicy, temp float64, rng *rand.Rand) bufmgr.MigrationPolicy {
	step := func(v float64) float64 {
		return v + rng.NormFloat64()*temp*0.1
	}
	return bufmgr.MigrationPolicy{
		Dr: step(p.Dr),
		Dw: step(p.Dw),
		Nr: step(p.Nr),
		Nw: step(p.Nw),
	}.Clamp()
}
