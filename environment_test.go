package mfbo

import (
	"math"
	"math/rand"
)

// pendingQuery is one dispatched-but-unresolved query of the simulated
// environment.
type pendingQuery struct {
	x         []float64
	fidelity  int
	remaining int
}

// simulatedEnvironment is the asynchronous test environment: each fidelity
// has its own objective function and a fixed resolution delay in ticks.
// Queries dispatched through Step resolve once their delay has elapsed.
type simulatedEnvironment struct {
	dim           int
	objectives    []func([]float64) float64
	delays        []int
	expectedCosts []float64
	fidelityCosts []float64
	gridSearch    bool
	transform     bool

	rng     *rand.Rand
	pending []pendingQuery

	// dispatched counts every query ever handed to Step, per fidelity.
	dispatched []int
}

func (e *simulatedEnvironment) Dim() int                 { return e.dim }
func (e *simulatedEnvironment) NumFidelities() int       { return len(e.objectives) }
func (e *simulatedEnvironment) ExpectedCosts() []float64 { return e.expectedCosts }
func (e *simulatedEnvironment) FidelityCosts() []float64 { return e.fidelityCosts }
func (e *simulatedEnvironment) RequireTransform() bool   { return e.transform }
func (e *simulatedEnvironment) GridSearch() bool         { return e.gridSearch }

func (e *simulatedEnvironment) GenSearchGrid(n int) [][]float64 {
	grid := make([][]float64, n)
	for i := range grid {
		grid[i] = uniformPoint(e.dim, e.rng)
	}

	return grid
}

func (e *simulatedEnvironment) InFlight() ([][]float64, []int) {
	x := make([][]float64, 0, len(e.pending))
	fids := make([]int, 0, len(e.pending))

	for _, p := range e.pending {
		x = append(x, copyPoint(p.x))
		fids = append(fids, p.fidelity)
	}

	return x, fids
}

func (e *simulatedEnvironment) Step(x [][]float64, fidelities []int) ([][]float64, []int, []float64) {
	for i := range x {
		e.dispatched[fidelities[i]]++
		e.pending = append(e.pending, pendingQuery{
			x:         copyPoint(x[i]),
			fidelity:  fidelities[i],
			remaining: e.delays[fidelities[i]],
		})
	}

	var (
		outX    [][]float64
		outFids []int
		outY    []float64
	)

	keep := e.pending[:0]

	for _, p := range e.pending {
		p.remaining--

		if p.remaining <= 0 {
			outX = append(outX, p.x)
			outFids = append(outFids, p.fidelity)
			outY = append(outY, e.objectives[p.fidelity](p.x))

			continue
		}

		keep = append(keep, p)
	}

	e.pending = keep

	return outX, outFids, outY
}

func (e *simulatedEnvironment) Drain() ([][]float64, []int, []float64) {
	var (
		outX    [][]float64
		outFids []int
		outY    []float64
	)

	for _, p := range e.pending {
		outX = append(outX, p.x)
		outFids = append(outFids, p.fidelity)
		outY = append(outY, e.objectives[p.fidelity](p.x))
	}

	e.pending = nil

	return outX, outFids, outY
}

// newTwoFidelityEnv builds a 1D environment with a smooth target objective
// and a slightly biased cheap approximation. Costs default to target 2,
// cheap 1, both resolving on the next tick.
func newTwoFidelityEnv(seed int64) *simulatedEnvironment {
	target := func(x []float64) float64 {
		return math.Sin(3*x[0]) + 0.5*x[0]
	}

	cheap := func(x []float64) float64 {
		return target(x) + 0.2*math.Cos(5*x[0])
	}

	return &simulatedEnvironment{
		dim:           1,
		objectives:    []func([]float64) float64{target, cheap},
		delays:        []int{1, 1},
		expectedCosts: []float64{2, 1},
		fidelityCosts: []float64{2, 1},
		rng:           rand.New(rand.NewSource(seed)),
		dispatched:    make([]int, 2),
	}
}

// newSingleFidelityEnv builds a 1D single-fidelity environment.
func newSingleFidelityEnv(seed int64) *simulatedEnvironment {
	target := func(x []float64) float64 {
		return -math.Pow(x[0]-0.6, 2)
	}

	return &simulatedEnvironment{
		dim:           1,
		objectives:    []func([]float64) float64{target},
		delays:        []int{1},
		expectedCosts: []float64{1},
		fidelityCosts: []float64{1},
		rng:           rand.New(rand.NewSource(seed)),
		dispatched:    make([]int, 1),
	}
}

// fastConfig shrinks the search effort so end-to-end tests stay quick.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Budget = 4
	cfg.CostBudget = 4
	cfg.NumStarts = 1
	cfg.OptimEpochs = 2
	cfg.GradPointsPerDim = 5
	cfg.IntegrationSteps = 30
	cfg.NumFantasies = 4
	cfg.HPUpdateFrequency = 100
	cfg.Seed = 7

	return cfg
}
