package mfbo

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
)

//////
// Const, vars, types.
//////

// LipschitzEstimator maintains one Lipschitz-constant estimate per fidelity,
// used by the local penalizer to size exclusion radii. Each estimate is the
// largest posterior-mean gradient norm of that fidelity's model found over a
// fixed quasi-random probe grid, refreshed after every model refit. The grid
// is drawn once at construction, so re-estimating against an unchanged model
// returns the same value.
//
// Not safe for concurrent use.
type LipschitzEstimator struct {
	values []float64
	grid   [][]float64
}

//////
// Methods.
//////

// Value returns the current global estimate of the given fidelity.
func (l *LipschitzEstimator) Value(fidelity int) float64 {
	return l.values[fidelity]
}

// UpdateGlobal refreshes the given fidelity's estimate by probing the
// posterior mean gradient over the fixed grid. A degenerate probe (all
// gradients zero or non-finite) keeps the previous estimate, so the estimate
// never collapses to zero.
func (l *LipschitzEstimator) UpdateGlobal(mean func([]float64) float64, fidelity int) {
	best := l.maxGradientNorm(mean, l.grid)

	if best > 0 && !math.IsInf(best, 1) {
		l.values[fidelity] = best
	}
}

// Local estimates a Lipschitz constant in the neighborhood of center: the
// probe grid is rescaled by the kernel lengthscales, recentered at center
// and clamped to the unit box. Falls back to the fidelity's global estimate
// when the local probe is degenerate.
func (l *LipschitzEstimator) Local(mean func([]float64) float64, center, lengthscales []float64, fidelity int) float64 {
	grid := make([][]float64, len(l.grid))

	for i, p := range l.grid {
		q := copyPoint(p)

		for d := range q {
			q[d] = center[d] + (q[d]-0.5)*lengthscales[d]
		}

		grid[i] = clampUnit(q)
	}

	best := l.maxGradientNorm(mean, grid)

	if best <= 0 || math.IsInf(best, 1) {
		return l.values[fidelity]
	}

	return best
}

// maxGradientNorm returns the largest finite gradient norm of mean over the
// grid.
func (l *LipschitzEstimator) maxGradientNorm(mean func([]float64) float64, grid [][]float64) float64 {
	var best float64

	var grad []float64

	for _, p := range grid {
		if grad == nil {
			grad = make([]float64, len(p))
		}

		fd.Gradient(grad, mean, p, nil)

		norm := floats.Norm(grad, 2)
		if math.IsNaN(norm) || math.IsInf(norm, 1) {
			continue
		}

		if norm > best {
			best = norm
		}
	}

	return best
}

//////
// Factory.
//////

// NewLipschitzEstimator creates an estimator over numFidelities levels, each
// seeded with an initial constant, probing a fixed grid of gridSize*dim
// points.
func NewLipschitzEstimator(seed float64, numFidelities, dim, gridSize int, seq Sequence) *LipschitzEstimator {
	values := make([]float64, numFidelities)
	for f := range values {
		values[f] = seed
	}

	return &LipschitzEstimator{
		values: values,
		grid:   seq.Draw(gridSize * dim),
	}
}
