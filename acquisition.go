package mfbo

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
)

//////
// Const, vars, types.
//////

const (
	// adamLearningRate is the step size of the acquisition ascent.
	adamLearningRate = 0.01

	// adamStarts is the number of top-ranked pool points refined by
	// gradient ascent.
	adamStarts = 10
)

// penaltyPoint is one active exclusion zone of the local penalizer: a
// location and the fidelity it was queried at, together with its radius
// (expected improvement headroom over the Lipschitz constant) and spread
// (posterior uncertainty over the Lipschitz constant).
type penaltyPoint struct {
	x        []float64
	fidelity int
	radius   float64
	spread   float64
}

// Penalizer multiplies the acquisition by a soft exclusion factor around
// queries that are already in flight or were just chosen for the current
// batch, steering batch members away from each other. Each point contributes
// the factor min(dist/(radius + gamma*spread), 1), so the penalty is exactly
// zero at the point itself and vanishes outside the exclusion ball. A point
// penalizes only the fidelity it was dispatched at.
//
// Not safe for concurrent use.
type Penalizer struct {
	gamma  float64
	points []penaltyPoint
}

//////
// Methods.
//////

// Reset clears all active penalty points.
func (p *Penalizer) Reset() {
	p.points = p.points[:0]
}

// Add registers a penalty point.
//
// Parameters:
//   - x: the penalized location.
//   - fidelity: the fidelity the point was queried at; the penalty applies
//     to that fidelity's bound only.
//   - mean, std: the surrogate posterior at x, at that fidelity.
//   - maxValue: the running best observation at that fidelity.
//   - lipschitz: the Lipschitz estimate governing the exclusion radius,
//     either that fidelity's global estimate or a local one around x.
func (p *Penalizer) Add(x []float64, fidelity int, mean, std, maxValue, lipschitz float64) {
	if lipschitz <= 0 {
		lipschitz = varianceFloor
	}

	radius := (maxValue - mean) / lipschitz
	if radius < 0 || math.IsInf(maxValue, -1) {
		radius = 0
	}

	p.points = append(p.points, penaltyPoint{
		x:        copyPoint(x),
		fidelity: fidelity,
		radius:   radius,
		spread:   std / lipschitz,
	})
}

// Factor returns the combined penalization factor at x for the given
// fidelity, the product of the factors of that fidelity's points. 1 when no
// matching points are active.
func (p *Penalizer) Factor(x []float64, fidelity int) float64 {
	factor := 1.0

	for _, pt := range p.points {
		if pt.fidelity != fidelity {
			continue
		}

		denom := pt.radius + p.gamma*pt.spread
		if denom <= 0 {
			denom = varianceFloor
		}

		f := euclidean(x, pt.x) / denom
		if f > 1 {
			f = 1
		}

		factor *= f
	}

	return factor
}

//////
// Factory.
//////

// NewPenalizer creates a penalizer with the given uncertainty weight gamma.
func NewPenalizer(gamma float64) *Penalizer {
	return &Penalizer{gamma: gamma}
}

//////
// Exported functionalities.
//////

// UCB returns the upper confidence bound of the given fidelity at each input
// row: posterior mean plus beta-weighted standard deviation, plus the bias
// correction terms when cross-fidelity bias tracking is active.
func (o *Optimizer) UCB(x [][]float64, fidelity int) []float64 {
	mean, std := o.posterior(x, fidelity)
	beta := o.betaFor(fidelity)

	out := make([]float64, len(x))
	for i := range out {
		out[i] = mean[i] + beta*std[i]
	}

	if o.useBias && fidelity != TargetFidelity {
		bMean, bStd := o.bias.Correction(x, fidelity, beta)

		for i := range out {
			out[i] += bMean[i] + beta*bStd[i]
		}
	}

	return out
}

// FusedUCB returns the multi-fidelity acquisition at each input row: the
// minimum over all fidelities of the bias-corrected upper confidence bounds.
// Lower fidelities can only tighten the bound, never loosen it.
func (o *Optimizer) FusedUCB(x [][]float64) []float64 {
	out := o.UCB(x, TargetFidelity)

	for f := 1; f < o.env.NumFidelities(); f++ {
		ucb := o.UCB(x, f)

		for i := range out {
			if ucb[i] < out[i] {
				out[i] = ucb[i]
			}
		}
	}

	return out
}

// AcquisitionValues returns the full acquisition at each input row. Each
// fidelity's upper confidence bound is transformed and penalized on its own,
// and only then fused: penalties from pending queries apply at the fidelity
// they were dispatched at, before the minimum over fidelities is taken.
func (o *Optimizer) AcquisitionValues(x [][]float64) []float64 {
	out := o.fidelityAcquisition(x, TargetFidelity)

	if !o.useFused {
		return out
	}

	for f := 1; f < o.env.NumFidelities(); f++ {
		values := o.fidelityAcquisition(x, f)

		for i := range out {
			if values[i] < out[i] {
				out[i] = values[i]
			}
		}
	}

	return out
}

// fidelityAcquisition returns one fidelity's acquisition column: the
// bias-corrected upper confidence bound, passed through a softplus transform
// when the environment requires non-negative values, multiplied by that
// fidelity's penalization factors when batch penalization is active.
func (o *Optimizer) fidelityAcquisition(x [][]float64, fidelity int) []float64 {
	out := o.UCB(x, fidelity)

	if o.env.RequireTransform() {
		for i := range out {
			out[i] = softPlus(out[i])
		}
	}

	if o.usePenalization {
		for i := range out {
			out[i] *= o.penalizer.Factor(x[i], fidelity)
		}
	}

	return out
}

//////
// Proposal policies.
//////

// multiStartProposal optimizes the acquisition by ranking a quasi-random
// candidate pool and refining the best candidates with Adam gradient ascent.
// Environments with domain constraints switch to a pure grid search over
// candidates they generate themselves.
type multiStartProposal struct{}

// Propose returns the acquisition argmax and its fidelity.
func (multiStartProposal) Propose(o *Optimizer) ([]float64, int) {
	if o.env.GridSearch() {
		grid := o.env.GenSearchGrid(100 * o.cfg.NumStarts)
		values := o.AcquisitionValues(grid)

		x := copyPoint(grid[argMax(values)])

		return x, o.fidelity.Select(o, x)
	}

	dim := o.env.Dim()

	poolSize := 100 * o.cfg.NumStarts * minOf(dim, 5)
	pool := o.seq.Draw(poolSize)
	values := o.AcquisitionValues(pool)

	starts := topKPoints(pool, values, adamStarts)

	objective := func(p []float64) float64 {
		return o.AcquisitionValues([][]float64{clampUnit(copyPoint(p))})[0]
	}

	var bestX []float64

	bestV := negInf

	for _, start := range starts {
		x := adamAscent(objective, copyPoint(start), o.cfg.OptimEpochs)

		if v := objective(x); v > bestV {
			bestV = v
			bestX = x
		}
	}

	return bestX, o.fidelity.Select(o, bestX)
}

//////
// Helper functions.
//////

// adamAscent runs Adam gradient ascent on f from x for the given number of
// epochs, clamping to the unit box after every step.
func adamAscent(f func([]float64) float64, x []float64, epochs int) []float64 {
	const (
		beta1 = 0.9
		beta2 = 0.999
		eps   = 1e-8
	)

	m := make([]float64, len(x))
	v := make([]float64, len(x))
	grad := make([]float64, len(x))

	for t := 1; t <= epochs; t++ {
		fd.Gradient(grad, f, x, nil)

		for i := range x {
			m[i] = beta1*m[i] + (1-beta1)*grad[i]
			v[i] = beta2*v[i] + (1-beta2)*grad[i]*grad[i]

			mHat := m[i] / (1 - math.Pow(beta1, float64(t)))
			vHat := v[i] / (1 - math.Pow(beta2, float64(t)))

			x[i] += adamLearningRate * mHat / (math.Sqrt(vHat) + eps)
		}

		clampUnit(x)
	}

	return x
}

// topKPoints returns the k points with the largest values, best first.
func topKPoints(points [][]float64, values []float64, k int) [][]float64 {
	if k > len(points) {
		k = len(points)
	}

	taken := make([]bool, len(points))
	out := make([][]float64, 0, k)

	for len(out) < k {
		idx := -1
		best := negInf

		for i, v := range values {
			if !taken[i] && v > best {
				best = v
				idx = i
			}
		}

		if idx < 0 {
			break
		}

		taken[idx] = true
		out = append(out, points[idx])
	}

	return out
}
