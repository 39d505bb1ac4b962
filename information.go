package mfbo

import (
	"math"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/mat"
)

//////
// Const, vars, types.
//////

// halfLog2PiE is log(sqrt(2*pi*e)), the entropy constant of a unit normal.
var halfLog2PiE = 0.5 * math.Log(2*math.Pi*math.E)

// maxCorrelation bounds the cross-fidelity correlation used in entropy
// integrals away from 1, where the conditional density degenerates.
const maxCorrelation = 0.999

//////
// Exported functionalities.
//////

// SampleMaxes refreshes the fantasy maxima of the target objective: joint
// posterior sample paths over a quasi-random grid, one maximum per path.
// The entropy-search acquisition conditions on these fantasized optima.
func (o *Optimizer) SampleMaxes() {
	grid := o.seq.Draw(50 * o.cfg.NumStarts)
	paths := o.multiModel.GenerateSamples(grid, TargetFidelity, o.cfg.NumFantasies, o.rng)

	o.maxes = o.maxes[:0]

	rows, cols := paths.Dims()
	for s := 0; s < rows; s++ {
		o.maxes = append(o.maxes, sliceMax(mat.Row(nil, s, paths)[:cols]))
	}
}

// InformationGain returns the expected reduction in entropy of the target
// optimum from observing x at the given fidelity. When a batch is in flight,
// the gain is averaged over fantasized outcomes of the pending queries so
// that redundant queries score low.
func (o *Optimizer) InformationGain(x []float64, fidelity int) float64 {
	pending, pendingFids := o.pendingBatch()

	if len(pending) == 0 {
		mean, cov := o.multiModel.Joint(
			[][]float64{x, x},
			[]int{fidelity, TargetFidelity},
		)

		return o.gainFromJoint(mean, cov, fidelity)
	}

	return o.conditionalGain(x, fidelity, pending, pendingFids)
}

//////
// Methods.
//////

// gainFromJoint computes the information gain from the 2x2 joint posterior
// of (y at the queried fidelity, objective at the target fidelity) at the
// same location, averaged over the fantasy maxima.
func (o *Optimizer) gainFromJoint(mean []float64, cov *mat.SymDense, fidelity int) float64 {
	sigmaQ := math.Sqrt(math.Max(cov.At(0, 0), varianceFloor))
	sigmaT := math.Sqrt(math.Max(cov.At(1, 1), varianceFloor))

	rho := cov.At(0, 1) / (sigmaQ * sigmaT)
	if rho > maxCorrelation {
		rho = maxCorrelation
	} else if rho < -maxCorrelation {
		rho = -maxCorrelation
	}

	h1 := math.Log(sigmaQ) + halfLog2PiE

	var total float64

	for _, fStar := range o.maxes {
		var h2 float64

		if fidelity == TargetFidelity {
			h2 = truncatedEntropy(mean[0], sigmaQ, fStar)
		} else {
			h2 = o.numericEntropy(mean[0], sigmaQ, mean[1], sigmaT, rho, fStar)
		}

		total += h1 - h2
	}

	gain := total / float64(len(o.maxes))
	if gain < 0 || math.IsNaN(gain) {
		gain = 0
	}

	return gain
}

// conditionalGain computes the information gain conditioned on the pending
// batch: fantasy outcomes are drawn for the pending queries, the joint
// posterior at x is conditioned on each fantasy, and the gains are averaged.
func (o *Optimizer) conditionalGain(x []float64, fidelity int, pending [][]float64, pendingFids []int) float64 {
	b := len(pending)

	points := append(copyPoints(pending), x, x)
	tasks := append(append([]int(nil), pendingFids...), fidelity, TargetFidelity)

	mean, cov := o.multiModel.Joint(points, tasks)

	// Partition into pending block and query block.
	pendingCov := mat.NewSymDense(b, nil)
	for i := 0; i < b; i++ {
		for j := i; j < b; j++ {
			pendingCov.SetSym(i, j, cov.At(i, j))
		}
	}

	cross := mat.NewDense(b, 2, nil)
	for i := 0; i < b; i++ {
		cross.Set(i, 0, cov.At(i, b))
		cross.Set(i, 1, cov.At(i, b+1))
	}

	chol, err := jitterCholesky(pendingCov)
	if err != nil {
		// Pending block too degenerate to condition on; fall back to the
		// unconditional gain.
		tail := mat.NewSymDense(2, []float64{
			cov.At(b, b), cov.At(b, b+1),
			cov.At(b+1, b), cov.At(b+1, b+1),
		})

		return o.gainFromJoint(mean[b:], tail, fidelity)
	}

	var solved mat.Dense
	if err := chol.SolveTo(&solved, cross); err != nil {
		tail := mat.NewSymDense(2, []float64{
			cov.At(b, b), cov.At(b, b+1),
			cov.At(b+1, b), cov.At(b+1, b+1),
		})

		return o.gainFromJoint(mean[b:], tail, fidelity)
	}

	// Conditional covariance of the query block is fantasy independent.
	var reduction mat.Dense
	reduction.Mul(cross.T(), &solved)

	condCov := mat.NewSymDense(2, nil)
	for i := 0; i < 2; i++ {
		for j := i; j < 2; j++ {
			v := cov.At(b+i, b+j) - 0.5*(reduction.At(i, j)+reduction.At(j, i))
			condCov.SetSym(i, j, v)
		}
	}

	fantasies := samplePaths(mean[:b], pendingCov, o.cfg.NumFantasies, o.rng)

	resid := make([]float64, b)
	condMean := make([]float64, 2)

	var total float64

	for s := 0; s < o.cfg.NumFantasies; s++ {
		for i := 0; i < b; i++ {
			resid[i] = fantasies.At(s, i) - mean[i]
		}

		var w mat.VecDense
		if err := chol.SolveVecTo(&w, mat.NewVecDense(b, resid)); err != nil {
			continue
		}

		for i := 0; i < 2; i++ {
			condMean[i] = mean[b+i] + mat.Dot(
				mat.NewVecDense(b, mat.Col(nil, i, cross)),
				&w,
			)
		}

		total += o.gainFromJoint(condMean, condCov, fidelity)
	}

	return total / float64(o.cfg.NumFantasies)
}

// numericEntropy computes the entropy of the queried-fidelity posterior at a
// point, truncated by the event that the correlated target value stays below
// fStar, via trapezoidal integration over the standardized query value.
func (o *Optimizer) numericEntropy(muQ, sigmaQ, muT, sigmaT, rho, fStar float64) float64 {
	steps := o.cfg.IntegrationSteps
	floor := o.cfg.StabilityFloor

	gamma := (fStar - muT) / sigmaT
	orth := math.Sqrt(1 - rho*rho)

	integrand := func(u float64) float64 {
		return standardNormal.Prob(u) * standardNormal.CDF((gamma-rho*u)/orth)
	}

	// Grow the integration window geometrically until the integrand has
	// decayed below the stability floor at both edges, capped at the
	// configured bounds.
	halfWidth := 1e-6
	maxHalfWidth := math.Max(-o.cfg.IntegrationLower, o.cfg.IntegrationUpper)

	for halfWidth < maxHalfWidth {
		if integrand(-halfWidth) < floor && integrand(halfWidth) < floor {
			break
		}

		halfWidth = math.Min(halfWidth*10, maxHalfWidth)
	}

	us := make([]float64, steps)
	psi := make([]float64, steps)

	for i := 0; i < steps; i++ {
		u := -halfWidth + 2*halfWidth*float64(i)/float64(steps-1)
		us[i] = u
		psi[i] = integrand(u)
	}

	z := integrate.Trapezoidal(us, psi)
	if z < floor {
		// The truncation event has vanishing mass here; no entropy change.
		return math.Log(sigmaQ) + halfLog2PiE
	}

	entropyIntegrand := make([]float64, steps)

	for i := range psi {
		p := psi[i] / z
		if p < floor {
			p = floor
		}

		entropyIntegrand[i] = p * math.Log(p)
	}

	return -integrate.Trapezoidal(us, entropyIntegrand) + math.Log(sigmaQ)
}

//////
// Helper functions.
//////

// truncatedEntropy is the entropy of a normal with the given mean and
// standard deviation truncated above at fStar, with the usual clamping
// against vanishing truncation mass.
func truncatedEntropy(mu, sigma, fStar float64) float64 {
	gamma := (fStar - mu) / sigma
	cdf := standardNormal.CDF(gamma)

	return math.Log(sigma*math.Max(cdf, 1e-10)) + halfLog2PiE -
		gamma*standardNormal.Prob(gamma)/(2*cdf+1e-10)
}

//////
// Proposal policies.
//////

// entropyProposal optimizes cost-normalized information gain: for each
// fidelity the gain per unit expected cost is maximized over a quasi-random
// pool, the winning candidate is refined by gradient ascent, and the best
// fidelity wins.
type entropyProposal struct{}

// Propose returns the (location, fidelity) pair with the highest refined
// information gain per unit cost.
func (entropyProposal) Propose(o *Optimizer) ([]float64, int) {
	costs := o.env.ExpectedCosts()
	pool := o.seq.Draw(50 * o.cfg.NumStarts)

	bestValue := negInf

	var bestX []float64

	bestFid := o.env.NumFidelities() - 1

	for f := 0; f < o.env.NumFidelities(); f++ {
		poolBest := negInf

		var poolX []float64

		for _, p := range pool {
			if v := o.InformationGain(p, f) / costs[f]; v > poolBest {
				poolBest = v
				poolX = p
			}
		}

		if poolX == nil {
			continue
		}

		objective := func(p []float64) float64 {
			return o.InformationGain(clampUnit(copyPoint(p)), f) / costs[f]
		}

		x := adamAscent(objective, copyPoint(poolX), o.cfg.OptimEpochs)

		if v := objective(x); v > bestValue {
			bestValue = v
			bestX = x
			bestFid = f
		}
	}

	return bestX, bestFid
}
