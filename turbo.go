package mfbo

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

//////
// Const, vars, types.
//////

const (
	// trustRegionInitialLength is the side length of a fresh trust region.
	trustRegionInitialLength = 0.8

	// trustRegionMaxLength caps trust-region growth.
	trustRegionMaxLength = 1.6

	// trustRegionSuccessTolerance is the number of consecutive successes
	// before the region doubles.
	trustRegionSuccessTolerance = 10

	// improvementTolerance is the relative improvement an observation must
	// achieve over the incumbent to count as a success.
	improvementTolerance = 1e-3
)

// trustRegionMinLength is the side length below which the region restarts.
var trustRegionMinLength = math.Pow(0.5, 7)

// TrustRegion maintains the adaptive local search region of the
// trust-region variants: a hyperrectangle centered on the incumbent that
// doubles after a streak of improvements and halves after a streak of
// failures. When it shrinks below the minimum length, it flags a restart
// via NeedsRestart; the region itself takes no action. The trust-region
// proposal policy resets a flagged region on its next proposal, discarding
// the incumbent and re-seeding the search from scratch.
//
// Not safe for concurrent use.
type TrustRegion struct {
	length           float64
	successCount     int
	failureCount     int
	failureTolerance int

	bestValue float64
	bestX     []float64

	restart bool
}

//////
// Methods.
//////

// Length returns the current side length.
func (t *TrustRegion) Length() float64 {
	return t.length
}

// Center returns the incumbent location, or nil before any observation.
func (t *TrustRegion) Center() []float64 {
	return t.bestX
}

// NeedsRestart reports whether the region has collapsed and the search
// should re-seed.
func (t *TrustRegion) NeedsRestart() bool {
	return t.restart
}

// Update feeds one target-fidelity observation into the success/failure
// machinery and resizes the region accordingly.
func (t *TrustRegion) Update(x []float64, value float64) {
	success := value > t.bestValue+improvementTolerance*math.Abs(t.bestValue)

	if value > t.bestValue {
		t.bestValue = value
		t.bestX = copyPoint(x)
	}

	if success {
		t.successCount++
		t.failureCount = 0

		if t.successCount >= trustRegionSuccessTolerance {
			t.length = math.Min(2*t.length, trustRegionMaxLength)
			t.successCount = 0
		}

		return
	}

	t.failureCount++
	t.successCount = 0

	if t.failureCount >= t.failureTolerance {
		t.length /= 2
		t.failureCount = 0

		if t.length < trustRegionMinLength {
			t.restart = true
		}
	}
}

// Reset re-initializes the region after a restart: full initial length, no
// incumbent, counters cleared.
func (t *TrustRegion) Reset() {
	t.length = trustRegionInitialLength
	t.successCount = 0
	t.failureCount = 0
	t.bestValue = negInf
	t.bestX = nil
	t.restart = false
}

//////
// Factory.
//////

// NewTrustRegion creates a trust region for the given dimensionality and
// per-iteration batch size. The failure tolerance scales with how many
// observations a batch yields, so larger batches do not shrink the region
// unfairly fast.
func NewTrustRegion(dim, batchSize int) *TrustRegion {
	if batchSize < 1 {
		batchSize = 1
	}

	tolerance := int(math.Ceil(math.Max(
		4/float64(batchSize),
		float64(dim)/float64(batchSize),
	)))

	t := &TrustRegion{failureTolerance: tolerance}
	t.Reset()

	return t
}

//////
// Proposal policies.
//////

// trustRegionProposal draws the next query by Thompson sampling inside the
// trust region: perturbed candidates around the incumbent, one joint
// posterior sample path over them, argmax of the path.
type trustRegionProposal struct{}

// Propose returns the Thompson-sampling winner inside the trust region and
// its fidelity. A region flagged for restart is reset first, and before any
// incumbent exists the proposal falls back to a uniform random point at the
// cheapest fidelity.
func (trustRegionProposal) Propose(o *Optimizer) ([]float64, int) {
	dim := o.env.Dim()
	region := o.trustRegion

	if region.NeedsRestart() {
		region.Reset()
		o.logger.Debug("trust region restarted")
	}

	center := region.Center()
	if center == nil {
		return uniformPoint(dim, o.rng), o.env.NumFidelities() - 1
	}

	numCandidates := minOf(5000, maxOf(2000, 200*dim))

	// Lengthscale-weighted box: dimensions the kernel considers smooth get
	// proportionally more room.
	ls := o.hyperparamsFor(TargetFidelity).Lengthscales
	weights := make([]float64, dim)

	geoMean := stat.GeometricMean(ls, nil)
	if geoMean <= 0 || math.IsNaN(geoMean) {
		geoMean = 1
	}

	for d := range weights {
		weights[d] = ls[d] / geoMean
	}

	lower := make([]float64, dim)
	upper := make([]float64, dim)

	for d := range lower {
		half := weights[d] * region.Length() / 2
		lower[d] = math.Max(center[d]-half, 0)
		upper[d] = math.Min(center[d]+half, 1)
	}

	// Perturb a random subset of dimensions per candidate; the rest stay at
	// the incumbent.
	perturbProb := math.Min(20/float64(dim), 1)

	candidates := o.seq.Draw(numCandidates)

	for _, c := range candidates {
		forced := o.rng.Intn(dim)

		for d := range c {
			if d == forced || o.rng.Float64() < perturbProb {
				c[d] = lower[d] + c[d]*(upper[d]-lower[d])
			} else {
				c[d] = center[d]
			}
		}
	}

	path := o.thompsonSample(candidates)

	best := argMax(mat.Row(nil, 0, path))

	return copyPoint(candidates[best]), o.fidelity.Select(o, candidates[best])
}
