package mfbo

import (
	"log/slog"
	"math/rand"
)

//////
// Const, vars, types.
//////

// boundInflation is the factor applied to an observed cross-fidelity gap
// when it violates the current bias bound.
const boundInflation = 1.2

// BiasModel tracks the systematic disagreement between lower fidelities and
// the target fidelity. It maintains two complementary estimates:
//
//   - A scalar bias bound, inflated whenever an observation at some fidelity
//     overshoots the next fidelity's posterior by more than the bound.
//     The bound never decreases. Scaled per fidelity by a weight (by default
//     the fidelity index, its distance from the target), it gives a
//     conservative optimism margin for lower-fidelity upper bounds.
//
//   - Optionally, one residual GP per lower fidelity, fit on the gaps
//     between target observations and that fidelity's posterior mean. Once
//     trained it replaces the scalar bound with a location-dependent
//     correction. A rough Matern kernel is used since the residual surface
//     inherits none of the objective's smoothness.
//
// Not safe for concurrent use.
type BiasModel struct {
	numFidelities int
	useGP         bool
	weights       []float64
	constant      float64
	logger        *slog.Logger

	x [][][]float64
	y [][]float64

	gps []SurrogateModel
}

//////
// Methods.
//////

// Constant returns the current scalar bias bound.
func (b *BiasModel) Constant() float64 {
	return b.constant
}

// CheckBound compares an observation at the given fidelity with the next
// (cheaper) fidelity's posterior at the same location and inflates the bias
// bound when the observation overshoots that posterior by more than the
// bound. Observations below the cheaper prediction leave the bound
// unchanged. No-op at the cheapest fidelity. The bound is monotone
// non-decreasing.
func (b *BiasModel) CheckBound(x []float64, y float64, fidelity int, models []SurrogateModel) {
	if fidelity >= b.numFidelities-1 {
		return
	}

	mean, _ := models[fidelity+1].Posterior([][]float64{x})

	diff := y - mean[0]
	if diff > b.constant {
		b.logger.Debug("bias bound inflated",
			slog.Int("fidelity", fidelity),
			slog.Float64("gap", diff),
			slog.Float64("previous", b.constant),
		)

		b.constant = boundInflation * diff
	}
}

// AddSample records bias residuals from a target-fidelity observation: for
// every lower fidelity, the gap between the observed target value and that
// fidelity's posterior mean at x. The residual GPs are refit when enabled.
func (b *BiasModel) AddSample(x []float64, y float64, models []SurrogateModel) {
	for f := 1; f < b.numFidelities; f++ {
		mean, _ := models[f].Posterior([][]float64{x})

		b.x[f] = append(b.x[f], copyPoint(x))
		b.y[f] = append(b.y[f], y-mean[0])

		if !b.useGP {
			continue
		}

		prev := b.gps[f].Hyperparams()
		if err := b.gps[f].Fit(b.x[f], b.y[f], prev); err != nil {
			b.logger.Warn("bias gp refit failed, keeping previous fit",
				slog.Int("fidelity", f),
				slog.String("error", err.Error()),
			)
		}
	}
}

// OptimizeHyperparams re-optimizes the residual GPs. No-op when the GPs are
// disabled or have no data yet.
func (b *BiasModel) OptimizeHyperparams() {
	if !b.useGP {
		return
	}

	for f := 1; f < b.numFidelities; f++ {
		if len(b.x[f]) == 0 {
			continue
		}

		if err := b.gps[f].OptimizeHyperparams(false); err != nil {
			b.logger.Warn("bias gp hyperparameter update failed",
				slog.Int("fidelity", f),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Correction returns the per-point bias correction mean and standard
// deviation for the given fidelity. At the target fidelity both are zero.
// When the fidelity's residual GP is untrained (or disabled), the mean is
// zero and the standard deviation is weight*bound/beta, so that the
// resulting optimism term beta*std recovers the weighted scalar bound.
func (b *BiasModel) Correction(x [][]float64, fidelity int, beta float64) (mean, std []float64) {
	mean = make([]float64, len(x))
	std = make([]float64, len(x))

	if fidelity == TargetFidelity {
		return mean, std
	}

	if b.useGP && len(b.x[fidelity]) > 0 {
		return b.gps[fidelity].Posterior(x)
	}

	fallback := b.weights[fidelity] * b.constant / beta
	for i := range std {
		std[i] = fallback
	}

	return mean, std
}

//////
// Factory.
//////

// NewBiasModel creates a bias model over numFidelities levels.
//
// Parameters:
//   - initialBias: starting value of the scalar bias bound.
//   - weights: per-fidelity scaling of the bound; nil defaults to the
//     fidelity index.
//   - useGP: whether to fit per-fidelity residual GPs on target
//     observations.
//   - dim: input dimensionality, used to initialize the residual kernels.
//   - rng: drives the residual GPs' hyperparameter search.
func NewBiasModel(numFidelities int, initialBias float64, weights []float64, useGP bool, dim int, rng *rand.Rand, logger *slog.Logger) *BiasModel {
	if weights == nil {
		weights = make([]float64, numFidelities)
		for f := range weights {
			weights[f] = float64(f)
		}
	}

	b := &BiasModel{
		numFidelities: numFidelities,
		useGP:         useGP,
		weights:       append([]float64(nil), weights...),
		constant:      initialBias,
		logger:        logger,
		x:             make([][][]float64, numFidelities),
		y:             make([][]float64, numFidelities),
		gps:           make([]SurrogateModel, numFidelities),
	}

	if useGP {
		for f := 1; f < numFidelities; f++ {
			b.gps[f] = NewGaussianProcess(KernelMatern32, defaultHyperparameters(dim), rng)
		}
	}

	return b
}
