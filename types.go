package mfbo

import (
	"math/rand"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

//////
// Const, vars, types.
//////

// TargetFidelity is the index of the highest-cost, most faithful fidelity.
// Fidelities are numbered 0..F-1 with F-1 the cheapest, coarsest level.
const TargetFidelity = 0

// Environment is the optimization environment consumed by the controller. It
// owns objective evaluation and the cost bookkeeping of in-flight queries;
// the controller never evaluates the objective itself.
//
// Step dispatches a batch of new queries and returns whichever subset of all
// outstanding queries has resolved this tick. The returned slices are empty
// when nothing resolved. There is no cancellation: once dispatched, a query
// resolves whenever the environment reports it.
type Environment interface {
	// Dim returns the input dimensionality; inputs live in [0,1]^Dim.
	Dim() int

	// NumFidelities returns the number of fidelity levels F.
	NumFidelities() int

	// ExpectedCosts returns the expected evaluation cost per fidelity,
	// indexed 0..F-1. Used for fidelity-selection cost ratios and for
	// cost-normalized information gain.
	ExpectedCosts() []float64

	// FidelityCosts returns the budget-accounting cost per fidelity,
	// charged when a query is dispatched and released when it resolves.
	FidelityCosts() []float64

	// RequireTransform reports whether acquisition values must be passed
	// through a softplus transform (non-negative, monotone outputs).
	RequireTransform() bool

	// GridSearch reports whether the acquisition must be optimized over an
	// explicit candidate grid supplied by GenSearchGrid, used when the
	// objective has domain constraints not expressible as a box.
	GridSearch() bool

	// GenSearchGrid returns n candidate inputs satisfying the environment's
	// domain constraints. Only called when GridSearch is true.
	GenSearchGrid(n int) [][]float64

	// InFlight returns a snapshot of the currently outstanding batch:
	// queried locations and their fidelities. The returned slices are
	// copies; the caller may retain them.
	InFlight() ([][]float64, []int)

	// Step dispatches the given queries and returns the resolved subset of
	// all outstanding queries: locations, fidelities and observed values.
	Step(x [][]float64, fidelities []int) ([][]float64, []int, []float64)

	// Drain resolves every remaining outstanding query at the end of the
	// optimization and returns them all.
	Drain() ([][]float64, []int, []float64)
}

// Hyperparameters is the kernel hyperparameter record of a surrogate model:
// output-scale constant, per-dimension lengthscales, observation noise and
// prior mean constant. Overwritten wholesale on re-optimization; before any
// data exists, OutputScale doubles as the prior predictive standard deviation
// and MeanConstant as the prior predictive mean.
type Hyperparameters struct {
	// OutputScale multiplies the kernel and sets the prior standard
	// deviation of the process.
	OutputScale float64

	// Lengthscales holds one positive characteristic scale per input
	// dimension (automatic relevance determination).
	Lengthscales []float64

	// Noise is the observation noise standard deviation.
	Noise float64

	// MeanConstant is the constant prior mean.
	MeanConstant float64
}

// Clone returns a deep copy of the hyperparameter record.
func (h Hyperparameters) Clone() Hyperparameters {
	out := h
	out.Lengthscales = append([]float64(nil), h.Lengthscales...)
	return out
}

// SurrogateModel is the per-fidelity Gaussian Process regression engine
// consumed by the controller. The package ships a default implementation
// (see NewGaussianProcess); any regression engine satisfying this contract
// can be substituted.
type SurrogateModel interface {
	// Fit conditions the model on the given observations, initializing the
	// kernel from prev. Called after every batch of new observations.
	Fit(x [][]float64, y []float64, prev Hyperparameters) error

	// OptimizeHyperparams re-optimizes the kernel hyperparameters against
	// the training data. When scaleAndNoiseOnly is true only the output
	// scale and noise are re-trained, keeping lengthscales and prior mean.
	OptimizeHyperparams(scaleAndNoiseOnly bool) error

	// Hyperparams returns the current hyperparameter record.
	Hyperparams() Hyperparameters

	// Posterior returns the posterior mean and standard deviation at each
	// input row.
	Posterior(x [][]float64) (mean, std []float64)

	// GenerateSamples draws numSamples joint posterior sample paths over
	// the given inputs; row i of the result is the i-th path.
	GenerateSamples(x [][]float64, numSamples int, rng *rand.Rand) *mat.Dense

	// Constrain bounds subsequent hyperparameter optimization around the
	// given lengthscales, prior mean and output scale.
	Constrain(lengthscales []float64, meanConstant, outputScale float64)
}

// MultiTaskSurrogateModel is the joint surrogate used by the multi-task
// variants: a single model over (input, fidelity) pairs, so that cross-
// fidelity covariances are available for entropy calculations.
type MultiTaskSurrogateModel interface {
	// Fit conditions the model on per-task observation sets: x[t] and y[t]
	// hold the inputs and values observed at task t.
	Fit(x [][][]float64, y [][]float64, prev Hyperparameters) error

	// OptimizeHyperparams re-optimizes the shared kernel hyperparameters.
	OptimizeHyperparams() error

	// Hyperparams returns the current shared hyperparameter record.
	Hyperparams() Hyperparameters

	// Posterior returns the posterior mean and standard deviation of the
	// given task at each input row.
	Posterior(x [][]float64, task int) (mean, std []float64)

	// Joint returns the joint posterior mean vector and covariance matrix
	// over arbitrary (input, task) pairs; tasks[i] is the task index of
	// x[i].
	Joint(x [][]float64, tasks []int) (mean []float64, cov *mat.SymDense)

	// GenerateSamples draws numSamples joint posterior sample paths of the
	// given task over the inputs; row i of the result is the i-th path.
	GenerateSamples(x [][]float64, task, numSamples int, rng *rand.Rand) *mat.Dense

	// Constrain bounds subsequent hyperparameter optimization around the
	// given lengthscales, prior mean and output scale.
	Constrain(lengthscales []float64, meanConstant, outputScale float64)
}

// Sequence is a low-discrepancy point source over [0,1)^dim, consumed by the
// acquisition optimizer for candidate pools and by the Lipschitz estimator
// for probe grids. The package ships a scrambled Halton implementation
// (see NewHalton).
type Sequence interface {
	// Draw returns the next n points of the sequence.
	Draw(n int) [][]float64
}

// ProgressUpdate represents the state of the optimization loop after one
// iteration. Updates are sent on Config.ProgressChan with a non-blocking
// send; slow consumers miss updates rather than stalling the loop.
type ProgressUpdate struct {
	// RunID identifies the optimization run emitting the update.
	RunID uuid.UUID

	// Phase is the loop phase, "iterate" or "drain".
	Phase string

	// Time is the logical time counter after the iteration.
	Time int

	// Budget is the total logical-time budget of the run.
	Budget int

	// Dispatched is the number of queries dispatched this iteration.
	Dispatched int

	// SpentCost is the cost currently tied up in outstanding queries.
	SpentCost float64

	// BestValue is the running maximum observed at the target fidelity.
	BestValue float64
}

// History is the full per-fidelity observation record returned when a run
// completes: X[f], Y[f] and T[f] hold the inputs, values and logical
// observation times of fidelity f, in arrival order.
type History struct {
	X [][][]float64
	Y [][]float64
	T [][]int
}

// Best returns the best observed input and value at the given fidelity. The
// second return is negative infinity when the fidelity has no observations.
func (h *History) Best(fidelity int) ([]float64, float64) {
	best := negInf
	var bestX []float64
	for i, y := range h.Y[fidelity] {
		if y > best {
			best = y
			bestX = h.X[fidelity][i]
		}
	}
	return bestX, best
}

//////
// Strategy interfaces.
//////

// ProposalPolicy decides the next query location (and, through the fidelity
// policy, its fidelity). Implementations: the multi-start/grid acquisition
// optimizer, the per-fidelity entropy-search optimizer, and trust-region
// Thompson sampling.
type ProposalPolicy interface {
	// Propose returns the next query location and fidelity.
	Propose(o *Optimizer) ([]float64, int)
}

// FidelityPolicy decides the evaluation fidelity for a chosen location.
// Implementations: variance thresholds with adaptive doubling, information
// gain per unit cost, and a fixed target-fidelity policy.
type FidelityPolicy interface {
	// Select returns the fidelity at which to evaluate x.
	Select(o *Optimizer, x []float64) int
}

// BatchPolicy fills the per-iteration dispatch batch under the cost budget.
// Implementations: penalized fill (each chosen point joins the penalizer set
// before the next is chosen) and sequential fill (one primary query at a
// time, leftover budget consumed by cheap random queries).
type BatchPolicy interface {
	// Fill returns the locations and fidelities to dispatch this iteration.
	Fill(o *Optimizer) ([][]float64, []int)
}
