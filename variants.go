package mfbo

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"
)

//////
// Const, vars, types.
//////

// variant bundles the policy and feature choices distinguishing one
// optimizer flavor from another. The factories below are thin wrappers over
// these bundles.
type variant struct {
	name string

	multiTask       bool
	useFused        bool
	useBias         bool
	biasGP          bool
	usePenalization bool
	useEntropy      bool
	useTurbo        bool
	targetOnly      bool

	schedule betaSchedule
	hpPolicy hpScheme

	propose ProposalPolicy
	fill    BatchPolicy

	scaleCostThresholds  bool
	requireMultiFidelity bool
}

//////
// Factory.
//////

// NewMFLiveBatch creates the full multi-fidelity asynchronous batch
// optimizer: fused upper confidence bounds across all fidelities, GP-based
// cross-fidelity bias correction, local penalization for in-batch diversity,
// and variance-threshold fidelity selection with adaptive doubling.
//
// Parameters:
//   - env: the optimization environment; must expose at least two
//     fidelities.
//   - cfg: shared configuration, typically DefaultConfig with overrides.
//
// Returns the optimizer, ready for Run, or a validation error.
//
// Usage example:
//
//	cfg := mfbo.DefaultConfig()
//	cfg.Budget = 200
//
//	opt, err := mfbo.NewMFLiveBatch(env, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	history, err := opt.Run()
func NewMFLiveBatch(env Environment, cfg Config) (*Optimizer, error) {
	return newOptimizer(env, cfg, variant{
		name:                 "mf_live_batch",
		useFused:             true,
		useBias:              true,
		biasGP:               true,
		usePenalization:      true,
		schedule:             betaBatch,
		hpPolicy:             hpSequential,
		propose:              multiStartProposal{},
		fill:                 batchFill{},
		scaleCostThresholds:  true,
		requireMultiFidelity: true,
	})
}

// NewUCBwILP creates the single-fidelity batch optimizer: plain UCB with
// local penalization filling each batch. Every query runs at the target
// fidelity.
func NewUCBwILP(env Environment, cfg Config) (*Optimizer, error) {
	return newOptimizer(env, cfg, variant{
		name:            "ucb_w_ilp",
		usePenalization: true,
		targetOnly:      true,
		schedule:        betaBatch,
		hpPolicy:        hpSingle,
		propose:         multiStartProposal{},
		fill:            batchFill{},
	})
}

// NewMFUCB creates the sequential multi-fidelity optimizer: one fused-UCB
// query at a time, scalar bias bound tracking, leftover budget spent on
// cheap random queries.
func NewMFUCB(env Environment, cfg Config) (*Optimizer, error) {
	return newOptimizer(env, cfg, variant{
		name:                 "mf_ucb",
		useFused:             true,
		useBias:              true,
		schedule:             betaSequential,
		hpPolicy:             hpSequential,
		propose:              multiStartProposal{},
		fill:                 sequentialFill{},
		requireMultiFidelity: true,
	})
}

// NewMFUCBPlus creates the sequential multi-fidelity optimizer with
// per-fidelity exploration weights, learned per-fidelity bias GPs, and a
// hyperparameter schedule keyed to the cheapest fidelity's observation
// count. Otherwise identical to NewMFUCB.
func NewMFUCBPlus(env Environment, cfg Config) (*Optimizer, error) {
	return newOptimizer(env, cfg, variant{
		name:                 "mf_ucb_plus",
		useFused:             true,
		useBias:              true,
		biasGP:               true,
		schedule:             betaPerFidelity,
		hpPolicy:             hpCheapestCount,
		propose:              multiStartProposal{},
		fill:                 sequentialFill{},
		requireMultiFidelity: true,
	})
}

// NewSimpleUCB creates the classic sequential single-fidelity GP-UCB
// optimizer. The baseline every other variant is measured against.
func NewSimpleUCB(env Environment, cfg Config) (*Optimizer, error) {
	return newOptimizer(env, cfg, variant{
		name:       "simple_ucb",
		targetOnly: true,
		schedule:   betaSequential,
		hpPolicy:   hpSingle,
		propose:    multiStartProposal{},
		fill:       sequentialFill{},
	})
}

// NewMultiTaskUCBwILP creates the batch optimizer backed by a single joint
// surrogate over all fidelities. The acquisition is the target-fidelity
// upper confidence bound alone: the joint kernel already propagates cheap
// observations into it, so no fusion or separate bias correction is needed,
// and the information-based fidelity choice becomes available.
func NewMultiTaskUCBwILP(env Environment, cfg Config) (*Optimizer, error) {
	return newOptimizer(env, cfg, variant{
		name:                 "multi_task_ucb_w_ilp",
		multiTask:            true,
		usePenalization:      true,
		schedule:             betaBatch,
		hpPolicy:             hpJoint,
		propose:              multiStartProposal{},
		fill:                 batchFill{},
		scaleCostThresholds:  true,
		requireMultiFidelity: true,
	})
}

// NewMFMES creates the multi-fidelity max-value entropy search optimizer:
// every query maximizes the expected information gain about the target
// optimum per unit of evaluation cost, with fantasy conditioning on pending
// queries keeping batch members complementary.
func NewMFMES(env Environment, cfg Config) (*Optimizer, error) {
	return newOptimizer(env, cfg, variant{
		name:                 "mf_mes",
		multiTask:            true,
		useEntropy:           true,
		schedule:             betaBatch,
		hpPolicy:             hpJoint,
		propose:              entropyProposal{},
		fill:                 batchFill{},
		scaleCostThresholds:  true,
		requireMultiFidelity: true,
	})
}

// NewMFTuRBO creates the multi-fidelity trust-region optimizer: Thompson
// sampling inside an adaptive trust region around the incumbent, backed by
// the joint surrogate, so both the variance-threshold and the
// information-based fidelity choices are available.
func NewMFTuRBO(env Environment, cfg Config) (*Optimizer, error) {
	return newOptimizer(env, cfg, variant{
		name:                 "mf_turbo",
		multiTask:            true,
		useTurbo:             true,
		schedule:             betaBatch,
		hpPolicy:             hpJoint,
		propose:              trustRegionProposal{},
		fill:                 batchFill{},
		scaleCostThresholds:  true,
		requireMultiFidelity: true,
	})
}

// NewTuRBO creates the single-fidelity trust-region optimizer.
func NewTuRBO(env Environment, cfg Config) (*Optimizer, error) {
	return newOptimizer(env, cfg, variant{
		name:       "turbo",
		useTurbo:   true,
		targetOnly: true,
		schedule:   betaBatch,
		hpPolicy:   hpSingle,
		propose:    trustRegionProposal{},
		fill:       batchFill{},
	})
}

//////
// Helper functions.
//////

// newOptimizer validates the environment and configuration and assembles a
// controller from the variant bundle.
func newOptimizer(env Environment, cfg Config, v variant) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dim := env.Dim()
	if dim <= 0 {
		return nil, fmt.Errorf("%s: environment reports dimensionality %d", v.name, dim)
	}

	numFid := env.NumFidelities()
	if numFid < 1 {
		return nil, fmt.Errorf("%s: environment reports %d fidelities", v.name, numFid)
	}

	if v.requireMultiFidelity && numFid < 2 {
		return nil, fmt.Errorf("%s: needs at least two fidelities, got %d", v.name, numFid)
	}

	if len(env.ExpectedCosts()) != numFid || len(env.FidelityCosts()) != numFid {
		return nil, fmt.Errorf("%s: cost vectors must have one entry per fidelity", v.name)
	}

	fidelity, err := fidelityPolicyFor(cfg, v)
	if err != nil {
		return nil, err
	}

	_, isInformation := fidelity.(informationFidelity)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	seq := NewHalton(dim, rng)

	schedule := v.schedule
	if cfg.Beta > 0 {
		schedule = betaFixed
	}

	o := &Optimizer{
		env:    env,
		cfg:    cfg,
		runID:  uuid.New(),
		logger: logger,
		rng:    rng,
		seq:    seq,

		multiTask: v.multiTask,

		propose:  v.propose,
		fidelity: fidelity,
		fill:     v.fill,

		useFused:        v.useFused,
		useBias:         v.useBias,
		usePenalization: v.usePenalization,
		useEntropy:      v.useEntropy,
		useInformation:  isInformation,

		schedule: schedule,
		hpPolicy: v.hpPolicy,

		beta: make([]float64, numFid),

		lipschitz: NewLipschitzEstimator(cfg.LipschitzConstant, numFid, dim, cfg.GradPointsPerDim, seq),
		penalizer: NewPenalizer(cfg.PenalizationGamma),

		fidelityCounts:     make([]int, numFid),
		fidelityThresholds: thresholdsFor(cfg, numFid),
		costThresholds:     costThresholdsFor(env.ExpectedCosts(), cfg.CostBudget, v.scaleCostThresholds),

		obs: newObservationRecord(numFid),

		obsSinceHPByFid: make([]int, numFid),
	}

	hp := defaultHyperparameters(dim)

	if v.multiTask {
		o.multiModel = NewMultiTaskGaussianProcess(numFid, KernelRBF, hp, rng)
	} else {
		o.models = make([]SurrogateModel, numFid)
		for f := range o.models {
			o.models[f] = NewGaussianProcess(KernelRBF, hp, rng)
		}
	}

	if v.useBias {
		o.bias = NewBiasModel(numFid, cfg.InitialBias, cfg.BiasWeights, v.biasGP, dim, rng, logger)
	}

	if v.useTurbo {
		costs := env.FidelityCosts()
		batchSize := int(cfg.CostBudget / costs[numFid-1])

		o.trustRegion = NewTrustRegion(dim, maxOf(batchSize, 1))
	}

	return o, nil
}

// fidelityPolicyFor resolves the fidelity policy from the variant and the
// configuration, rejecting combinations the models cannot support.
func fidelityPolicyFor(cfg Config, v variant) (FidelityPolicy, error) {
	if v.targetOnly {
		return targetOnlyFidelity{}, nil
	}

	switch cfg.FidelityChoice {
	case FidelityChoiceInformation:
		if !v.multiTask {
			return nil, fmt.Errorf(
				"%s: information-based fidelity choice needs a joint multi-task surrogate",
				v.name)
		}

		return informationFidelity{}, nil
	default:
		return varianceThresholdFidelity{increasing: cfg.IncreasingThresholds}, nil
	}
}

// thresholdsFor returns the initial fidelity thresholds, defaulting to 0.1
// per fidelity.
func thresholdsFor(cfg Config, numFid int) []float64 {
	out := make([]float64, numFid)

	for f := range out {
		if f < len(cfg.FidelityThresholds) {
			out[f] = cfg.FidelityThresholds[f]

			continue
		}

		out[f] = 0.1
	}

	return out
}
