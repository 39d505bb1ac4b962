package mfbo

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

//////
// Const, vars, types.
//////

// minBeta floors the adaptive exploration weight, keeping early-iteration
// upper bounds optimistic and bias fallbacks well defined.
const minBeta = 0.1

// betaSchedule selects how the UCB exploration weight evolves over the run.
type betaSchedule int

const (
	// betaFixed uses Config.Beta unchanged.
	betaFixed betaSchedule = iota

	// betaBatch grows with logical time scaled by the cost budget, the
	// schedule of the batch variants.
	betaBatch

	// betaSequential grows with logical time directly, the schedule of the
	// one-query-at-a-time variants.
	betaSequential

	// betaPerFidelity grows per fidelity with that fidelity's observation
	// count.
	betaPerFidelity
)

// hpScheme selects how hyperparameter re-optimization is scheduled across
// the fidelity models.
type hpScheme int

const (
	// hpSingle re-optimizes the target model on total observation count.
	hpSingle hpScheme = iota

	// hpSequential fully re-optimizes the cheapest model, then constrains
	// the remaining models around its hyperparameters and re-optimizes
	// only their output scale and noise.
	hpSequential

	// hpJoint re-optimizes the shared multi-task model on total
	// observation count.
	hpJoint

	// hpCheapestCount anchors like hpSequential but schedules on the
	// cheapest fidelity's observation count instead of the total.
	hpCheapestCount
)

// Optimizer is the optimization controller shared by every variant: it owns
// the surrogate models, the acquisition machinery and the asynchronous batch
// loop, and delegates the per-variant decisions to three injected policies
// (proposal, fidelity selection and batch filling).
//
// Construct through one of the variant factories (NewMFLiveBatch and
// friends), then call Run.
//
// Thread safety: Run drives the loop from a single goroutine; Best and
// Snapshot may be called concurrently with a running loop.
type Optimizer struct {
	mu sync.RWMutex

	env    Environment
	cfg    Config
	runID  uuid.UUID
	logger *slog.Logger
	rng    *rand.Rand
	seq    Sequence

	// Surrogates. Either one model per fidelity or a single joint model.
	models     []SurrogateModel
	multiModel MultiTaskSurrogateModel
	multiTask  bool

	bias        *BiasModel
	lipschitz   *LipschitzEstimator
	penalizer   *Penalizer
	trustRegion *TrustRegion

	// Injected per-variant strategies.
	propose  ProposalPolicy
	fidelity FidelityPolicy
	fill     BatchPolicy

	// Variant feature flags.
	useFused        bool
	useBias         bool
	usePenalization bool
	useEntropy      bool
	useInformation  bool

	schedule betaSchedule
	hpPolicy hpScheme

	beta []float64

	// Loop state.
	currentTime      int
	batchCost        float64
	currentBatch     [][]float64
	currentBatchFids []int
	inFlightX        [][]float64
	inFlightFids     []int
	queryInFlight    bool
	primaryX         []float64
	primaryFid       int

	// Adaptive fidelity-selection state.
	fidelityCounts     []int
	fidelityThresholds []float64
	costThresholds     []float64

	// Entropy-search state.
	maxes []float64

	// Observation record, per fidelity.
	obs *observationRecord

	obsSinceHP      int
	obsSinceHPByFid []int
}

//////
// Exported functionalities.
//////

// Run drives the optimization to completion: Budget iterations of
// batch-fill and dispatch, followed by a drain of every still-outstanding
// query. Returns the full observation history.
func (o *Optimizer) Run() (*History, error) {
	o.logger.Info("optimization started",
		slog.String("run_id", o.runID.String()),
		slog.Int("budget", o.cfg.Budget),
		slog.Float64("cost_budget", o.cfg.CostBudget),
		slog.Int("fidelities", o.env.NumFidelities()),
	)

	for o.currentTime <= o.cfg.Budget-1 {
		if err := o.iterate(); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", o.currentTime, err)
		}
	}

	// Remaining in-flight queries resolve one tick past the budget.
	x, fidelities, y := o.env.Drain()

	if err := o.ingest(x, fidelities, y); err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}

	o.publishProgress("drain", 0)

	history := o.Snapshot()

	_, best := history.Best(TargetFidelity)
	o.logger.Info("optimization finished",
		slog.String("run_id", o.runID.String()),
		slog.Float64("best_value", best),
	)

	return history, nil
}

// Best returns the best observed input and value at the given fidelity so
// far. Safe to call while Run is in progress.
func (o *Optimizer) Best(fidelity int) ([]float64, float64) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	idx := o.obs.best(fidelity)
	if idx < 0 {
		return nil, negInf
	}

	return copyPoint(o.obs.x[fidelity][idx]), o.obs.y[fidelity][idx]
}

// Snapshot returns a deep copy of the observation history so far. Safe to
// call while Run is in progress.
func (o *Optimizer) Snapshot() *History {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.obs.snapshot()
}

//////
// Methods.
//////

// iterate runs one loop tick: refresh adaptive state, fill the batch under
// the spare cost budget, dispatch, and ingest whatever resolved.
func (o *Optimizer) iterate() error {
	o.updateBeta()

	o.inFlightX, o.inFlightFids = o.env.InFlight()
	o.currentBatch = nil
	o.currentBatchFids = nil

	if o.usePenalization {
		o.seedPenalizer()
	}

	// Both the entropy-search acquisition and the information-based
	// fidelity policy condition on fantasized optima.
	if o.useEntropy || o.useInformation {
		o.SampleMaxes()
	}

	var (
		batch      [][]float64
		fidelities []int
	)

	if o.currentTime == 0 {
		// Cold start: nothing to model yet, so the spare cost budget is
		// spent on uniform random queries at the cheapest fidelity. At
		// least one query always goes out.
		cheapest := o.env.NumFidelities() - 1
		cost := o.env.FidelityCosts()[cheapest]

		for len(batch) == 0 || o.batchCost+cost <= o.cfg.CostBudget {
			batch = append(batch, uniformPoint(o.env.Dim(), o.rng))
			fidelities = append(fidelities, cheapest)

			o.batchCost += cost
		}
	} else {
		batch, fidelities = o.fill.Fill(o)
	}

	x, resolvedFids, y := o.env.Step(batch, fidelities)

	if err := o.ingest(x, resolvedFids, y); err != nil {
		return err
	}

	o.currentTime++

	o.publishProgress("iterate", len(batch))

	o.logger.Debug("iteration complete",
		slog.String("run_id", o.runID.String()),
		slog.Int("time", o.currentTime),
		slog.Int("dispatched", len(batch)),
		slog.Int("resolved", len(x)),
		slog.Float64("in_flight_cost", o.batchCost),
	)

	return nil
}

// ingest records resolved observations: release their budget cost, feed the
// bias and trust-region trackers, refit the surrogates and refresh the
// Lipschitz estimate and hyperparameters.
func (o *Optimizer) ingest(x [][]float64, fidelities []int, y []float64) error {
	if len(x) == 0 {
		return nil
	}

	o.mu.Lock()

	costs := o.env.FidelityCosts()

	for i := range x {
		f := fidelities[i]

		o.batchCost -= costs[f]
		if o.batchCost < 0 {
			o.batchCost = 0
		}

		o.obs.add(f, x[i], y[i], o.currentTime)

		o.obsSinceHP++
		o.obsSinceHPByFid[f]++

		if o.queryInFlight && f == o.primaryFid && pointsEqual(x[i], o.primaryX) {
			o.queryInFlight = false
		}
	}

	o.mu.Unlock()

	// Bias bookkeeping runs against the pre-refit posteriors: the residual
	// between an observation and what the cheaper models predicted for it.
	if o.useBias {
		for i := range x {
			o.bias.CheckBound(x[i], y[i], fidelities[i], o.models)

			if fidelities[i] == TargetFidelity {
				o.bias.AddSample(x[i], y[i], o.models)
			}
		}
	}

	if o.trustRegion != nil {
		for i := range x {
			if fidelities[i] == TargetFidelity {
				o.trustRegion.Update(x[i], y[i])
			}
		}
	}

	if err := o.refitModels(); err != nil {
		return err
	}

	o.refreshHyperparams()

	if o.usePenalization {
		for f := 0; f < o.env.NumFidelities(); f++ {
			if !o.obs.hasData(f) {
				continue
			}

			o.lipschitz.UpdateGlobal(o.meanFunc(f), f)
		}
	}

	return nil
}

// refitModels re-conditions the surrogates on the full observation record,
// keeping current hyperparameters.
func (o *Optimizer) refitModels() error {
	if o.multiTask {
		prev := o.multiModel.Hyperparams()

		if err := o.multiModel.Fit(o.obs.x, o.obs.y, prev); err != nil {
			return fmt.Errorf("refit multi-task model: %w", err)
		}

		return nil
	}

	for f, model := range o.models {
		if !o.obs.hasData(f) {
			continue
		}

		if err := model.Fit(o.obs.x[f], o.obs.y[f], model.Hyperparams()); err != nil {
			return fmt.Errorf("refit fidelity %d model: %w", f, err)
		}
	}

	return nil
}

// refreshHyperparams runs the variant's hyperparameter schedule.
func (o *Optimizer) refreshHyperparams() {
	switch o.hpPolicy {
	case hpJoint:
		if o.obsSinceHP < o.cfg.HPUpdateFrequency {
			return
		}

		o.obsSinceHP = 0

		if err := o.multiModel.OptimizeHyperparams(); err != nil {
			o.logger.Warn("multi-task hyperparameter update failed",
				slog.String("error", err.Error()))
		}

	case hpSingle:
		if o.obsSinceHP < o.cfg.HPUpdateFrequency {
			return
		}

		o.obsSinceHP = 0

		if err := o.models[TargetFidelity].OptimizeHyperparams(false); err != nil {
			o.logger.Warn("hyperparameter update failed",
				slog.String("error", err.Error()))
		}

	case hpSequential, hpCheapestCount:
		cheapest := o.env.NumFidelities() - 1

		if o.hpPolicy == hpCheapestCount {
			if o.obsSinceHPByFid[cheapest] < o.cfg.HPUpdateFrequency {
				return
			}

			o.obsSinceHPByFid[cheapest] = 0
		} else {
			if o.obsSinceHP < o.cfg.HPUpdateFrequency {
				return
			}

			o.obsSinceHP = 0
		}

		// The cheapest fidelity has the most data: train it fully, then
		// let it anchor the expensive models.
		if err := o.models[cheapest].OptimizeHyperparams(false); err != nil {
			o.logger.Warn("hyperparameter update failed",
				slog.Int("fidelity", cheapest),
				slog.String("error", err.Error()))

			return
		}

		anchor := o.models[cheapest].Hyperparams()

		for f := 0; f < cheapest; f++ {
			o.models[f].Constrain(anchor.Lengthscales, anchor.MeanConstant, anchor.OutputScale)

			if err := o.models[f].OptimizeHyperparams(true); err != nil {
				o.logger.Warn("hyperparameter update failed",
					slog.Int("fidelity", f),
					slog.String("error", err.Error()))
			}
		}

	}

	if o.useBias {
		o.bias.OptimizeHyperparams()
	}
}

// updateBeta recomputes the exploration weights for this iteration. The
// adaptive schedules normalize logical time by the target fidelity's
// expected cost.
func (o *Optimizer) updateBeta() {
	d := float64(o.env.Dim())
	t := float64(o.currentTime)
	c0 := o.env.ExpectedCosts()[TargetFidelity]

	switch o.schedule {
	case betaFixed:
		for f := range o.beta {
			o.beta[f] = math.Max(o.cfg.Beta, minBeta)
		}

	case betaBatch:
		v := 0.2 * d * math.Log(2*(t/c0)+1)

		for f := range o.beta {
			o.beta[f] = math.Max(v, minBeta)
		}

	case betaSequential:
		v := 0.2 * d * math.Log(2*(t+1)/c0)

		for f := range o.beta {
			o.beta[f] = math.Max(v, minBeta)
		}

	case betaPerFidelity:
		for f := range o.beta {
			n := float64(o.obs.count(f))
			o.beta[f] = math.Max(0.2*d*math.Log(2*(n+1)), minBeta)
		}
	}
}

// betaFor returns the exploration weight of the given fidelity.
func (o *Optimizer) betaFor(fidelity int) float64 {
	return o.beta[fidelity]
}

// posterior dispatches to the joint model or the per-fidelity model.
func (o *Optimizer) posterior(x [][]float64, fidelity int) ([]float64, []float64) {
	if o.multiTask {
		return o.multiModel.Posterior(x, fidelity)
	}

	return o.models[fidelity].Posterior(x)
}

// meanFunc returns a fidelity's posterior mean as a plain function, for
// gradient probing.
func (o *Optimizer) meanFunc(fidelity int) func([]float64) float64 {
	return func(p []float64) float64 {
		mean, _ := o.posterior([][]float64{p}, fidelity)

		return mean[0]
	}
}

// hyperparamsFor returns the hyperparameters governing the given fidelity.
func (o *Optimizer) hyperparamsFor(fidelity int) Hyperparameters {
	if o.multiTask {
		return o.multiModel.Hyperparams()
	}

	return o.models[fidelity].Hyperparams()
}

// thompsonSample draws one joint posterior sample path of the target
// fidelity over the candidates.
func (o *Optimizer) thompsonSample(candidates [][]float64) *mat.Dense {
	if o.multiTask {
		return o.multiModel.GenerateSamples(candidates, TargetFidelity, 1, o.rng)
	}

	return o.models[TargetFidelity].GenerateSamples(candidates, 1, o.rng)
}

// pendingBatch returns every query currently unaccounted for by the models:
// in flight from previous iterations or already chosen for this batch.
func (o *Optimizer) pendingBatch() ([][]float64, []int) {
	x := append(copyPoints(o.inFlightX), o.currentBatch...)
	fidelities := append(append([]int(nil), o.inFlightFids...), o.currentBatchFids...)

	return x, fidelities
}

// setPrimary marks the acquisition-optimized query of a sequential variant
// as in flight; no new primary query goes out until it resolves.
func (o *Optimizer) setPrimary(x []float64, fidelity int) {
	o.queryInFlight = true
	o.primaryX = copyPoint(x)
	o.primaryFid = fidelity
}

// publishProgress sends a non-blocking progress update.
func (o *Optimizer) publishProgress(phase string, dispatched int) {
	if o.cfg.ProgressChan == nil {
		return
	}

	_, best := o.Best(TargetFidelity)

	update := ProgressUpdate{
		RunID:      o.runID,
		Phase:      phase,
		Time:       o.currentTime,
		Budget:     o.cfg.Budget,
		Dispatched: dispatched,
		SpentCost:  o.batchCost,
		BestValue:  best,
	}

	select {
	case o.cfg.ProgressChan <- update:
	default:
	}
}

//////
// Helper functions.
//////

// pointsEqual reports exact coordinate equality.
func pointsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
