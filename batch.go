package mfbo

//////
// Const, vars, types.
//////

// batchFill fills the dispatch batch by repeatedly asking the proposal
// policy for the next query until the cost budget is saturated. Each chosen
// query immediately joins the pending set, so subsequent proposals see it:
// through the local penalizer when penalization is active, and through
// fantasy conditioning for the entropy-search variants. The first query of
// an iteration always dispatches while spare budget exists, even when its
// own cost overshoots; later queries must fit.
type batchFill struct{}

// sequentialFill dispatches at most one acquisition-optimized query at a
// time: a new primary query goes out only when the previous one has
// resolved. Any leftover budget is spent on uniform random queries at the
// cheapest fidelity, which keep the pipeline busy and feed the cheap models
// at negligible cost.
type sequentialFill struct{}

//////
// Methods.
//////

// Fill returns the batch for this iteration.
func (batchFill) Fill(o *Optimizer) ([][]float64, []int) {
	costs := o.env.FidelityCosts()

	var (
		batch      [][]float64
		fidelities []int
	)

	for o.batchCost < o.cfg.CostBudget {
		x, fidelity := o.propose.Propose(o)

		cost := costs[fidelity]
		if len(batch) > 0 && o.batchCost+cost > o.cfg.CostBudget {
			break
		}

		batch = append(batch, x)
		fidelities = append(fidelities, fidelity)

		o.batchCost += cost
		o.addPending(x, fidelity)
	}

	return batch, fidelities
}

// Fill returns the batch for this iteration.
func (sequentialFill) Fill(o *Optimizer) ([][]float64, []int) {
	costs := o.env.FidelityCosts()
	cheapest := o.env.NumFidelities() - 1

	var (
		batch      [][]float64
		fidelities []int
	)

	if !o.queryInFlight && o.batchCost < o.cfg.CostBudget {
		x, fidelity := o.propose.Propose(o)

		batch = append(batch, x)
		fidelities = append(fidelities, fidelity)

		o.batchCost += costs[fidelity]
		o.addPending(x, fidelity)
		o.setPrimary(x, fidelity)
	}

	for o.batchCost+costs[cheapest] <= o.cfg.CostBudget {
		x := uniformPoint(o.env.Dim(), o.rng)

		batch = append(batch, x)
		fidelities = append(fidelities, cheapest)

		o.batchCost += costs[cheapest]
		o.addPending(x, cheapest)
	}

	return batch, fidelities
}

//////
// Exported functionalities.
//////

// addPending registers a freshly chosen query with the pending set: the
// conditional entropy calculations see it through the current batch, and the
// penalizer gets an exclusion zone around it when penalization is active.
func (o *Optimizer) addPending(x []float64, fidelity int) {
	o.currentBatch = append(o.currentBatch, copyPoint(x))
	o.currentBatchFids = append(o.currentBatchFids, fidelity)

	if o.usePenalization {
		o.addPenalty(x, fidelity)
	}
}

// addPenalty adds a penalizer exclusion zone around x at the given fidelity,
// sized by that fidelity's posterior and Lipschitz estimate (local around x
// when local estimation is enabled).
func (o *Optimizer) addPenalty(x []float64, fidelity int) {
	mean, std := o.posterior([][]float64{x}, fidelity)

	lipschitz := o.lipschitz.Value(fidelity)
	if o.cfg.LocalLipschitz {
		lipschitz = o.lipschitz.Local(
			o.meanFunc(fidelity),
			x,
			o.hyperparamsFor(fidelity).Lengthscales,
			fidelity,
		)
	}

	o.penalizer.Add(x, fidelity, mean[0], std[0], o.obs.maxValue[fidelity], lipschitz)
}

// seedPenalizer resets the penalizer and re-registers every query still in
// flight from previous iterations. Called at the start of each iteration,
// before the batch is filled.
func (o *Optimizer) seedPenalizer() {
	o.penalizer.Reset()

	for i, x := range o.inFlightX {
		o.addPenalty(x, o.inFlightFids[i])
	}
}
