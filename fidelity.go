package mfbo

import "log/slog"

//////
// Const, vars, types.
//////

// varianceThresholdFidelity implements the classic multi-fidelity selection
// rule: walk from the cheapest fidelity toward the target and pick the first
// fidelity whose posterior uncertainty at the candidate still exceeds its
// threshold; only when every cheap level is already confident does the
// target get queried.
//
// Each selection feeds an adaptive-threshold counter: querying the same
// non-target fidelity more often than its cost ratio allows doubles that
// fidelity's threshold, pushing the search toward more expensive levels.
type varianceThresholdFidelity struct {
	// increasing scales the uncertainty by beta before comparing, so
	// thresholds effectively tighten as optimism grows over time.
	increasing bool
}

// informationFidelity picks the fidelity with the highest information gain
// about the target optimum per unit of expected cost.
type informationFidelity struct{}

// targetOnlyFidelity always evaluates at the target fidelity. Used by the
// single-fidelity variants.
type targetOnlyFidelity struct{}

//////
// Methods.
//////

// Select returns the cheapest still-uncertain fidelity for x and updates the
// adaptive-threshold counters.
func (p varianceThresholdFidelity) Select(o *Optimizer, x []float64) int {
	selected := TargetFidelity

	for f := o.env.NumFidelities() - 1; f > 0; f-- {
		_, std := o.posterior([][]float64{x}, f)

		measure := std[0]
		if p.increasing {
			measure = o.betaFor(f) * std[0]
		}

		if measure > o.fidelityThresholds[f] {
			selected = f

			break
		}
	}

	o.recordFidelitySelection(selected)

	return selected
}

// Select returns the fidelity with the best cost-normalized information
// gain at x.
func (informationFidelity) Select(o *Optimizer, x []float64) int {
	costs := o.env.ExpectedCosts()

	best := negInf
	selected := o.env.NumFidelities() - 1

	for f := 0; f < o.env.NumFidelities(); f++ {
		if v := o.InformationGain(x, f) / costs[f]; v > best {
			best = v
			selected = f
		}
	}

	return selected
}

// Select always returns the target fidelity.
func (targetOnlyFidelity) Select(*Optimizer, []float64) int {
	return TargetFidelity
}

//////
// Exported functionalities.
//////

// recordFidelitySelection updates the adaptive-threshold counters after a
// fidelity has been chosen: the chosen fidelity's counter increments, the
// next cheaper fidelity's counter resets, and a counter overflowing its cost
// ratio doubles that fidelity's variance threshold.
func (o *Optimizer) recordFidelitySelection(fidelity int) {
	o.fidelityCounts[fidelity]++

	if fidelity+1 < len(o.fidelityCounts) {
		o.fidelityCounts[fidelity+1] = 0
	}

	if fidelity == TargetFidelity {
		return
	}

	if float64(o.fidelityCounts[fidelity]) > o.costThresholds[fidelity] {
		o.fidelityThresholds[fidelity] *= 2
		o.fidelityCounts[fidelity] = 0

		o.logger.Debug("fidelity threshold doubled",
			slog.Int("fidelity", fidelity),
			slog.Float64("threshold", o.fidelityThresholds[fidelity]),
		)
	}
}

//////
// Helper functions.
//////

// costThresholdsFor derives the per-fidelity counter limits from adjacent
// expected-cost ratios. The target fidelity has no limit. When
// scaleByBudget is set (the batch variants), the ratios scale with the
// per-iteration cost budget, since a batch dispatches that much more work
// per tick.
func costThresholdsFor(expectedCosts []float64, costBudget float64, scaleByBudget bool) []float64 {
	out := make([]float64, len(expectedCosts))

	for f := 1; f < len(expectedCosts); f++ {
		out[f] = expectedCosts[f-1] / expectedCosts[f]

		if scaleByBudget {
			out[f] *= costBudget
		}
	}

	return out
}
