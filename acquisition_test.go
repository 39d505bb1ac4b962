package mfbo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPenalizerZeroAtPenaltyPoint(t *testing.T) {
	p := NewPenalizer(1)

	p.Add([]float64{0.5, 0.5}, 0, 0.2, 0.1, 0.4, 1)

	// The factor vanishes exactly at the penalized location.
	assert.Equal(t, 0.0, p.Factor([]float64{0.5, 0.5}, 0))

	// Far away the factor saturates at one.
	assert.Equal(t, 1.0, p.Factor([]float64{0.0, 0.0}, 0))
}

func TestPenalizerFactorsMultiply(t *testing.T) {
	p := NewPenalizer(1)

	p.Add([]float64{0.2}, 0, 0.0, 0.2, 0.5, 1)
	p.Add([]float64{0.8}, 0, 0.0, 0.2, 0.5, 1)

	between := p.Factor([]float64{0.5}, 0)

	// Inside both exclusion zones the combined factor is the product,
	// strictly below either single factor.
	single := NewPenalizer(1)
	single.Add([]float64{0.2}, 0, 0.0, 0.2, 0.5, 1)

	assert.Less(t, between, single.Factor([]float64{0.5}, 0))
	assert.Greater(t, between, 0.0)
}

func TestPenalizerScopedToPointFidelity(t *testing.T) {
	p := NewPenalizer(1)

	// A point queried at fidelity 1 penalizes fidelity 1 only.
	p.Add([]float64{0.5}, 1, 0.0, 0.2, 0.5, 1)

	assert.Less(t, p.Factor([]float64{0.5}, 1), 1.0)
	assert.Equal(t, 1.0, p.Factor([]float64{0.5}, 0))
}

func TestPenalizerResetClearsZones(t *testing.T) {
	p := NewPenalizer(1)

	p.Add([]float64{0.5}, 0, 0.0, 0.1, 0.2, 1)
	p.Reset()

	assert.Equal(t, 1.0, p.Factor([]float64{0.5}, 0))
}

func TestPenalizerHandlesUnseededMaxValue(t *testing.T) {
	p := NewPenalizer(1)

	// Before any observation the running maximum is negative infinity;
	// the radius degenerates to zero instead of producing NaN.
	p.Add([]float64{0.5}, 0, 0.0, 0.1, negInf, 1)

	f := p.Factor([]float64{0.6}, 0)

	assert.False(t, math.IsNaN(f))
	assert.Greater(t, f, 0.0)
}

func TestUCBPriorValue(t *testing.T) {
	env := newSingleFidelityEnv(1)
	cfg := fastConfig()
	cfg.Beta = 2 // fixed schedule

	opt, err := NewSimpleUCB(env, cfg)
	require.NoError(t, err)

	opt.updateBeta()

	// Untrained model: UCB is prior mean plus beta times prior std.
	values := opt.UCB([][]float64{{0.5}}, TargetFidelity)

	hp := defaultHyperparameters(1)
	assert.InDelta(t, hp.MeanConstant+2*hp.OutputScale, values[0], 1e-9)
}

func TestFusedUCBIsMinimumOverFidelities(t *testing.T) {
	env := newTwoFidelityEnv(1)
	cfg := fastConfig()
	cfg.Beta = 1

	opt, err := NewMFLiveBatch(env, cfg)
	require.NoError(t, err)

	opt.updateBeta()

	x := [][]float64{{0.3}, {0.7}}

	fused := opt.FusedUCB(x)
	target := opt.UCB(x, 0)
	cheap := opt.UCB(x, 1)

	for i := range x {
		assert.InDelta(t, math.Min(target[i], cheap[i]), fused[i], 1e-12)
	}
}

func TestAcquisitionValuesNeverNaN(t *testing.T) {
	env := newTwoFidelityEnv(2)
	env.transform = true

	cfg := fastConfig()

	opt, err := NewMFLiveBatch(env, cfg)
	require.NoError(t, err)

	opt.updateBeta()
	opt.addPending([]float64{0.5}, 1)

	values := opt.AcquisitionValues([][]float64{{0.5}, {0.1}, {0.99}})

	for _, v := range values {
		assert.False(t, math.IsNaN(v))
		assert.False(t, math.IsInf(v, 0))
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestAcquisitionPenaltyAppliesBeforeFusion(t *testing.T) {
	env := newTwoFidelityEnv(1)
	cfg := fastConfig()
	cfg.Beta = 1

	opt, err := NewMFLiveBatch(env, cfg)
	require.NoError(t, err)

	opt.updateBeta()

	x := [][]float64{{0.635}}

	target := opt.UCB(x, 0)[0]
	cheap := opt.UCB(x, 1)[0]
	require.Greater(t, cheap, target)

	// A pending cheap-fidelity query nearby discounts the cheap bound but
	// leaves it above the target bound.
	opt.penalizer.Add([]float64{0.5}, 1, 0.0, 0.0, 0.15, 1)

	factor := opt.penalizer.Factor(x[0], 1)
	require.Less(t, factor, 1.0)
	require.Greater(t, cheap*factor, target)

	// The fused acquisition stays at the untouched target bound: the
	// penalty applies at its own fidelity, not to the fused minimum.
	got := opt.AcquisitionValues(x)[0]

	assert.InDelta(t, target, got, 1e-9)

	// A target-fidelity penalty at the same spot does discount it.
	opt.penalizer.Add([]float64{0.5}, 0, 0.0, 0.0, 0.15, 1)

	discounted := opt.AcquisitionValues(x)[0]

	assert.InDelta(t, target*opt.penalizer.Factor(x[0], 0), discounted, 1e-9)
}

func TestAdamAscentClimbsConcaveObjective(t *testing.T) {
	objective := func(x []float64) float64 {
		return -math.Pow(x[0]-0.7, 2)
	}

	start := []float64{0.2}
	result := adamAscent(objective, copyPoint(start), 200)

	assert.Greater(t, objective(result), objective(start))

	// The ascent never leaves the unit box.
	assert.GreaterOrEqual(t, result[0], 0.0)
	assert.LessOrEqual(t, result[0], 1.0)
}

func TestTopKPoints(t *testing.T) {
	points := [][]float64{{0}, {1}, {2}, {3}}
	values := []float64{0.1, 0.9, 0.5, 0.7}

	top := topKPoints(points, values, 2)

	assert.Equal(t, [][]float64{{1}, {3}}, top)
}

func TestSoftPlus(t *testing.T) {
	assert.InDelta(t, math.Log(2), softPlus(0), 1e-12)
	assert.Greater(t, softPlus(-50), 0.0)

	// Large inputs pass through without overflow.
	assert.Equal(t, 100.0, softPlus(100))
}
