package mfbo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMESOptimizer builds a small entropy-search optimizer with fitted
// surrogates and refreshed fantasy maxima.
func newMESOptimizer(t *testing.T) *Optimizer {
	t.Helper()

	env := newTwoFidelityEnv(1)
	cfg := fastConfig()
	cfg.NumFantasies = 8

	opt, err := NewMFMES(env, cfg)
	require.NoError(t, err)

	require.NoError(t, opt.multiModel.Fit(
		[][][]float64{
			{{0.2}, {0.8}},
			{{0.3}, {0.6}, {0.9}},
		},
		[][]float64{
			{0.5, -0.1},
			{0.4, 0.2, -0.2},
		},
		opt.multiModel.Hyperparams(),
	))

	opt.SampleMaxes()

	return opt
}

func TestSampleMaxesShapeAndFiniteness(t *testing.T) {
	opt := newMESOptimizer(t)

	require.Len(t, opt.maxes, 8)

	for _, m := range opt.maxes {
		assert.False(t, math.IsNaN(m))
		assert.False(t, math.IsInf(m, 0))
	}
}

func TestInformationGainNonNegative(t *testing.T) {
	opt := newMESOptimizer(t)

	for _, x := range [][]float64{{0.1}, {0.5}, {0.95}} {
		for f := 0; f < 2; f++ {
			gain := opt.InformationGain(x, f)

			assert.GreaterOrEqual(t, gain, 0.0)
			assert.False(t, math.IsNaN(gain))
		}
	}
}

func TestInformationGainLowAtObservedLocation(t *testing.T) {
	opt := newMESOptimizer(t)

	// Re-observing a training point reveals almost nothing; an unexplored
	// location reveals more.
	observed := opt.InformationGain([]float64{0.2}, TargetFidelity)
	unexplored := opt.InformationGain([]float64{0.5}, TargetFidelity)

	assert.Less(t, observed, unexplored)
}

func TestInformationGainConditionalOnPendingBatch(t *testing.T) {
	opt := newMESOptimizer(t)

	x := []float64{0.45}

	unconditional := opt.InformationGain(x, TargetFidelity)

	// A pending query at the very same location soaks up most of the
	// information; the conditional gain drops.
	opt.currentBatch = [][]float64{copyPoint(x)}
	opt.currentBatchFids = []int{TargetFidelity}

	conditional := opt.InformationGain(x, TargetFidelity)

	assert.Less(t, conditional, unconditional)
	assert.GreaterOrEqual(t, conditional, 0.0)
}

func TestTruncatedEntropyBelowFullEntropy(t *testing.T) {
	// Truncation can only reduce entropy.
	full := math.Log(1.5) + halfLog2PiE

	assert.Less(t, truncatedEntropy(0, 1.5, 0.5), full)

	// A truncation point far above the mean barely truncates at all.
	assert.InDelta(t, full, truncatedEntropy(0, 1.5, 100), 1e-9)
}

func TestEntropyProposalReturnsValidQuery(t *testing.T) {
	opt := newMESOptimizer(t)

	x, fidelity := entropyProposal{}.Propose(opt)

	require.NotNil(t, x)
	assert.Len(t, x, 1)
	assert.GreaterOrEqual(t, x[0], 0.0)
	assert.LessOrEqual(t, x[0], 1.0)
	assert.Contains(t, []int{0, 1}, fidelity)
}
