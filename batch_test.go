package mfbo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchFillStopsAtCostBudget(t *testing.T) {
	env := newTwoFidelityEnv(1)
	cfg := fastConfig()
	cfg.CostBudget = 4

	opt, err := NewMFLiveBatch(env, cfg)
	require.NoError(t, err)

	opt.updateBeta()

	batch, fidelities := batchFill{}.Fill(opt)

	require.NotEmpty(t, batch)
	require.Len(t, fidelities, len(batch))

	// The filled batch saturates the budget without overshooting past the
	// first query.
	var total float64
	for _, f := range fidelities {
		total += env.fidelityCosts[f]
	}

	assert.Equal(t, total, opt.batchCost)
	assert.LessOrEqual(t, total, cfg.CostBudget+env.fidelityCosts[0])
}

func TestBatchFillDispatchesNothingWhenBudgetTiedUp(t *testing.T) {
	env := newTwoFidelityEnv(2)
	cfg := fastConfig()

	opt, err := NewMFLiveBatch(env, cfg)
	require.NoError(t, err)

	opt.updateBeta()

	// All budget already committed to in-flight queries.
	opt.batchCost = cfg.CostBudget

	batch, _ := batchFill{}.Fill(opt)

	assert.Empty(t, batch)
}

func TestBatchFillRegistersPendingQueries(t *testing.T) {
	env := newTwoFidelityEnv(3)
	cfg := fastConfig()

	opt, err := NewMFLiveBatch(env, cfg)
	require.NoError(t, err)

	opt.updateBeta()

	batch, _ := batchFill{}.Fill(opt)

	// Every chosen query joined the pending set and grew the penalizer.
	assert.Len(t, opt.currentBatch, len(batch))
	assert.Len(t, opt.penalizer.points, len(batch))
}

func TestSequentialFillGatesPrimaryQuery(t *testing.T) {
	env := newTwoFidelityEnv(4)
	cfg := fastConfig()

	opt, err := NewMFUCB(env, cfg)
	require.NoError(t, err)

	opt.updateBeta()

	// First fill dispatches one primary query plus cheap random filler.
	batch, _ := sequentialFill{}.Fill(opt)

	require.NotEmpty(t, batch)
	assert.True(t, opt.queryInFlight)

	// While the primary query is outstanding the next fill produces only
	// cheap random queries, if anything.
	opt.currentBatch = nil
	opt.currentBatchFids = nil

	_, moreFids := sequentialFill{}.Fill(opt)

	cheapest := env.NumFidelities() - 1
	for _, f := range moreFids {
		assert.Equal(t, cheapest, f)
	}
}

func TestSequentialFillRandomFillerUsesCheapestFidelity(t *testing.T) {
	env := newTwoFidelityEnv(5)
	cfg := fastConfig()
	cfg.CostBudget = 5

	opt, err := NewMFUCB(env, cfg)
	require.NoError(t, err)

	opt.updateBeta()

	batch, fidelities := sequentialFill{}.Fill(opt)

	require.NotEmpty(t, batch)

	// Everything past the primary query runs at the cheapest fidelity.
	cheapest := env.NumFidelities() - 1
	for _, f := range fidelities[1:] {
		assert.Equal(t, cheapest, f)
	}
}

func TestSeedPenalizerReflectsInFlightQueries(t *testing.T) {
	env := newTwoFidelityEnv(6)
	cfg := fastConfig()

	opt, err := NewMFLiveBatch(env, cfg)
	require.NoError(t, err)

	opt.updateBeta()

	opt.inFlightX = [][]float64{{0.3}, {0.7}}
	opt.inFlightFids = []int{0, 1}

	opt.seedPenalizer()

	assert.Len(t, opt.penalizer.points, 2)

	// Re-seeding replaces rather than accumulates.
	opt.seedPenalizer()

	assert.Len(t, opt.penalizer.points, 2)
}
