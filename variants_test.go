package mfbo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiFidelityVariantsRejectSingleFidelityEnv(t *testing.T) {
	env := newSingleFidelityEnv(1)
	cfg := fastConfig()

	constructors := map[string]func(Environment, Config) (*Optimizer, error){
		"mf_live_batch": NewMFLiveBatch,
		"mf_ucb":        NewMFUCB,
		"mf_ucb_plus":   NewMFUCBPlus,
		"multi_task":    NewMultiTaskUCBwILP,
		"mf_mes":        NewMFMES,
		"mf_turbo":      NewMFTuRBO,
	}

	for name, build := range constructors {
		t.Run(name, func(t *testing.T) {
			_, err := build(env, cfg)
			assert.Error(t, err)
		})
	}
}

func TestSingleFidelityVariantsAcceptSingleFidelityEnv(t *testing.T) {
	env := newSingleFidelityEnv(1)
	cfg := fastConfig()

	for name, build := range map[string]func(Environment, Config) (*Optimizer, error){
		"simple_ucb": NewSimpleUCB,
		"ucb_w_ilp":  NewUCBwILP,
		"turbo":      NewTuRBO,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := build(env, cfg)
			assert.NoError(t, err)
		})
	}
}

func TestInformationFidelityChoiceNeedsJointModel(t *testing.T) {
	env := newTwoFidelityEnv(1)
	cfg := fastConfig()
	cfg.FidelityChoice = FidelityChoiceInformation

	// Per-fidelity surrogates cannot answer cross-fidelity entropy
	// questions.
	_, err := NewMFLiveBatch(env, cfg)
	assert.Error(t, err)

	// The joint-model variants can.
	opt, err := NewMultiTaskUCBwILP(env, cfg)
	require.NoError(t, err)
	assert.True(t, opt.useInformation)

	_, err = NewMFTuRBO(env, cfg)
	assert.NoError(t, err)
}

func TestMFUCBPlusLearnsBiasGPs(t *testing.T) {
	env := newTwoFidelityEnv(1)
	cfg := fastConfig()

	opt, err := NewMFUCBPlus(env, cfg)
	require.NoError(t, err)

	// Residual bias GPs, not just the scalar bound, and hyperparameter
	// refreshes keyed to the cheapest fidelity's observation count.
	require.NotNil(t, opt.bias)
	assert.True(t, opt.bias.useGP)
	assert.Equal(t, hpCheapestCount, opt.hpPolicy)
}

func TestMFTuRBOUsesJointSurrogate(t *testing.T) {
	env := newTwoFidelityEnv(1)
	cfg := fastConfig()

	opt, err := NewMFTuRBO(env, cfg)
	require.NoError(t, err)

	assert.True(t, opt.multiTask)
	assert.NotNil(t, opt.multiModel)
	assert.Equal(t, hpJoint, opt.hpPolicy)
}

func TestMultiTaskUCBwILPUsesTargetBound(t *testing.T) {
	env := newTwoFidelityEnv(1)
	cfg := fastConfig()

	opt, err := NewMultiTaskUCBwILP(env, cfg)
	require.NoError(t, err)

	// The joint kernel couples the fidelities already; the acquisition is
	// the target-fidelity bound, not a fused minimum.
	assert.False(t, opt.useFused)
}

func TestInvalidConfigPropagatesFromConstructor(t *testing.T) {
	env := newTwoFidelityEnv(1)
	cfg := fastConfig()
	cfg.Budget = 0

	_, err := NewMFLiveBatch(env, cfg)
	assert.Error(t, err)
}

func TestFixedBetaOverridesSchedule(t *testing.T) {
	env := newTwoFidelityEnv(1)
	cfg := fastConfig()
	cfg.Beta = 3

	opt, err := NewMFLiveBatch(env, cfg)
	require.NoError(t, err)

	assert.Equal(t, betaFixed, opt.schedule)

	opt.updateBeta()

	assert.Equal(t, 3.0, opt.betaFor(0))
	assert.Equal(t, 3.0, opt.betaFor(1))
}

func TestThresholdsForDefaultsAndOverrides(t *testing.T) {
	cfg := fastConfig()
	cfg.FidelityThresholds = []float64{0.5}

	out := thresholdsFor(cfg, 3)

	// Provided entries win, the rest default to 0.1.
	assert.Equal(t, []float64{0.5, 0.1, 0.1}, out)
}
