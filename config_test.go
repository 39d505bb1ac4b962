package mfbo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()

	assert.NoError(t, cfg.Validate())
}

func TestConfigValidationRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero budget", func(c *Config) { c.Budget = 0 }},
		{"negative cost budget", func(c *Config) { c.CostBudget = -1 }},
		{"negative beta", func(c *Config) { c.Beta = -0.5 }},
		{"unknown fidelity choice", func(c *Config) { c.FidelityChoice = "psychic" }},
		{"zero starts", func(c *Config) { c.NumStarts = 0 }},
		{"one integration step", func(c *Config) { c.IntegrationSteps = 1 }},
		{"empty integration window", func(c *Config) { c.IntegrationLower = 5; c.IntegrationUpper = 5 }},
		{"zero fantasies", func(c *Config) { c.NumFantasies = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)

			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	content := []byte("budget: 42\ncost_budget: 8\nlocal_lipschitz: true\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// Overridden fields take the file values.
	assert.Equal(t, 42, cfg.Budget)
	assert.Equal(t, 8.0, cfg.CostBudget)
	assert.True(t, cfg.LocalLipschitz)

	// Omitted fields keep their defaults.
	assert.Equal(t, 75, cfg.NumStarts)
	assert.Equal(t, FidelityChoiceVariance, cfg.FidelityChoice)
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, os.WriteFile(path, []byte("budget: -3\n"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultHyperparameters(t *testing.T) {
	hp := defaultHyperparameters(3)

	assert.Equal(t, 0.6, hp.OutputScale)
	assert.Equal(t, []float64{0.15, 0.15, 0.15}, hp.Lengthscales)
	assert.Equal(t, 1e-4, hp.Noise)
	assert.Equal(t, 0.0, hp.MeanConstant)
}

func TestHyperparametersCloneIsDeep(t *testing.T) {
	hp := defaultHyperparameters(2)
	clone := hp.Clone()

	clone.Lengthscales[0] = 99

	assert.Equal(t, 0.15, hp.Lengthscales[0])
}
