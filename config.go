package mfbo

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

//////
// Const, vars, types.
//////

// Fidelity selection strategies accepted by Config.FidelityChoice.
const (
	// FidelityChoiceVariance selects fidelities by posterior-variance
	// thresholds with adaptive doubling.
	FidelityChoiceVariance = "variance_thresholds"

	// FidelityChoiceInformation selects fidelities by information gain per
	// unit cost. Requires a joint multi-task surrogate.
	FidelityChoiceInformation = "information_based"
)

// Config holds the tunable parameters shared by all optimizer variants.
// Zero values fall back to the defaults of DefaultConfig where noted.
type Config struct {
	// Budget is the number of optimization iterations (logical time steps).
	Budget int `yaml:"budget" json:"budget"`

	// CostBudget is the maximum evaluation cost allowed to be in flight at
	// any time. Each iteration fills the gap between the cost of the
	// currently outstanding queries and this budget.
	CostBudget float64 `yaml:"cost_budget" json:"cost_budget"`

	// Beta fixes the UCB exploration weight. Zero selects the adaptive
	// schedule of the chosen variant.
	Beta float64 `yaml:"beta" json:"beta"`

	// FidelityThresholds are the initial posterior-uncertainty thresholds
	// of the variance-based fidelity selection, indexed by fidelity. Nil
	// defaults to 0.1 everywhere.
	FidelityThresholds []float64 `yaml:"fidelity_thresholds" json:"fidelity_thresholds"`

	// IncreasingThresholds scales the uncertainty by beta before the
	// threshold comparison, tightening fidelity selection over time.
	IncreasingThresholds bool `yaml:"increasing_thresholds" json:"increasing_thresholds"`

	// FidelityChoice selects the fidelity policy of the multi-fidelity
	// variants: FidelityChoiceVariance or FidelityChoiceInformation.
	FidelityChoice string `yaml:"fidelity_choice" json:"fidelity_choice"`

	// LipschitzConstant seeds the Lipschitz estimate before any model
	// exists.
	LipschitzConstant float64 `yaml:"lipschitz_constant" json:"lipschitz_constant"`

	// LocalLipschitz re-estimates the Lipschitz constant locally around
	// each penalty point instead of using the global estimate.
	LocalLipschitz bool `yaml:"local_lipschitz" json:"local_lipschitz"`

	// PenalizationGamma weights posterior uncertainty in the penalizer's
	// exclusion radii.
	PenalizationGamma float64 `yaml:"penalization_gamma" json:"penalization_gamma"`

	// GradPointsPerDim is the probe-grid density per dimension of the
	// Lipschitz estimator.
	GradPointsPerDim int `yaml:"grad_points_per_dim" json:"grad_points_per_dim"`

	// NumStarts scales the candidate pools of the acquisition optimizer.
	NumStarts int `yaml:"num_starts" json:"num_starts"`

	// OptimEpochs is the number of gradient-ascent steps per acquisition
	// refinement.
	OptimEpochs int `yaml:"optim_epochs" json:"optim_epochs"`

	// HPUpdateFrequency is the number of new observations between
	// hyperparameter re-optimizations.
	HPUpdateFrequency int `yaml:"hp_update_frequency" json:"hp_update_frequency"`

	// InitialBias seeds the cross-fidelity bias bound.
	InitialBias float64 `yaml:"initial_bias" json:"initial_bias"`

	// BiasWeights scale the bias bound per fidelity. Nil defaults to the
	// fidelity index.
	BiasWeights []float64 `yaml:"bias_weights" json:"bias_weights"`

	// IntegrationLower and IntegrationUpper bound the standardized entropy
	// integrals of the information-based variants.
	IntegrationLower float64 `yaml:"integration_lower" json:"integration_lower"`
	IntegrationUpper float64 `yaml:"integration_upper" json:"integration_upper"`

	// IntegrationSteps is the trapezoid-rule resolution of the entropy
	// integrals.
	IntegrationSteps int `yaml:"integration_steps" json:"integration_steps"`

	// NumFantasies is the number of fantasized optima and pending-outcome
	// samples of the information-based variants.
	NumFantasies int `yaml:"num_fantasies" json:"num_fantasies"`

	// StabilityFloor clamps vanishing probabilities inside the entropy
	// integrals.
	StabilityFloor float64 `yaml:"stability_floor" json:"stability_floor"`

	// Seed drives all randomness of the run. Runs with equal seeds and
	// deterministic environments reproduce exactly.
	Seed int64 `yaml:"seed" json:"seed"`

	// Logger receives structured run events. Nil defaults to slog.Default.
	Logger *slog.Logger `yaml:"-" json:"-"`

	// ProgressChan, when non-nil, receives a ProgressUpdate after each
	// iteration. Sends are non-blocking; a slow consumer misses updates.
	ProgressChan chan ProgressUpdate `yaml:"-" json:"-"`
}

//////
// Methods.
//////

// Validate checks the config for combinations the optimizer cannot run
// with. Called by every variant constructor.
func (c *Config) Validate() error {
	if c.Budget <= 0 {
		return fmt.Errorf("config: budget must be positive, got %d", c.Budget)
	}

	if c.CostBudget <= 0 {
		return fmt.Errorf("config: cost budget must be positive, got %v", c.CostBudget)
	}

	if c.Beta < 0 {
		return fmt.Errorf("config: beta must be non-negative, got %v", c.Beta)
	}

	switch c.FidelityChoice {
	case FidelityChoiceVariance, FidelityChoiceInformation:
	default:
		return fmt.Errorf("config: unknown fidelity choice %q", c.FidelityChoice)
	}

	if c.NumStarts <= 0 {
		return fmt.Errorf("config: num starts must be positive, got %d", c.NumStarts)
	}

	if c.IntegrationSteps < 2 {
		return fmt.Errorf("config: integration steps must be at least 2, got %d", c.IntegrationSteps)
	}

	if c.IntegrationUpper <= c.IntegrationLower {
		return fmt.Errorf("config: integration bounds are empty: [%v, %v]",
			c.IntegrationLower, c.IntegrationUpper)
	}

	if c.NumFantasies <= 0 {
		return fmt.Errorf("config: num fantasies must be positive, got %d", c.NumFantasies)
	}

	return nil
}

//////
// Factory.
//////

// DefaultConfig returns the configuration used throughout the benchmark
// experiments. A good starting point for any environment with inputs
// normalized to the unit box.
func DefaultConfig() Config {
	return Config{
		Budget:            100,
		CostBudget:        4,
		FidelityChoice:    FidelityChoiceVariance,
		LipschitzConstant: 1,
		PenalizationGamma: 1,
		GradPointsPerDim:  50,
		NumStarts:         75,
		OptimEpochs:       25,
		HPUpdateFrequency: 10,
		InitialBias:       0.1,
		IntegrationLower:  -10,
		IntegrationUpper:  10,
		IntegrationSteps:  250,
		NumFantasies:      100,
		StabilityFloor:    1e-30,
	}
}

// LoadConfig reads a YAML config file, layering it over DefaultConfig so
// that omitted fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

//////
// Helper functions.
//////

// defaultHyperparameters returns the kernel initialization used before any
// hyperparameter optimization has run.
func defaultHyperparameters(dim int) Hyperparameters {
	ls := make([]float64, dim)
	for i := range ls {
		ls[i] = 0.15
	}

	return Hyperparameters{
		OutputScale:  0.6,
		Lengthscales: ls,
		Noise:        1e-4,
		MeanConstant: 0,
	}
}
