package mfbo

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

//////
// Const, vars, types.
//////

// multiTaskGP is an intrinsic-coregionalization GP over (input, task) pairs:
// the covariance between observations factorizes into a shared stationary
// input kernel and a task covariance matrix B. Task 0 is the target
// fidelity. B is parameterized as scale^2 * ((1 - rho) I + rho J), so a
// single correlation parameter rho in [0, 1) controls how much the
// fidelities share.
//
// Not safe for concurrent use.
type multiTaskGP struct {
	numTasks int
	kernel   KernelType
	hp       Hyperparameters
	rho      float64
	rng      *rand.Rand

	x     [][]float64
	tasks []int
	y     []float64

	chol    *mat.Cholesky
	alpha   []float64
	trained bool

	constrained bool
	cLength     []float64
	cMean       float64
	cScale      float64
}

//////
// Methods.
//////

// Fit conditions the model on per-task observation sets: x[t] and y[t] hold
// the inputs and values observed at task t. Tasks with no observations are
// simply absent from the training set.
func (g *multiTaskGP) Fit(x [][][]float64, y [][]float64, prev Hyperparameters) error {
	g.x = nil
	g.tasks = nil
	g.y = nil

	for t := 0; t < g.numTasks; t++ {
		for i, p := range x[t] {
			g.x = append(g.x, copyPoint(p))
			g.tasks = append(g.tasks, t)
			g.y = append(g.y, y[t][i])
		}
	}

	g.hp = prev.Clone()

	return g.refit()
}

// OptimizeHyperparams re-optimizes the shared kernel hyperparameters and the
// task correlation by random search over the log marginal likelihood.
func (g *multiTaskGP) OptimizeHyperparams() error {
	if len(g.x) == 0 {
		return nil
	}

	bestHP := g.hp.Clone()
	bestRho := g.rho

	bestLML, err := g.logMarginalLikelihood(bestHP, bestRho)
	if err != nil {
		bestLML = negInf
	}

	for i := 0; i < hpRestarts; i++ {
		cand := g.drawCandidate()
		rho := g.rng.Float64() * 0.99

		lml, err := g.logMarginalLikelihood(cand, rho)
		if err != nil {
			continue
		}

		if lml > bestLML {
			bestLML = lml
			bestHP = cand
			bestRho = rho
		}
	}

	g.hp = bestHP
	g.rho = bestRho

	return g.refit()
}

// Hyperparams returns the current shared hyperparameter record.
func (g *multiTaskGP) Hyperparams() Hyperparameters {
	return g.hp.Clone()
}

// Posterior returns the posterior mean and standard deviation of the given
// task at each input row.
func (g *multiTaskGP) Posterior(x [][]float64, task int) (mean, std []float64) {
	tasks := make([]int, len(x))
	for i := range tasks {
		tasks[i] = task
	}

	mean = make([]float64, len(x))
	std = make([]float64, len(x))

	if !g.trained {
		for i := range x {
			mean[i] = g.hp.MeanConstant
			std[i] = g.hp.OutputScale
		}

		return mean, std
	}

	for i, p := range x {
		m, v := g.marginal(p, tasks[i])
		mean[i] = m
		std[i] = math.Sqrt(math.Max(v, varianceFloor))
	}

	return mean, std
}

// Joint returns the joint posterior mean vector and covariance matrix over
// arbitrary (input, task) pairs.
func (g *multiTaskGP) Joint(x [][]float64, tasks []int) ([]float64, *mat.SymDense) {
	n := len(x)
	mean := make([]float64, n)
	cov := mat.NewSymDense(n, nil)

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, g.kernelValue(x[i], tasks[i], x[j], tasks[j], g.hp, g.rho))
		}
	}

	if !g.trained {
		for i := range mean {
			mean[i] = g.hp.MeanConstant
		}

		return mean, cov
	}

	m := len(g.x)
	ks := mat.NewDense(m, n, nil)

	for j := 0; j < n; j++ {
		for i := 0; i < m; i++ {
			ks.Set(i, j, g.kernelValue(g.x[i], g.tasks[i], x[j], tasks[j], g.hp, g.rho))
		}

		col := mat.Col(nil, j, ks)
		mean[j] = g.hp.MeanConstant + mat.Dot(
			mat.NewVecDense(m, col),
			mat.NewVecDense(m, g.alpha),
		)
	}

	var solved mat.Dense
	if err := g.chol.SolveTo(&solved, ks); err != nil {
		return mean, cov
	}

	var reduction mat.Dense
	reduction.Mul(ks.T(), &solved)

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, cov.At(i, j)-0.5*(reduction.At(i, j)+reduction.At(j, i)))
		}
	}

	return mean, cov
}

// GenerateSamples draws numSamples joint posterior sample paths of the given
// task over the inputs.
func (g *multiTaskGP) GenerateSamples(x [][]float64, task, numSamples int, rng *rand.Rand) *mat.Dense {
	tasks := make([]int, len(x))
	for i := range tasks {
		tasks[i] = task
	}

	mean, cov := g.Joint(x, tasks)

	return samplePaths(mean, cov, numSamples, rng)
}

// Constrain bounds subsequent hyperparameter optimization around the given
// lengthscales, prior mean and output scale.
func (g *multiTaskGP) Constrain(lengthscales []float64, meanConstant, outputScale float64) {
	g.constrained = true
	g.cLength = append([]float64(nil), lengthscales...)
	g.cMean = meanConstant
	g.cScale = outputScale
}

// marginal returns the posterior mean and variance of a single (input, task)
// pair.
func (g *multiTaskGP) marginal(p []float64, task int) (float64, float64) {
	m := len(g.x)
	ks := make([]float64, m)

	for i := 0; i < m; i++ {
		ks[i] = g.kernelValue(g.x[i], g.tasks[i], p, task, g.hp, g.rho)
	}

	mean := g.hp.MeanConstant + mat.Dot(
		mat.NewVecDense(m, ks),
		mat.NewVecDense(m, g.alpha),
	)

	var v mat.VecDense
	if err := g.chol.SolveVecTo(&v, mat.NewVecDense(m, ks)); err != nil {
		return mean, g.hp.OutputScale * g.hp.OutputScale
	}

	variance := g.kernelValue(p, task, p, task, g.hp, g.rho) -
		mat.Dot(mat.NewVecDense(m, ks), &v)

	return mean, variance
}

// refit rebuilds the Cholesky factorization and alpha weights.
func (g *multiTaskGP) refit() error {
	n := len(g.x)
	if n == 0 {
		g.trained = false

		return nil
	}

	k := mat.NewSymDense(n, nil)

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := g.kernelValue(g.x[i], g.tasks[i], g.x[j], g.tasks[j], g.hp, g.rho)
			if i == j {
				v += g.hp.Noise * g.hp.Noise
			}

			k.SetSym(i, j, v)
		}
	}

	chol, err := jitterCholesky(k)
	if err != nil {
		return fmt.Errorf("multi-task gp fit: %w", err)
	}

	resid := make([]float64, n)
	for i := range resid {
		resid[i] = g.y[i] - g.hp.MeanConstant
	}

	var a mat.VecDense
	if err := chol.SolveVecTo(&a, mat.NewVecDense(n, resid)); err != nil {
		return fmt.Errorf("multi-task gp fit: solve: %w", err)
	}

	g.chol = chol
	g.alpha = make([]float64, n)
	copy(g.alpha, a.RawVector().Data)
	g.trained = true

	return nil
}

// kernelValue evaluates the ICM kernel between two (input, task) pairs.
func (g *multiTaskGP) kernelValue(a []float64, taskA int, b []float64, taskB int, hp Hyperparameters, rho float64) float64 {
	base := kernelAt(g.kernel, hp, a, b) / (hp.OutputScale * hp.OutputScale)
	scale := hp.OutputScale * hp.OutputScale

	if taskA == taskB {
		return scale * base
	}

	return scale * rho * base
}

// logMarginalLikelihood evaluates the training-data log marginal likelihood
// under candidate hyperparameters and task correlation.
func (g *multiTaskGP) logMarginalLikelihood(hp Hyperparameters, rho float64) (float64, error) {
	n := len(g.x)
	k := mat.NewSymDense(n, nil)

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := g.kernelValue(g.x[i], g.tasks[i], g.x[j], g.tasks[j], hp, rho)
			if i == j {
				v += hp.Noise * hp.Noise
			}

			k.SetSym(i, j, v)
		}
	}

	chol, err := jitterCholesky(k)
	if err != nil {
		return negInf, err
	}

	resid := make([]float64, n)
	for i := range resid {
		resid[i] = g.y[i] - hp.MeanConstant
	}

	var a mat.VecDense
	if err := chol.SolveVecTo(&a, mat.NewVecDense(n, resid)); err != nil {
		return negInf, err
	}

	fit := mat.Dot(mat.NewVecDense(n, resid), &a)

	return -0.5*fit - 0.5*chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi), nil
}

// drawCandidate draws one random-search hyperparameter candidate.
func (g *multiTaskGP) drawCandidate() Hyperparameters {
	cand := g.hp.Clone()

	cand.OutputScale = logUniform(g.rng, 0.05, 5)
	cand.Noise = logUniform(g.rng, 1e-5, 1e-1)

	if g.constrained {
		cand.OutputScale = g.cScale * math.Exp(g.rng.NormFloat64()*0.5)
		cand.MeanConstant = g.cMean

		for i := range cand.Lengthscales {
			cand.Lengthscales[i] = g.cLength[i] * math.Exp(g.rng.NormFloat64()*0.35)
		}

		return cand
	}

	for i := range cand.Lengthscales {
		cand.Lengthscales[i] = logUniform(g.rng, 0.01, 2)
	}

	sampleMean, sampleStd := meanAndStd(g.y)
	cand.MeanConstant = sampleMean + g.rng.NormFloat64()*sampleStd

	return cand
}

//////
// Factory.
//////

// NewMultiTaskGaussianProcess creates the default joint surrogate over
// numTasks fidelities, with an initial task correlation of 0.5.
func NewMultiTaskGaussianProcess(numTasks int, kernel KernelType, hp Hyperparameters, rng *rand.Rand) MultiTaskSurrogateModel {
	return &multiTaskGP{
		numTasks: numTasks,
		kernel:   kernel,
		hp:       hp.Clone(),
		rho:      0.5,
		rng:      rng,
	}
}
