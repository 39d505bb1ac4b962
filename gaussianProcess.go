package mfbo

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

//////
// Const, vars, types.
//////

// KernelType selects the stationary covariance family of a Gaussian Process.
type KernelType int

const (
	// KernelRBF is the squared-exponential kernel with per-dimension
	// lengthscales.
	KernelRBF KernelType = iota

	// KernelMatern32 is the Matern kernel with smoothness 3/2, used for
	// rougher processes such as cross-fidelity bias surfaces.
	KernelMatern32
)

const (
	// varianceFloor is the smallest posterior variance reported; values
	// below it are clamped before the square root.
	varianceFloor = 1e-12

	// hpRestarts is the number of random-search candidates evaluated when
	// re-optimizing hyperparameters.
	hpRestarts = 32
)

// gaussianProcess is an exact GP regressor over [0,1]^d with a constant
// prior mean, an ARD stationary kernel and Gaussian observation noise.
// Inference is a Cholesky factorization of the training covariance;
// hyperparameters are fit by random search over the log marginal likelihood.
//
// Not safe for concurrent use. The optimizer controller serializes access.
type gaussianProcess struct {
	kernel KernelType
	hp     Hyperparameters
	rng    *rand.Rand

	x [][]float64
	y []float64

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

// Fit conditions the model on the given observations.
//
// Parameters:
//   - x: training inputs, one row per observation.
//   - y: observed values, len(y) == len(x).
//   - prev: hyperparameters to condition with; typically the record from the
//     previous fit so that refits between hyperparameter updates are cheap.
//
// Returns an error when the training covariance cannot be factorized even
// after jitter repair.
func (g *gaussianProcess) Fit(x [][]float64, y []float64, prev Hyperparameters) error {
	g.x = copyPoints(x)
	g.y = append([]float64(nil), y...)
	g.hp = prev.Clone()

	return g.refit()
}

// OptimizeHyperparams re-optimizes the kernel hyperparameters against the
// current training data by random search over the log marginal likelihood.
// When scaleAndNoiseOnly is true the lengthscales and prior mean are kept
// fixed and only the output scale and noise are searched, which is how
// constrained higher-fidelity models are refreshed after the cheapest
// fidelity has been fully re-trained.
func (g *gaussianProcess) OptimizeHyperparams(scaleAndNoiseOnly bool) error {
	if len(g.x) == 0 {
		return nil
	}

	best := g.hp.Clone()

	bestLML, err := g.logMarginalLikelihood(best)
	if err != nil {
		bestLML = negInf
	}

	for i := 0; i < hpRestarts; i++ {
		cand := g.drawCandidate(scaleAndNoiseOnly)

		lml, err := g.logMarginalLikelihood(cand)
		if err != nil {
			continue
		}

		if lml > bestLML {
			bestLML = lml
			best = cand
		}
	}

	g.hp = best

	return g.refit()
}

// Hyperparams returns the current hyperparameter record.
func (g *gaussianProcess) Hyperparams() Hyperparameters {
	return g.hp.Clone()
}

// Posterior returns the posterior mean and standard deviation at each input
// row. Before the first fit it returns the prior: mean MeanConstant and
// standard deviation OutputScale.
func (g *gaussianProcess) Posterior(x [][]float64) (mean, std []float64) {
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
		ks := g.crossVector(p)

		mean[i] = g.hp.MeanConstant + mat.Dot(
			mat.NewVecDense(len(ks), ks),
			mat.NewVecDense(len(g.alpha), g.alpha),
		)

		var v mat.VecDense
		if err := g.chol.SolveVecTo(&v, mat.NewVecDense(len(ks), ks)); err != nil {
			std[i] = g.hp.OutputScale

			continue
		}

		variance := g.kernelValue(p, p) - mat.Dot(mat.NewVecDense(len(ks), ks), &v)
		if variance < varianceFloor {
			variance = varianceFloor
		}

		std[i] = math.Sqrt(variance)
	}

	return mean, std
}

// GenerateSamples draws numSamples joint posterior sample paths over the
// given inputs. The joint covariance is jitter-repaired before
// factorization; a covariance that cannot be repaired degenerates to
// independent draws from the marginal posteriors.
func (g *gaussianProcess) GenerateSamples(x [][]float64, numSamples int, rng *rand.Rand) *mat.Dense {
	mean, cov := g.joint(x)

	return samplePaths(mean, cov, numSamples, rng)
}

// Constrain bounds subsequent hyperparameter optimization around the given
// lengthscales, prior mean and output scale. Used to seed higher-fidelity
// models from the fully trained cheapest-fidelity model.
func (g *gaussianProcess) Constrain(lengthscales []float64, meanConstant, outputScale float64) {
	g.constrained = true
	g.cLength = append([]float64(nil), lengthscales...)
	g.cMean = meanConstant
	g.cScale = outputScale
}

// refit rebuilds the Cholesky factorization and the alpha weights from the
// current data and hyperparameters.
func (g *gaussianProcess) refit() error {
	n := len(g.x)
	if n == 0 {
		g.trained = false

		return nil
	}

	k := mat.NewSymDense(n, nil)

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := g.kernelValue(g.x[i], g.x[j])
			if i == j {
				v += g.hp.Noise * g.hp.Noise
			}

			k.SetSym(i, j, v)
		}
	}

	chol, err := jitterCholesky(k)
	if err != nil {
		return fmt.Errorf("gp fit: %w", err)
	}

	resid := make([]float64, n)
	for i := range resid {
		resid[i] = g.y[i] - g.hp.MeanConstant
	}

	var a mat.VecDense
	if err := chol.SolveVecTo(&a, mat.NewVecDense(n, resid)); err != nil {
		return fmt.Errorf("gp fit: solve: %w", err)
	}

	g.chol = chol
	g.alpha = make([]float64, n)
	copy(g.alpha, a.RawVector().Data)
	g.trained = true

	return nil
}

// joint returns the joint posterior mean and covariance over the inputs.
func (g *gaussianProcess) joint(x [][]float64) ([]float64, *mat.SymDense) {
	n := len(x)
	mean := make([]float64, n)
	cov := mat.NewSymDense(n, nil)

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, g.kernelValue(x[i], x[j]))
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

	for j, p := range x {
		col := g.crossVector(p)
		for i := 0; i < m; i++ {
			ks.Set(i, j, col[i])
		}

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

// crossVector returns the kernel vector between p and all training inputs.
func (g *gaussianProcess) crossVector(p []float64) []float64 {
	out := make([]float64, len(g.x))

	for i, xi := range g.x {
		out[i] = g.kernelValue(xi, p)
	}

	return out
}

// kernelValue evaluates the kernel between a and b under the current
// hyperparameters.
func (g *gaussianProcess) kernelValue(a, b []float64) float64 {
	return kernelAt(g.kernel, g.hp, a, b)
}

// logMarginalLikelihood evaluates the exact log marginal likelihood of the
// training data under the candidate hyperparameters.
func (g *gaussianProcess) logMarginalLikelihood(hp Hyperparameters) (float64, error) {
	n := len(g.x)
	k := mat.NewSymDense(n, nil)

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := kernelAt(g.kernel, hp, g.x[i], g.x[j])
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

// drawCandidate draws one random-search hyperparameter candidate, respecting
// any active constraint and the scale-and-noise-only restriction.
func (g *gaussianProcess) drawCandidate(scaleAndNoiseOnly bool) Hyperparameters {
	cand := g.hp.Clone()

	cand.OutputScale = logUniform(g.rng, 0.05, 5)
	cand.Noise = logUniform(g.rng, 1e-5, 1e-1)

	if g.constrained {
		cand.OutputScale = g.cScale * math.Exp(g.rng.NormFloat64()*0.5)
	}

	if scaleAndNoiseOnly {
		return cand
	}

	if g.constrained {
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

// NewGaussianProcess creates the default surrogate model: an exact GP with
// the given kernel family and initial hyperparameters. rng drives the
// hyperparameter random search.
func NewGaussianProcess(kernel KernelType, hp Hyperparameters, rng *rand.Rand) SurrogateModel {
	return &gaussianProcess{
		kernel: kernel,
		hp:     hp.Clone(),
		rng:    rng,
	}
}

//////
// Helper functions.
//////

// kernelAt evaluates a stationary ARD kernel between a and b. OutputScale is
// the process standard deviation, so the kernel is scaled by its square.
func kernelAt(kernel KernelType, hp Hyperparameters, a, b []float64) float64 {
	var r2 float64

	for i := range a {
		d := (a[i] - b[i]) / hp.Lengthscales[i]
		r2 += d * d
	}

	scale := hp.OutputScale * hp.OutputScale

	switch kernel {
	case KernelMatern32:
		r := math.Sqrt(3 * r2)

		return scale * (1 + r) * math.Exp(-r)
	default:
		return scale * math.Exp(-0.5*r2)
	}
}

// jitterCholesky factorizes a symmetric matrix, retrying with progressively
// larger diagonal jitter when the matrix is numerically indefinite.
func jitterCholesky(k *mat.SymDense) (*mat.Cholesky, error) {
	n := k.SymmetricDim()

	var chol mat.Cholesky
	if chol.Factorize(k) {
		return &chol, nil
	}

	jittered := mat.NewSymDense(n, nil)

	for jitter := 1e-10; jitter <= 1e-2; jitter *= 10 {
		jittered.CopySym(k)

		for i := 0; i < n; i++ {
			jittered.SetSym(i, i, k.At(i, i)+jitter)
		}

		if chol.Factorize(jittered) {
			return &chol, nil
		}
	}

	return nil, fmt.Errorf("covariance not positive definite after jitter repair")
}

// samplePaths draws sample paths from a multivariate normal with the given
// mean and covariance. When the covariance cannot be factorized even after
// jitter repair, the paths degenerate to independent marginal draws.
func samplePaths(mean []float64, cov *mat.SymDense, numSamples int, rng *rand.Rand) *mat.Dense {
	n := len(mean)
	out := mat.NewDense(numSamples, n, nil)

	chol, err := jitterCholesky(cov)
	if err != nil {
		for s := 0; s < numSamples; s++ {
			for i := 0; i < n; i++ {
				std := math.Sqrt(math.Max(cov.At(i, i), varianceFloor))
				out.Set(s, i, mean[i]+rng.NormFloat64()*std)
			}
		}

		return out
	}

	var lower mat.TriDense
	chol.LTo(&lower)

	z := make([]float64, n)

	for s := 0; s < numSamples; s++ {
		for i := range z {
			z[i] = rng.NormFloat64()
		}

		var path mat.VecDense
		path.MulVec(&lower, mat.NewVecDense(n, z))

		for i := 0; i < n; i++ {
			out.Set(s, i, mean[i]+path.AtVec(i))
		}
	}

	return out
}

// logUniform draws from a log-uniform distribution on [lo, hi].
func logUniform(rng *rand.Rand, lo, hi float64) float64 {
	return math.Exp(math.Log(lo) + rng.Float64()*(math.Log(hi)-math.Log(lo)))
}

// meanAndStd returns the sample mean and standard deviation of v, with a
// unit-std fallback for degenerate samples.
func meanAndStd(v []float64) (float64, float64) {
	if len(v) == 0 {
		return 0, 1
	}

	var sum float64
	for _, x := range v {
		sum += x
	}

	mean := sum / float64(len(v))

	if len(v) < 2 {
		return mean, 1
	}

	var ss float64
	for _, x := range v {
		d := x - mean
		ss += d * d
	}

	std := math.Sqrt(ss / float64(len(v)-1))
	if std == 0 || math.IsNaN(std) {
		std = 1
	}

	return mean, std
}

// standardNormal is the shared unit normal used for entropy calculations.
var standardNormal = distuv.UnitNormal
