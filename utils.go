package mfbo

import (
	"math"
	"math/rand"

	"golang.org/x/exp/constraints"
)

//////
// Const, vars, types.
//////

var negInf = math.Inf(-1)

//////
// Helper functions.
//////

// clampUnit clips every coordinate of x into [0,1], in place, and returns x.
func clampUnit(x []float64) []float64 {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		} else if v > 1 {
			x[i] = 1
		}
	}

	return x
}

// softPlus computes log(1+exp(v)) with overflow protection for large v.
func softPlus(v float64) float64 {
	if v > 30 {
		return v
	}

	return math.Log1p(math.Exp(v))
}

// uniformPoint draws a point uniformly from [0,1]^dim.
func uniformPoint(dim int, rng *rand.Rand) []float64 {
	p := make([]float64, dim)

	for i := range p {
		p[i] = rng.Float64()
	}

	return p
}

// copyPoint returns an independent copy of x.
func copyPoint(x []float64) []float64 {
	return append([]float64(nil), x...)
}

// copyPoints returns an independent deep copy of xs.
func copyPoints(xs [][]float64) [][]float64 {
	out := make([][]float64, len(xs))

	for i, x := range xs {
		out[i] = copyPoint(x)
	}

	return out
}

// euclidean computes the Euclidean distance between a and b.
func euclidean(a, b []float64) float64 {
	var s float64

	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}

	return math.Sqrt(s)
}

// argMax returns the index of the largest element of v, or -1 when v is
// empty.
func argMax(v []float64) int {
	idx := -1
	best := negInf

	for i, x := range v {
		if x > best {
			best = x
			idx = i
		}
	}

	return idx
}

// minOf returns the smaller of a and b.
func minOf[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}

	return b
}

// maxOf returns the larger of a and b.
func maxOf[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}

	return b
}

// sliceMax returns the largest element of v, or negative infinity when v is
// empty.
func sliceMax(v []float64) float64 {
	best := negInf

	for _, x := range v {
		if x > best {
			best = x
		}
	}

	return best
}
