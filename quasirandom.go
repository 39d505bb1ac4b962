package mfbo

import "math/rand"

//////
// Const, vars, types.
//////

// halton is a randomly shifted Halton sequence over [0,1)^dim. The random
// shift (one offset per dimension, reduced modulo 1) decorrelates runs while
// keeping the low-discrepancy structure, and makes the sequence fully
// deterministic given the seed.
type halton struct {
	dim   int
	index int
	bases []int
	shift []float64
}

//////
// Methods.
//////

// Draw returns the next n points of the sequence.
func (h *halton) Draw(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		h.index++
		p := make([]float64, h.dim)
		for d := 0; d < h.dim; d++ {
			v := radicalInverse(h.index, h.bases[d]) + h.shift[d]
			if v >= 1 {
				v -= 1
			}
			p[d] = v
		}
		out[i] = p
	}
	return out
}

//////
// Factory.
//////

// NewHalton creates a randomly shifted Halton sequence of the given
// dimensionality. The shift is drawn from rng at construction time, so two
// sequences built from identically seeded generators produce identical
// points.
func NewHalton(dim int, rng *rand.Rand) Sequence {
	h := &halton{
		dim:   dim,
		bases: firstPrimes(dim),
		shift: make([]float64, dim),
	}

	for d := range h.shift {
		h.shift[d] = rng.Float64()
	}

	return h
}

//////
// Helper functions.
//////

// radicalInverse computes the base-b radical inverse of i, the core of the
// Halton construction.
func radicalInverse(i, base int) float64 {
	f := 1.0
	r := 0.0

	for i > 0 {
		f /= float64(base)
		r += f * float64(i%base)
		i /= base
	}

	return r
}

// firstPrimes returns the first n prime numbers.
func firstPrimes(n int) []int {
	primes := make([]int, 0, n)

	for c := 2; len(primes) < n; c++ {
		isPrime := true

		for _, p := range primes {
			if p*p > c {
				break
			}

			if c%p == 0 {
				isPrime = false

				break
			}
		}

		if isPrime {
			primes = append(primes, c)
		}
	}

	return primes
}
