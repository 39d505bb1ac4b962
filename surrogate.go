package mfbo

//////
// Const, vars, types.
//////

// observationRecord is the append-only per-fidelity observation store backing
// the surrogates: inputs, values and logical observation times, plus the
// running maximum per fidelity. Every fidelity owns independent containers.
type observationRecord struct {
	x        [][][]float64
	y        [][]float64
	t        [][]int
	maxValue []float64
}

//////
// Methods.
//////

// add appends one observation at the given fidelity and logical time.
func (r *observationRecord) add(fidelity int, x []float64, y float64, time int) {
	r.x[fidelity] = append(r.x[fidelity], copyPoint(x))
	r.y[fidelity] = append(r.y[fidelity], y)
	r.t[fidelity] = append(r.t[fidelity], time)

	if y > r.maxValue[fidelity] {
		r.maxValue[fidelity] = y
	}
}

// hasData reports whether the fidelity has any observations.
func (r *observationRecord) hasData(fidelity int) bool {
	return len(r.y[fidelity]) > 0
}

// count returns the number of observations at the fidelity.
func (r *observationRecord) count(fidelity int) int {
	return len(r.y[fidelity])
}

// best returns the index of the best observation at the fidelity, or -1.
func (r *observationRecord) best(fidelity int) int {
	idx := -1
	best := negInf

	for i, y := range r.y[fidelity] {
		if y > best {
			best = y
			idx = i
		}
	}

	return idx
}

// snapshot returns a deep copy of the record as a History.
func (r *observationRecord) snapshot() *History {
	h := &History{
		X: make([][][]float64, len(r.x)),
		Y: make([][]float64, len(r.y)),
		T: make([][]int, len(r.t)),
	}

	for f := range r.x {
		h.X[f] = copyPoints(r.x[f])
		h.Y[f] = append([]float64(nil), r.y[f]...)
		h.T[f] = append([]int(nil), r.t[f]...)
	}

	return h
}

//////
// Factory.
//////

// newObservationRecord creates an empty record over numFidelities levels,
// with per-fidelity maxima seeded at negative infinity.
func newObservationRecord(numFidelities int) *observationRecord {
	r := &observationRecord{
		x:        make([][][]float64, numFidelities),
		y:        make([][]float64, numFidelities),
		t:        make([][]int, numFidelities),
		maxValue: make([]float64, numFidelities),
	}

	for f := range r.maxValue {
		r.maxValue[f] = negInf
	}

	return r
}
