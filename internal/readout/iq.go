package readout

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Trace holds complex IQ samples laid out as Reps × Points, row-major.
type Trace struct {
	Reps    int
	Points  int
	Samples []complex128
}

// NewTrace wraps samples as a Reps × Points trace. The slice is not copied.
func NewTrace(reps, points int, samples []complex128) (*Trace, error) {
	if reps <= 0 || points <= 0 {
		return nil, fmt.Errorf("trace shape must be positive, got %dx%d", reps, points)
	}
	if reps > math.MaxInt/points {
		return nil, fmt.Errorf("trace shape %dx%d overflows", reps, points)
	}
	if len(samples) != reps*points {
		return nil, fmt.Errorf("trace has %d samples, want %d (%dx%d)", len(samples), reps*points, reps, points)
	}
	return &Trace{Reps: reps, Points: points, Samples: samples}, nil
}

// At returns the sample for repetition r at sweep point p.
func (t *Trace) At(r, p int) complex128 {
	return t.Samples[r*t.Points+p]
}

// Rotate returns a new trace with every sample multiplied by exp(-iθ).
func Rotate(t *Trace, angle float64) *Trace {
	phase := cmplx.Exp(complex(0, -angle))
	out := make([]complex128, len(t.Samples))
	for i, s := range t.Samples {
		out[i] = s * phase
	}
	return &Trace{Reps: t.Reps, Points: t.Points, Samples: out}
}

// MeanIQ averages a trace over repetitions and returns the I and Q rows,
// each of length Points.
func MeanIQ(t *Trace) (i, q []float64) {
	i = make([]float64, t.Points)
	q = make([]float64, t.Points)
	for r := 0; r < t.Reps; r++ {
		for p := 0; p < t.Points; p++ {
			s := t.At(r, p)
			i[p] += real(s)
			q[p] += imag(s)
		}
	}
	n := float64(t.Reps)
	for p := range i {
		i[p] /= n
		q[p] /= n
	}
	return i, q
}

// Labels holds one integer per shot, Reps × Points, row-major.
type Labels struct {
	Reps   int
	Points int
	Values []int
}

// NewLabels allocates a zeroed label grid.
func NewLabels(reps, points int) *Labels {
	return &Labels{Reps: reps, Points: points, Values: make([]int, reps*points)}
}

// At returns the label for repetition r at sweep point p.
func (l *Labels) At(r, p int) int {
	return l.Values[r*l.Points+p]
}

// Set stores v for repetition r at sweep point p.
func (l *Labels) Set(r, p, v int) {
	l.Values[r*l.Points+p] = v
}

func (l *Labels) sameShape(o *Labels) bool {
	return l.Reps == o.Reps && l.Points == o.Points
}
