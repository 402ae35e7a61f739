package readout

import (
	"cmp"
	"fmt"
	"math"
	"math/cmplx"
	"slices"
)

// AutoRotation is the result of fitting and aligning an uncalibrated IQ
// cloud.
type AutoRotation struct {
	// Angle is the extra rotation applied, folded into (-π/2, π/2].
	Angle   float64
	Mixture *Mixture
	Rotated *Trace
	// Labels holds component ranks ordered by ascending rotated I, so
	// label 0 is the leftmost cluster after rotation.
	Labels *Labels
}

// AutoRotate fits a k-component mixture to the trace, rotates the trace so
// the axis joining the two most separated components lies along I, and
// labels every shot with its component rank.
func AutoRotate(t *Trace, k int, opts MixtureOptions) (*AutoRotation, error) {
	points := make([][2]float64, len(t.Samples))
	for idx, s := range t.Samples {
		points[idx] = [2]float64{real(s), imag(s)}
	}
	mix, err := FitMixture(points, k, opts)
	if err != nil {
		return nil, fmt.Errorf("autorotate: %w", err)
	}

	angle := separationAngle(mix.Means)
	rotated := Rotate(t, angle)

	// Rank components by their rotated I coordinate.
	phase := cmplx.Exp(complex(0, -angle))
	order := make([]int, k)
	rotI := make([]float64, k)
	for j := 0; j < k; j++ {
		order[j] = j
		rotI[j] = real(complex(mix.Means[j][0], mix.Means[j][1]) * phase)
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(rotI[a], rotI[b]) })
	rank := make([]int, k)
	for r, j := range order {
		rank[j] = r
	}

	labels := NewLabels(t.Reps, t.Points)
	for idx, j := range mix.Assignments {
		labels.Values[idx] = rank[j]
	}

	return &AutoRotation{Angle: angle, Mixture: mix, Rotated: rotated, Labels: labels}, nil
}

// separationAngle returns the direction of the line through the two most
// distant means, folded into (-π/2, π/2]. Fewer than two means give 0.
func separationAngle(means [][2]float64) float64 {
	if len(means) < 2 {
		return 0
	}
	var a, b int
	best := -1.0
	for i := 0; i < len(means); i++ {
		for j := i + 1; j < len(means); j++ {
			di, dq := means[j][0]-means[i][0], means[j][1]-means[i][1]
			if d := di*di + dq*dq; d > best {
				best, a, b = d, i, j
			}
		}
	}
	if best == 0 {
		return 0
	}
	angle := math.Atan2(means[b][1]-means[a][1], means[b][0]-means[a][0])
	if angle > math.Pi/2 {
		angle -= math.Pi
	} else if angle <= -math.Pi/2 {
		angle += math.Pi
	}
	return angle
}
