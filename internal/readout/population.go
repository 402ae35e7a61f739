package readout

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// NormalizePopulation counts level occurrences per sweep point and divides
// by the number of counted shots. Only shots with mask value MaskPass are
// counted; a nil mask counts every shot. The result is len(levels) × Points.
func NormalizePopulation(labels *Labels, levels []int, mask *HeraldMask) (*mat.Dense, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("normalize population: no readout levels")
	}
	if mask != nil && !labels.sameShape(&mask.Labels) {
		return nil, &ChannelMismatchError{Reason: fmt.Sprintf("labels %dx%d do not match heralding mask %dx%d",
			labels.Reps, labels.Points, mask.Reps, mask.Points)}
	}

	index := make(map[int]int, len(levels))
	for i, lv := range levels {
		index[lv] = i
	}

	counts := mat.NewDense(len(levels), labels.Points, nil)
	totals := make([]float64, labels.Points)
	for r := 0; r < labels.Reps; r++ {
		for p := 0; p < labels.Points; p++ {
			if mask != nil && !mask.Accepted(r, p) {
				continue
			}
			v := labels.At(r, p)
			i, ok := index[v]
			if !ok {
				return nil, fmt.Errorf("normalize population: label %d at shot (%d, %d) is not a readout level", v, r, p)
			}
			counts.Set(i, p, counts.At(i, p)+1)
			totals[p]++
		}
	}

	for p, n := range totals {
		if n == 0 {
			return nil, &EmptyColumnError{Column: p}
		}
		for i := range levels {
			counts.Set(i, p, counts.At(i, p)/n)
		}
	}
	return counts, nil
}
