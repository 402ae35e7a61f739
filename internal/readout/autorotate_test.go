package readout

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func traceFromPoints(t *testing.T, pts [][2]float64, points int) *Trace {
	t.Helper()
	samples := make([]complex128, len(pts))
	for i, p := range pts {
		samples[i] = complex(p[0], p[1])
	}
	tr, err := NewTrace(len(pts)/points, points, samples)
	require.NoError(t, err)
	return tr
}

func TestAutoRotate_AlignsDiagonalClusters(t *testing.T) {
	pts := append(cluster(0, 0, 0.05), cluster(2, 2, 0.05)...)
	tr := traceFromPoints(t, pts, 5)

	ar, err := AutoRotate(tr, 2, DefaultMixtureOptions())
	require.NoError(t, err)
	assert.InDelta(t, math.Pi/4, ar.Angle, 1e-6)

	// After rotation the excited cluster sits on the positive I axis.
	var sumI, sumQ float64
	for idx := 25; idx < 50; idx++ {
		sumI += real(ar.Rotated.Samples[idx])
		sumQ += imag(ar.Rotated.Samples[idx])
	}
	assert.InDelta(t, 2*math.Sqrt2, sumI/25, 1e-6)
	assert.InDelta(t, 0, sumQ/25, 1e-6)

	for idx, l := range ar.Labels.Values {
		want := 0
		if idx >= 25 {
			want = 1
		}
		assert.Equal(t, want, l, "shot %d", idx)
	}
}

func TestAutoRotate_SingleComponent(t *testing.T) {
	tr := traceFromPoints(t, cluster(1, 1, 0.1), 5)
	ar, err := AutoRotate(tr, 1, DefaultMixtureOptions())
	require.NoError(t, err)
	assert.Equal(t, 0.0, ar.Angle)
	assert.Equal(t, tr.Samples, ar.Rotated.Samples)
	for _, l := range ar.Labels.Values {
		assert.Equal(t, 0, l)
	}
}

func TestSeparationAngle_Folding(t *testing.T) {
	assert.InDelta(t, math.Pi/2, separationAngle([][2]float64{{0, 0}, {0, -2}}), 1e-12)
	assert.InDelta(t, 0, separationAngle([][2]float64{{3, 0}, {0, 0}}), 1e-12)
	assert.InDelta(t, -math.Pi/4, separationAngle([][2]float64{{0, 0}, {1, -1}}), 1e-12)
	assert.Equal(t, 0.0, separationAngle([][2]float64{{1, 1}, {1, 1}}))
	assert.Equal(t, 0.0, separationAngle(nil))
}
