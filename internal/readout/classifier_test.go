package readout

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isotropic(n int, v float64) []Covariance {
	out := make([]Covariance, n)
	for i := range out {
		out[i] = IsotropicCovariance(v)
	}
	return out
}

func TestGaussianClassifier_NearestMean(t *testing.T) {
	gc, err := NewGaussianClassifier([]int{0, 1, 2},
		[][2]float64{{0, 0}, {1, 0}, {2, 0}}, isotropic(3, 0.1))
	require.NoError(t, err)

	assert.Equal(t, 0, gc.Predict(-0.3, 0.2))
	assert.Equal(t, 1, gc.Predict(0.9, -0.1))
	assert.Equal(t, 2, gc.Predict(5, 5))
}

func TestGaussianClassifier_TieGoesToLowestLevel(t *testing.T) {
	gc, err := NewGaussianClassifier([]int{0, 1},
		[][2]float64{{0, 0}, {2, 0}}, isotropic(2, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, gc.Predict(1, 0))
	assert.Equal(t, 0, gc.Predict(1, 3))

	// Same tie with the levels listed in the other spatial order.
	gc, err = NewGaussianClassifier([]int{0, 1},
		[][2]float64{{2, 0}, {0, 0}}, isotropic(2, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, gc.Predict(1, -2))
}

func TestGaussianClassifier_MapsToLevelValues(t *testing.T) {
	gc, err := NewGaussianClassifier([]int{1, 2},
		[][2]float64{{0, 0}, {1, 1}}, isotropic(2, 0.5))
	require.NoError(t, err)

	tr := mustTrace(t, [][]complex128{{0.1 + 0.1i, 0.9 + 1.1i}, {1 + 1i, -0.2i}})
	got := gc.Classify(tr)
	if diff := cmp.Diff([]int{1, 2, 2, 1}, got.Values); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestGaussianClassifier_VarianceMatters(t *testing.T) {
	// A broad level 1 claims a point that is nearer to a tight level 0 in
	// Euclidean terms.
	gc, err := NewGaussianClassifier([]int{0, 1},
		[][2]float64{{0, 0}, {3, 0}},
		[]Covariance{IsotropicCovariance(0.01), IsotropicCovariance(4)})
	require.NoError(t, err)
	assert.Equal(t, 1, gc.Predict(1.2, 0))
}

func TestGaussianClassifier_Anisotropic(t *testing.T) {
	gc, err := NewGaussianClassifier([]int{0, 1},
		[][2]float64{{0, 0}, {2, 0}},
		[]Covariance{{II: 0.05, QQ: 4}, {II: 0.05, QQ: 4}})
	require.NoError(t, err)
	// Far along Q but close in I to level 0.
	assert.Equal(t, 0, gc.Predict(0.2, 3))
}

func TestNewGaussianClassifier_Errors(t *testing.T) {
	_, err := NewGaussianClassifier(nil, nil, nil)
	assert.Error(t, err)

	_, err = NewGaussianClassifier([]int{0, 1}, [][2]float64{{0, 0}}, isotropic(2, 1))
	assert.Error(t, err)

	_, err = NewGaussianClassifier([]int{0}, [][2]float64{{0, 0}}, []Covariance{{II: 1, IQ: 2, QQ: 1}})
	assert.ErrorContains(t, err, "positive definite")
}
