package readout

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/readout/internal/testutil"
)

func TestNormalizePopulation_Unmasked(t *testing.T) {
	labels := mustLabels(t, [][]int{
		{0, 1},
		{1, 1},
		{2, 0},
		{0, 1},
	})
	pop, err := NormalizePopulation(labels, []int{0, 1, 2}, nil)
	require.NoError(t, err)
	testutil.AssertDenseNear(t, pop, [][]float64{
		{0.5, 0.25},
		{0.25, 0.75},
		{0.25, 0},
	}, 0)
}

func TestNormalizePopulation_Masked(t *testing.T) {
	labels := mustLabels(t, [][]int{{1, 1}, {1, 0}, {0, 0}})
	mask := &HeraldMask{Labels: *mustLabels(t, [][]int{{MaskTruncated, 0}, {0, 3}, {0, 0}}), NPass: 2}

	pop, err := NormalizePopulation(labels, []int{0, 1}, mask)
	require.NoError(t, err)
	testutil.AssertDenseNear(t, pop, [][]float64{
		{0.5, 0.5},
		{0.5, 0.5},
	}, 0)
}

func TestNormalizePopulation_NonZeroLevels(t *testing.T) {
	labels := mustLabels(t, [][]int{{1}, {2}, {2}, {2}})
	pop, err := NormalizePopulation(labels, []int{1, 2}, nil)
	require.NoError(t, err)
	testutil.AssertDenseNear(t, pop, [][]float64{{0.25}, {0.75}}, 0)
}

func TestNormalizePopulation_ColumnsSumToOne(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	levels := []int{0, 1, 2, 3}
	for trial := 0; trial < 20; trial++ {
		l := NewLabels(1+rng.IntN(200), 1+rng.IntN(10))
		for i := range l.Values {
			l.Values[i] = levels[rng.IntN(len(levels))]
		}
		pop, err := NormalizePopulation(l, levels, nil)
		require.NoError(t, err)
		for p := 0; p < l.Points; p++ {
			col := mat.Col(nil, p, pop)
			assert.InDelta(t, 1, floats.Sum(col), 1e-9)
		}
	}
}

func TestNormalizePopulation_EmptyColumn(t *testing.T) {
	labels := mustLabels(t, [][]int{{0, 0}, {1, 1}})
	mask := &HeraldMask{Labels: *mustLabels(t, [][]int{{0, 1}, {0, MaskTruncated}})}

	_, err := NormalizePopulation(labels, []int{0, 1}, mask)
	var empty *EmptyColumnError
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, 1, empty.Column)
}

func TestNormalizePopulation_Errors(t *testing.T) {
	labels := mustLabels(t, [][]int{{0, 5}})
	_, err := NormalizePopulation(labels, []int{0, 1}, nil)
	assert.ErrorContains(t, err, "not a readout level")

	_, err = NormalizePopulation(labels, nil, nil)
	assert.Error(t, err)

	mask := &HeraldMask{Labels: *NewLabels(2, 2)}
	_, err = NormalizePopulation(labels, []int{0, 5}, mask)
	var mm *ChannelMismatchError
	assert.True(t, errors.As(err, &mm))
}
