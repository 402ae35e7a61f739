package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/readout/internal/monitoring"
	"github.com/banshee-data/readout/internal/readout"
	"github.com/banshee-data/readout/internal/testutil"
)

type fakeSettings struct {
	flags    Flags
	channels map[string]readout.Channel
}

func newFakeSettings(flags Flags, channels ...readout.Channel) *fakeSettings {
	s := &fakeSettings{flags: flags, channels: map[string]readout.Channel{}}
	for _, ch := range channels {
		s.channels[ch.ID] = ch
	}
	return s
}

func (s *fakeSettings) RoutineFlags() Flags { return s.flags }

func (s *fakeSettings) Channel(id string) (readout.Channel, error) {
	ch, ok := s.channels[id]
	if !ok {
		return readout.Channel{}, fmt.Errorf("resonator %s is not configured", id)
	}
	return ch, nil
}

func (s *fakeSettings) MixtureOptions() readout.MixtureOptions { return readout.DefaultMixtureOptions() }

func (s *fakeSettings) CorrectionOptions() readout.CorrectionOptions {
	return readout.DefaultCorrectionOptions()
}

// levelChannel places level i at (i, 0) with a tight isotropic spread and an
// identity correlation matrix.
func levelChannel(id string, n int) readout.Channel {
	means, covs, corr := readout.DefaultChannelMatrices(n)
	levels := make([]int, n)
	for i := range means {
		levels[i] = i
		means[i] = [2]float64{float64(i), 0}
		covs[i] = readout.IsotropicCovariance(0.01)
	}
	return readout.Channel{ID: id, Levels: levels, Means: means, Covariances: covs, CorrMatrix: corr}
}

func twoLevelChannel(id string) readout.Channel { return levelChannel(id, 2) }

// traceFromLevels builds a trace whose shots sit exactly on level means.
func traceFromLevels(t *testing.T, rows [][]int) *readout.Trace {
	t.Helper()
	reps, points, values := testutil.IntGrid(rows)
	samples := make([]complex128, len(values))
	for i, v := range values {
		samples[i] = complex(float64(v), 0)
	}
	tr, err := readout.NewTrace(reps, points, samples)
	require.NoError(t, err)
	return tr
}

// twoClusterBatch has 8 repetitions and 2 sweep points. Column 0 reads
// level 1 on two shots, column 1 on six.
func twoClusterBatch(t *testing.T, id string, herald bool) Batch {
	rows := make([][]int, 8)
	for r := range rows {
		rows[r] = []int{0, 0}
		if r < 2 {
			rows[r][0] = 1
		}
		if r < 6 {
			rows[r][1] = 1
		}
	}
	m := Measurement{Readout: traceFromLevels(t, rows)}
	if herald {
		zeros := make([][]int, 8)
		for r := range zeros {
			zeros[r] = []int{0, 0}
		}
		m.Heralding = traceFromLevels(t, zeros)
	}
	return Batch{id: m}
}

func TestProcess_ClassificationMatchesNormalizedWithIdentity(t *testing.T) {
	// Two channels, three levels each, identity correlation.
	s := newFakeSettings(Flags{Classification: true}, levelChannel("R3", 3), levelChannel("R4", 3))
	batch := Batch{
		"R3": {Readout: traceFromLevels(t, [][]int{{0, 2}, {1, 2}, {2, 2}, {0, 1}})},
		"R4": {Readout: traceFromLevels(t, [][]int{{1, 0}, {1, 0}, {1, 0}, {2, 0}})},
	}
	p := NewProcessor(s, WithIDGenerator(func() string { return "batch-1" }))

	res, err := p.Process(batch)
	require.NoError(t, err)
	assert.Equal(t, "batch-1", res.ID)
	assert.Equal(t, RoutineClassification, res.Routine)
	assert.Nil(t, res.Mask)
	assert.Equal(t, []string{"R3", "R4"}, res.ChannelIDs())

	for _, id := range res.ChannelIDs() {
		cr := res.Channels[id]
		require.NotNil(t, cr.Normalized)
		assert.True(t, mat.Equal(cr.Normalized.Population, cr.ToFit), "channel %s", id)
		assert.Nil(t, cr.Normalized.Mask)
	}
	testutil.AssertDenseNear(t, res.Channels["R3"].ToFit, [][]float64{
		{0.5, 0},
		{0.25, 0.25},
		{0.25, 0.75},
	}, 1e-15)
	testutil.AssertDenseNear(t, res.Channels["R4"].ToFit, [][]float64{
		{0, 1},
		{0.75, 0},
		{0.25, 0},
	}, 1e-15)
}

func TestProcess_HeraldingBalancesSweepPoints(t *testing.T) {
	// Ten repetitions, two sweep points; column 0 passes 8 heralds, column
	// 1 passes 6.
	herald := [][]int{
		{0, 1}, {0, 0}, {0, 1}, {0, 0}, {0, 1},
		{1, 0}, {0, 1}, {0, 0}, {1, 0}, {0, 0},
	}
	readoutRows := [][]int{
		{1, 1}, {1, 1}, {0, 0}, {0, 1}, {0, 0},
		{1, 0}, {1, 0}, {1, 1}, {0, 0}, {1, 0},
	}
	s := newFakeSettings(Flags{Heralding: true, Classification: true}, twoLevelChannel("R1"))
	batch := Batch{"R1": {Readout: traceFromLevels(t, readoutRows), Heralding: traceFromLevels(t, herald)}}

	res, err := NewProcessor(s).Process(batch)
	require.NoError(t, err)
	require.NotNil(t, res.Mask)
	assert.Equal(t, 6, res.Mask.NPass)
	for p := 0; p < 2; p++ {
		n := 0
		for r := 0; r < 10; r++ {
			if res.Mask.Accepted(r, p) {
				n++
			}
		}
		assert.Equal(t, 6, n, "column %d", p)
	}
	// Column 0 drops its two lowest passing repetitions.
	assert.Equal(t, readout.MaskTruncated, res.Mask.At(0, 0))
	assert.Equal(t, readout.MaskTruncated, res.Mask.At(1, 0))
	assert.Equal(t, readout.MaskPass, res.Mask.At(2, 0))

	cr := res.Channels["R1"]
	require.NotNil(t, cr.Classified.Heralding)
	assert.Same(t, res.Mask, cr.Normalized.Mask)
	// Column 0 counts rows 2,3,4,6,7,9 -> levels 0,0,0,1,1,1.
	// Column 1 counts rows 1,3,5,7,8,9 -> levels 1,1,0,1,0,0.
	testutil.AssertDenseNear(t, cr.ToFit, [][]float64{{0.5, 0.5}, {0.5, 0.5}}, 1e-15)
}

func TestProcess_HeraldingErrors(t *testing.T) {
	s := newFakeSettings(Flags{Heralding: true}, twoLevelChannel("R1"), twoLevelChannel("R2"))

	_, err := NewProcessor(s).Process(Batch{})
	var mm *readout.ChannelMismatchError
	assert.True(t, errors.As(err, &mm), "empty batch: %v", err)

	_, err = NewProcessor(s).Process(twoClusterBatch(t, "R1", false))
	assert.True(t, errors.As(err, &mm), "missing heralding: %v", err)

	// Shapes differ across channels.
	batch := twoClusterBatch(t, "R1", true)
	batch["R2"] = Measurement{
		Readout:   traceFromLevels(t, [][]int{{0, 0, 0}}),
		Heralding: traceFromLevels(t, [][]int{{0, 0, 0}}),
	}
	_, err = NewProcessor(s).Process(batch)
	assert.True(t, errors.As(err, &mm), "shape mismatch: %v", err)
}

func TestProcess_SingularCorrectionPublishesNothing(t *testing.T) {
	bad := twoLevelChannel("R2")
	bad.CorrMatrix = mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	s := newFakeSettings(Flags{Classification: true}, twoLevelChannel("R1"), bad)

	batch := twoClusterBatch(t, "R1", false)
	batch["R2"] = twoClusterBatch(t, "R2", false)["R2"]

	res, err := NewProcessor(s).Process(batch)
	assert.Nil(t, res)
	var serr *readout.SingularCorrectionMatrixError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "R2", serr.Channel)
}

func TestProcess_EmptyColumnAbortsBatch(t *testing.T) {
	s := newFakeSettings(Flags{Heralding: true}, twoLevelChannel("R1"))
	batch := Batch{"R1": {
		Readout:   traceFromLevels(t, [][]int{{0, 0}, {1, 1}}),
		Heralding: traceFromLevels(t, [][]int{{0, 1}, {0, 1}}),
	}}
	res, err := NewProcessor(s).Process(batch)
	assert.Nil(t, res)
	var empty *readout.EmptyColumnError
	assert.True(t, errors.As(err, &empty))
}

func TestProcess_Bare(t *testing.T) {
	s := newFakeSettings(Flags{}, twoLevelChannel("R1"))
	res, err := NewProcessor(s).Process(twoClusterBatch(t, "R1", false))
	require.NoError(t, err)

	cr := res.Channels["R1"]
	require.NotNil(t, cr.AutoRotation)
	assert.Nil(t, cr.Classified)
	assert.Nil(t, cr.Corrected)
	assert.InDelta(t, 0, cr.AutoRotation.Angle, 1e-9)

	rows, cols := cr.ToFit.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 2, cols)
	// Mean I per sweep point is the excited fraction; Q stays at zero.
	testutil.AssertDenseNear(t, cr.ToFit, [][]float64{{0.25, 0.75}, {0, 0}}, 1e-9)
}

func TestProcess_BareWarnsAboveTwoLevels(t *testing.T) {
	var logs []string
	monitoring.SetLogger(func(format string, v ...interface{}) { logs = append(logs, fmt.Sprintf(format, v...)) })
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	s := newFakeSettings(Flags{}, levelChannel("R1", 3))
	batch := Batch{"R1": {Readout: traceFromLevels(t, [][]int{{0, 1}, {1, 2}, {2, 0}, {0, 2}})}}
	res, err := NewProcessor(s).Process(batch)
	require.NoError(t, err)

	rows, _ := res.Channels["R1"].ToFit.Dims()
	assert.Equal(t, 2, rows)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0], "WARNING: ")
	assert.Contains(t, logs[0], "3 clusters")
}

func TestProcess_Customized(t *testing.T) {
	s := newFakeSettings(Flags{Customized: true, Heralding: true}, twoLevelChannel("R1"))

	_, err := NewProcessor(s).Process(twoClusterBatch(t, "R1", true))
	assert.ErrorIs(t, err, ErrNoCustomRoutine)

	called := false
	custom := CustomRoutineFunc(func(b Batch, set Settings) (map[string]*ChannelResult, error) {
		called = true
		assert.Same(t, s, set)
		return map[string]*ChannelResult{"R1": {Channel: "R1", ToFit: mat.NewDense(1, 1, []float64{42})}}, nil
	})
	res, err := NewProcessor(s, WithCustomRoutine(custom)).Process(twoClusterBatch(t, "R1", true))
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, RoutineCustomized, res.Routine)
	assert.Equal(t, 42.0, res.Channels["R1"].ToFit.At(0, 0))
}

func TestProcess_UnknownChannel(t *testing.T) {
	s := newFakeSettings(Flags{Classification: true})
	_, err := NewProcessor(s).Process(twoClusterBatch(t, "R9", false))
	assert.ErrorContains(t, err, "R9")
}

func TestProcess_InvalidChannelShape(t *testing.T) {
	ch := twoLevelChannel("R1")
	ch.Means = ch.Means[:1]
	s := newFakeSettings(Flags{Classification: true}, ch)
	_, err := NewProcessor(s).Process(twoClusterBatch(t, "R1", false))
	var shapeErr *readout.ConfigurationShapeError
	assert.True(t, errors.As(err, &shapeErr))
}

func TestProcess_DoesNotMutateBatch(t *testing.T) {
	s := newFakeSettings(Flags{Heralding: true}, twoLevelChannel("R1"))
	batch := twoClusterBatch(t, "R1", true)
	before := append([]complex128(nil), batch["R1"].Readout.Samples...)

	_, err := NewProcessor(s).Process(batch)
	require.NoError(t, err)
	assert.Equal(t, before, batch["R1"].Readout.Samples)
}

func TestNewProcessor_DefaultIDsAreUnique(t *testing.T) {
	s := newFakeSettings(Flags{Classification: true}, twoLevelChannel("R1"))
	p := NewProcessor(s)
	a, err := p.Process(twoClusterBatch(t, "R1", false))
	require.NoError(t, err)
	b, err := p.Process(twoClusterBatch(t, "R1", false))
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}
