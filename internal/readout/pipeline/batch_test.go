package pipeline

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/readout/internal/fsutil"
)

const sampleBatch = `{
  "R3": {
    "Heterodyned_readout": {"reps": 2, "points": 2, "i": [0.1, 1.2, 0.0, 0.9], "q": [0.0, -0.1, 0.2, 0.1]},
    "Heterodyned_heralding": {"reps": 2, "points": 2, "i": [0, 0, 0, 1], "q": [0, 0, 0, 0]}
  },
  "R4": {
    "Heterodyned_readout": {"reps": 2, "points": 2, "i": [1, 1, 1, 1], "q": [2, 2, 2, 2]}
  }
}`

func TestDecodeBatch(t *testing.T) {
	b, err := DecodeBatch([]byte(sampleBatch))
	require.NoError(t, err)
	assert.Equal(t, []string{"R3", "R4"}, b.ChannelIDs())

	r3 := b["R3"]
	require.NotNil(t, r3.Heralding)
	assert.Equal(t, complex(1.2, -0.1), r3.Readout.At(0, 1))
	assert.Equal(t, complex(1, 0), r3.Heralding.At(1, 1))
	assert.Nil(t, b["R4"].Heralding)
}

func TestEncodeBatch_RoundTrip(t *testing.T) {
	b, err := DecodeBatch([]byte(sampleBatch))
	require.NoError(t, err)
	data, err := EncodeBatch(b)
	require.NoError(t, err)
	back, err := DecodeBatch(data)
	require.NoError(t, err)
	if diff := cmp.Diff(b, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeBatch_Errors(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"missing readout": `{"R1": {}}`,
		"iq length":       `{"R1": {"Heterodyned_readout": {"reps": 1, "points": 2, "i": [0, 1], "q": [0]}}}`,
		"shape":           `{"R1": {"Heterodyned_readout": {"reps": 2, "points": 2, "i": [0, 1], "q": [0, 1]}}}`,
		"shape overflow":  `{"R1": {"Heterodyned_readout": {"reps": 4294967296, "points": 4294967296, "i": [], "q": []}}}`,
		"heralding shape": `{"R1": {"Heterodyned_readout": {"reps": 1, "points": 1, "i": [0], "q": [0]}, "Heterodyned_heralding": {"reps": 1, "points": 2, "i": [0], "q": [0]}}}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeBatch([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestEncodeBatch_MissingReadout(t *testing.T) {
	_, err := EncodeBatch(Batch{"R1": {}})
	assert.ErrorContains(t, err, "R1")
}

func TestLoadBatch(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("data/batch.json", []byte(sampleBatch), 0o644))
	require.NoError(t, fs.WriteFile("data/batch.txt", []byte(sampleBatch), 0o644))

	b, err := LoadBatch(fs, "data/../data/batch.json")
	require.NoError(t, err)
	assert.Len(t, b, 2)

	_, err = LoadBatch(fs, "data/batch.txt")
	assert.ErrorContains(t, err, ".json")

	_, err = LoadBatch(fs, "data/missing.json")
	assert.Error(t, err)
}
