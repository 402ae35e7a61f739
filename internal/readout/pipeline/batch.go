package pipeline

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/banshee-data/readout/internal/fsutil"
	"github.com/banshee-data/readout/internal/readout"
)

// Measurement holds the raw traces acquired for one channel.
type Measurement struct {
	Readout   *readout.Trace
	Heralding *readout.Trace
}

// Batch maps channel ids to their raw traces for one acquisition.
type Batch map[string]Measurement

// ChannelIDs returns the batch's channel ids in sorted order.
func (b Batch) ChannelIDs() []string {
	ids := make([]string, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// traceJSON is the on-disk layout of a trace: shape plus separate I and Q
// arrays, row-major.
type traceJSON struct {
	Reps   int       `json:"reps"`
	Points int       `json:"points"`
	I      []float64 `json:"i"`
	Q      []float64 `json:"q"`
}

type measurementJSON struct {
	Readout   *traceJSON `json:"Heterodyned_readout"`
	Heralding *traceJSON `json:"Heterodyned_heralding,omitempty"`
}

// maxBatchFileSize bounds batch files read from disk.
const maxBatchFileSize = 256 * 1024 * 1024

// LoadBatch reads a JSON batch file.
func LoadBatch(fsys fsutil.FileSystem, path string) (Batch, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("batch file must have .json extension, got %q", ext)
	}
	info, err := fsys.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat batch file: %w", err)
	}
	if info.Size() > maxBatchFileSize {
		return nil, fmt.Errorf("batch file too large: %d bytes (max %d)", info.Size(), maxBatchFileSize)
	}
	data, err := fsys.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	return DecodeBatch(data)
}

// DecodeBatch parses a JSON batch.
func DecodeBatch(data []byte) (Batch, error) {
	var raw map[string]measurementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse batch JSON: %w", err)
	}
	b := make(Batch, len(raw))
	for id, m := range raw {
		if m.Readout == nil {
			return nil, fmt.Errorf("channel %s: missing Heterodyned_readout", id)
		}
		ro, err := m.Readout.trace()
		if err != nil {
			return nil, fmt.Errorf("channel %s readout: %w", id, err)
		}
		meas := Measurement{Readout: ro}
		if m.Heralding != nil {
			if meas.Heralding, err = m.Heralding.trace(); err != nil {
				return nil, fmt.Errorf("channel %s heralding: %w", id, err)
			}
		}
		b[id] = meas
	}
	return b, nil
}

// EncodeBatch serialises a batch in the layout DecodeBatch reads.
func EncodeBatch(b Batch) ([]byte, error) {
	raw := make(map[string]measurementJSON, len(b))
	for id, m := range b {
		if m.Readout == nil {
			return nil, fmt.Errorf("channel %s: missing readout trace", id)
		}
		mj := measurementJSON{Readout: toTraceJSON(m.Readout)}
		if m.Heralding != nil {
			mj.Heralding = toTraceJSON(m.Heralding)
		}
		raw[id] = mj
	}
	return json.MarshalIndent(raw, "", "  ")
}

func (tj *traceJSON) trace() (*readout.Trace, error) {
	if len(tj.I) != len(tj.Q) {
		return nil, fmt.Errorf("i has %d values, q has %d", len(tj.I), len(tj.Q))
	}
	samples := make([]complex128, len(tj.I))
	for k := range samples {
		samples[k] = complex(tj.I[k], tj.Q[k])
	}
	return readout.NewTrace(tj.Reps, tj.Points, samples)
}

func toTraceJSON(t *readout.Trace) *traceJSON {
	tj := &traceJSON{Reps: t.Reps, Points: t.Points, I: make([]float64, len(t.Samples)), Q: make([]float64, len(t.Samples))}
	for k, s := range t.Samples {
		tj.I[k], tj.Q[k] = real(s), imag(s)
	}
	return tj
}
