package readout

import (
	"fmt"
	"slices"
)

const (
	// MaskPass marks a shot where every channel heralded the ground state.
	MaskPass = 0
	// MaskTruncated marks a passing shot dropped to balance sweep points.
	MaskTruncated = -1
)

// HeraldMask is the combined heralding verdict per shot. Values are
// MaskPass, MaskTruncated, or the positive bitwise OR of the channel labels
// for a failed herald.
type HeraldMask struct {
	Labels
	// NPass is the number of MaskPass entries in every column.
	NPass int
}

// Accepted reports whether the shot at (r, p) is counted.
func (m *HeraldMask) Accepted(r, p int) bool {
	return m.At(r, p) == MaskPass
}

// BuildHeraldMask combines per-channel heralding labels into one mask and
// truncates passing shots so every sweep point keeps the same number.
// Truncation walks each column from repetition 0 upwards.
func BuildHeraldMask(heralding map[string]*Labels) (*HeraldMask, error) {
	if len(heralding) == 0 {
		return nil, &ChannelMismatchError{Reason: "heralding mask requested with no channels"}
	}
	ids := make([]string, 0, len(heralding))
	for id := range heralding {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	first := heralding[ids[0]]
	if first == nil {
		return nil, &ChannelMismatchError{Reason: fmt.Sprintf("channel %s has no heralding labels", ids[0])}
	}
	mask := &HeraldMask{Labels: *NewLabels(first.Reps, first.Points)}
	for _, id := range ids {
		l := heralding[id]
		if l == nil {
			return nil, &ChannelMismatchError{Reason: fmt.Sprintf("channel %s has no heralding labels", id)}
		}
		if !l.sameShape(&mask.Labels) {
			return nil, &ChannelMismatchError{Reason: fmt.Sprintf("channel %s heralding shape %dx%d, want %dx%d",
				id, l.Reps, l.Points, mask.Reps, mask.Points)}
		}
		for idx, v := range l.Values {
			mask.Values[idx] |= v
		}
	}

	passes := make([]int, mask.Points)
	for r := 0; r < mask.Reps; r++ {
		for p := 0; p < mask.Points; p++ {
			if mask.At(r, p) == MaskPass {
				passes[p]++
			}
		}
	}
	mask.NPass = slices.Min(passes)

	for p, n := range passes {
		excess := n - mask.NPass
		for r := 0; r < mask.Reps && excess > 0; r++ {
			if mask.At(r, p) == MaskPass {
				mask.Set(r, p, MaskTruncated)
				excess--
			}
		}
	}
	return mask, nil
}
