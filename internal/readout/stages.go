package readout

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Rotated is the output of the rotation stage. Heralding is nil when the
// routine does not herald.
type Rotated struct {
	Channel   string
	Angle     float64
	Readout   *Trace
	Heralding *Trace
}

// Classified is the output of the classification stage.
type Classified struct {
	Channel   string
	Readout   *Labels
	Heralding *Labels
}

// Normalized is the output of the normalisation stage.
type Normalized struct {
	Channel    string
	Levels     []int
	Population *mat.Dense
	// Mask is the heralding mask applied, nil when unmasked.
	Mask *HeraldMask
}

// Corrected is the output of the correction stage.
type Corrected struct {
	Channel    string
	Levels     []int
	Population *mat.Dense
}

// RotateStage rotates the readout (and heralding, if present) traces by the
// channel's calibrated angle.
func RotateStage(ch Channel, readout, heralding *Trace) Rotated {
	out := Rotated{Channel: ch.ID, Angle: ch.RotationAngle, Readout: Rotate(readout, ch.RotationAngle)}
	if heralding != nil {
		out.Heralding = Rotate(heralding, ch.RotationAngle)
	}
	return out
}

// ClassifyStage assigns levels to every rotated shot.
func ClassifyStage(ch Channel, r Rotated) (Classified, error) {
	gc, err := ch.Classifier()
	if err != nil {
		return Classified{}, err
	}
	out := Classified{Channel: ch.ID, Readout: gc.Classify(r.Readout)}
	if r.Heralding != nil {
		out.Heralding = gc.Classify(r.Heralding)
	}
	return out, nil
}

// NormalizeStage converts readout labels to populations, honouring mask when
// non-nil.
func NormalizeStage(ch Channel, c Classified, mask *HeraldMask) (Normalized, error) {
	pop, err := NormalizePopulation(c.Readout, ch.Levels, mask)
	if err != nil {
		return Normalized{}, fmt.Errorf("channel %s: %w", ch.ID, err)
	}
	return Normalized{Channel: ch.ID, Levels: ch.Levels, Population: pop, Mask: mask}, nil
}

// CorrectStage applies the channel's confusion matrix.
func CorrectStage(ch Channel, n Normalized, opts CorrectionOptions) (Corrected, error) {
	pop, err := CorrectPopulation(n.Population, ch.CorrMatrix, opts)
	if err != nil {
		var serr *SingularCorrectionMatrixError
		if errors.As(err, &serr) {
			serr.Channel = ch.ID
			return Corrected{}, serr
		}
		return Corrected{}, fmt.Errorf("channel %s: %w", ch.ID, err)
	}
	return Corrected{Channel: ch.ID, Levels: ch.Levels, Population: pop}, nil
}
