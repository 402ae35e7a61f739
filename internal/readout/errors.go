package readout

import "fmt"

// ConfigurationShapeError reports a channel whose IQ matrices disagree with
// its readout level count.
type ConfigurationShapeError struct {
	Channel      string
	NLevels      int
	NMeans       int
	NCovariances int
	CorrRows     int
	CorrCols     int
}

func (e *ConfigurationShapeError) Error() string {
	return fmt.Sprintf("channel %s: IQ matrices incompatible with %d readout levels (means=%d covariances=%d corr_matrix=%dx%d)",
		e.Channel, e.NLevels, e.NMeans, e.NCovariances, e.CorrRows, e.CorrCols)
}

// EmptyColumnError reports a sweep point with no countable shots after
// masking.
type EmptyColumnError struct {
	Column int
}

func (e *EmptyColumnError) Error() string {
	return fmt.Sprintf("sweep point %d has no countable shots", e.Column)
}

// SingularCorrectionMatrixError reports a confusion matrix that cannot be
// inverted reliably.
type SingularCorrectionMatrixError struct {
	Channel   string
	Condition float64
}

func (e *SingularCorrectionMatrixError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("correction matrix is singular (condition number %g)", e.Condition)
	}
	return fmt.Sprintf("channel %s: correction matrix is singular (condition number %g)", e.Channel, e.Condition)
}

// ChannelMismatchError reports a missing channel set or channels whose
// shot/sweep shapes disagree.
type ChannelMismatchError struct {
	Reason string
}

func (e *ChannelMismatchError) Error() string {
	return "channel mismatch: " + e.Reason
}
