package readout

import (
	"gonum.org/v1/gonum/mat"
)

// Covariance is a symmetric 2×2 covariance in the IQ plane.
type Covariance struct {
	II float64
	IQ float64
	QQ float64
}

// IsotropicCovariance returns variance·I.
func IsotropicCovariance(variance float64) Covariance {
	return Covariance{II: variance, QQ: variance}
}

// SymDense returns the covariance as a gonum symmetric matrix.
func (c Covariance) SymDense() *mat.SymDense {
	return mat.NewSymDense(2, []float64{c.II, c.IQ, c.IQ, c.QQ})
}

// Channel carries the read-only calibration of one detector channel.
type Channel struct {
	ID            string
	RotationAngle float64
	// Levels is the sorted set of readout level values. Means,
	// Covariances and CorrMatrix rows/columns follow the same order.
	Levels      []int
	Means       [][2]float64
	Covariances []Covariance
	// CorrMatrix[i][j] is the probability of observing level j when the
	// true level is i.
	CorrMatrix *mat.Dense
}

// NLevels returns the number of readout levels.
func (c Channel) NLevels() int { return len(c.Levels) }

// LowestLevel returns the smallest readout level, or 0 with no levels.
func (c Channel) LowestLevel() int {
	if len(c.Levels) == 0 {
		return 0
	}
	return c.Levels[0]
}

// HighestLevel returns the largest readout level, or 0 with no levels.
func (c Channel) HighestLevel() int {
	if len(c.Levels) == 0 {
		return 0
	}
	return c.Levels[len(c.Levels)-1]
}

// Validate checks the level-count invariant across means, covariances and
// the correlation matrix.
func (c Channel) Validate() error {
	var rows, cols int
	if c.CorrMatrix != nil {
		rows, cols = c.CorrMatrix.Dims()
	}
	n := c.NLevels()
	if n == 0 || len(c.Means) != n || len(c.Covariances) != n || rows != n || cols != n {
		return &ConfigurationShapeError{
			Channel:      c.ID,
			NLevels:      n,
			NMeans:       len(c.Means),
			NCovariances: len(c.Covariances),
			CorrRows:     rows,
			CorrCols:     cols,
		}
	}
	return nil
}

// DefaultChannelMatrices returns the degenerate calibration used when a
// channel's configured matrices do not match its level count: unit
// isotropic covariances, means at (i, i) and an identity correlation matrix.
func DefaultChannelMatrices(n int) (means [][2]float64, covs []Covariance, corr *mat.Dense) {
	if n <= 0 {
		return nil, nil, nil
	}
	means = make([][2]float64, n)
	covs = make([]Covariance, n)
	corr = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		means[i] = [2]float64{float64(i), float64(i)}
		covs[i] = IsotropicCovariance(1)
		corr.Set(i, i, 1)
	}
	return means, covs, corr
}
