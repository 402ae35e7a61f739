package readout

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// gaussianCluster is one precomputed level of the classifier.
type gaussianCluster struct {
	level   int
	mean    *mat.VecDense
	inv     *mat.SymDense
	halfLog float64 // ½·log|Σ|
}

// GaussianClassifier assigns IQ points to the readout level with the highest
// Gaussian log-likelihood under fixed, equally weighted clusters.
type GaussianClassifier struct {
	clusters []gaussianCluster
}

// NewGaussianClassifier builds a classifier from per-level means and
// covariances. levels, means and covs must have the same length and order.
func NewGaussianClassifier(levels []int, means [][2]float64, covs []Covariance) (*GaussianClassifier, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("classifier needs at least one level")
	}
	if len(means) != len(levels) || len(covs) != len(levels) {
		return nil, fmt.Errorf("classifier got %d levels, %d means, %d covariances", len(levels), len(means), len(covs))
	}

	gc := &GaussianClassifier{clusters: make([]gaussianCluster, len(levels))}
	for k := range levels {
		var chol mat.Cholesky
		if ok := chol.Factorize(covs[k].SymDense()); !ok {
			return nil, fmt.Errorf("covariance for level %d is not positive definite", levels[k])
		}
		var inv mat.SymDense
		if err := chol.InverseTo(&inv); err != nil {
			return nil, fmt.Errorf("invert covariance for level %d: %w", levels[k], err)
		}
		gc.clusters[k] = gaussianCluster{
			level:   levels[k],
			mean:    mat.NewVecDense(2, []float64{means[k][0], means[k][1]}),
			inv:     &inv,
			halfLog: 0.5 * chol.LogDet(),
		}
	}
	return gc, nil
}

// Predict returns the level value for the point (i, q). Ties go to the
// lowest level index.
func (gc *GaussianClassifier) Predict(i, q float64) int {
	x := mat.NewVecDense(2, []float64{i, q})
	d := mat.NewVecDense(2, nil)

	best := gc.clusters[0].level
	bestScore := math.Inf(-1)
	for _, c := range gc.clusters {
		d.SubVec(x, c.mean)
		score := -0.5*mat.Inner(d, c.inv, d) - c.halfLog
		if score > bestScore {
			bestScore = score
			best = c.level
		}
	}
	return best
}

// Classify assigns a level to every sample of a rotated trace.
func (gc *GaussianClassifier) Classify(t *Trace) *Labels {
	out := NewLabels(t.Reps, t.Points)
	for idx, s := range t.Samples {
		out.Values[idx] = gc.Predict(real(s), imag(s))
	}
	return out
}

// Classifier builds the Gaussian classifier for a channel's calibration.
func (c Channel) Classifier() (*GaussianClassifier, error) {
	gc, err := NewGaussianClassifier(c.Levels, c.Means, c.Covariances)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", c.ID, err)
	}
	return gc, nil
}
