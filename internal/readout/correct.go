package readout

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// CorrectionOptions controls the confusion-matrix solve.
type CorrectionOptions struct {
	// MaxCondition is the largest accepted condition number of the
	// correlation matrix.
	MaxCondition float64
	// AllowPseudoInverse substitutes the SVD pseudo-inverse for matrices
	// rejected as singular.
	AllowPseudoInverse bool
}

// DefaultCorrectionOptions returns the options used when nothing is
// configured.
func DefaultCorrectionOptions() CorrectionOptions {
	return CorrectionOptions{MaxCondition: 1e12}
}

// CorrectPopulation removes classification crosstalk by solving
// corrᵀ·X = observed for every sweep point column at once. Rows of corr are
// true levels, columns observed levels. Results are not clamped or
// renormalised.
func CorrectPopulation(observed, corr *mat.Dense, opts CorrectionOptions) (*mat.Dense, error) {
	n, c := corr.Dims()
	if n != c {
		return nil, fmt.Errorf("correction matrix must be square, got %dx%d", n, c)
	}
	if r, _ := observed.Dims(); r != n {
		return nil, fmt.Errorf("population has %d levels, correction matrix has %d", r, n)
	}
	if opts.MaxCondition <= 0 {
		opts.MaxCondition = DefaultCorrectionOptions().MaxCondition
	}

	var lu mat.LU
	lu.Factorize(corr)
	cond := lu.Cond()
	if math.IsNaN(cond) || math.IsInf(cond, 1) || cond > opts.MaxCondition || lu.Det() == 0 {
		if !opts.AllowPseudoInverse {
			return nil, &SingularCorrectionMatrixError{Condition: cond}
		}
		return pseudoInverseSolve(observed, corr)
	}

	var x mat.Dense
	if err := lu.SolveTo(&x, true, observed); err != nil {
		return nil, &SingularCorrectionMatrixError{Condition: cond}
	}
	return &x, nil
}

// pseudoInverseSolve returns the minimum-norm least-squares solution of
// corrᵀ·X = observed.
func pseudoInverseSolve(observed, corr *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(corr.T(), mat.SVDThin); !ok {
		return nil, &SingularCorrectionMatrixError{Condition: math.Inf(1)}
	}
	var x mat.Dense
	svd.SolveTo(&x, observed, svd.Rank(1e-12))
	return &x, nil
}
