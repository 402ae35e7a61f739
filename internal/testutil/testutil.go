// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the grid builders and numeric comparisons used by
// the readout tests. It deliberately imports nothing from the readout
// packages so their internal tests can use it.
package testutil

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ComplexGrid flattens rows (repetitions) of complex samples into the
// row-major layout used by readout traces.
func ComplexGrid(rows [][]complex128) (reps, points int, samples []complex128) {
	reps = len(rows)
	if reps == 0 {
		return 0, 0, nil
	}
	points = len(rows[0])
	for _, r := range rows {
		samples = append(samples, r...)
	}
	return reps, points, samples
}

// IntGrid flattens rows of integer labels.
func IntGrid(rows [][]int) (reps, points int, values []int) {
	reps = len(rows)
	if reps == 0 {
		return 0, 0, nil
	}
	points = len(rows[0])
	for _, r := range rows {
		values = append(values, r...)
	}
	return reps, points, values
}

// AssertDenseNear checks got against want elementwise within tol.
func AssertDenseNear(t *testing.T, got mat.Matrix, want [][]float64, tol float64) {
	t.Helper()
	r, c := got.Dims()
	if r != len(want) || (r > 0 && c != len(want[0])) {
		t.Fatalf("dims = %dx%d, want %dx%d", r, c, len(want), len(want[0]))
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if g := got.At(i, j); math.Abs(g-want[i][j]) > tol {
				t.Errorf("[%d][%d] = %v, want %v (tol %g)", i, j, g, want[i][j], tol)
			}
		}
	}
}
