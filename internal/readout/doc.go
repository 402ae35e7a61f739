// Package readout turns heterodyned IQ traces into per-level population
// estimates.
//
// Responsibilities: phase-plane rotation, Gaussian level assignment,
// data-driven mixture fitting for uncalibrated channels, heralding mask
// construction across channels, population normalisation and confusion
// matrix correction.
//
// Every operation here is a pure function over in-memory values. Stage
// records (Rotated, Classified, Normalized, Corrected) are returned as new
// values and never mutated afterwards. Composition lives in the pipeline
// subpackage; storage and rendering adapters live in store, plot and report.
//
// Array layout: traces, labels and masks are repetitions × sweep points,
// row-major. Population matrices are levels × sweep points.
package readout
