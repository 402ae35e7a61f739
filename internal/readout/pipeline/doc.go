// Package pipeline routes a measurement batch through exactly one readout
// routine (customized, heralding, classification or bare) and assembles the
// per-channel stage records into a Result.
//
// This package is the composition root for the readout stages: it imports
// readout and is imported by the store, plot and report adapters, never the
// other way round. A batch is never mutated; each stage returns a new value.
package pipeline
