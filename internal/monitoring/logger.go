// Package monitoring holds the diagnostic logging hooks shared by the
// readout packages.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger so tests can capture or mute pipeline output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil sets a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs an operator-facing warning, such as a configuration repair
// that has not been saved yet.
func Warnf(format string, v ...interface{}) {
	Logf("WARNING: "+format, v...)
}
