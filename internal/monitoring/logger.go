package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose toggles Debugf output. Evaluation runs log every pass and every
// image pair at debug level, which is too chatty for long batch jobs.
func SetVerbose(on bool) {
	verbose.Store(on)
}

// Verbose reports whether debug logging is enabled.
func Verbose() bool {
	return verbose.Load()
}

// Debugf logs through Logf only when verbose logging is enabled.
func Debugf(format string, v ...interface{}) {
	if !verbose.Load() {
		return
	}
	Logf("[debug] "+format, v...)
}

// Warnf logs a recoverable anomaly. Processing continues after a warning.
func Warnf(format string, v ...interface{}) {
	Logf("warning: "+format, v...)
}
