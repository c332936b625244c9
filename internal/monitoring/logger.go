package monitoring

import (
	"log"
	"time"

	"golang.org/x/time/rate"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Throttled returns a logger that forwards its first call to Logf and then
// at most one call per interval. Calls in between are dropped.
func Throttled(interval time.Duration) func(format string, v ...interface{}) {
	s := &rate.Sometimes{First: 1, Interval: interval}
	return func(format string, v ...interface{}) {
		s.Do(func() { Logf(format, v...) })
	}
}
