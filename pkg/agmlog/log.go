// Package agmlog puts log.Printf behind a small interface, with a
// standard-library Default and a discarding Nop, so output can be silenced
// or captured without redirecting the global logger. No other package in
// this module imports it.
package agmlog

import "log"

// Logger is the minimal logging surface this package offers.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Default wraps the standard library logger. Debugf is a no-op unless
// Verbose is set, leaving debug traces in the code but off by default.
type Default struct {
	Verbose bool
}

func (d *Default) Printf(format string, args ...interface{}) {
	log.Printf(format, args...)
}

func (d *Default) Debugf(format string, args ...interface{}) {
	if d.Verbose {
		log.Printf(format, args...)
	}
}

// Nop discards everything; useful in tests.
type Nop struct{}

func (Nop) Printf(string, ...interface{}) {}
func (Nop) Debugf(string, ...interface{}) {}
