// Package testlog creates hclog loggers backed by testing.T to ease logging
// in tests.
package testlog

import (
	"io"
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

// LogPrinter is the methods of testing.T (or testing.B) needed by the test
// logger.
type LogPrinter interface {
	Logf(format string, args ...interface{})
}

// writer implements io.Writer on top of a LogPrinter.
type writer struct {
	t LogPrinter
}

// Write to an underlying LogPrinter. Never returns an error.
func (w *writer) Write(p []byte) (n int, err error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// NewWriter creates a new io.Writer backed by a LogPrinter.
func NewWriter(t LogPrinter) io.Writer {
	return &writer{t}
}

// HCLogger returns a new test logger with the Debug level unless
// STRATA_TEST_LOG_LEVEL is set.
func HCLogger(t LogPrinter) hclog.Logger {
	level := "debug"
	if envLogLevel := os.Getenv("STRATA_TEST_LOG_LEVEL"); envLogLevel != "" {
		level = envLogLevel
	}
	opts := &hclog.LoggerOptions{
		Level:  hclog.LevelFromString(level),
		Output: NewWriter(t),
	}
	return hclog.New(opts)
}
