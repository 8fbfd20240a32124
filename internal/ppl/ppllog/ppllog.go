// Package ppllog is a thin stderr logger for run diagnostics that must
// not abort the pipeline, grounded on internal/security/manager.go's
// use of the stdlib log package for best-effort audit-write failures
// (log.Printf("Failed to log ...: %v", err) rather than returning an
// error up the call chain).
package ppllog

import (
	"io"
	"log"
	"os"
)

// Logger wraps a stdlib *log.Logger with a verbosity gate.
type Logger struct {
	std     *log.Logger
	verbose bool
}

// New returns a Logger writing to w (typically os.Stderr) with no
// timestamp prefix, matching the teacher's plain diagnostic lines.
func New(w io.Writer, verbose bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{std: log.New(w, "", 0), verbose: verbose}
}

// Warnf logs a non-fatal condition that the caller chose to continue
// past (e.g. a best-effort cleanup failure).
func (l *Logger) Warnf(format string, args ...interface{}) {
	if l == nil || l.std == nil {
		return
	}
	l.std.Printf("warning: "+format, args...)
}

// Debugf logs only when verbose output was requested.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l == nil || l.std == nil || !l.verbose {
		return
	}
	l.std.Printf("debug: "+format, args...)
}
