// Package output handles human-readable console progress reporting for the
// engine's CLI commands. It is separate from the structured zap logger used
// by the scheduler harness and processors: Progress is for operator-facing
// output (the cmd/engine run command's startup and shutdown lines), not for
// cycle diagnostics.
package output

import (
	"fmt"
	"os"
	"time"
)

// Progress reports collection status to stderr.
type Progress struct {
	enabled bool
	verbose bool
	start   time.Time
}

// NewProgress creates a Progress reporter. Set enabled=false for --quiet mode.
func NewProgress(enabled bool) *Progress {
	return &Progress{
		enabled: enabled,
		start:   time.Now(),
	}
}

// NewVerboseProgress creates a Progress reporter with Debug output control.
// verbose=true implies enabled regardless of the enabled argument, matching
// "-v forces progress output on even under --quiet".
func NewVerboseProgress(enabled, verbose bool) *Progress {
	return &Progress{
		enabled: enabled || verbose,
		verbose: verbose,
		start:   time.Now(),
	}
}

// Log prints a progress message to stderr if enabled.
func (p *Progress) Log(format string, args ...interface{}) {
	if !p.enabled {
		return
	}
	elapsed := time.Since(p.start).Round(time.Millisecond)
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "[%s] %s\n", elapsed, msg)
}

// Debug prints a message only when verbose mode is on.
func (p *Progress) Debug(format string, args ...interface{}) {
	if !p.verbose {
		return
	}
	elapsed := time.Since(p.start).Round(time.Millisecond)
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "[%s] DEBUG: %s\n", elapsed, msg)
}
