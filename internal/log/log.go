// Package log provides simple level logging for construction-time progress
// and query-path diagnostics, adapted from the teacher repository's log
// package. The Outputter seam is kept (so an embedding application can
// redirect output) but the vlog/glog bridging commentary from the original
// is dropped along with it: this package has exactly one built-in
// Outputter, backed by the standard log package.
package log

import (
	"fmt"
	"log"
	"os"
)

// Level is a log verbosity level; lower is higher priority. If the
// outputter is logging at level L, every message with level M <= L is
// emitted.
type Level int

const (
	// Off never outputs messages.
	Off Level = -2
	// Error outputs error messages.
	Error Level = -1
	// Info outputs informational messages; the standard logging level.
	Info Level = 0
	// Debug outputs messages intended for development, including the
	// construction-time progress percentages (spec's supplemented feature).
	Debug Level = 1
)

// Outputter is a destination for leveled log output.
type Outputter interface {
	Level() Level
	Output(calldepth int, level Level, s string) error
}

type stdOutputter struct {
	level Level
	l     *log.Logger
}

func (s stdOutputter) Level() Level { return s.level }

func (s stdOutputter) Output(calldepth int, level Level, msg string) error {
	if level > s.level {
		return nil
	}
	return s.l.Output(calldepth+1, msg)
}

var out Outputter = stdOutputter{level: Info, l: log.New(os.Stderr, "", log.LstdFlags)}

// SetOutputter installs a new outputter, returning the previous one. Not
// safe to call concurrently with logging; intended for program init.
func SetOutputter(o Outputter) Outputter {
	old := out
	out = o
	return old
}

// At reports whether the logger is currently emitting at the given level.
func At(level Level) bool { return level <= out.Level() }

// Print formats a message in the manner of fmt.Sprint and outputs it at
// level l.
func (l Level) Print(v ...interface{}) {
	if At(l) {
		_ = out.Output(2, l, fmt.Sprint(v...))
	}
}

// Printf formats a message in the manner of fmt.Sprintf and outputs it at
// level l.
func (l Level) Printf(format string, v ...interface{}) {
	if At(l) {
		_ = out.Output(2, l, fmt.Sprintf(format, v...))
	}
}

// Print formats a message in the manner of fmt.Sprint and outputs it at
// the Info level.
func Print(v ...interface{}) { Info.Print(v...) }

// Printf formats a message in the manner of fmt.Sprintf and outputs it at
// the Info level.
func Printf(format string, v ...interface{}) { Info.Printf(format, v...) }
