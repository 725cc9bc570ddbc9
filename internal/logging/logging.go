// Package logging wires the process-wide structured logging facade: a
// github.com/joeycumines/logiface Logger bound to a zerolog writer via
// github.com/joeycumines/izerolog. Components take a *Logger as a
// constructor argument rather than reaching for a package-global, so tests
// can substitute their own zerolog.Logger sink.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Event is the concrete logiface event type used throughout isolator.
type Event = izerolog.Event

// Logger is the structured logger type every long-lived component holds.
type Logger = logiface.Logger[*Event]

// New builds a Logger writing newline-delimited JSON to w at the given
// minimum level.
func New(w io.Writer, level logiface.Level) *Logger {
	zl := zerolog.New(w).With().Timestamp().Logger()
	return logiface.New[*Event](
		izerolog.WithZerolog(zl),
		logiface.WithLevel[*Event](level),
	)
}

// NewStdout builds a Logger writing to os.Stdout, the default for
// cmd/isolatord.
func NewStdout(level logiface.Level) *Logger {
	return New(os.Stdout, level)
}

// NewTest builds a Logger writing to w (typically a *testing.T-backed
// writer or a bytes.Buffer) at Trace level, so tests observe every field.
func NewTest(w io.Writer) *Logger {
	return New(w, logiface.LevelTrace)
}

// Nop returns a Logger that discards everything, for call sites (tests,
// small helpers) that don't need to assert on log output.
func Nop() *Logger {
	return New(io.Discard, logiface.LevelDisabled)
}

// ParseLevel maps a config string onto a logiface.Level, defaulting to
// LevelInformational for anything unrecognised.
func ParseLevel(s string) logiface.Level {
	switch s {
	case "disabled", "off":
		return logiface.LevelDisabled
	case "error":
		return logiface.LevelError
	case "warn", "warning":
		return logiface.LevelWarning
	case "info", "":
		return logiface.LevelInformational
	case "debug":
		return logiface.LevelDebug
	case "trace":
		return logiface.LevelTrace
	default:
		return logiface.LevelInformational
	}
}
