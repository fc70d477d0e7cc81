// Package pglog is a thin structured-logging façade shared by pgpool and
// stash. It wraps zerolog rather than introducing a bespoke logging
// interface, matching the rest of the retrieval pack's preference for a
// real logging library over a hand-rolled one.
package pglog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the DEBUG/INFO/ERROR/WARN helpers
// pgpool and stash call directly, so call sites never import zerolog.
type Logger struct {
	z zerolog.Logger
}

// New returns a Logger writing human-readable output to w (os.Stderr when
// w is nil), at the given minimum level.
func New(w *os.File, level zerolog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	z := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
	return Logger{z: z}
}

// Nop returns a Logger that discards everything, for tests and callers
// that don't care about log output.
func Nop() Logger {
	return Logger{z: zerolog.Nop()}
}

// Debug logs an exec that completed under the slow-statement threshold.
func (l Logger) Debug(msg string, fields map[string]any) {
	ev := l.z.Debug()
	logFields(ev, fields)
	ev.Msg(msg)
}

// Info logs an exec at or above the slow-statement threshold, or a
// routine background-task summary.
func (l Logger) Info(msg string, fields map[string]any) {
	ev := l.z.Info()
	logFields(ev, fields)
	ev.Msg(msg)
}

// Warn logs a non-fatal background failure, e.g. a failed refill job.
func (l Logger) Warn(msg string, err error, fields map[string]any) {
	ev := l.z.Warn()
	if err != nil {
		ev = ev.Err(err)
	}
	logFields(ev, fields)
	ev.Msg(msg)
}

// Error logs a failed exec, including the SQL text and error.
func (l Logger) Error(msg string, err error, fields map[string]any) {
	ev := l.z.Error()
	if err != nil {
		ev = ev.Err(err)
	}
	logFields(ev, fields)
	ev.Msg(msg)
}

func logFields(ev *zerolog.Event, fields map[string]any) {
	for k, v := range fields {
		ev.Interface(k, v)
	}
}
