// Package logutil keeps *slog.Logger optional across the codebase.
// Constructors take a logger but never require one; callers that do not
// care about output pass nil and get a discard logger back.
package logutil

import (
	"io"
	"log/slog"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Noop returns a logger that discards everything. Handy in tests and
// for collaborators whose logging would only be noise.
func Noop() *slog.Logger { return discard }

// NoopIfNil normalizes an optional logger. Every constructor that
// accepts *slog.Logger runs its argument through this first.
func NoopIfNil(l *slog.Logger) *slog.Logger {
	if l == nil {
		return discard
	}
	return l
}
