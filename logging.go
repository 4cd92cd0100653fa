package engine

import (
	"io"
	"log/slog"
)

// nopLogger discards all output. Subsystems default to this so a nil
// *slog.Logger option never panics, matching the teacher's postgres store
// convention of falling back to a no-op logger.
var nopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// orNop returns l, or nopLogger if l is nil.
func orNop(l *slog.Logger) *slog.Logger {
	if l == nil {
		return nopLogger
	}
	return l
}
