package logger

import (
	"io"
	"log/slog"
)

// replaceAttr renders the built-in level attribute as "severity"
// with our TRACE/DEBUG/INFO/WARNING/ERROR vocabulary instead of slog's
// default DEBUG/INFO/WARN/ERROR names.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, _ := a.Value.Any().(slog.Level)
		return slog.String("severity", severityFromLevel(level))
	}
	return a
}

func newTextHandler(w io.Writer, level *slog.LevelVar) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	})
}

func newJSONHandler(w io.Writer, level *slog.LevelVar) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	})
}
