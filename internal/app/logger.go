package app

import (
	"io"
	"log/slog"
)

// newLogger builds the application's isolated slog.Logger writing to w. It
// never touches the global default: the bundle JSON owns the output writer,
// so every diagnostic has to go through this instance's log writer to keep
// the two streams separate.
func newLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
