package internal

import (
	"io"
	"log/slog"
)

// NewLogger builds the process-wide slog.Logger. Development gets the
// human-readable text handler; every other environment emits JSON so log
// aggregation can parse the structured fields (account_id, external_ref,
// and friends) that the services attach.
func NewLogger(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	if env == "development" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// parseLevel maps the LOG_LEVEL config string onto a slog level,
// defaulting to info for anything unrecognized.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
