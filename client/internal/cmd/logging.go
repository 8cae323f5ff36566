package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/huddle-chat/huddle/client/internal/eventbus"
)

func parseLevel(s string) slog.Level {
	switch s {
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

// newLogger builds the process logger. In TUI mode records go to logFile
// (or nowhere) and warnings are teed onto the bus for the status line;
// otherwise JSON records go to stderr so stdout stays the transcript.
func newLogger(level, logFile string, tuiMode bool, bus *eventbus.Bus) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	if !tuiMode {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), func() {}, nil
	}

	var w io.Writer = io.Discard
	closeFn := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = func() { _ = f.Close() }
	}
	inner := slog.NewJSONHandler(w, opts)
	return slog.New(eventbus.NewSlogHandler(inner, bus, slog.LevelWarn)), closeFn, nil
}
