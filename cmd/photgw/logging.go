package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/c360/photgw/logging"
)

// setupLogging builds the base handler and the level registry over it. The
// base handler passes everything; each registered logger filters on its own
// level, which starts at the command-line level.
func setupLogging(level, format string, w io.Writer) (*logging.Levels, *slog.Logger) {
	fallback, err := logging.ParseLevel(level)
	if err != nil {
		fallback = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: fallback <= slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", appName),
		slog.String("version", Version),
		slog.Int("pid", os.Getpid()),
	})

	levels := logging.New(handler, fallback)
	return levels, levels.Component(logging.Main)
}
