package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Configure installs the default logger on stderr. Stdout carries the run report.
func Configure(levelStr string, env string) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, levelStr, env)))
}

// NewHandler builds the handler Configure installs. Colour output is only
// enabled when w is a terminal.
func NewHandler(w io.Writer, levelStr string, env string) slog.Handler {
	level := parseLogLevel(levelStr)
	if env == "dev" || env == "development" {
		return tint.NewHandler(w, &tint.Options{Level: level, NoColor: !isTerminal(w)})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
