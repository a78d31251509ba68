package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a structured logger writing to w.
// level: "debug", "info", "warn", "error" (default "info").
// format: "json" or "text" (default "json").
func New(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
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

	var h slog.Handler
	if strings.ToLower(format) == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return slog.New(h)
}

// Output picks the log destination: debugFile when set and openable,
// stderr otherwise. The returned close func is never nil.
func Output(debugFile string) (io.Writer, func() error) {
	p := strings.TrimSpace(debugFile)
	if p == "" {
		return os.Stderr, func() error { return nil }
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "screencastd debug log open failed: %v\n", err)
		return os.Stderr, func() error { return nil }
	}
	return f, f.Close
}

// Level returns "debug" when debug is forced, level otherwise.
func Level(level string, debug bool) string {
	if debug {
		return "debug"
	}
	return level
}
