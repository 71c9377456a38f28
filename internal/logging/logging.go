package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps LOG_LEVEL values to a slog level. Unknown values fall back to error.
func ParseLevel(l string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Init installs the default logger. Logs go to stderr unless LOG_FILE is set,
// which keeps them out of the terminal UI.
func Init() io.Closer {
	level := slog.LevelError // default: production only shows errors
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l)
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if path := os.Getenv("LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			out, closer = f, f
		}
	}

	logger := slog.New(
		slog.NewTextHandler(out, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
	return closer
}
