// Package logging builds the slog loggers used by fetchpool.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

const timeFormat = "060102 15:04:05.000"

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// New creates a tint logger writing to w. Colors are only used when w is
// a terminal-like stdout or stderr.
func New(level string, w io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	handler := tint.NewHandler(w, &tint.Options{
		AddSource:  lvl == slog.LevelDebug,
		Level:      lvl,
		TimeFormat: timeFormat,
		NoColor:    !isConsole(w),
	})
	return slog.New(handler), nil
}

// Setup creates a logger like New and installs it as the slog default.
func Setup(level string, w io.Writer) (*slog.Logger, error) {
	logger, err := New(level, w)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

func isConsole(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || (f != os.Stdout && f != os.Stderr) {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
