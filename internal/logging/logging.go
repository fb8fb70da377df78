// Package logging builds the process logger. Development gets key=value
// text lines, production gets one JSON object per line.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the handler used by New.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures New. Zero values mean info level, text format, stdout.
type Options struct {
	Level  string
	Format Format
	Output io.Writer
}

// ParseLevel maps debug/info/warn/error to a slog level. Anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat returns FormatJSON for "json" and FormatText otherwise.
func ParseFormat(format string) Format {
	if strings.EqualFold(strings.TrimSpace(format), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// New returns a logger tagged with service=event-board.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var h slog.Handler
	if opts.Format == FormatJSON {
		h = slog.NewJSONHandler(out, hopts)
	} else {
		h = slog.NewTextHandler(out, hopts)
	}
	return slog.New(h).With("service", "event-board")
}

// Discard is a logger that drops everything. Handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
