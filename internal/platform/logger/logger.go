package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the handler, level and optional rotated log file.
type Options struct {
	Format    string // "json" or "text"
	Level     string // debug, info, warn, error
	File      string
	MaxSizeMB int
}

// New returns a structured logger writing to stdout and, when File is set,
// to a size-rotated file. The returned closer releases the file.
func New(opts Options) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: 5,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotated)
		closer = rotated
	}
	return NewWithWriter(out, opts.Format, opts.Level), closer
}

// NewWithWriter builds the logger on an explicit destination.
func NewWithWriter(w io.Writer, format, level string) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}
	return slog.New(handler).With("service", "civic-ledger")
}

// ParseLevel maps a level name to slog; unknown names fall back to info.
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
