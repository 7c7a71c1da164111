// Package logging provides structured logging for slotline.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig configures an optional rotating log file.
type FileConfig struct {
	Path       string // Empty disables file logging
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewLogger creates a new structured logger with the specified level and format.
// Supported levels: debug, info, warn, error
// Supported formats: text, json
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithFile creates a logger that writes to stderr and, when
// file.Path is set, to a size-rotated log file. The returned closer releases
// the file and is never nil.
func NewLoggerWithFile(level, format string, file FileConfig) (*slog.Logger, io.Closer) {
	if file.Path == "" {
		return NewLogger(level, format), nopCloser{}
	}

	fw := NewFileWriter(file)
	return NewLoggerWithWriter(level, format, io.MultiWriter(os.Stderr, fw)), fw
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewFileWriter returns a writer that rotates the log file once it reaches
// MaxSizeMB megabytes.
func NewFileWriter(file FileConfig) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
	}
}

// NewLoggerWithWriter creates a new structured logger with a custom writer.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common attribute keys for consistent logging.
const (
	KeyComponent  = "component"
	KeyAddress    = "address"
	KeyRemoteAddr = "remote_addr"
	KeyLocalAddr  = "local_addr"
	KeySlot       = "slot"
	KeyClass      = "class"
	KeyStatus     = "status"
	KeyListener   = "listener"
	KeyBytes      = "bytes"
	KeyCount      = "count"
	KeyDuration   = "duration"
	KeyError      = "error"
)
