// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/masahif/pageprobe/internal/config"
)

// Supported handler formats
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config represents the logging configuration
type Config struct {
	Level      slog.Level
	Format     string
	FilePath   string
	MaxSize    int64 // MB
	MaxBackups int
	Console    bool
	// ConsoleWriter overrides the console destination, stderr by default.
	// Stdout is reserved for the report.
	ConsoleWriter io.Writer
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() *Config {
	return &Config{
		Level:      slog.LevelInfo,
		Format:     FormatJSON,
		MaxSize:    100,
		MaxBackups: 5,
		Console:    true,
	}
}

// FromProbeConfig builds a logging configuration from the log section
func FromProbeConfig(lc config.LogConfig) Config {
	cfg := *DefaultConfig()
	cfg.Level = ParseLevel(lc.Level)
	cfg.Format = ParseFormat(lc.Format)
	cfg.FilePath = lc.File
	return cfg
}

// ParseLevel converts a string log level to slog.Level
func ParseLevel(level string) slog.Level {
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

// ParseFormat normalises a handler format name; anything unknown is json
func ParseFormat(format string) string {
	if strings.EqualFold(strings.TrimSpace(format), FormatText) {
		return FormatText
	}
	return FormatJSON
}

// NewLogger creates a new logger with the given configuration. The returned
// closer releases the log file, if any.
func NewLogger(cfg Config) (*slog.Logger, io.Closer, error) {
	var (
		writers []io.Writer
		closer  io.Closer = nopCloser{}
	)

	if cfg.Console {
		console := cfg.ConsoleWriter
		if console == nil {
			console = os.Stderr
		}
		writers = append(writers, console)
	}

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, nil, err
		}

		fileWriter, err := NewRotatingFileWriter(cfg.FilePath, cfg.MaxSize*1024*1024, cfg.MaxBackups)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, fileWriter)
		closer = fileWriter
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	if cfg.Format == FormatText {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	return slog.New(handler), closer, nil
}

// SetDefault creates a logger and installs it as the slog default
func SetDefault(cfg Config) (io.Closer, error) {
	logger, closer, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
