// Package logging builds the zap log sink used by the watchdog and the
// operator commands, and owns age-based retention of old log files.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SeverityKey carries the sink severity for entries zap has no level for.
const SeverityKey = "severity"

// Options configures New.
type Options struct {
	Path   string // Log file; empty logs to stderr only
	Level  string // debug, info, warn, error
	Stderr bool   // Also write to stderr
}

// New creates a production zap logger writing JSON lines to the log file.
func New(opts Options) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Sampling = nil

	if opts.Level != "" {
		level, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		config.Level = level
	}

	config.OutputPaths = nil
	config.ErrorOutputPaths = []string{"stderr"}
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		config.OutputPaths = append(config.OutputPaths, opts.Path)
	}
	if opts.Stderr || opts.Path == "" {
		config.OutputPaths = append(config.OutputPaths, "stderr")
	}

	return config.Build()
}

// NewOrFallback is New, falling back to a stderr production logger when
// the file cannot be opened.
func NewOrFallback(opts Options) *zap.Logger {
	logger, err := New(opts)
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("file logging unavailable, using stderr", zap.Error(err))
	}
	return logger
}

// Success logs at info level tagged with severity=success.
func Success(logger *zap.Logger, msg string, fields ...zap.Field) {
	logger.Info(msg, append(fields, zap.String(SeverityKey, "success"))...)
}
