// Package logging builds the zap loggers used across rtap.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Supported log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ServiceName is attached to every logger as the "service" field.
const ServiceName = "rtap"

// New builds a logger for the given format. "json" yields a production JSON
// logger and "text" (or empty) a console logger. The extra fields are
// attached to every entry.
func New(format string, fields ...zap.Field) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(format) {
	case FormatJSON:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case FormatText, "":
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
	cfg.DisableCaller = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.With(append([]zap.Field{zap.String("service", ServiceName)}, fields...)...), nil
}

// Component returns a child logger tagged with component=name.
func Component(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String("component", name))
}
