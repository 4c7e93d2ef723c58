// Package logging provides the structured logger used across extractd.
//
// The logger wraps zap with context-aware methods: correlation fields
// (document, run, step kind, trace) are carried on the context and attached
// to every record automatically.
package logging

import (
	"context"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
)

// Config controls logger construction.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
	// Fields are constant fields attached to every record.
	Fields map[string]string `koanf:"fields"`
}

// DefaultConfig returns production defaults: info-level JSON output.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
	}
}

// Logger wraps zap with context-aware methods.
type Logger struct {
	zap *zap.Logger
}

// New creates a logger from config writing to stdout only.
func New(cfg Config) (*Logger, error) {
	return NewWithProvider(cfg, nil)
}

// NewWithProvider creates a logger from config. When otelProvider is
// non-nil the stdout core is teed with an otelzap core so records also flow
// to the OTLP log pipeline alongside traces and metrics.
func NewWithProvider(cfg Config, otelProvider log.LoggerProvider) (*Logger, error) {
	core, err := newCore(cfg, otelProvider)
	if err != nil {
		return nil, err
	}

	zapLogger := zap.New(core, zap.AddCaller())

	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		zapLogger = zapLogger.With(fields...)
	}

	return &Logger{zap: zapLogger}, nil
}

// NewNop returns a logger that discards everything. Intended for tests.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// Debug logs at debug level with context correlation fields.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Debug(msg, append(ContextFields(ctx), fields...)...)
}

// Info logs at info level with context correlation fields.
func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Info(msg, append(ContextFields(ctx), fields...)...)
}

// Warn logs at warn level with context correlation fields.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Warn(msg, append(ContextFields(ctx), fields...)...)
}

// Error logs at error level with context correlation fields.
func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Error(msg, append(ContextFields(ctx), fields...)...)
}

// Zap exposes the underlying zap logger for components that integrate with
// zap directly (for example the HTTP request logger).
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// Sync flushes buffered records.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}
