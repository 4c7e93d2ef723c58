package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newCore builds the zap core: a stdout core in the configured encoding,
// teed with an otelzap core when a log provider is available.
func newCore(cfg Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	encoder, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	stdoutCore := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(level))
	if otelProvider == nil {
		return stdoutCore, nil
	}

	otelCore := otelzap.NewCore("extractd",
		otelzap.WithLoggerProvider(otelProvider),
	)
	return zapcore.NewTee(stdoutCore, otelCore), nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	ecfg := zap.NewProductionEncoderConfig()
	ecfg.TimeKey = "ts"
	ecfg.EncodeTime = zapcore.ISO8601TimeEncoder

	switch format {
	case "json":
		return zapcore.NewJSONEncoder(ecfg), nil
	case "console":
		ecfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(ecfg), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}
