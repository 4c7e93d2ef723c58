// Package telemetry provides OpenTelemetry instrumentation and Prometheus
// metrics for the extraction pipeline.
package telemetry

import (
	"fmt"
	"time"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool   `koanf:"enabled"`
	Endpoint       string `koanf:"endpoint"`
	// Protocol selects the OTLP transport: "grpc" (default) or "http/protobuf".
	Protocol       string  `koanf:"protocol"`
	ServiceName    string  `koanf:"service_name"`
	ServiceVersion string  `koanf:"service_version"`
	Insecure       bool    `koanf:"insecure"`
	SamplingRate   float64 `koanf:"sampling_rate"`
	// MetricsIntervalSeconds is the OTLP metric export interval.
	MetricsIntervalSeconds int `koanf:"metrics_interval_seconds"`
	// ShutdownTimeoutSeconds bounds provider shutdown.
	ShutdownTimeoutSeconds int `koanf:"shutdown_timeout_seconds"`
}

// DefaultConfig returns defaults with export disabled; instrumentation is
// no-op until an OTLP collector is configured.
func DefaultConfig() Config {
	return Config{
		Enabled:                false,
		Endpoint:               "localhost:4317",
		Protocol:               "grpc",
		ServiceName:            "extractd",
		ServiceVersion:         "0.1.0",
		Insecure:               true,
		SamplingRate:           1.0,
		MetricsIntervalSeconds: 15,
		ShutdownTimeoutSeconds: 5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.Protocol != "" && c.Protocol != "grpc" && c.Protocol != "http/protobuf" {
		return fmt.Errorf("unknown protocol %q", c.Protocol)
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be in [0,1], got %f", c.SamplingRate)
	}
	return nil
}

func (c Config) metricsInterval() time.Duration {
	if c.MetricsIntervalSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.MetricsIntervalSeconds) * time.Second
}

func (c Config) shutdownTimeout() time.Duration {
	if c.ShutdownTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
