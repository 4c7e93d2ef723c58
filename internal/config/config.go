// Package config provides configuration loading for extractd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables, then validated before the daemon starts.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/halcyonlabs/extractd/internal/judge"
	"github.com/halcyonlabs/extractd/internal/llm"
	"github.com/halcyonlabs/extractd/internal/logging"
	"github.com/halcyonlabs/extractd/internal/telemetry"
	"github.com/halcyonlabs/extractd/internal/validation"
)

// Config holds the complete extractd configuration.
type Config struct {
	Server     ServerConfig                 `koanf:"server"`
	Logging    logging.Config               `koanf:"logging"`
	Telemetry  telemetry.Config             `koanf:"telemetry"`
	Worker     llm.Config                   `koanf:"worker"`
	Judge      llm.Config                   `koanf:"judge"`
	Pipeline   PipelineConfig               `koanf:"pipeline"`
	Steps      []StepConfig                 `koanf:"steps"`
	Validation map[string][]validation.Rule `koanf:"validation"`
	Intake     IntakeConfig                 `koanf:"intake"`
}

// ServerConfig holds HTTP status server configuration.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// PipelineConfig holds the control-loop tunables shared by all steps.
type PipelineConfig struct {
	// MaxRetries is the default per-step attempt ceiling.
	MaxRetries int `koanf:"max_retries"`

	// Thresholds map judge scores to accept/retry/escalate decisions.
	Thresholds judge.Thresholds `koanf:"thresholds"`

	// FeedbackCap bounds accumulated improvement operations per step kind.
	FeedbackCap int `koanf:"feedback_cap"`

	// StagnationWindow is the number of consecutive identical scores
	// tolerated before stagnation triggers an early exit.
	StagnationWindow int `koanf:"stagnation_window"`

	// ReviewThreshold flags results whose overall confidence falls below it.
	ReviewThreshold float64 `koanf:"review_threshold"`

	// Weights is the confidence source weight table.
	Weights map[string]float64 `koanf:"weights"`

	// EscalationPolicies maps step kinds to "stop" or "continue".
	EscalationPolicies map[string]string `koanf:"escalation_policies"`
}

// StepConfig declares one pipeline step and its rubric.
type StepConfig struct {
	Kind           string            `koanf:"kind"`
	Goal           string            `koanf:"goal"`
	ExpectedFields []string          `koanf:"expected_fields"`
	MaxRetries     int               `koanf:"max_retries"`
	Dimensions     []judge.Dimension `koanf:"dimensions"`
}

// Rubric builds the judge rubric for this step.
func (s StepConfig) Rubric() judge.Rubric {
	return judge.Rubric{StepKind: s.Kind, Goal: s.Goal, Dimensions: s.Dimensions}
}

// IntakeConfig holds the document intake watcher configuration.
type IntakeConfig struct {
	Enabled bool   `koanf:"enabled"`
	// Dir is the inbox directory watched for new documents.
	Dir string `koanf:"dir"`
	// Extensions lists accepted file extensions (with dot). Empty accepts all.
	Extensions []string `koanf:"extensions"`
	// SettleDelay is how long a file must stay unchanged before it is
	// picked up, guarding against partially written documents.
	SettleDelay time.Duration `koanf:"settle_delay"`
	// MaxConcurrent bounds documents processed in parallel.
	MaxConcurrent int `koanf:"max_concurrent"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
		}
		if c.Server.ShutdownTimeout <= 0 {
			return errors.New("server shutdown timeout must be positive")
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	if c.Pipeline.MaxRetries < 1 {
		return fmt.Errorf("pipeline max_retries must be at least 1, got %d", c.Pipeline.MaxRetries)
	}
	if err := c.Pipeline.Thresholds.Validate(); err != nil {
		return fmt.Errorf("pipeline thresholds: %w", err)
	}
	if c.Pipeline.ReviewThreshold < 0 || c.Pipeline.ReviewThreshold > 1 {
		return fmt.Errorf("pipeline review_threshold must be in [0,1], got %v", c.Pipeline.ReviewThreshold)
	}
	if c.Pipeline.StagnationWindow < 1 {
		return fmt.Errorf("pipeline stagnation_window must be at least 1, got %d", c.Pipeline.StagnationWindow)
	}
	for source, w := range c.Pipeline.Weights {
		if w < 0 {
			return fmt.Errorf("pipeline weight for %q must not be negative", source)
		}
	}
	for kind, policy := range c.Pipeline.EscalationPolicies {
		if policy != "stop" && policy != "continue" {
			return fmt.Errorf("escalation policy for %q must be \"stop\" or \"continue\", got %q", kind, policy)
		}
	}

	if len(c.Steps) == 0 {
		return errors.New("at least one step must be configured")
	}
	seen := make(map[string]bool, len(c.Steps))
	for i, s := range c.Steps {
		if s.Kind == "" {
			return fmt.Errorf("step %d has no kind", i)
		}
		if seen[s.Kind] {
			return fmt.Errorf("duplicate step kind %q", s.Kind)
		}
		seen[s.Kind] = true
		if s.Goal == "" {
			return fmt.Errorf("step %q has no goal", s.Kind)
		}
		if s.MaxRetries < 0 {
			return fmt.Errorf("step %q max_retries must not be negative", s.Kind)
		}
	}

	if c.Worker.Provider == "" {
		return errors.New("worker provider is required")
	}
	if c.Judge.Provider == "" {
		return errors.New("judge provider is required")
	}

	if c.Intake.Enabled {
		if c.Intake.Dir == "" {
			return errors.New("intake dir is required when intake is enabled")
		}
		if c.Intake.SettleDelay <= 0 {
			return errors.New("intake settle_delay must be positive")
		}
		if c.Intake.MaxConcurrent < 1 {
			return errors.New("intake max_concurrent must be at least 1")
		}
	}

	return nil
}

// applyDefaults sets default values for fields left unset.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "extractd"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SamplingRate == 0 {
		cfg.Telemetry.SamplingRate = 1.0
	}
	if cfg.Telemetry.MetricsIntervalSeconds == 0 {
		cfg.Telemetry.MetricsIntervalSeconds = 30
	}
	if cfg.Telemetry.ShutdownTimeoutSeconds == 0 {
		cfg.Telemetry.ShutdownTimeoutSeconds = 5
	}

	if cfg.Worker.Provider == "" {
		cfg.Worker.Provider = "anthropic"
	}
	if cfg.Judge.Provider == "" {
		cfg.Judge.Provider = cfg.Worker.Provider
	}

	if cfg.Pipeline.MaxRetries == 0 {
		cfg.Pipeline.MaxRetries = 3
	}
	if cfg.Pipeline.Thresholds == (judge.Thresholds{}) {
		cfg.Pipeline.Thresholds = judge.DefaultThresholds()
	}
	if cfg.Pipeline.FeedbackCap == 0 {
		cfg.Pipeline.FeedbackCap = 10
	}
	if cfg.Pipeline.StagnationWindow == 0 {
		cfg.Pipeline.StagnationWindow = 2
	}
	if cfg.Pipeline.ReviewThreshold == 0 {
		cfg.Pipeline.ReviewThreshold = 0.75
	}

	if cfg.Intake.SettleDelay == 0 {
		cfg.Intake.SettleDelay = 2 * time.Second
	}
	if cfg.Intake.MaxConcurrent == 0 {
		cfg.Intake.MaxConcurrent = 4
	}
}
