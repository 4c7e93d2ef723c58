package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/extractd/internal/judge"
	"github.com/halcyonlabs/extractd/internal/llm"
)

func llmConfig(provider string) llm.Config {
	return llm.Config{Provider: provider}
}

const sampleConfig = `
server:
  enabled: true
  port: 8642

worker:
  provider: anthropic
  model: claude-3-5-sonnet-20241022

judge:
  provider: openai
  model: gpt-4o-mini
  temperature: 0.1

pipeline:
  max_retries: 5
  thresholds:
    accept: 0.8
    revise_min: 0.5
  stagnation_window: 3
  weights:
    judge: 0.6
    structural: 0.2
    validation: 0.2
  escalation_policies:
    parse: continue

steps:
  - kind: parse
    goal: extract the invoice header
    expected_fields: [invoice_number, issue_date]
    dimensions:
      - name: completeness
        description: all requested fields populated
  - kind: enrich
    goal: normalize currencies and dates
    max_retries: 2

validation:
  parse:
    - field: invoice_number
      required: true
      kind: string

intake:
  enabled: true
  dir: /var/spool/extractd/inbox
  extensions: [".txt", ".md"]
  settle_delay: 3s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FromYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 8642, cfg.Server.Port)
	assert.Equal(t, "anthropic", cfg.Worker.Provider)
	assert.Equal(t, "openai", cfg.Judge.Provider)
	assert.Equal(t, 0.1, cfg.Judge.Temperature)

	assert.Equal(t, 5, cfg.Pipeline.MaxRetries)
	assert.Equal(t, judge.Thresholds{Accept: 0.8, ReviseMin: 0.5}, cfg.Pipeline.Thresholds)
	assert.Equal(t, 3, cfg.Pipeline.StagnationWindow)
	assert.Equal(t, 0.6, cfg.Pipeline.Weights["judge"])
	assert.Equal(t, "continue", cfg.Pipeline.EscalationPolicies["parse"])

	require.Len(t, cfg.Steps, 2)
	assert.Equal(t, []string{"invoice_number", "issue_date"}, cfg.Steps[0].ExpectedFields)
	assert.Equal(t, 2, cfg.Steps[1].MaxRetries)

	rubric := cfg.Steps[0].Rubric()
	assert.Equal(t, "parse", rubric.StepKind)
	require.Len(t, rubric.Dimensions, 1)
	assert.Equal(t, "completeness", rubric.Dimensions[0].Name)

	require.Contains(t, cfg.Validation, "parse")
	assert.True(t, cfg.Validation["parse"][0].Required)

	assert.True(t, cfg.Intake.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Intake.SettleDelay)
	assert.Equal(t, 4, cfg.Intake.MaxConcurrent, "default applied")
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "extractd", cfg.Telemetry.ServiceName)
	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
	assert.Equal(t, judge.DefaultThresholds(), cfg.Pipeline.Thresholds)
	assert.Equal(t, 10, cfg.Pipeline.FeedbackCap)
	assert.Equal(t, 2, cfg.Pipeline.StagnationWindow)
	assert.Equal(t, 0.75, cfg.Pipeline.ReviewThreshold)
	assert.Equal(t, "anthropic", cfg.Worker.Provider)
	assert.Equal(t, "anthropic", cfg.Judge.Provider, "judge inherits worker provider")

	// No steps configured: validation must reject it.
	assert.Error(t, cfg.Validate())
}

func TestLoad_WithoutFileFailsValidation(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err, "no steps configured")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("EXTRACTD_SERVER_PORT", "7777")
	t.Setenv("EXTRACTD_WORKER_API_KEY", "sk-test")
	t.Setenv("EXTRACTD_PIPELINE_MAX_RETRIES", "7")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.Worker.APIKey)
	assert.Equal(t, 7, cfg.Pipeline.MaxRetries)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "steps: [unclosed"))
	assert.Error(t, err)
}

func TestTransformEnvKey(t *testing.T) {
	assert.Equal(t, "server.port", transformEnvKey("EXTRACTD_SERVER_PORT"))
	assert.Equal(t, "worker.api_key", transformEnvKey("EXTRACTD_WORKER_API_KEY"))
	assert.Equal(t, "pipeline.max_retries", transformEnvKey("EXTRACTD_PIPELINE_MAX_RETRIES"))
	assert.Equal(t, "intake.settle_delay", transformEnvKey("EXTRACTD_INTAKE_SETTLE_DELAY"))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Worker: llmConfig("anthropic"),
			Judge:  llmConfig("anthropic"),
			Steps: []StepConfig{
				{Kind: "parse", Goal: "extract fields"},
			},
		}
		applyDefaults(cfg)
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := base()
		cfg.Server.Enabled = true
		cfg.Server.Port = 99999
		assert.Error(t, cfg.Validate())
	})

	t.Run("inverted thresholds", func(t *testing.T) {
		cfg := base()
		cfg.Pipeline.Thresholds = judge.Thresholds{Accept: 0.4, ReviseMin: 0.7}
		assert.Error(t, cfg.Validate())
	})

	t.Run("duplicate step kind", func(t *testing.T) {
		cfg := base()
		cfg.Steps = append(cfg.Steps, StepConfig{Kind: "parse", Goal: "again"})
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad escalation policy", func(t *testing.T) {
		cfg := base()
		cfg.Pipeline.EscalationPolicies = map[string]string{"parse": "retry-forever"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative weight", func(t *testing.T) {
		cfg := base()
		cfg.Pipeline.Weights = map[string]float64{"judge": -0.5}
		assert.Error(t, cfg.Validate())
	})

	t.Run("intake without dir", func(t *testing.T) {
		cfg := base()
		cfg.Intake.Enabled = true
		cfg.Intake.Dir = ""
		assert.Error(t, cfg.Validate())
	})
}
