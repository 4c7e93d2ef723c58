package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate_DisabledSkipsChecks(t *testing.T) {
	cfg := Config{Enabled: false}
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate_EnabledRequiresEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""
	assert.Error(t, cfg.Validate())
}

func TestConfigValidate_SamplingRateBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.SamplingRate = 1.5
	assert.Error(t, cfg.Validate())
}

func TestConfigValidate_UnknownProtocol(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Protocol = "thrift"
	assert.Error(t, cfg.Validate())
}

func TestConfigIntervals_DefaultsWhenUnset(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, 15*time.Second, cfg.metricsInterval())
	assert.Equal(t, 5*time.Second, cfg.shutdownTimeout())
}

func TestNew_DisabledIsNoOp(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, tel.Degraded())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_NilReceiverSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNewPipelineMetrics_SingleInstance(t *testing.T) {
	a := NewPipelineMetrics()
	b := NewPipelineMetrics()
	assert.Same(t, a, b)
}
