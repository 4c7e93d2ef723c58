package logging

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// recordingExporter captures exported log records in memory.
type recordingExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *recordingExporter) Export(ctx context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, records...)
	return nil
}

func (e *recordingExporter) Shutdown(ctx context.Context) error   { return nil }
func (e *recordingExporter) ForceFlush(ctx context.Context) error { return nil }

func (e *recordingExporter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

func TestNew_ValidConfig(t *testing.T) {
	logger, err := New(Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "verbose", Format: "json"})
	assert.Error(t, err)
}

func TestNew_InvalidFormat(t *testing.T) {
	_, err := New(Config{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNewWithProvider_BridgesRecordsToOTel(t *testing.T) {
	exporter := &recordingExporter{}
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)),
	)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	logger, err := NewWithProvider(Config{Level: "info", Format: "json"}, provider)
	require.NoError(t, err)

	logger.Info(context.Background(), "document picked up")
	logger.Warn(context.Background(), "judge attempt failed")

	assert.Equal(t, 2, exporter.count(), "records flow through the otelzap core")
}

func TestNewWithProvider_NilProviderStdoutOnly(t *testing.T) {
	logger, err := NewWithProvider(Config{Level: "info", Format: "json"}, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestContextFields_CarriesPipelineIdentity(t *testing.T) {
	ctx := WithDocumentID(context.Background(), "doc-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithStepKind(ctx, "parse")

	fields := ContextFields(ctx)

	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.Contains(t, keys, "document.id")
	assert.Contains(t, keys, "run.id")
	assert.Contains(t, keys, "step.kind")
}

func TestContextFields_EmptyContext(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestFromContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, DocumentIDFromContext(ctx))
	assert.Empty(t, RunIDFromContext(ctx))
	assert.Empty(t, StepKindFromContext(ctx))

	ctx = WithDocumentID(ctx, "doc-9")
	assert.Equal(t, "doc-9", DocumentIDFromContext(ctx))
}
