package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type documentCtxKey struct{}
type runCtxKey struct{}
type stepCtxKey struct{}

// WithDocumentID returns a context carrying the document identifier.
func WithDocumentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, documentCtxKey{}, id)
}

// DocumentIDFromContext returns the document identifier, or "".
func DocumentIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(documentCtxKey{}).(string)
	return id
}

// WithRunID returns a context carrying the pipeline run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, id)
}

// RunIDFromContext returns the run identifier, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runCtxKey{}).(string)
	return id
}

// WithStepKind returns a context carrying the current step kind.
func WithStepKind(ctx context.Context, kind string) context.Context {
	return context.WithValue(ctx, stepCtxKey{}, kind)
}

// StepKindFromContext returns the step kind, or "".
func StepKindFromContext(ctx context.Context) string {
	kind, _ := ctx.Value(stepCtxKey{}).(string)
	return kind
}

// ContextFields extracts correlation fields from the context: the OTEL span
// identifiers plus the document/run/step identity of the current pipeline.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if id := DocumentIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("document.id", id))
	}
	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}
	if kind := StepKindFromContext(ctx); kind != "" {
		fields = append(fields, zap.String("step.kind", kind))
	}

	return fields
}
