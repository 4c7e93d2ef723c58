// Package worker defines the contract between the control loop and the
// extraction workers that produce candidate structured output.
//
// Workers are opaque to the engine: each step kind supplies an Invoker (or a
// bare InvokeFunc) and the retry controller depends only on that interface,
// never on a concrete worker type.
package worker

import (
	"context"
	"time"
)

// Output is a candidate structured extraction produced by one worker
// invocation.
type Output struct {
	// Fields is the structured payload keyed by field name.
	Fields map[string]any `json:"fields"`

	// Evidence maps field names to the source excerpt supporting them.
	// Optional; used for evidence-coverage scoring.
	Evidence map[string]string `json:"evidence,omitempty"`

	// FieldConfidence is the worker's optional self-reported per-field
	// confidence in [0,1].
	FieldConfidence map[string]float64 `json:"field_confidence,omitempty"`

	// Raw preserves the unparsed worker response for auditing.
	Raw string `json:"raw,omitempty"`

	// ProducedAt records when the worker returned this candidate.
	ProducedAt time.Time `json:"produced_at"`
}

// StepContext is the evaluation context threaded into a worker invocation.
type StepContext struct {
	// DocumentID identifies the document this pipeline run processes.
	DocumentID string `json:"document_id"`

	// Goal describes what this step must extract.
	Goal string `json:"goal"`

	// Input is the step input: the document text for the first step, or the
	// previous step's rendered output for later steps.
	Input string `json:"input"`

	// ExpectedFields lists the field names a complete output populates.
	ExpectedFields []string `json:"expected_fields,omitempty"`

	// Feedback carries accumulated improvement operations from prior
	// attempts, bounded and deduplicated by the feedback memory.
	Feedback []string `json:"feedback,omitempty"`
}

// Invoker produces a candidate output for a step. Implementations may call
// out to an LLM, a rule engine, or anything else; failures are returned as
// errors and treated by the controller as failed attempts.
type Invoker interface {
	Invoke(ctx context.Context, sc StepContext) (*Output, error)
}

// InvokeFunc adapts a plain function to the Invoker interface.
type InvokeFunc func(ctx context.Context, sc StepContext) (*Output, error)

// Invoke calls f.
func (f InvokeFunc) Invoke(ctx context.Context, sc StepContext) (*Output, error) {
	return f(ctx, sc)
}
