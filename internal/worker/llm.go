package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/halcyonlabs/extractd/internal/jsonrecover"
	"github.com/halcyonlabs/extractd/internal/llm"
)

const llmSystemPrompt = `You are a document extraction worker. Extract the requested fields from the input and respond with a single JSON object:

{
  "fields": {"<field_name>": <value>, ...},
  "evidence": {"<field_name>": "<verbatim source excerpt>", ...},
  "field_confidence": {"<field_name>": <0.0-1.0>, ...}
}

Rules:
- Populate every requested field you can find; omit fields absent from the input rather than guessing.
- Evidence excerpts must be copied verbatim from the input.
- Respond with JSON only, no prose and no markdown fences.`

// llmInvoker is an Invoker backed by a chat-completion client.
type llmInvoker struct {
	client llm.Client
}

// NewLLMInvoker creates an Invoker that prompts client for structured
// extraction output and recovers the JSON payload from its response.
func NewLLMInvoker(client llm.Client) (Invoker, error) {
	if client == nil {
		return nil, fmt.Errorf("nil llm client")
	}
	return &llmInvoker{client: client}, nil
}

func (w *llmInvoker) Invoke(ctx context.Context, sc StepContext) (*Output, error) {
	raw, err := w.client.Complete(ctx, llmSystemPrompt, renderExtractionPrompt(sc))
	if err != nil {
		return nil, fmt.Errorf("worker completion: %w", err)
	}
	return parseWorkerResponse(raw), nil
}

// renderExtractionPrompt assembles the user prompt: goal, requested fields,
// accumulated feedback from prior attempts, then the input.
func renderExtractionPrompt(sc StepContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", sc.Goal)
	if len(sc.ExpectedFields) > 0 {
		fmt.Fprintf(&b, "Requested fields: %s\n", strings.Join(sc.ExpectedFields, ", "))
	}
	if len(sc.Feedback) > 0 {
		b.WriteString("\nYour previous attempt was rejected. Apply these corrections:\n")
		for _, op := range sc.Feedback {
			fmt.Fprintf(&b, "- %s\n", op)
		}
	}
	b.WriteString("\nInput:\n")
	b.WriteString(sc.Input)
	return b.String()
}

// parseWorkerResponse recovers the structured payload from the model text.
// Responses that yield no recoverable JSON still produce an Output carrying
// the raw text, so the judge can critique it and direct the next attempt.
func parseWorkerResponse(raw string) *Output {
	out := &Output{Raw: raw, ProducedAt: time.Now().UTC()}

	var envelope struct {
		Fields          map[string]any     `json:"fields"`
		Evidence        map[string]string  `json:"evidence"`
		FieldConfidence map[string]float64 `json:"field_confidence"`
	}
	if err := jsonrecover.Unmarshal(raw, &envelope); err == nil && len(envelope.Fields) > 0 {
		out.Fields = envelope.Fields
		out.Evidence = envelope.Evidence
		out.FieldConfidence = envelope.FieldConfidence
		return out
	}

	// Some models skip the envelope and return the field object directly.
	var flat map[string]any
	if err := jsonrecover.Unmarshal(raw, &flat); err == nil && len(flat) > 0 {
		if _, wrapped := flat["fields"]; !wrapped {
			out.Fields = flat
		}
	}
	return out
}
