// Package pipeline sequences extraction steps for one document, threading
// each step's output into the next and owning the append-only execution
// history and the run-level confidence breakdown.
package pipeline

import (
	"time"

	"github.com/halcyonlabs/extractd/internal/confidence"
	"github.com/halcyonlabs/extractd/internal/retry"
	"github.com/halcyonlabs/extractd/internal/worker"
)

// Document is one unit of work for a pipeline run.
type Document struct {
	// ID identifies the document; assigned if empty.
	ID string `json:"id"`
	// Name is an optional human-readable label (file name, title).
	Name string `json:"name,omitempty"`
	// Text is the extracted document text the first step consumes.
	Text string `json:"text"`
}

// Step is one stage of the pipeline. Each step kind has its own worker
// variant behind the Invoker interface; the control loop never depends on
// concrete worker types.
type Step struct {
	// Kind identifies the stage ("parse", "retrieve", "generate", ...).
	Kind string
	// Goal describes what the step must produce.
	Goal string
	// ExpectedFields lists the output fields a complete result populates.
	ExpectedFields []string
	// Invoker produces candidate outputs for this step.
	Invoker worker.Invoker
	// MaxRetries overrides the pipeline default when positive.
	MaxRetries int
}

// StepResult pairs a step's terminal resolution with its confidence
// breakdown.
type StepResult struct {
	Kind             string                 `json:"kind"`
	Resolution       *retry.Resolution      `json:"resolution"`
	Confidence       confidence.Breakdown   `json:"confidence"`
	NeedsHumanReview bool                   `json:"needs_human_review"`
}

// RunResult is the outcome of one document pipeline run.
type RunResult struct {
	RunID      string    `json:"run_id"`
	DocumentID string    `json:"document_id"`
	Document   string    `json:"document,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Steps []StepResult `json:"steps"`

	// Overall fuses the per-step confidences for the whole run.
	Overall confidence.Breakdown `json:"overall"`

	// NeedsHumanReview is true when any step was flagged or the overall
	// confidence fell below the review threshold.
	NeedsHumanReview bool `json:"needs_human_review"`

	// Halted marks a run stopped early by an escalated-stop step.
	Halted bool `json:"halted,omitempty"`

	// Failed marks a terminal failure; Error carries the cause and
	// subsequent steps were not attempted.
	Failed bool   `json:"failed,omitempty"`
	Error  string `json:"error,omitempty"`
}
