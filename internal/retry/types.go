// Package retry implements the per-step retry and evaluation state machine
// that turns unreliable worker output into a bounded, terminating,
// auditable resolution.
package retry

import (
	"errors"
	"time"

	"github.com/halcyonlabs/extractd/internal/judge"
	"github.com/halcyonlabs/extractd/internal/worker"
)

// State is a node in the step resolution state machine.
type State string

const (
	StatePending    State = "pending"
	StateExecuting  State = "executing"
	StateEvaluating State = "evaluating"
	StateRetrying   State = "retrying"

	// Terminal states for a step.
	StateAccepted          State = "accepted"
	StateEscalatedContinue State = "escalated_continue"
	StateEscalatedStop     State = "escalated_stop"
)

// Terminal reports whether the state ends a step's resolution.
func (s State) Terminal() bool {
	switch s {
	case StateAccepted, StateEscalatedContinue, StateEscalatedStop:
		return true
	}
	return false
}

// EscalationPolicy decides what an escalated step means for the rest of the
// document's pipeline.
type EscalationPolicy string

const (
	// EscalationStop halts the pipeline after this step.
	EscalationStop EscalationPolicy = "stop"
	// EscalationContinue flags the step but lets later steps run.
	EscalationContinue EscalationPolicy = "continue"
)

// AttemptRecord is the audit record for one worker attempt. Records are
// immutable once written and appended to the execution history owned by the
// orchestrator; the full trail survives retries.
type AttemptRecord struct {
	StepKind  string         `json:"step_kind"`
	Attempt   int            `json:"attempt"`
	Output    *worker.Output `json:"output,omitempty"`
	Verdict   *judge.Verdict `json:"verdict,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Resolution is the guaranteed outcome of resolving a step: an accepted
// output, a best-effort output flagged for review, or (as an error from
// Resolve) a terminal failure. Never an unbounded loop.
type Resolution struct {
	StepKind string `json:"step_kind"`

	// State is the terminal state reached.
	State State `json:"state"`

	// Output is the accepted or best-effort candidate. Always non-nil on a
	// successful Resolve.
	Output *worker.Output `json:"output,omitempty"`

	// Verdict is the last judge verdict, if any attempt was evaluated.
	Verdict *judge.Verdict `json:"verdict,omitempty"`

	// Attempts is the number of worker invocations consumed.
	Attempts int `json:"attempts"`

	// Stagnated marks a forced early exit by the stagnation detector.
	Stagnated bool `json:"stagnated,omitempty"`

	// NeedsHumanReview is true for every non-accepted resolution.
	NeedsHumanReview bool `json:"needs_human_review"`

	// History holds this step's attempt records in order.
	History []AttemptRecord `json:"history"`
}

// ErrNoUsableOutput is returned when the retry budget is exhausted without
// any attempt producing a candidate output. It is the only per-step error
// that propagates to the orchestrator.
var ErrNoUsableOutput = errors.New("retry budget exhausted with no usable output")

// ErrInvalidBudget is returned when the caller supplies a max retries limit
// below one.
var ErrInvalidBudget = errors.New("max retries must be at least 1")
