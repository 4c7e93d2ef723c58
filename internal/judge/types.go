// Package judge scores candidate step outputs against a rubric and returns
// structured verdicts that drive the retry controller.
package judge

import "fmt"

// Decision is the categorical outcome derived from a verdict's score.
type Decision string

const (
	DecisionAccept   Decision = "accept"
	DecisionRetry    Decision = "retry"
	DecisionEscalate Decision = "escalate"
)

// Verdict is the structured result of judging one step attempt.
//
// Score is the single source of truth for control flow: Decision is always
// re-derived from Score via thresholds, regardless of what the judge's raw
// text claimed. RawDecision preserves the judge's own wording purely for
// human-readable logs.
type Verdict struct {
	Score          float64  `json:"score"`
	Decision       Decision `json:"decision"`
	Critique       string   `json:"critique,omitempty"`
	Issues         []string `json:"issues,omitempty"`
	ImprovementOps []string `json:"improvement_ops,omitempty"`
	RawDecision    string   `json:"raw_decision,omitempty"`

	// ParseFailed marks a verdict synthesized after the judge's response
	// could not be recovered into the expected structure. Such verdicts
	// always escalate and their score must not feed confidence aggregation.
	ParseFailed bool `json:"parse_failed,omitempty"`
}

// Thresholds define the score bands that map to decisions.
type Thresholds struct {
	// Accept is the minimum score for acceptance.
	Accept float64 `koanf:"accept"`
	// ReviseMin is the minimum score worth retrying; below it the step
	// escalates.
	ReviseMin float64 `koanf:"revise_min"`
}

// DefaultThresholds returns the standard bands.
func DefaultThresholds() Thresholds {
	return Thresholds{Accept: 0.7, ReviseMin: 0.4}
}

// Validate checks band ordering and range.
func (t Thresholds) Validate() error {
	if t.Accept < 0 || t.Accept > 1 || t.ReviseMin < 0 || t.ReviseMin > 1 {
		return fmt.Errorf("thresholds must be in [0,1]: accept=%v revise_min=%v", t.Accept, t.ReviseMin)
	}
	if t.ReviseMin >= t.Accept {
		return fmt.Errorf("revise_min (%v) must be below accept (%v)", t.ReviseMin, t.Accept)
	}
	return nil
}

// Decide maps a score to a decision deterministically:
// score >= Accept is accept, score < ReviseMin is escalate, otherwise retry.
func (t Thresholds) Decide(score float64) Decision {
	switch {
	case score >= t.Accept:
		return DecisionAccept
	case score < t.ReviseMin:
		return DecisionEscalate
	default:
		return DecisionRetry
	}
}

// Dimension is one named quality axis of a rubric.
type Dimension struct {
	Name        string `koanf:"name" json:"name"`
	Description string `koanf:"description" json:"description"`
}

// Rubric defines what the judge evaluates for a step kind. Rubric content
// is configuration, supplied per step kind.
type Rubric struct {
	StepKind   string      `koanf:"step_kind" json:"step_kind"`
	Goal       string      `koanf:"goal" json:"goal"`
	Dimensions []Dimension `koanf:"dimensions" json:"dimensions"`
}

// Context is the bundle the judge sees for one attempt.
type Context struct {
	// Goal describes what the step was asked to do.
	Goal string
	// Input is an excerpt of the step's input.
	Input string
	// Candidate is the rendered candidate output under evaluation.
	Candidate string
}
