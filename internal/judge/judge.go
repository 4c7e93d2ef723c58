package judge

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/halcyonlabs/extractd/internal/jsonrecover"
	"github.com/halcyonlabs/extractd/internal/logging"
)

// Caller performs the raw judge invocation: it receives the rendered rubric
// prompt and returns the judge's free text. Implementations may call an LLM
// or, in tests, return scripted responses.
type Caller interface {
	CallJudge(ctx context.Context, system, user string) (string, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, system, user string) (string, error)

// CallJudge calls f.
func (f CallerFunc) CallJudge(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// Evaluator produces verdicts for step attempts.
type Evaluator struct {
	caller     Caller
	thresholds Thresholds
	logger     *logging.Logger
	tracer     trace.Tracer
}

// NewEvaluator creates an evaluator. The thresholds must already be
// validated by config loading.
func NewEvaluator(caller Caller, thresholds Thresholds, logger *logging.Logger) *Evaluator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Evaluator{
		caller:     caller,
		thresholds: thresholds,
		logger:     logger,
		tracer:     otel.Tracer("extractd/judge"),
	}
}

// Thresholds returns the evaluator's score bands.
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate judges one attempt. The returned verdict's Decision is derived
// from the numeric score only.
//
// A judge response that cannot be recovered into the expected structure is
// not an error: Evaluate returns an escalating verdict with ParseFailed set.
// Only invocation failures (the caller itself erroring) are returned as
// errors, and the retry controller treats those as failed attempts.
func (e *Evaluator) Evaluate(ctx context.Context, rubric Rubric, jc Context, feedback []string) (Verdict, error) {
	ctx, span := e.tracer.Start(ctx, "judge.evaluate",
		trace.WithAttributes(attribute.String("step.kind", rubric.StepKind)))
	defer span.End()

	system := renderSystemPrompt(rubric)
	user := renderUserPrompt(jc, feedback)

	raw, err := e.caller.CallJudge(ctx, system, user)
	if err != nil {
		return Verdict{}, fmt.Errorf("judge call for %q: %w", rubric.StepKind, err)
	}

	verdict, ok := e.parseVerdict(raw)
	if !ok {
		e.logger.Warn(ctx, "judge response unparseable, escalating",
			zap.String("step_kind", rubric.StepKind),
			zap.Int("response_len", len(raw)))
		return Verdict{
			Score:       0,
			Decision:    DecisionEscalate,
			Critique:    "judge response could not be parsed into a verdict",
			ParseFailed: true,
		}, nil
	}

	e.logger.Debug(ctx, "judge verdict",
		zap.String("step_kind", rubric.StepKind),
		zap.Float64("score", verdict.Score),
		zap.String("decision", string(verdict.Decision)),
		zap.String("raw_decision", verdict.RawDecision))

	return verdict, nil
}

// rawVerdict is the JSON shape requested from the judge. Score is a pointer
// so a missing score is distinguishable from zero.
type rawVerdict struct {
	Score          *float64 `json:"score"`
	Decision       string   `json:"decision"`
	Critique       string   `json:"critique"`
	Issues         []string `json:"issues"`
	ImprovementOps []string `json:"improvement_ops"`
}

// parseVerdict recovers a structured verdict from the judge's free text.
// A response without a usable numeric score is a parse failure.
func (e *Evaluator) parseVerdict(raw string) (Verdict, bool) {
	var parsed rawVerdict
	if err := jsonrecover.Unmarshal(raw, &parsed); err != nil {
		return Verdict{}, false
	}
	if parsed.Score == nil {
		return Verdict{}, false
	}

	score := *parsed.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return Verdict{
		Score:          score,
		Decision:       e.thresholds.Decide(score),
		Critique:       parsed.Critique,
		Issues:         parsed.Issues,
		ImprovementOps: parsed.ImprovementOps,
		RawDecision:    parsed.Decision,
	}, true
}

const systemPromptHeader = `You are a strict quality judge for a document extraction pipeline.
Score the candidate output against the rubric dimensions below.

Respond ONLY with a JSON object containing:
- "score": overall quality in [0.0, 1.0]
- "decision": your suggested outcome ("accept", "retry", or "escalate")
- "critique": one or two sentences on the main weakness
- "issues": array of short strings naming concrete problems
- "improvement_ops": array of short, actionable instructions for the next attempt`

func renderSystemPrompt(rubric Rubric) string {
	var b strings.Builder
	b.WriteString(systemPromptHeader)
	b.WriteString("\n\nRubric for step \"")
	b.WriteString(rubric.StepKind)
	b.WriteString("\":\n")
	if rubric.Goal != "" {
		b.WriteString("Goal: ")
		b.WriteString(rubric.Goal)
		b.WriteString("\n")
	}
	for _, d := range rubric.Dimensions {
		b.WriteString("- ")
		b.WriteString(d.Name)
		if d.Description != "" {
			b.WriteString(": ")
			b.WriteString(d.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderUserPrompt(jc Context, feedback []string) string {
	var b strings.Builder
	if jc.Goal != "" {
		b.WriteString("Step goal:\n")
		b.WriteString(jc.Goal)
		b.WriteString("\n\n")
	}
	if jc.Input != "" {
		b.WriteString("Step input (excerpt):\n")
		b.WriteString(jc.Input)
		b.WriteString("\n\n")
	}
	b.WriteString("Candidate output:\n")
	b.WriteString(jc.Candidate)
	if len(feedback) > 0 {
		b.WriteString("\n\nImprovement operations already requested in prior attempts:\n")
		for _, op := range feedback {
			b.WriteString("- ")
			b.WriteString(op)
			b.WriteString("\n")
		}
	}
	return b.String()
}
