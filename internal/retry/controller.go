package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/halcyonlabs/extractd/internal/feedback"
	"github.com/halcyonlabs/extractd/internal/judge"
	"github.com/halcyonlabs/extractd/internal/logging"
	"github.com/halcyonlabs/extractd/internal/telemetry"
	"github.com/halcyonlabs/extractd/internal/worker"
)

// Evaluator is the judge interface the controller depends on.
type Evaluator interface {
	Evaluate(ctx context.Context, rubric judge.Rubric, jc judge.Context, fb []string) (judge.Verdict, error)
	Thresholds() judge.Thresholds
}

// Options configure a Controller.
type Options struct {
	// FeedbackCap bounds retained improvement ops per step kind.
	FeedbackCap int
	// StagnationWindow is the consecutive-repeat count that forces an exit.
	StagnationWindow int
	// EscalationPolicies maps step kinds to their escalation policy.
	// Step kinds without an entry default to EscalationStop.
	EscalationPolicies map[string]EscalationPolicy
	// Rubrics maps step kinds to their judge rubric. Steps without an
	// entry are judged against a rubric synthesized from the step goal.
	Rubrics map[string]judge.Rubric
	// InputExcerptLimit caps how much step input is shown to the judge.
	InputExcerptLimit int
}

const defaultInputExcerptLimit = 4000

// Controller resolves one step at a time for a single document pipeline.
// It owns the retry state (attempt counts, feedback memory, stagnation runs)
// for the duration of a step and discards it on resolution. Controllers are
// never shared across documents.
type Controller struct {
	eval       Evaluator
	memory     *feedback.Memory
	stagnation *feedback.StagnationDetector
	opts       Options
	logger     *logging.Logger
	metrics    *telemetry.PipelineMetrics
	tracer     trace.Tracer
}

// NewController creates a controller. metrics may be nil to disable
// instrumentation.
func NewController(eval Evaluator, opts Options, logger *logging.Logger, metrics *telemetry.PipelineMetrics) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.InputExcerptLimit <= 0 {
		opts.InputExcerptLimit = defaultInputExcerptLimit
	}
	return &Controller{
		eval:       eval,
		memory:     feedback.NewMemory(opts.FeedbackCap),
		stagnation: feedback.NewStagnationDetector(opts.StagnationWindow),
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
		tracer:     otel.Tracer("extractd/retry"),
	}
}

// Resolve drives one step to a terminal state.
//
// maxRetries is the hard ceiling on worker invocations and is never
// exceeded, regardless of any other signal. When multiple signals disagree
// the priority order is: the ceiling, then stagnation early-exit, then the
// decision re-derived from the judge's score, then the usable-output
// fallback once the budget is exhausted.
//
// Resolve returns an error only when no attempt ever produced a candidate
// output (ErrNoUsableOutput) or the budget is invalid. On ErrNoUsableOutput
// the returned resolution is still non-nil and carries the attempt records
// for the audit trail.
func (c *Controller) Resolve(ctx context.Context, stepKind string, inv worker.Invoker, sc worker.StepContext, maxRetries int) (*Resolution, error) {
	if maxRetries < 1 {
		return nil, fmt.Errorf("resolving %q: %w", stepKind, ErrInvalidBudget)
	}

	ctx = logging.WithStepKind(ctx, stepKind)
	ctx, span := c.tracer.Start(ctx, "retry.resolve",
		trace.WithAttributes(
			attribute.String("step.kind", stepKind),
			attribute.Int("step.max_retries", maxRetries),
		))
	defer span.End()
	started := time.Now()

	res := &Resolution{StepKind: stepKind, State: StatePending}
	defer func() {
		c.discardState(stepKind)
		c.observeDuration(stepKind, started)
	}()

	var lastOutput *worker.Output
	var lastVerdict *judge.Verdict

	for attempt := 1; attempt <= maxRetries; attempt++ {
		res.State = StateExecuting
		res.Attempts = attempt
		sc.Feedback = c.memory.Get(stepKind)
		c.countAttempt(stepKind)

		out, err := c.invokeWorker(ctx, stepKind, inv, sc, attempt)
		rec := AttemptRecord{
			StepKind:  stepKind,
			Attempt:   attempt,
			Output:    out,
			Timestamp: time.Now().UTC(),
		}
		if err != nil {
			// A failed invocation is a failed attempt, not a crash: it
			// consumes budget and goes through the same loop.
			rec.Error = err.Error()
			res.History = append(res.History, rec)
			c.countFailure(stepKind)
			c.logger.Warn(ctx, "worker attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		lastOutput = out

		res.State = StateEvaluating
		verdict, err := c.evaluate(ctx, stepKind, sc, out)
		if err != nil {
			rec.Error = err.Error()
			res.History = append(res.History, rec)
			c.countFailure(stepKind)
			c.logger.Warn(ctx, "judge attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		rec.Verdict = &verdict
		res.History = append(res.History, rec)
		lastVerdict = &verdict

		// The numeric score is the single source of truth; the verdict's
		// own decision field is re-derived here to guard against judge
		// noise.
		decision := c.eval.Thresholds().Decide(verdict.Score)
		if verdict.ParseFailed {
			decision = judge.DecisionEscalate
		}
		c.countDecision(stepKind, decision)
		c.logger.Info(ctx, "attempt evaluated",
			zap.Int("attempt", attempt),
			zap.Float64("score", verdict.Score),
			zap.String("decision", string(decision)))

		if decision == judge.DecisionAccept {
			res.State = StateAccepted
			res.Output = out
			res.Verdict = &verdict
			return res, nil
		}

		c.memory.Add(stepKind, verdict.ImprovementOps)

		// Stagnation outranks the judge's decision: unchanged scores mean
		// more retries will not help, whatever the band says.
		if c.stagnation.Observe(stepKind, verdict.Score) {
			c.countStagnation(stepKind)
			c.logger.Warn(ctx, "score stagnated, terminating step early",
				zap.Int("attempt", attempt),
				zap.Float64("score", verdict.Score))
			res.Stagnated = true
			return c.finishFlagged(res, stepKind, out, &verdict), nil
		}

		if decision == judge.DecisionEscalate {
			return c.finishFlagged(res, stepKind, out, &verdict), nil
		}

		res.State = StateRetrying
	}

	// Budget exhausted without acceptance: degrade to the last candidate if
	// one exists, flagged for review.
	if lastOutput != nil {
		return c.finishFlagged(res, stepKind, lastOutput, lastVerdict), nil
	}
	// Terminal failure. The resolution is still returned so the attempt
	// records reach the execution history, and its state is terminal: the
	// step is resolved, just without a candidate.
	res.State = StateEscalatedStop
	res.NeedsHumanReview = true
	return res, fmt.Errorf("resolving %q after %d attempts: %w", stepKind, res.Attempts, ErrNoUsableOutput)
}

// Policy returns the configured escalation policy for a step kind.
func (c *Controller) Policy(stepKind string) EscalationPolicy {
	if p, ok := c.opts.EscalationPolicies[stepKind]; ok {
		return p
	}
	return EscalationStop
}

// Feedback exposes the current accumulated feedback for a step kind,
// primarily for inspection and tests.
func (c *Controller) Feedback(stepKind string) []string {
	return c.memory.Get(stepKind)
}

func (c *Controller) invokeWorker(ctx context.Context, stepKind string, inv worker.Invoker, sc worker.StepContext, attempt int) (*worker.Output, error) {
	ctx, span := c.tracer.Start(ctx, "worker.invoke",
		trace.WithAttributes(
			attribute.String("step.kind", stepKind),
			attribute.Int("step.attempt", attempt),
		))
	defer span.End()

	out, err := inv.Invoke(ctx, sc)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("worker returned no output")
	}
	if out.ProducedAt.IsZero() {
		out.ProducedAt = time.Now().UTC()
	}
	return out, nil
}

func (c *Controller) evaluate(ctx context.Context, stepKind string, sc worker.StepContext, out *worker.Output) (judge.Verdict, error) {
	rubric, ok := c.opts.Rubrics[stepKind]
	if !ok {
		rubric = judge.Rubric{StepKind: stepKind, Goal: sc.Goal}
	}
	jc := judge.Context{
		Goal:      sc.Goal,
		Input:     excerpt(sc.Input, c.opts.InputExcerptLimit),
		Candidate: renderCandidate(out),
	}
	return c.eval.Evaluate(ctx, rubric, jc, sc.Feedback)
}

// finishFlagged fills the terminal fields for a non-accepted resolution.
func (c *Controller) finishFlagged(res *Resolution, stepKind string, out *worker.Output, verdict *judge.Verdict) *Resolution {
	res.Output = out
	res.Verdict = verdict
	res.NeedsHumanReview = true
	switch c.Policy(stepKind) {
	case EscalationContinue:
		res.State = StateEscalatedContinue
	default:
		res.State = StateEscalatedStop
	}
	c.countReviewFlag()
	return res
}

// discardState drops the per-step retry state once the step is resolved.
func (c *Controller) discardState(stepKind string) {
	c.memory.Reset(stepKind)
	c.stagnation.Reset(stepKind)
}

// excerpt truncates s to at most limit bytes, backing off to a rune
// boundary so a multi-byte character is never split.
func excerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// renderCandidate produces the judge-facing view of a candidate output.
func renderCandidate(out *worker.Output) string {
	if out == nil {
		return ""
	}
	if len(out.Fields) > 0 {
		if b, err := json.MarshalIndent(out.Fields, "", "  "); err == nil {
			return string(b)
		}
	}
	return out.Raw
}

func (c *Controller) countAttempt(stepKind string) {
	if c.metrics != nil {
		c.metrics.AttemptsTotal.WithLabelValues(stepKind).Inc()
	}
}

func (c *Controller) countFailure(stepKind string) {
	if c.metrics != nil {
		c.metrics.AttemptFailuresTotal.WithLabelValues(stepKind).Inc()
	}
}

func (c *Controller) countDecision(stepKind string, d judge.Decision) {
	if c.metrics != nil {
		c.metrics.DecisionsTotal.WithLabelValues(stepKind, string(d)).Inc()
	}
}

func (c *Controller) countStagnation(stepKind string) {
	if c.metrics != nil {
		c.metrics.StagnationExitsTotal.WithLabelValues(stepKind).Inc()
	}
}

func (c *Controller) countReviewFlag() {
	if c.metrics != nil {
		c.metrics.ReviewFlagsTotal.Inc()
	}
}

func (c *Controller) observeDuration(stepKind string, started time.Time) {
	if c.metrics != nil {
		c.metrics.StepDuration.WithLabelValues(stepKind).Observe(time.Since(started).Seconds())
	}
}
