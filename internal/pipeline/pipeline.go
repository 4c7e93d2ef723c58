package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halcyonlabs/extractd/internal/confidence"
	"github.com/halcyonlabs/extractd/internal/logging"
	"github.com/halcyonlabs/extractd/internal/retry"
	"github.com/halcyonlabs/extractd/internal/structural"
	"github.com/halcyonlabs/extractd/internal/telemetry"
	"github.com/halcyonlabs/extractd/internal/validation"
	"github.com/halcyonlabs/extractd/internal/worker"
)

// StepResolver drives one step to a terminal state. Implemented by
// retry.Controller.
type StepResolver interface {
	Resolve(ctx context.Context, stepKind string, inv worker.Invoker, sc worker.StepContext, maxRetries int) (*retry.Resolution, error)
}

// Options configure a pipeline.
type Options struct {
	// MaxRetries is the default per-step attempt ceiling.
	MaxRetries int
	// ReviewThreshold flags results whose overall confidence falls below it.
	ReviewThreshold float64
	// Weights is the confidence weight table; nil uses the defaults.
	Weights map[string]float64
}

// Pipeline runs the configured steps for one document at a time. Each
// document gets its own Pipeline (and its own controller underneath): no
// mutable state is shared between concurrent document pipelines.
type Pipeline struct {
	steps     []Step
	resolver  StepResolver
	validator *validation.Validator
	opts      Options
	logger    *logging.Logger
	metrics   *telemetry.PipelineMetrics

	mu      sync.Mutex
	history []retry.AttemptRecord
}

// New creates a pipeline. validator and metrics may be nil.
func New(steps []Step, resolver StepResolver, validator *validation.Validator, opts Options, logger *logging.Logger, metrics *telemetry.PipelineMetrics) (*Pipeline, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("pipeline needs at least one step")
	}
	for i, s := range steps {
		if s.Kind == "" {
			return nil, fmt.Errorf("step %d has no kind", i)
		}
		if s.Invoker == nil {
			return nil, fmt.Errorf("step %q has no invoker", s.Kind)
		}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.ReviewThreshold <= 0 {
		opts.ReviewThreshold = confidence.DefaultReviewThreshold
	}
	if opts.Weights == nil {
		opts.Weights = confidence.DefaultWeights()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		steps:     steps,
		resolver:  resolver,
		validator: validator,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Run executes the pipeline for one document. Steps run strictly in
// sequence; each step's accepted (or best-effort) output becomes the next
// step's input.
//
// Run returns an error only for a terminal step failure; flagged results
// are successes with NeedsHumanReview set. The returned RunResult is
// populated in both cases.
func (p *Pipeline) Run(ctx context.Context, doc Document) (*RunResult, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	runID := uuid.NewString()
	ctx = logging.WithDocumentID(ctx, doc.ID)
	ctx = logging.WithRunID(ctx, runID)

	result := &RunResult{
		RunID:      runID,
		DocumentID: doc.ID,
		Document:   doc.Name,
		StartedAt:  time.Now().UTC(),
	}
	p.logger.Info(ctx, "pipeline run started", zap.Int("steps", len(p.steps)))

	input := doc.Text
	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			result.Failed = true
			result.Error = err.Error()
			break
		}

		sc := worker.StepContext{
			DocumentID:     doc.ID,
			Goal:           step.Goal,
			Input:          input,
			ExpectedFields: step.ExpectedFields,
		}
		res, err := p.resolver.Resolve(ctx, step.Kind, step.Invoker, sc, p.budgetFor(step))
		if res != nil {
			p.appendHistory(res.History)
		}
		if err != nil {
			// Exhaustion with no usable output: pipeline-level failure,
			// subsequent steps are not attempted.
			result.Failed = true
			result.Error = err.Error()
			if res != nil {
				result.Steps = append(result.Steps, StepResult{
					Kind:             step.Kind,
					Resolution:       res,
					NeedsHumanReview: true,
				})
			}
			p.countRunFailure()
			p.logger.Error(ctx, "step failed terminally",
				zap.String("step_kind", step.Kind), zap.Error(err))
			break
		}

		stepResult := p.scoreStep(step, res)
		result.Steps = append(result.Steps, stepResult)
		p.logger.Info(ctx, "step resolved",
			zap.String("step_kind", step.Kind),
			zap.String("state", string(res.State)),
			zap.Int("attempts", res.Attempts),
			zap.Float64("confidence", stepResult.Confidence.Overall))

		if res.State == retry.StateEscalatedStop {
			result.Halted = true
			break
		}
		if res.Output != nil {
			input = renderOutput(res.Output)
		}
	}

	p.finishRun(ctx, result)
	if result.Failed {
		return result, fmt.Errorf("pipeline run %s: %s", runID, result.Error)
	}
	return result, nil
}

// History returns a copy of the append-only execution history for this
// pipeline's document.
func (p *Pipeline) History() []retry.AttemptRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]retry.AttemptRecord, len(p.history))
	copy(out, p.history)
	return out
}

// scoreStep builds the per-step confidence breakdown from the judge score,
// structural ratios, and the external validation pass rate.
func (p *Pipeline) scoreStep(step Step, res *retry.Resolution) StepResult {
	sources := map[string]*float64{
		confidence.SourceJudge:        nil,
		confidence.SourceStructural:   structural.CompletionRatio(res.Output, step.ExpectedFields),
		confidence.SourceEvidence:     structural.EvidenceCoverage(res.Output),
		confidence.SourceSelfReported: structural.SelfReported(res.Output),
	}
	// A parse-failed verdict carries no usable score.
	if res.Verdict != nil && !res.Verdict.ParseFailed {
		sources[confidence.SourceJudge] = confidence.Value(res.Verdict.Score)
	}
	if p.validator != nil {
		sources[confidence.SourceValidation] = p.validator.PassRate(step.Kind, res.Output)
	}

	breakdown := confidence.Aggregate(sources, p.opts.Weights, p.opts.ReviewThreshold)
	if p.metrics != nil {
		p.metrics.ConfidenceOverall.Observe(breakdown.Overall)
	}
	return StepResult{
		Kind:             step.Kind,
		Resolution:       res,
		Confidence:       breakdown,
		NeedsHumanReview: res.NeedsHumanReview || breakdown.NeedsHumanReview,
	}
}

// finishRun computes the run-level breakdown from per-step overalls with
// equal weight per step.
func (p *Pipeline) finishRun(ctx context.Context, result *RunResult) {
	result.FinishedAt = time.Now().UTC()

	sources := make(map[string]*float64, len(result.Steps))
	weights := make(map[string]float64, len(result.Steps))
	for i := range result.Steps {
		sr := &result.Steps[i]
		weights[sr.Kind] = 1
		if sr.Resolution != nil && sr.Resolution.Output != nil {
			sources[sr.Kind] = confidence.Value(sr.Confidence.Overall)
		} else {
			sources[sr.Kind] = nil
		}
		if sr.NeedsHumanReview {
			result.NeedsHumanReview = true
		}
	}
	result.Overall = confidence.Aggregate(sources, weights, p.opts.ReviewThreshold)
	if result.Overall.NeedsHumanReview || result.Failed || result.Halted {
		result.NeedsHumanReview = true
	}

	p.logger.Info(ctx, "pipeline run finished",
		zap.Float64("overall", result.Overall.Overall),
		zap.Bool("needs_human_review", result.NeedsHumanReview),
		zap.Bool("failed", result.Failed))
}

func (p *Pipeline) budgetFor(step Step) int {
	if step.MaxRetries > 0 {
		return step.MaxRetries
	}
	return p.opts.MaxRetries
}

func (p *Pipeline) appendHistory(records []retry.AttemptRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, records...)
}

func (p *Pipeline) countRunFailure() {
	if p.metrics != nil {
		p.metrics.RunFailuresTotal.Inc()
	}
}

// renderOutput serializes a step output as the next step's input.
func renderOutput(out *worker.Output) string {
	if len(out.Fields) > 0 {
		if b, err := json.Marshal(out.Fields); err == nil {
			return string(b)
		}
	}
	return out.Raw
}
