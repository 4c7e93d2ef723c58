package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/extractd/internal/judge"
	"github.com/halcyonlabs/extractd/internal/logging"
	"github.com/halcyonlabs/extractd/internal/retry"
	"github.com/halcyonlabs/extractd/internal/worker"
)

// fakeResolver resolves every step on the first attempt with a scripted
// state per step kind, recording the contexts it saw.
type fakeResolver struct {
	states   map[string]retry.State
	scores   map[string]float64
	failKind string
	contexts []worker.StepContext
}

func (f *fakeResolver) Resolve(ctx context.Context, stepKind string, inv worker.Invoker, sc worker.StepContext, maxRetries int) (*retry.Resolution, error) {
	f.contexts = append(f.contexts, sc)

	rec := retry.AttemptRecord{StepKind: stepKind, Attempt: 1}
	if stepKind == f.failKind {
		return &retry.Resolution{
			StepKind:         stepKind,
			Attempts:         maxRetries,
			NeedsHumanReview: true,
			History:          []retry.AttemptRecord{rec},
		}, errors.New("no usable output")
	}

	out, err := inv.Invoke(ctx, sc)
	if err != nil {
		return nil, err
	}
	state := f.states[stepKind]
	if state == "" {
		state = retry.StateAccepted
	}
	score := f.scores[stepKind]
	if score == 0 {
		score = 0.9
	}
	v := judge.Verdict{Score: score, Decision: judge.DecisionAccept}
	rec.Output = out
	rec.Verdict = &v
	return &retry.Resolution{
		StepKind:         stepKind,
		State:            state,
		Output:           out,
		Verdict:          &v,
		Attempts:         1,
		NeedsHumanReview: state != retry.StateAccepted,
		History:          []retry.AttemptRecord{rec},
	}, nil
}

func staticWorker(fields map[string]any) worker.Invoker {
	return worker.InvokeFunc(func(ctx context.Context, sc worker.StepContext) (*worker.Output, error) {
		return &worker.Output{Fields: fields}, nil
	})
}

func twoSteps() []Step {
	return []Step{
		{
			Kind:           "parse",
			Goal:           "extract the header",
			ExpectedFields: []string{"invoice_number"},
			Invoker:        staticWorker(map[string]any{"invoice_number": "INV-1"}),
		},
		{
			Kind:           "enrich",
			Goal:           "normalize the fields",
			ExpectedFields: []string{"invoice_number", "currency"},
			Invoker:        staticWorker(map[string]any{"invoice_number": "INV-1", "currency": "EUR"}),
		},
	}
}

func TestRun_ThreadsOutputsForward(t *testing.T) {
	resolver := &fakeResolver{}
	p, err := New(twoSteps(), resolver, nil, Options{}, logging.NewNop(), nil)
	require.NoError(t, err)

	result, err := p.Run(context.Background(), Document{Text: "raw invoice text"})
	require.NoError(t, err)

	require.Len(t, result.Steps, 2)
	assert.NotEmpty(t, result.RunID)
	assert.NotEmpty(t, result.DocumentID)

	require.Len(t, resolver.contexts, 2)
	assert.Equal(t, "raw invoice text", resolver.contexts[0].Input)
	assert.Contains(t, resolver.contexts[1].Input, "INV-1",
		"second step consumes the first step's rendered output")
}

func TestRun_ComputesStepAndRunConfidence(t *testing.T) {
	resolver := &fakeResolver{scores: map[string]float64{"parse": 0.9, "enrich": 0.9}}
	p, err := New(twoSteps(), resolver, nil, Options{ReviewThreshold: 0.5}, logging.NewNop(), nil)
	require.NoError(t, err)

	result, err := p.Run(context.Background(), Document{Text: "doc"})
	require.NoError(t, err)

	for _, sr := range result.Steps {
		assert.Greater(t, sr.Confidence.Overall, 0.0)
		assert.NotNil(t, sr.Confidence.Sources["judge"])
	}
	assert.Greater(t, result.Overall.Overall, 0.0)
	assert.False(t, result.NeedsHumanReview)
	assert.False(t, result.FinishedAt.IsZero())
}

func TestRun_EscalatedStopHaltsPipeline(t *testing.T) {
	resolver := &fakeResolver{states: map[string]retry.State{"parse": retry.StateEscalatedStop}}
	p, err := New(twoSteps(), resolver, nil, Options{}, logging.NewNop(), nil)
	require.NoError(t, err)

	result, err := p.Run(context.Background(), Document{Text: "doc"})
	require.NoError(t, err)

	assert.True(t, result.Halted)
	assert.True(t, result.NeedsHumanReview)
	require.Len(t, result.Steps, 1, "second step never attempted")
	require.Len(t, resolver.contexts, 1)
}

func TestRun_TerminalFailureStopsAndSurfaces(t *testing.T) {
	resolver := &fakeResolver{failKind: "parse"}
	p, err := New(twoSteps(), resolver, nil, Options{}, logging.NewNop(), nil)
	require.NoError(t, err)

	result, err := p.Run(context.Background(), Document{Text: "doc"})
	require.Error(t, err)

	assert.True(t, result.Failed)
	assert.True(t, result.NeedsHumanReview)
	require.Len(t, result.Steps, 1)
	assert.NotEmpty(t, p.History(), "failed attempts still recorded")
	require.Len(t, resolver.contexts, 1, "subsequent steps not attempted")
}

func TestRun_HistoryIsAppendOnlyAcrossSteps(t *testing.T) {
	resolver := &fakeResolver{}
	p, err := New(twoSteps(), resolver, nil, Options{}, logging.NewNop(), nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), Document{Text: "doc"})
	require.NoError(t, err)

	history := p.History()
	require.Len(t, history, 2)
	assert.Equal(t, "parse", history[0].StepKind)
	assert.Equal(t, "enrich", history[1].StepKind)

	// Mutating the returned slice does not affect the owned history.
	history[0].StepKind = "tampered"
	assert.Equal(t, "parse", p.History()[0].StepKind)
}

func TestRun_CancelledContext(t *testing.T) {
	resolver := &fakeResolver{}
	p, err := New(twoSteps(), resolver, nil, Options{}, logging.NewNop(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.Run(ctx, Document{Text: "doc"})
	require.Error(t, err)
	assert.True(t, result.Failed)
	assert.Empty(t, resolver.contexts)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, &fakeResolver{}, nil, Options{}, logging.NewNop(), nil)
	assert.Error(t, err, "empty pipeline rejected")

	_, err = New([]Step{{Kind: "", Invoker: staticWorker(nil)}}, &fakeResolver{}, nil, Options{}, logging.NewNop(), nil)
	assert.Error(t, err, "step without kind rejected")

	_, err = New([]Step{{Kind: "parse"}}, &fakeResolver{}, nil, Options{}, logging.NewNop(), nil)
	assert.Error(t, err, "step without invoker rejected")
}

func TestRunStore(t *testing.T) {
	store := NewRunStore()
	store.Add(&RunResult{RunID: "r1", DocumentID: "d1", Steps: []StepResult{{Kind: "parse"}}})
	store.Add(&RunResult{RunID: "r2", DocumentID: "d2", NeedsHumanReview: true})

	got, ok := store.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "d1", got.DocumentID)

	_, ok = store.Get("missing")
	assert.False(t, ok)

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, "r1", list[0].RunID)
	assert.Equal(t, 1, list[0].Steps)
	assert.True(t, list[1].NeedsHumanReview)
}
