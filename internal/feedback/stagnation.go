package feedback

import "sync"

// DefaultStagnationWindow is the number of consecutive repeats of the same
// score required before the detector signals no progress.
const DefaultStagnationWindow = 2

// StagnationDetector watches consecutive judge scores for a step kind and
// signals when retries stop making progress.
//
// Scores are compared with exact equality: they arrive at fixed granularity,
// so an unchanged value means the judge saw no improvement.
type StagnationDetector struct {
	mu     sync.Mutex
	window int
	states map[string]*scoreRun
}

type scoreRun struct {
	last    float64
	seen    bool
	repeats int
}

// NewStagnationDetector creates a detector that signals after window
// consecutive repeats. A window of zero or less falls back to
// DefaultStagnationWindow.
func NewStagnationDetector(window int) *StagnationDetector {
	if window <= 0 {
		window = DefaultStagnationWindow
	}
	return &StagnationDetector{
		window: window,
		states: make(map[string]*scoreRun),
	}
}

// Observe records a score for a step kind and reports whether the
// no-progress condition now holds. The repeat counter resets whenever a
// score differs from the immediately preceding one.
func (d *StagnationDetector) Observe(stepKind string, score float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	run, ok := d.states[stepKind]
	if !ok {
		run = &scoreRun{}
		d.states[stepKind] = run
	}

	if run.seen && run.last == score {
		run.repeats++
	} else {
		run.repeats = 0
	}
	run.last = score
	run.seen = true

	return run.repeats >= d.window
}

// Reset clears the recorded run for a step kind. Called when the step is
// finally resolved.
func (d *StagnationDetector) Reset(stepKind string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, stepKind)
}
