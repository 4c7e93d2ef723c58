// Package feedback tracks improvement suggestions and score progression
// across retry attempts for a step kind.
//
// Both stores are scoped to a single document pipeline and are never shared
// across documents. They are safe for concurrent use so independent step
// resolutions within one process do not need external locking.
package feedback

import (
	"strings"
	"sync"
)

// DefaultCap bounds the number of retained improvement operations per step
// kind so the context sent to the judge and worker on later attempts stays
// bounded.
const DefaultCap = 10

// Memory accumulates improvement operations per step kind across attempts,
// deduplicating repeats and evicting the oldest entries once the cap is
// reached.
type Memory struct {
	mu  sync.Mutex
	cap int
	ops map[string][]string
}

// NewMemory creates a feedback memory with the given per-step-kind cap.
// A cap of zero or less falls back to DefaultCap.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Memory{
		cap: capacity,
		ops: make(map[string][]string),
	}
}

// Add appends new improvement operations for a step kind. Each operation is
// compared after normalization (trim, case-fold) against stored entries and
// skipped if already present. Blank operations are ignored. Once the cap is
// exceeded the oldest entries are evicted first.
func (m *Memory) Add(stepKind string, ops []string) {
	if len(ops) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.ops[stepKind]
	for _, op := range ops {
		op = strings.TrimSpace(op)
		if op == "" {
			continue
		}
		if containsNormalized(stored, op) {
			continue
		}
		stored = append(stored, op)
	}

	if excess := len(stored) - m.cap; excess > 0 {
		stored = stored[excess:]
	}
	m.ops[stepKind] = stored
}

// Get returns the current bounded, deduplicated operations for a step kind
// in insertion order. The returned slice is a copy.
func (m *Memory) Get(stepKind string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.ops[stepKind]
	if len(stored) == 0 {
		return nil
	}
	out := make([]string, len(stored))
	copy(out, stored)
	return out
}

// Reset discards all retained operations for a step kind. Called when the
// step is finally resolved.
func (m *Memory) Reset(stepKind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ops, stepKind)
}

func containsNormalized(stored []string, op string) bool {
	norm := normalizeOp(op)
	for _, existing := range stored {
		if normalizeOp(existing) == norm {
			return true
		}
	}
	return false
}

func normalizeOp(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
