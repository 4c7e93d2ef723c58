package pipeline

import (
	"sync"
	"time"
)

// RunSummary is the list view of a stored run.
type RunSummary struct {
	RunID            string    `json:"run_id"`
	DocumentID       string    `json:"document_id"`
	Document         string    `json:"document,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Overall          float64   `json:"overall"`
	NeedsHumanReview bool      `json:"needs_human_review"`
	Failed           bool      `json:"failed"`
	Steps            int       `json:"steps"`
}

// RunStore keeps completed run results in memory for the status API.
// Safe for concurrent use by document pipelines and the HTTP server.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]*RunResult
	order []string
}

// NewRunStore creates an empty store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*RunResult)}
}

// Add stores a completed run result.
func (s *RunStore) Add(r *RunResult) {
	if r == nil || r.RunID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[r.RunID]; !exists {
		s.order = append(s.order, r.RunID)
	}
	s.runs[r.RunID] = r
}

// Get returns a stored run by ID.
func (s *RunStore) Get(runID string) (*RunResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	return r, ok
}

// List returns summaries of all stored runs in insertion order.
func (s *RunStore) List() []RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunSummary, 0, len(s.order))
	for _, id := range s.order {
		r := s.runs[id]
		out = append(out, RunSummary{
			RunID:            r.RunID,
			DocumentID:       r.DocumentID,
			Document:         r.Document,
			StartedAt:        r.StartedAt,
			FinishedAt:       r.FinishedAt,
			Overall:          r.Overall.Overall,
			NeedsHumanReview: r.NeedsHumanReview,
			Failed:           r.Failed,
			Steps:            len(r.Steps),
		})
	}
	return out
}
