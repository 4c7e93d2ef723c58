// Package confidence fuses heterogeneous quality signals for a completed
// extraction step (or a whole run) into one interpretable score with a
// per-source breakdown.
package confidence

import (
	"math"
	"sort"
)

// Well-known source names. Callers may supply additional sources as long as
// the weight table carries an entry for them.
const (
	SourceJudge        = "judge"
	SourceStructural   = "structural"
	SourceEvidence     = "evidence"
	SourceSelfReported = "self_reported"
	SourceValidation   = "validation"
)

// DefaultReviewThreshold is the overall score below which a result is
// flagged for human review.
const DefaultReviewThreshold = 0.75

// DefaultWeights returns the default weight table.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		SourceJudge:      0.5,
		SourceStructural: 0.3,
		SourceValidation: 0.2,
	}
}

// Breakdown is the result of aggregating confidence signals.
//
// Sources holds the raw per-source values that were considered; a nil entry
// means the source was unavailable and excluded from the overall score.
// Weights holds the effective (renormalized) weights actually applied, so
// the overall score can be reproduced from the breakdown alone.
type Breakdown struct {
	Sources          map[string]*float64 `json:"sources"`
	Weights          map[string]float64  `json:"weights"`
	Overall          float64             `json:"overall"`
	NeedsHumanReview bool                `json:"needs_human_review"`
}

// AvailableSources returns the names of sources that contributed to the
// overall score, sorted for stable output.
func (b Breakdown) AvailableSources() []string {
	names := make([]string, 0, len(b.Weights))
	for name := range b.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aggregate fuses the given sources into a single overall score.
//
// For each available (non-nil) source with a positive weight, the weighted
// score is accumulated and the result is renormalized by the sum of the
// weights of the available sources, so missing sources do not deflate the
// result. The overall score is clamped to [0, 1].
//
// If no sources are available, overall is 0 and NeedsHumanReview is true.
//
// Aggregate is pure: it never mutates its arguments and has no side effects.
func Aggregate(sources map[string]*float64, weights map[string]float64, reviewThreshold float64) Breakdown {
	b := Breakdown{
		Sources: make(map[string]*float64, len(sources)),
		Weights: make(map[string]float64),
	}
	for name, v := range sources {
		if v == nil {
			b.Sources[name] = nil
			continue
		}
		val := clamp01(*v)
		b.Sources[name] = &val
	}

	var sum, totalWeight float64
	for name, v := range b.Sources {
		if v == nil {
			continue
		}
		w := weights[name]
		if w <= 0 {
			continue
		}
		sum += w * *v
		totalWeight += w
	}

	if totalWeight == 0 {
		b.Overall = 0
		b.NeedsHumanReview = true
		return b
	}

	for name, v := range b.Sources {
		if v == nil {
			continue
		}
		if w := weights[name]; w > 0 {
			b.Weights[name] = w / totalWeight
		}
	}

	b.Overall = clamp01(sum / totalWeight)
	b.NeedsHumanReview = b.Overall < reviewThreshold
	return b
}

// Value wraps a score as an available source entry.
func Value(v float64) *float64 {
	return &v
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
