// Package structural computes content-independent quality ratios over a
// candidate output: how complete it is against the expected fields, how much
// of it is backed by evidence, and what the worker itself believed.
//
// All functions return nil when the ratio is not computable, so the
// confidence aggregator can exclude the source instead of counting it as
// zero.
package structural

import (
	"strings"

	"github.com/halcyonlabs/extractd/internal/worker"
)

// CompletionRatio is the fraction of expected fields populated in the
// output. Returns nil when no fields are expected.
func CompletionRatio(out *worker.Output, expected []string) *float64 {
	if out == nil || len(expected) == 0 {
		return nil
	}
	populated := 0
	for _, name := range expected {
		if isPopulated(out.Fields[name]) {
			populated++
		}
	}
	ratio := float64(populated) / float64(len(expected))
	return &ratio
}

// EvidenceCoverage is the fraction of populated fields that carry a
// supporting source excerpt. Returns nil when the output has no populated
// fields.
func EvidenceCoverage(out *worker.Output) *float64 {
	if out == nil {
		return nil
	}
	populated := 0
	covered := 0
	for name, v := range out.Fields {
		if !isPopulated(v) {
			continue
		}
		populated++
		if strings.TrimSpace(out.Evidence[name]) != "" {
			covered++
		}
	}
	if populated == 0 {
		return nil
	}
	ratio := float64(covered) / float64(populated)
	return &ratio
}

// SelfReported is the mean of the worker's per-field confidence values.
// Returns nil when the worker reported none.
func SelfReported(out *worker.Output) *float64 {
	if out == nil || len(out.FieldConfidence) == 0 {
		return nil
	}
	var sum float64
	for _, v := range out.FieldConfidence {
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		sum += v
	}
	mean := sum / float64(len(out.FieldConfidence))
	return &mean
}

// isPopulated treats nil, empty strings, and empty collections as missing.
func isPopulated(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
