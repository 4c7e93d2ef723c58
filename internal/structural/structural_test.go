package structural

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/extractd/internal/worker"
)

func TestCompletionRatio(t *testing.T) {
	out := &worker.Output{Fields: map[string]any{
		"invoice_number": "INV-100",
		"total":          42.5,
		"currency":       "",
		"items":          []any{},
	}}
	expected := []string{"invoice_number", "total", "currency", "items"}

	ratio := CompletionRatio(out, expected)
	require.NotNil(t, ratio)
	assert.InDelta(t, 0.5, *ratio, 0.0001, "empty string and empty list do not count")
}

func TestCompletionRatio_NoExpectations(t *testing.T) {
	out := &worker.Output{Fields: map[string]any{"a": 1}}
	assert.Nil(t, CompletionRatio(out, nil))
	assert.Nil(t, CompletionRatio(nil, []string{"a"}))
}

func TestCompletionRatio_MissingFieldKeys(t *testing.T) {
	out := &worker.Output{Fields: map[string]any{"present": "yes"}}

	ratio := CompletionRatio(out, []string{"present", "absent"})
	require.NotNil(t, ratio)
	assert.InDelta(t, 0.5, *ratio, 0.0001)
}

func TestEvidenceCoverage(t *testing.T) {
	out := &worker.Output{
		Fields: map[string]any{
			"total":    99.0,
			"currency": "EUR",
		},
		Evidence: map[string]string{
			"total": "Grand total: 99.00",
		},
	}

	ratio := EvidenceCoverage(out)
	require.NotNil(t, ratio)
	assert.InDelta(t, 0.5, *ratio, 0.0001)
}

func TestEvidenceCoverage_NoPopulatedFields(t *testing.T) {
	assert.Nil(t, EvidenceCoverage(&worker.Output{Fields: map[string]any{"x": ""}}))
	assert.Nil(t, EvidenceCoverage(nil))
}

func TestSelfReported(t *testing.T) {
	out := &worker.Output{FieldConfidence: map[string]float64{
		"total":    0.9,
		"currency": 0.7,
	}}

	mean := SelfReported(out)
	require.NotNil(t, mean)
	assert.InDelta(t, 0.8, *mean, 0.0001)
}

func TestSelfReported_ClampsOutOfRange(t *testing.T) {
	out := &worker.Output{FieldConfidence: map[string]float64{
		"a": 1.5,
		"b": -0.5,
	}}

	mean := SelfReported(out)
	require.NotNil(t, mean)
	assert.InDelta(t, 0.5, *mean, 0.0001)
}

func TestSelfReported_NoneReported(t *testing.T) {
	assert.Nil(t, SelfReported(&worker.Output{}))
}
