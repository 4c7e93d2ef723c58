package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonlabs/extractd/internal/worker"
)

func TestPassRate_AllRulesPass(t *testing.T) {
	v := New(map[string][]Rule{
		"parse": {
			{Field: "invoice_number", Required: true, Kind: KindString},
			{Field: "total", Required: true, Kind: KindNumber},
		},
	})
	out := &worker.Output{Fields: map[string]any{
		"invoice_number": "INV-1",
		"total":          10.5,
	}}

	rate := v.PassRate("parse", out)
	require.NotNil(t, rate)
	assert.Equal(t, 1.0, *rate)
}

func TestPassRate_PartialFailures(t *testing.T) {
	v := New(map[string][]Rule{
		"parse": {
			{Field: "invoice_number", Required: true, Kind: KindString},
			{Field: "total", Required: true, Kind: KindNumber},
			{Field: "items", Required: true, Kind: KindArray},
			{Field: "note", Required: false, Kind: KindString},
		},
	})
	out := &worker.Output{Fields: map[string]any{
		"invoice_number": "INV-1",
		"total":          "ten", // wrong type
		// items missing but required
		// note missing but optional
	}}

	rate := v.PassRate("parse", out)
	require.NotNil(t, rate)
	assert.InDelta(t, 0.5, *rate, 0.0001)
}

func TestPassRate_RequiredBlankStringFails(t *testing.T) {
	v := New(map[string][]Rule{
		"parse": {{Field: "currency", Required: true, Kind: KindString}},
	})
	out := &worker.Output{Fields: map[string]any{"currency": "   "}}

	rate := v.PassRate("parse", out)
	require.NotNil(t, rate)
	assert.Zero(t, *rate)
}

func TestPassRate_NoRulesMeansUnavailable(t *testing.T) {
	v := New(nil)
	out := &worker.Output{Fields: map[string]any{"a": 1}}

	assert.Nil(t, v.PassRate("parse", out))
	assert.Nil(t, v.PassRate("parse", nil))
}

func TestMatchesKind(t *testing.T) {
	cases := []struct {
		kind Kind
		val  any
		want bool
	}{
		{KindAny, "anything", true},
		{KindString, "s", true},
		{KindString, 1, false},
		{KindNumber, 1.5, true},
		{KindNumber, 3, true},
		{KindNumber, "3", false},
		{KindBool, true, true},
		{KindArray, []any{1}, true},
		{KindArray, "not array", false},
		{KindObject, map[string]any{}, true},
		{Kind("mystery"), "x", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchesKind(tc.kind, tc.val), "%v / %v", tc.kind, tc.val)
	}
}
