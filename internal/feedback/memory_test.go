package feedback

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_AddAndGet(t *testing.T) {
	m := NewMemory(10)

	m.Add("parse", []string{"quote the source line", "normalize dates"})
	m.Add("parse", []string{"include units"})

	got := m.Get("parse")
	assert.Equal(t, []string{"quote the source line", "normalize dates", "include units"}, got)
}

func TestMemory_DeduplicatesAfterNormalization(t *testing.T) {
	m := NewMemory(10)

	m.Add("parse", []string{"Normalize Dates"})
	m.Add("parse", []string{"  normalize dates  "})
	m.Add("parse", []string{"NORMALIZE DATES"})

	got := m.Get("parse")
	require.Len(t, got, 1)
	// The first-seen form is retained.
	assert.Equal(t, "Normalize Dates", got[0])
}

func TestMemory_IgnoresBlankOps(t *testing.T) {
	m := NewMemory(10)

	m.Add("parse", []string{"", "   ", "real suggestion"})

	assert.Equal(t, []string{"real suggestion"}, m.Get("parse"))
}

func TestMemory_EvictsOldestAtCap(t *testing.T) {
	m := NewMemory(3)

	for i := 1; i <= 5; i++ {
		m.Add("parse", []string{fmt.Sprintf("op %d", i)})
	}

	assert.Equal(t, []string{"op 3", "op 4", "op 5"}, m.Get("parse"))
}

func TestMemory_StepKindsAreIndependent(t *testing.T) {
	m := NewMemory(10)

	m.Add("parse", []string{"fix parse"})
	m.Add("generate", []string{"fix generate"})

	assert.Equal(t, []string{"fix parse"}, m.Get("parse"))
	assert.Equal(t, []string{"fix generate"}, m.Get("generate"))
}

func TestMemory_Reset(t *testing.T) {
	m := NewMemory(10)

	m.Add("parse", []string{"fix parse"})
	m.Reset("parse")

	assert.Nil(t, m.Get("parse"))
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory(10)
	m.Add("parse", []string{"first", "second"})

	got := m.Get("parse")
	got[0] = "mutated"

	assert.Equal(t, []string{"first", "second"}, m.Get("parse"))
}

func TestMemory_ZeroCapFallsBackToDefault(t *testing.T) {
	m := NewMemory(0)

	for i := 0; i < DefaultCap+5; i++ {
		m.Add("parse", []string{fmt.Sprintf("op %d", i)})
	}

	assert.Len(t, m.Get("parse"), DefaultCap)
}
