package symbol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/epimorph/internal/symbol"
)

func TestForPopulation_Injectivity(t *testing.T) {
	a := symbol.ForPopulation("I", "city1")
	b := symbol.ForPopulation("I", "city2")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, "I", a)
	assert.NotEqual(t, "I", b)

	// Distinct base names never collide either.
	assert.NotEqual(t, symbol.ForPopulation("I", "c"), symbol.ForPopulation("Inc", "c"))
}

func TestSplitPopulation_RoundTrip(t *testing.T) {
	q := symbol.ForPopulation("Inc", "city1")
	base, pop, ok := symbol.SplitPopulation(q)
	require.True(t, ok)
	assert.Equal(t, "Inc", base)
	assert.Equal(t, "city1", pop)

	_, _, ok = symbol.SplitPopulation("Inc")
	assert.False(t, ok)
}

func TestForStage_RoundTrip(t *testing.T) {
	q := symbol.ForStage("E", 3)
	base, stage, ok := symbol.SplitStage(q)
	require.True(t, ok)
	assert.Equal(t, "E", base)
	assert.Equal(t, 3, stage)

	// The carrier name is not a stage name.
	_, _, ok = symbol.SplitStage(symbol.StageTotal("E"))
	assert.False(t, ok)
}

func TestStages(t *testing.T) {
	got := symbol.Stages("E", 3)
	assert.Equal(t, []string{
		symbol.ForStage("E", 1),
		symbol.ForStage("E", 2),
		symbol.ForStage("E", 3),
	}, got)
}

func TestNestedQualification_Recoverable(t *testing.T) {
	// A stage name qualified for a population splits back in two steps.
	q := symbol.ForPopulation(symbol.ForStage("E", 2), "city1")
	base, pop, ok := symbol.SplitPopulation(q)
	require.True(t, ok)
	assert.Equal(t, "city1", pop)
	inner, stage, ok := symbol.SplitStage(base)
	require.True(t, ok)
	assert.Equal(t, "E", inner)
	assert.Equal(t, 2, stage)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"S", true},
		{"Inc", true},
		{"beta_1", true},
		{"", false},
		{"1beta", false},
		{"_beta", false},
		{"beta-1", false},
		{"I__pop_city1", false},
		{"E__x1", false},
	}
	for _, tt := range tests {
		err := symbol.Validate(tt.name)
		if tt.ok {
			assert.NoError(t, err, tt.name)
		} else {
			assert.Error(t, err, tt.name)
		}
	}
}

func TestNearest(t *testing.T) {
	candidates := []string{"Infectious", "Recovered", "Susceptible"}
	assert.Equal(t, "Infectious", symbol.Nearest("Infectous", candidates))
	assert.Equal(t, "", symbol.Nearest("Quarantined", candidates))
}
