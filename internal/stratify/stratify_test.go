package stratify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/epimorph/internal/model"
	"github.com/vk/epimorph/internal/stratify"
	"github.com/vk/epimorph/internal/symbol"
)

func twoCitySIR() model.Model {
	return model.Model{
		Name:        "sir",
		StartDate:   "2020-03-01",
		Populations: []string{"city1", "city2"},
		Shared:      []string{"N", "beta", "gamma"},
		Inputs: []model.Input{
			{Name: "S"},
			{Name: "I", Value: model.Keyed(map[string]float64{"city1": 10, "city2": 2})},
			{Name: "R", Value: model.Scalar(0.0)},
			{Name: "N", Tag: model.TagPopSize, Value: model.Scalar(500000.0)},
			{Name: "beta", Prior: model.Scalar(model.Prior{Dist: "uniform"})},
			{Name: "gamma", Value: model.Scalar(0.2)},
			{Name: "Inc", Value: model.Scalar(0.0)},
		},
		Reactions: []model.Reaction{
			{From: "S", To: []model.Branch{{To: "I"}}, Rate: model.Scalar("beta * I / N"), Description: "infection", Accumulators: []string{"Inc"}},
			{From: "I", To: []model.Branch{{To: "R"}}, Rate: model.Scalar("gamma"), Description: "recovery"},
		},
		Observations: []model.Observation{
			{Name: "cases", Mean: "Inc", SD: "sqrt(Inc)"},
		},
	}
}

func TestApply_Completeness(t *testing.T) {
	out, err := stratify.Apply(twoCitySIR())
	require.NoError(t, err)

	names := map[string]bool{}
	for _, in := range out.Inputs {
		names[in.Name] = true
	}

	// Non-shared inputs are replicated per population; shared ones appear
	// exactly once.
	for _, base := range []string{"S", "I", "R", "Inc"} {
		assert.True(t, names[symbol.ForPopulation(base, "city1")], base)
		assert.True(t, names[symbol.ForPopulation(base, "city2")], base)
		assert.False(t, names[base], base)
	}
	for _, shared := range []string{"N", "beta", "gamma"} {
		assert.True(t, names[shared], shared)
	}
	assert.Len(t, out.Inputs, 4*2+3)

	// Two reactions per population.
	require.Len(t, out.Reactions, 4)
	infection := out.Reactions[0]
	assert.Equal(t, "S__pop_city1", infection.From)
	assert.Equal(t, "I__pop_city1", infection.To[0].To)
	rate, ok := infection.Rate.Single()
	require.True(t, ok)
	assert.Equal(t, "beta * I__pop_city1 / N", rate)
	assert.Equal(t, []string{"Inc__pop_city1"}, infection.Accumulators)
}

func TestApply_ObservationsQualified(t *testing.T) {
	out, err := stratify.Apply(twoCitySIR())
	require.NoError(t, err)

	require.Len(t, out.Observations, 2)
	assert.Equal(t, "cases__pop_city1", out.Observations[0].Name)
	assert.Equal(t, "Inc__pop_city1", out.Observations[0].Mean)
	assert.Equal(t, "sqrt(Inc__pop_city2)", out.Observations[1].SD)
}

func TestApply_KeyedValueResolution(t *testing.T) {
	out, err := stratify.Apply(twoCitySIR())
	require.NoError(t, err)

	i1, ok := out.FindInput("I__pop_city1")
	require.True(t, ok)
	v, ok := i1.Value.Single()
	require.True(t, ok)
	assert.Equal(t, 10.0, v)

	i2, ok := out.FindInput("I__pop_city2")
	require.True(t, ok)
	v, ok = i2.Value.Single()
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
}

func TestApply_KeyedRate(t *testing.T) {
	m := twoCitySIR()
	m.Reactions[1].Rate = model.Keyed(map[string]string{
		"city1": "gamma",
		"city2": "gamma * 1.5",
	})
	out, err := stratify.Apply(m)
	require.NoError(t, err)

	rate, ok := out.Reactions[3].Rate.Single()
	require.True(t, ok)
	assert.Equal(t, "gamma * 1.5", rate)
}

func TestApply_KeyedRateMissingPopulation(t *testing.T) {
	m := twoCitySIR()
	m.Reactions[1].Rate = model.Keyed(map[string]string{"city1": "gamma", "elsewhere": "0"})
	_, err := stratify.Apply(m)
	require.ErrorIs(t, err, stratify.ErrUnresolvedRate)
}

func TestApply_AmbiguousValue(t *testing.T) {
	m := twoCitySIR()
	m.Inputs[1].Value = model.Keyed(map[string]float64{"town1": 10, "town2": 2})
	_, err := stratify.Apply(m)
	require.ErrorIs(t, err, stratify.ErrAmbiguousValue)
}

func TestApply_SharedKeyedValueMustAgree(t *testing.T) {
	// A shared input is emitted once, so a keyed value whose entries differ
	// would silently drop every population's entry but the first.
	m := twoCitySIR()
	m.Inputs[3].Value = model.Keyed(map[string]float64{"city1": 500000, "city2": 200000})
	_, err := stratify.Apply(m)
	require.ErrorIs(t, err, stratify.ErrAmbiguousValue)

	// Identical entries collapse to the single shared scalar.
	m.Inputs[3].Value = model.Keyed(map[string]float64{"city1": 500000, "city2": 500000})
	out, err := stratify.Apply(m)
	require.NoError(t, err)
	n, ok := out.FindInput("N")
	require.True(t, ok)
	v, ok := n.Value.Single()
	require.True(t, ok)
	assert.Equal(t, 500000.0, v)
}

func TestApply_SharedKeyedPriorMustAgree(t *testing.T) {
	m := twoCitySIR()
	m.Inputs[4].Prior = model.Keyed(map[string]model.Prior{
		"city1": {Dist: "uniform", Params: map[string]float64{"lower": 0.05}},
		"city2": {Dist: "uniform", Params: map[string]float64{"lower": 0.1}},
	})
	_, err := stratify.Apply(m)
	require.ErrorIs(t, err, stratify.ErrAmbiguousValue)

	m.Inputs[4].Prior = model.Keyed(map[string]model.Prior{
		"city1": {Dist: "uniform", Params: map[string]float64{"lower": 0.05}},
		"city2": {Dist: "uniform", Params: map[string]float64{"lower": 0.05}},
	})
	out, err := stratify.Apply(m)
	require.NoError(t, err)
	beta, ok := out.FindInput("beta")
	require.True(t, ok)
	p, ok := beta.Prior.Single()
	require.True(t, ok)
	assert.Equal(t, "uniform", p.Dist)
}

func TestApply_SingleEntryKeyedAppliesUniformly(t *testing.T) {
	m := twoCitySIR()
	m.Inputs[1].Value = model.Keyed(map[string]float64{"anywhere": 7})
	out, err := stratify.Apply(m)
	require.NoError(t, err)

	for _, pop := range []string{"city1", "city2"} {
		in, ok := out.FindInput(symbol.ForPopulation("I", pop))
		require.True(t, ok)
		v, ok := in.Value.Single()
		require.True(t, ok)
		assert.Equal(t, 7.0, v)
	}
}

func TestApply_WhiteNoiseQualified(t *testing.T) {
	m := twoCitySIR()
	m.Reactions[0].WhiteNoise = &model.WhiteNoise{Name: "n_inf", SD: "sto * I"}
	out, err := stratify.Apply(m)
	require.NoError(t, err)

	wn := out.Reactions[0].WhiteNoise
	require.NotNil(t, wn)
	assert.Equal(t, "n_inf__pop_city1", wn.Name)
	assert.Equal(t, "sto * I__pop_city1", wn.SD)

	// The source model's reaction is not mutated in place.
	assert.Equal(t, "n_inf", m.Reactions[0].WhiteNoise.Name)
}

func TestApply_ErlangMapsRecombined(t *testing.T) {
	m := twoCitySIR()
	m.Erlang = model.Erlang{
		Shapes:     map[string]model.Variant[int]{"I": model.Scalar(2), "gamma": model.Scalar(1)},
		PriorModes: map[string]string{"I": model.PriorModeSum},
	}
	out, err := stratify.Apply(m)
	require.NoError(t, err)

	k, ok := out.Erlang.Shapes["I__pop_city1"].Single()
	require.True(t, ok)
	assert.Equal(t, 2, k)
	k, ok = out.Erlang.Shapes["I__pop_city2"].Single()
	require.True(t, ok)
	assert.Equal(t, 2, k)
	_, present := out.Erlang.Shapes["I"]
	assert.False(t, present)

	// Shared names keep a single entry.
	k, ok = out.Erlang.Shapes["gamma"].Single()
	require.True(t, ok)
	assert.Equal(t, 1, k)

	assert.Equal(t, model.PriorModeSum, out.Erlang.PriorModes["I__pop_city1"])
	assert.Equal(t, model.PriorModeSum, out.Erlang.PriorModes["I__pop_city2"])
}

func TestApply_ErlangKeyedShapeCoversMissingPopulation(t *testing.T) {
	// A uniform keyed shape naming only some populations still applies to
	// the rest; the bundle must never report a shape of 0.
	m := model.Model{
		Populations: []string{"a", "b", "c"},
		Inputs:      []model.Input{{Name: "I", Value: model.Scalar(1.0)}},
		Erlang: model.Erlang{
			Shapes: map[string]model.Variant[int]{"I": model.Keyed(map[string]int{"a": 2, "b": 2})},
		},
	}
	out, err := stratify.Apply(m)
	require.NoError(t, err)
	for _, pop := range m.Populations {
		k, ok := out.Erlang.Shapes[symbol.ForPopulation("I", pop)].Single()
		require.True(t, ok, pop)
		assert.Equal(t, 2, k, pop)
	}

	m.Erlang.Shapes["I"] = model.Keyed(map[string]int{"a": 2, "b": 3})
	_, err = stratify.Apply(m)
	require.ErrorContains(t, err, "does not cover")
}

func TestApply_NoPopulations(t *testing.T) {
	m := twoCitySIR()
	m.Populations = nil
	m.Inputs[1].Value = model.Scalar(10.0)
	out, err := stratify.Apply(m)
	require.NoError(t, err)
	assert.Equal(t, "S", out.Reactions[0].From)

	m.Reactions[1].Rate = model.Keyed(map[string]string{"city1": "gamma", "city2": "gamma"})
	_, err = stratify.Apply(m)
	require.ErrorIs(t, err, stratify.ErrUnresolvedRate)
}
