package erlang_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/epimorph/internal/erlang"
	"github.com/vk/epimorph/internal/model"
	"github.com/vk/epimorph/internal/symbol"
)

// seir builds the test model: S -> E -> I -> R with an accumulator on
// onset and an observation over it.
func seir(shapes map[string]model.Variant[int], modes map[string]string) model.Model {
	return model.Model{
		Name:      "seir",
		StartDate: "2019-11-15",
		Inputs: []model.Input{
			{Name: "S"},
			{Name: "E", Prior: model.Scalar(model.Prior{Dist: "uniform", Params: map[string]float64{"lower": 0, "upper": 100}})},
			{Name: "I", Value: model.Scalar(5.0)},
			{Name: "R", Value: model.Scalar(0.0)},
			{Name: "sigma", Value: model.Scalar(0.25)},
			{Name: "Inc", Value: model.Scalar(0.0)},
		},
		Reactions: []model.Reaction{
			{From: "S", To: []model.Branch{{To: "E"}}, Rate: model.Scalar("beta * I / N"), Description: "exposure"},
			{From: "E", To: []model.Branch{{To: "I"}}, Rate: model.Scalar("sigma"), Description: "onset", Accumulators: []string{"Inc"}},
			{From: "I", To: []model.Branch{{To: "R"}}, Rate: model.Scalar("gamma"), Description: "recovery"},
		},
		Observations: []model.Observation{
			{Name: "incidence", Mean: "Inc", SD: "sqrt(E)"},
		},
		Erlang: model.Erlang{Shapes: shapes, PriorModes: modes},
	}
}

func TestExpand_MeanPreservation(t *testing.T) {
	m := seir(map[string]model.Variant[int]{"E": model.Scalar(3)}, nil)
	out, err := erlang.Expand(m)
	require.NoError(t, err)

	// Shape k yields k reactions at rate k/T: the rescaled exit from the
	// last stage plus k-1 pass-throughs, all carrying 3 * sigma.
	var chain []model.Reaction
	for _, r := range out.Reactions {
		rate, _ := r.Rate.Single()
		if rate == "3 * sigma" {
			chain = append(chain, r)
		}
	}
	require.Len(t, chain, 3)

	stage := func(i int) string { return symbol.ForStage("E", i) }
	byFrom := map[string]model.Reaction{}
	for _, r := range chain {
		byFrom[r.From] = r
	}
	assert.Equal(t, stage(2), byFrom[stage(1)].To[0].To)
	assert.Equal(t, stage(3), byFrom[stage(2)].To[0].To)

	// The original outgoing reaction keeps its identity, re-sourced from
	// the last stage.
	exit := byFrom[stage(3)]
	assert.Equal(t, "I", exit.To[0].To)
	assert.Equal(t, "onset", exit.Description)
	assert.Equal(t, []string{"Inc"}, exit.Accumulators)
}

func TestExpand_IncomingRetargetsStageOne(t *testing.T) {
	m := seir(map[string]model.Variant[int]{"E": model.Scalar(2)}, nil)
	out, err := erlang.Expand(m)
	require.NoError(t, err)

	var exposure model.Reaction
	for _, r := range out.Reactions {
		if r.Description == "exposure" {
			exposure = r
		}
	}
	assert.Equal(t, "S", exposure.From)
	assert.Equal(t, symbol.ForStage("E", 1), exposure.To[0].To)
}

func TestExpand_ReferencesBecomeOccupancySum(t *testing.T) {
	m := seir(map[string]model.Variant[int]{"E": model.Scalar(2)}, nil)
	m.Reactions[0].Rate = model.Scalar("beta * E / N")
	out, err := erlang.Expand(m)
	require.NoError(t, err)

	rate, _ := out.Reactions[0].Rate.Single()
	assert.Equal(t, "beta * (E__x1 + E__x2) / N", rate)
	assert.Equal(t, "sqrt((E__x1 + E__x2))", out.Observations[0].SD)
}

func TestExpand_SumPriorMode(t *testing.T) {
	m := seir(
		map[string]model.Variant[int]{"E": model.Scalar(2)},
		map[string]string{"E": model.PriorModeSum},
	)
	out, err := erlang.Expand(m)
	require.NoError(t, err)

	carrier, ok := out.FindInput(symbol.StageTotal("E"))
	require.True(t, ok)
	prior, ok := carrier.Prior.Single()
	require.True(t, ok)
	assert.Equal(t, "uniform", prior.Dist)

	for i := 1; i <= 2; i++ {
		sub, ok := out.FindInput(symbol.ForStage("E", i))
		require.True(t, ok)
		assert.True(t, sub.Prior.IsZero())
		assert.Equal(t, symbol.StageTotal("E")+" / 2", sub.Transformation)
	}
}

func TestExpand_EachPriorMode(t *testing.T) {
	m := seir(
		map[string]model.Variant[int]{"E": model.Scalar(2)},
		map[string]string{"E": model.PriorModeEach},
	)
	out, err := erlang.Expand(m)
	require.NoError(t, err)

	_, ok := out.FindInput(symbol.StageTotal("E"))
	assert.False(t, ok)
	for i := 1; i <= 2; i++ {
		sub, ok := out.FindInput(symbol.ForStage("E", i))
		require.True(t, ok)
		prior, ok := sub.Prior.Single()
		require.True(t, ok)
		assert.Equal(t, "uniform", prior.Dist)
	}
}

func TestExpand_ShapeOneIsNoOp(t *testing.T) {
	m := seir(map[string]model.Variant[int]{"E": model.Scalar(1)}, nil)
	out, err := erlang.Expand(m)
	require.NoError(t, err)
	assert.Equal(t, m.Inputs, out.Inputs)
	assert.Equal(t, m.Reactions, out.Reactions)
}

func TestExpand_UnknownCompartment(t *testing.T) {
	m := seir(map[string]model.Variant[int]{"Q": model.Scalar(2)}, nil)
	_, err := erlang.Expand(m)
	require.ErrorIs(t, err, erlang.ErrUnknownCompartment)

	m = seir(map[string]model.Variant[int]{"Ink": model.Scalar(2)}, nil)
	_, err = erlang.Expand(m)
	require.ErrorIs(t, err, erlang.ErrUnknownCompartment)
	assert.Contains(t, err.Error(), `"Inc"`)
}

func TestExpand_HeterogeneousShape(t *testing.T) {
	m := seir(map[string]model.Variant[int]{
		"E": model.Keyed(map[string]int{"city1": 2, "city2": 3}),
	}, nil)
	_, err := erlang.Expand(m)
	require.ErrorIs(t, err, erlang.ErrHeterogeneousShape)
}

func TestExpand_UniformKeyedShapeIsAccepted(t *testing.T) {
	m := seir(map[string]model.Variant[int]{
		"E": model.Keyed(map[string]int{"city1": 2, "city2": 2}),
	}, nil)
	out, err := erlang.Expand(m)
	require.NoError(t, err)
	_, ok := out.FindInput(symbol.ForStage("E", 2))
	assert.True(t, ok)
}

func TestExpand_NoOutgoingReaction(t *testing.T) {
	m := seir(map[string]model.Variant[int]{"R": model.Scalar(2)}, nil)
	_, err := erlang.Expand(m)
	require.ErrorIs(t, err, erlang.ErrNoOutgoingRate)
}

func TestExpand_RemainderCannotExpand(t *testing.T) {
	m := seir(map[string]model.Variant[int]{"S": model.Scalar(2)}, nil)
	m.Inputs[0].Tag = model.TagRemainder
	_, err := erlang.Expand(m)
	require.Error(t, err)
}

func TestExpand_KeyedRateIsExpandedPerVariant(t *testing.T) {
	m := seir(map[string]model.Variant[int]{"E": model.Scalar(2)}, nil)
	m.Reactions[1].Rate = model.Keyed(map[string]string{
		"city1": "sigma",
		"city2": "sigma * 2",
	})
	out, err := erlang.Expand(m)
	require.NoError(t, err)

	var exit model.Reaction
	for _, r := range out.Reactions {
		if r.Description == "onset" {
			exit = r
		}
	}
	rate1, ok := exit.Rate.Resolve("city1")
	require.True(t, ok)
	assert.Equal(t, "2 * sigma", rate1)
	rate2, ok := exit.Rate.Resolve("city2")
	require.True(t, ok)
	assert.Equal(t, "2 * (sigma * 2)", rate2)
}
