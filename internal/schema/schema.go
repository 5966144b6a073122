// Package schema defines the HCL-tagged mirror structs for the model
// authoring format. Attributes that may be either a single value or a
// population-keyed object (value, rate, to, shapes) stay hcl.Expressions
// here; the loader inspects their cty type during translation.
package schema

import "github.com/hashicorp/hcl/v2"

// ModelBlock is the single `model` block naming the model and declaring its
// start date, population labels and shared identifiers.
type ModelBlock struct {
	Name        string   `hcl:"name,label"`
	StartDate   string   `hcl:"start_date"`
	Populations []string `hcl:"populations,optional"`
	Shared      []string `hcl:"shared,optional"`
}

// PriorBlock declares a distribution descriptor for an input. A block may
// target one population; several blocks on one input form a
// population-keyed prior.
type PriorBlock struct {
	Population string         `hcl:"population,optional"`
	Dist       string         `hcl:"dist"`
	Params     hcl.Expression `hcl:"params,optional"`
}

// SDEBlock is the stochastic-diffusion annex of an input.
type SDEBlock struct {
	Volatility     string `hcl:"volatility"`
	Transformation string `hcl:"transformation,optional"`
}

// InputBlock is one named model quantity.
type InputBlock struct {
	Name           string         `hcl:"name,label"`
	Description    string         `hcl:"description,optional"`
	Value          hcl.Expression `hcl:"value,optional"`
	Priors         []*PriorBlock  `hcl:"prior,block"`
	Transformation string         `hcl:"transformation,optional"`
	Tag            string         `hcl:"tag,optional"`
	SDE            *SDEBlock      `hcl:"sde,block"`
	ForcedInput    string         `hcl:"forced_input,optional"`
}

// WhiteNoiseBlock perturbs a reaction rate.
type WhiteNoiseBlock struct {
	Name string `hcl:"name"`
	SD   string `hcl:"sd"`
}

// ReactionBlock is one transition. `to` is a target name or an object
// mapping targets to branch-weight expressions; `rate` is an expression
// string or a population-keyed object of expression strings.
type ReactionBlock struct {
	Description  string           `hcl:"description,label"`
	From         string           `hcl:"from"`
	To           hcl.Expression   `hcl:"to"`
	Rate         hcl.Expression   `hcl:"rate"`
	Accumulators []string         `hcl:"accumulators,optional"`
	Keywords     []string         `hcl:"keywords,optional"`
	WhiteNoise   *WhiteNoiseBlock `hcl:"white_noise,block"`
}

// ObservationBlock is one observation process.
type ObservationBlock struct {
	Name string `hcl:"name,label"`
	Mean string `hcl:"mean"`
	SD   string `hcl:"sd,optional"`
}

// ErlangBlock maps compartments to chain shapes and prior aggregation
// modes.
type ErlangBlock struct {
	Shapes hcl.Expression `hcl:"shapes,optional"`
	Priors hcl.Expression `hcl:"priors,optional"`
}

// File is the top-level structure of one model file.
type File struct {
	Model        *ModelBlock         `hcl:"model,block"`
	Inputs       []*InputBlock       `hcl:"input,block"`
	Reactions    []*ReactionBlock    `hcl:"reaction,block"`
	Observations []*ObservationBlock `hcl:"observation,block"`
	Erlang       *ErlangBlock        `hcl:"erlang,block"`
}
