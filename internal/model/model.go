// Package model holds the format-agnostic representation of a compartmental
// model: the value records every pipeline stage consumes and produces. All
// records are treated as immutable; stages copy what they transform and
// never mutate an entity after handing it downstream.
package model

import "sort"

// Input tags marking special semantic roles.
const (
	TagPopSize   = "pop_size"
	TagRemainder = "remainder"
)

// Reaction keywords.
const (
	// KeywordLinear triggers the density-dependence rate correction: the
	// downstream numeric form expects propensities already normalized by
	// the source compartment.
	KeywordLinear = "linear"

	// KeywordWhileFromIsPositive injects a unit-step positivity guard so
	// the reaction cannot fire once its source compartment is exhausted.
	KeywordWhileFromIsPositive = "while_from_is_positive"
)

// Erlang prior aggregation modes.
const (
	PriorModeSum  = "sum"
	PriorModeEach = "each"
)

// Prior is a JSON-serializable distribution descriptor.
type Prior struct {
	Dist   string             `json:"dist"`
	Params map[string]float64 `json:"params,omitempty"`
}

// IsDirac reports whether the prior fixes its quantity to a point value.
func (p Prior) IsDirac() bool { return p.Dist == "dirac" }

// SDE is the stochastic-diffusion annex of an input: a volatility
// expression plus the drift transformation kind.
type SDE struct {
	Volatility     string
	Transformation string
}

// Input is a named model quantity: a state variable, a parameter, or a
// derived/forced quantity.
type Input struct {
	Name           string
	Description    string
	Value          Variant[float64]
	Prior          Variant[Prior]
	Transformation string
	Tag            string
	SDE            *SDE
	ForcedInput    string
}

// Branch is one target of a reaction together with its branch-weight
// expression. An empty weight means the whole flow.
type Branch struct {
	To     string
	Weight string
}

// WhiteNoise perturbs a reaction rate with a named noise term.
type WhiteNoise struct {
	Name string
	SD   string
}

// Reaction moves mass from one compartment to one or more targets at an
// algebraic rate. After normalization every reaction has exactly one target
// and a single resolved rate expression.
type Reaction struct {
	From         string
	To           []Branch
	Rate         Variant[string]
	Description  string
	Accumulators []string
	WhiteNoise   *WhiteNoise
	Keywords     []string
}

// HasKeyword reports whether the reaction carries the given flag.
func (r Reaction) HasKeyword(kw string) bool {
	for _, k := range r.Keywords {
		if k == kw {
			return true
		}
	}
	return false
}

// Observation is an observed process, typically over an accumulator. Start
// is assigned uniformly at assembly time.
type Observation struct {
	Name  string
	Mean  string
	SD    string
	Start string
}

// Erlang is the sojourn-time expansion specification: compartment to shape
// (1 = no expansion) and compartment to prior aggregation mode.
type Erlang struct {
	Shapes     map[string]Variant[int]
	PriorModes map[string]string
}

// Model is one generation of the pipeline: the raw user-authored model, or
// any intermediate produced by a stage.
type Model struct {
	Name         string
	StartDate    string
	Populations  []string
	Shared       []string
	Inputs       []Input
	Reactions    []Reaction
	Observations []Observation
	Erlang       Erlang
}

// SharedSet returns the shared identifier names as a set.
func (m Model) SharedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(m.Shared))
	for _, s := range m.Shared {
		set[s] = struct{}{}
	}
	return set
}

// FindInput returns the input with the given name.
func (m Model) FindInput(name string) (Input, bool) {
	for _, in := range m.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}

// StateVariables derives the sorted state-variable set from the reactions:
// every source compartment, branch target and accumulator.
func (m Model) StateVariables() []string {
	set := map[string]struct{}{}
	for _, r := range m.Reactions {
		if r.From != "" {
			set[r.From] = struct{}{}
		}
		for _, b := range r.To {
			set[b.To] = struct{}{}
		}
		for _, acc := range r.Accumulators {
			set[acc] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
