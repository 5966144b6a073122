package assemble

import "github.com/vk/epimorph/internal/model"

// Bundle is the normalized intermediate representation handed to the
// external serialization/compilation stage: flat inputs, single-target
// reactions with fully resolved rate expressions, dated observations, the
// qualified Erlang shape map, and the prior set. It is JSON-serializable as
// is.
type Bundle struct {
	Name         string        `json:"name"`
	StartDate    string        `json:"start_date"`
	Inputs       []Input       `json:"inputs"`
	Reactions    []Reaction    `json:"reactions"`
	Observations []Observation `json:"observations"`

	// ErlangShapes maps (population-qualified) compartments to their chain
	// length so the downstream compiler can aggregate stages back.
	ErlangShapes map[string]int `json:"erlang_shapes,omitempty"`

	// Priors lists the non-degenerate priors to estimate. PriorStore keeps
	// every declared prior, dirac included, for the persisted prior store.
	Priors     []NamedPrior `json:"priors"`
	PriorStore []NamedPrior `json:"prior_store"`

	// SDE is the stochastic-diffusion block, keyed by input name.
	SDE map[string]Diffusion `json:"sde,omitempty"`

	// Data lists the forced-input time series the model expects, each with
	// its field-list contract.
	Data []DataSeries `json:"data,omitempty"`

	// RequiresStepWorkaround is true when any reaction rate embeds the
	// unit-step positivity guard, which the downstream compiler must
	// special-case.
	RequiresStepWorkaround bool `json:"requires_step_workaround"`
}

// Input is a flat model quantity: it carries either a resolved scalar value
// or a prior reference, never both.
type Input struct {
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Value          *float64 `json:"value,omitempty"`
	Prior          string   `json:"prior,omitempty"`
	Transformation string   `json:"transformation,omitempty"`
	Tag            string   `json:"tag,omitempty"`
	ForcedInput    string   `json:"forced_input,omitempty"`
}

// Reaction is a flat single-target reaction with a resolved rate.
type Reaction struct {
	From         string   `json:"from"`
	To           string   `json:"to"`
	Rate         string   `json:"rate"`
	Description  string   `json:"description,omitempty"`
	Accumulators []string `json:"accumulators,omitempty"`
	WhiteNoise   *Noise   `json:"white_noise,omitempty"`
}

// Noise is a named stochastic rate perturbation.
type Noise struct {
	Name string `json:"name"`
	SD   string `json:"sd"`
}

// Observation carries its uniformly assigned start date (YYYY-MM-DD).
type Observation struct {
	Name  string `json:"name"`
	Mean  string `json:"mean"`
	SD    string `json:"sd,omitempty"`
	Start string `json:"start"`
}

// NamedPrior binds a distribution descriptor to its input.
type NamedPrior struct {
	Name  string      `json:"name"`
	Prior model.Prior `json:"prior"`
}

// Diffusion is one entry of the stochastic-diffusion block.
type Diffusion struct {
	Volatility     string `json:"volatility"`
	Transformation string `json:"transformation,omitempty"`
}

// DataSeries is the field-list contract of one forced-input time series.
type DataSeries struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}
