// Package normalize flattens reactions into the form the downstream numeric
// compiler expects: exactly one target per reaction, density-corrected
// linear rates, unit-step positivity guards, and remainder compartments
// replaced by their algebraic complement.
package normalize

import (
	"errors"
	"fmt"

	"github.com/vk/epimorph/internal/expr"
	"github.com/vk/epimorph/internal/model"
	"github.com/vk/epimorph/internal/symbol"
)

// StepFunction is the unit-step guard injected for
// while_from_is_positive reactions. The downstream compiler special-cases
// it because it places a state variable inside a non-differentiable guard.
const StepFunction = "heaviside"

// ErrNoPopSize marks a model that declares a remainder compartment without
// a pop_size-tagged input to take the complement against.
var ErrNoPopSize = errors.New("remainder compartment declared without a pop_size input")

// SplitBranches replaces every multi-target reaction with independent
// single-target reactions, one per branch. Each split reaction inherits
// from, description, accumulators, keywords and white noise; its rate is
// the algebraic product of the original rate and the branch weight, never
// numerically evaluated.
func SplitBranches(reactions []model.Reaction) []model.Reaction {
	out := make([]model.Reaction, 0, len(reactions))
	for _, r := range reactions {
		if len(r.To) <= 1 && (len(r.To) == 0 || r.To[0].Weight == "") {
			out = append(out, r)
			continue
		}
		for _, b := range r.To {
			split := r
			split.To = []model.Branch{{To: b.To}}
			if b.Weight != "" {
				weight := b.Weight
				split.Rate = r.Rate.Map(func(s string) string { return expr.Mul(s, weight) })
			}
			out = append(out, split)
		}
	}
	return out
}

// ApplyLinear divides the rate of every "linear"-flagged reaction by its
// source compartment, compensating for the density-dependence convention of
// the target numeric representation.
func ApplyLinear(reactions []model.Reaction) []model.Reaction {
	out := append([]model.Reaction(nil), reactions...)
	for i, r := range out {
		if !r.HasKeyword(model.KeywordLinear) || r.From == "" {
			continue
		}
		from := r.From
		out[i].Rate = r.Rate.Map(func(s string) string { return expr.Div(s, from) })
	}
	return out
}

// ApplyPositivityGuard multiplies the rate of every
// "while_from_is_positive"-flagged reaction by a unit step of (from - 1),
// so the reaction stops firing once its source is exhausted. The returned
// flag is the pure fold over all reactions that tells the caller the
// downstream compiler needs its step-function workaround.
func ApplyPositivityGuard(reactions []model.Reaction) ([]model.Reaction, bool) {
	out := append([]model.Reaction(nil), reactions...)
	guarded := false
	for i, r := range out {
		if !r.HasKeyword(model.KeywordWhileFromIsPositive) || r.From == "" {
			continue
		}
		guarded = true
		guard := fmt.Sprintf("%s(%s - 1)", StepFunction, r.From)
		out[i].Rate = r.Rate.Map(func(s string) string { return expr.Mul(s, guard) })
	}
	return out, guarded
}

// SubstituteRemainder rewrites, per population, every reaction rate that
// references a remainder-tagged input to the algebraic complement
// (pop_size - (sum of the population's other tracked compartments)), and
// records the same complement as the remainder input's transformation. The
// remainder's magnitude is never estimated directly.
func SubstituteRemainder(m model.Model) (model.Model, error) {
	remainders := inputsTagged(m, model.TagRemainder)
	if len(remainders) == 0 {
		return m, nil
	}
	popSizes := inputsTagged(m, model.TagPopSize)
	if len(popSizes) == 0 {
		return model.Model{}, fmt.Errorf("%w: %q", ErrNoPopSize, remainders[0].Name)
	}

	tracked, accumulators := trackedCompartments(m.Reactions)

	next := m
	next.Inputs = append([]model.Input(nil), m.Inputs...)
	next.Reactions = append([]model.Reaction(nil), m.Reactions...)

	for _, rem := range remainders {
		_, pop, _ := symbol.SplitPopulation(rem.Name)

		popSize, ok := popSizeFor(popSizes, pop)
		if !ok {
			return model.Model{}, fmt.Errorf("%w: %q (population %q)", ErrNoPopSize, rem.Name, pop)
		}

		var others []string
		for _, c := range tracked {
			if c == rem.Name {
				continue
			}
			if _, isAcc := accumulators[c]; isAcc {
				continue
			}
			if _, cPop, _ := symbol.SplitPopulation(c); cPop != pop {
				continue
			}
			others = append(others, c)
		}
		complement := fmt.Sprintf("(%s - %s)", popSize, expr.Sum(others))

		remName := rem.Name
		for i, r := range next.Reactions {
			next.Reactions[i].Rate = r.Rate.Map(func(s string) string {
				return expr.Substitute(s, remName, complement)
			})
		}
		for i := range next.Inputs {
			if next.Inputs[i].Name == remName {
				next.Inputs[i].Transformation = complement
			}
		}
	}
	return next, nil
}

func inputsTagged(m model.Model, tag string) []model.Input {
	var out []model.Input
	for _, in := range m.Inputs {
		if in.Tag == tag {
			out = append(out, in)
		}
	}
	return out
}

// popSizeFor picks the pop_size input for a population: the one qualified
// with the same label, or a shared unqualified one.
func popSizeFor(popSizes []model.Input, pop string) (string, bool) {
	for _, in := range popSizes {
		if _, p, ok := symbol.SplitPopulation(in.Name); ok && p == pop {
			return in.Name, true
		}
	}
	for _, in := range popSizes {
		if _, _, ok := symbol.SplitPopulation(in.Name); !ok {
			return in.Name, true
		}
	}
	return "", false
}

// trackedCompartments returns the ordered compartments that hold population
// mass (sources and targets, in first-appearance order) plus the set of
// accumulator names, which are auxiliary and excluded from complements.
func trackedCompartments(reactions []model.Reaction) ([]string, map[string]struct{}) {
	var order []string
	seen := map[string]struct{}{}
	add := func(n string) {
		if n == "" {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		order = append(order, n)
	}
	accumulators := map[string]struct{}{}
	for _, r := range reactions {
		add(r.From)
		for _, b := range r.To {
			add(b.To)
		}
		for _, acc := range r.Accumulators {
			accumulators[acc] = struct{}{}
		}
	}
	return order, accumulators
}
