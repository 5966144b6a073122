// Package erlang rewrites a compartment into an ordered chain of
// sub-compartments to approximate a non-exponential sojourn time with
// memoryless transitions. A shape of k turns one compartment into k stages:
// incoming reactions land on stage 1, the outgoing reaction leaves from
// stage k, and k-1 induced pass-through reactions advance mass along the
// chain. Every rate is scaled by k so the expected total sojourn time
// through the chain is unchanged.
package erlang

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/vk/epimorph/internal/expr"
	"github.com/vk/epimorph/internal/model"
	"github.com/vk/epimorph/internal/symbol"
)

var (
	// ErrUnknownCompartment marks an erlang shape or prior-mode entry
	// naming a compartment absent from the reaction-derived state set.
	ErrUnknownCompartment = errors.New("erlang spec names unknown compartment")

	// ErrHeterogeneousShape marks a population-keyed shape whose entries
	// disagree: expansion happens before stratification, so a shape must
	// resolve to one scalar across all populations.
	ErrHeterogeneousShape = errors.New("erlang shape differs across populations")

	// ErrNoOutgoingRate marks a flagged compartment with no outgoing
	// reaction: the pass-through rate is derived from the outgoing rate,
	// so there is nothing to derive it from.
	ErrNoOutgoingRate = errors.New("erlang compartment has no outgoing reaction")
)

// Expand applies the model's Erlang specification and returns the next
// model generation. Shape 1 entries are no-ops. The Erlang spec itself is
// carried through untouched; stratification qualifies it for the output
// bundle later.
func Expand(m model.Model) (model.Model, error) {
	shapes, err := resolveShapes(m)
	if err != nil {
		return model.Model{}, err
	}

	names := make([]string, 0, len(shapes))
	for name := range shapes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m, err = expandOne(m, name, shapes[name])
		if err != nil {
			return model.Model{}, err
		}
	}
	return m, nil
}

// resolveShapes validates the spec and returns the set of compartments that
// actually expand (shape >= 2).
func resolveShapes(m model.Model) (map[string]int, error) {
	states := m.StateVariables()
	stateSet := make(map[string]struct{}, len(states))
	for _, s := range states {
		stateSet[s] = struct{}{}
	}

	check := func(name string) error {
		if _, ok := stateSet[name]; ok {
			return nil
		}
		msg := fmt.Sprintf("%q", name)
		if near := symbol.Nearest(name, states); near != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", near)
		}
		return fmt.Errorf("%w: %s", ErrUnknownCompartment, msg)
	}

	out := map[string]int{}
	for name, shape := range m.Erlang.Shapes {
		if err := check(name); err != nil {
			return nil, err
		}
		k, ok := shape.Single()
		if !ok {
			// Keyed shape: legal only when every population agrees.
			first := true
			uniform := true
			for _, pop := range shape.Populations() {
				v, _ := shape.Resolve(pop)
				if first {
					k, first = v, false
				} else if v != k {
					uniform = false
				}
			}
			if first || !uniform {
				return nil, fmt.Errorf("%w: %q", ErrHeterogeneousShape, name)
			}
		}
		if k >= 2 {
			out[name] = k
		}
	}
	for name, mode := range m.Erlang.PriorModes {
		if err := check(name); err != nil {
			return nil, err
		}
		if mode != model.PriorModeSum && mode != model.PriorModeEach {
			return nil, fmt.Errorf("erlang prior mode for %q must be %q or %q, got %q",
				name, model.PriorModeSum, model.PriorModeEach, mode)
		}
	}
	return out, nil
}

func expandOne(m model.Model, name string, k int) (model.Model, error) {
	base, ok := m.FindInput(name)
	if ok && base.Tag == model.TagRemainder {
		return model.Model{}, fmt.Errorf("remainder compartment %q cannot be Erlang-expanded", name)
	}

	passRate, err := passThroughRate(m, name, k)
	if err != nil {
		return model.Model{}, err
	}

	stages := symbol.Stages(name, k)
	mode := m.Erlang.PriorModes[name]
	if mode == "" {
		mode = model.PriorModeSum
	}

	next := m
	next.Inputs = expandInputs(m.Inputs, base, ok, name, k, mode)
	next.Reactions = expandReactions(m.Reactions, name, k, passRate)
	next.Observations = append([]model.Observation(nil), m.Observations...)

	// Every surviving textual reference to the compartment now means the
	// occupancy of the whole chain.
	sum := expr.Sum(stages)
	for i := range next.Inputs {
		next.Inputs[i].Transformation = expr.Substitute(next.Inputs[i].Transformation, name, sum)
	}
	for i := range next.Reactions {
		r := &next.Reactions[i]
		r.Rate = r.Rate.Map(func(s string) string { return expr.Substitute(s, name, sum) })
		for j := range r.To {
			r.To[j].Weight = expr.Substitute(r.To[j].Weight, name, sum)
		}
		if r.WhiteNoise != nil {
			wn := *r.WhiteNoise
			wn.SD = expr.Substitute(wn.SD, name, sum)
			r.WhiteNoise = &wn
		}
	}
	for i := range next.Observations {
		next.Observations[i].Mean = expr.Substitute(next.Observations[i].Mean, name, sum)
		next.Observations[i].SD = expr.Substitute(next.Observations[i].SD, name, sum)
	}
	return next, nil
}

// passThroughRate derives the stage-advance rate from the compartment's
// original outgoing rate, scaled by the shape. With a mean sojourn time T
// the outgoing rate is 1/T, so every stage advances at k/T.
func passThroughRate(m model.Model, name string, k int) (model.Variant[string], error) {
	var outgoing []model.Reaction
	for _, r := range m.Reactions {
		if r.From == name {
			outgoing = append(outgoing, r)
		}
	}
	switch len(outgoing) {
	case 0:
		return model.Variant[string]{}, fmt.Errorf("%w: %q", ErrNoOutgoingRate, name)
	case 1:
		return scaleRate(outgoing[0].Rate, k), nil
	}
	// Several exits: the sojourn rate is the sum of the exit rates. Keyed
	// exit rates cannot be summed before stratification resolves them.
	rates := make([]string, 0, len(outgoing))
	for _, r := range outgoing {
		s, ok := r.Rate.Single()
		if !ok {
			return model.Variant[string]{}, fmt.Errorf(
				"compartment %q has several outgoing reactions with population-keyed rates; cannot derive Erlang pass-through rate", name)
		}
		rates = append(rates, "("+s+")")
	}
	return scaleRate(model.Scalar(expr.Sum(rates)), k), nil
}

func scaleRate(rate model.Variant[string], k int) model.Variant[string] {
	ks := strconv.Itoa(k)
	return rate.Map(func(s string) string { return expr.Mul(ks, s) })
}

func expandInputs(inputs []model.Input, base model.Input, haveBase bool, name string, k int, mode string) []model.Input {
	out := make([]model.Input, 0, len(inputs)+k)
	for _, in := range inputs {
		if in.Name != name {
			out = append(out, in)
			continue
		}

		switch mode {
		case model.PriorModeEach:
			// Independent identical prior and value per sub-compartment.
			for i := 1; i <= k; i++ {
				sub := in
				sub.Name = symbol.ForStage(name, i)
				out = append(out, sub)
			}
		default: // sum
			// One carrier input keeps the prior over the chain's total;
			// each stage is initialized by an equal split of the carrier.
			carrier := in
			carrier.Name = symbol.StageTotal(name)
			out = append(out, carrier)
			for i := 1; i <= k; i++ {
				sub := model.Input{
					Name:        symbol.ForStage(name, i),
					Description: in.Description,
					Tag:         in.Tag,
				}
				sub.Transformation = expr.Div(carrier.Name, strconv.Itoa(k))
				out = append(out, sub)
			}
		}
	}
	if !haveBase {
		// State variable without a declared input: declare bare stages.
		for i := 1; i <= k; i++ {
			out = append(out, model.Input{Name: symbol.ForStage(name, i)})
		}
	}
	return out
}

func expandReactions(reactions []model.Reaction, name string, k int, passRate model.Variant[string]) []model.Reaction {
	ks := strconv.Itoa(k)
	out := make([]model.Reaction, 0, len(reactions)+k-1)
	for _, r := range reactions {
		cp := r
		cp.To = append([]model.Branch(nil), r.To...)
		for j := range cp.To {
			if cp.To[j].To == name {
				cp.To[j].To = symbol.ForStage(name, 1)
			}
		}
		if cp.From == name {
			cp.From = symbol.ForStage(name, k)
			cp.Rate = cp.Rate.Map(func(s string) string { return expr.Mul(ks, s) })
		}
		out = append(out, cp)
	}
	for i := 1; i < k; i++ {
		out = append(out, model.Reaction{
			From:        symbol.ForStage(name, i),
			To:          []model.Branch{{To: symbol.ForStage(name, i+1)}},
			Rate:        passRate,
			Description: fmt.Sprintf("advance %s through sojourn stage %d", name, i),
		})
	}
	return out
}
