// Package stratify replicates model structure once per population while
// sharing designated common parameters. Every population-specific
// identifier is rewritten to its population-qualified form in every textual
// field; shared identifiers are left untouched so the population variants
// keep referencing one common quantity. Population-keyed values, priors and
// rates are resolved to the current population's entry.
package stratify

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vk/epimorph/internal/expr"
	"github.com/vk/epimorph/internal/model"
	"github.com/vk/epimorph/internal/symbol"
)

var (
	// ErrAmbiguousValue marks a keyed value or prior collection that still
	// resolves to more than one scalar for a single input.
	ErrAmbiguousValue = errors.New("ambiguous population-keyed value")

	// ErrUnresolvedRate marks a population-keyed rate missing the current
	// population's entry.
	ErrUnresolvedRate = errors.New("population-keyed rate missing entry")

	// ErrSharedShapeVaries marks an erlang shape on a shared state that
	// differs across populations.
	ErrSharedShapeVaries = errors.New("erlang shape on shared state varies across populations")
)

// Apply stratifies the model over its population set. A model with no
// populations passes through, but keyed fields must still resolve to one
// scalar each.
func Apply(m model.Model) (model.Model, error) {
	if len(m.Populations) == 0 {
		return resolveUnstratified(m)
	}

	varNames := variableNames(m)
	sortedVar := make([]string, 0, len(varNames))
	for n := range varNames {
		sortedVar = append(sortedVar, n)
	}
	sort.Strings(sortedVar)

	next := m
	next.Inputs = nil
	next.Reactions = nil
	next.Observations = nil

	seenInput := map[string]struct{}{}
	seenReaction := map[string]struct{}{}
	seenObservation := map[string]struct{}{}

	for _, pop := range m.Populations {
		renames := make([]expr.Rename, 0, len(sortedVar))
		for _, n := range sortedVar {
			renames = append(renames, expr.Rename{Old: n, New: symbol.ForPopulation(n, pop)})
		}

		for _, in := range m.Inputs {
			out, err := stratifyInput(in, pop, varNames, renames)
			if err != nil {
				return model.Model{}, err
			}
			if _, dup := seenInput[out.Name]; dup {
				continue
			}
			seenInput[out.Name] = struct{}{}
			next.Inputs = append(next.Inputs, out)
		}

		for _, r := range m.Reactions {
			out, err := stratifyReaction(r, pop, varNames, renames)
			if err != nil {
				return model.Model{}, err
			}
			key := reactionKey(out)
			if _, dup := seenReaction[key]; dup {
				continue
			}
			seenReaction[key] = struct{}{}
			next.Reactions = append(next.Reactions, out)
		}

		for _, o := range m.Observations {
			out := stratifyObservation(o, pop, varNames, renames)
			if _, dup := seenObservation[out.Name]; dup {
				continue
			}
			seenObservation[out.Name] = struct{}{}
			next.Observations = append(next.Observations, out)
		}
	}

	erl, err := stratifyErlang(m.Erlang, m.Populations, varNames)
	if err != nil {
		return model.Model{}, err
	}
	next.Erlang = erl
	return next, nil
}

// variableNames is the set of population-specific identifiers: every
// non-shared input name, grown with the accumulator, white-noise and
// observation names encountered in reactions and observations.
func variableNames(m model.Model) map[string]struct{} {
	shared := m.SharedSet()
	names := map[string]struct{}{}
	add := func(n string) {
		if n == "" {
			return
		}
		if _, ok := shared[n]; !ok {
			names[n] = struct{}{}
		}
	}
	for _, in := range m.Inputs {
		add(in.Name)
	}
	for _, r := range m.Reactions {
		for _, acc := range r.Accumulators {
			add(acc)
		}
		if r.WhiteNoise != nil {
			add(r.WhiteNoise.Name)
		}
	}
	for _, o := range m.Observations {
		add(o.Name)
	}
	return names
}

func qualify(name, pop string, varNames map[string]struct{}) string {
	if _, ok := varNames[name]; ok {
		return symbol.ForPopulation(name, pop)
	}
	return name
}

func stratifyInput(in model.Input, pop string, varNames map[string]struct{}, renames []expr.Rename) (model.Input, error) {
	out := in
	out.Name = qualify(in.Name, pop, varNames)
	out.Transformation = expr.SubstituteAll(in.Transformation, renames)
	if in.SDE != nil {
		sde := *in.SDE
		sde.Volatility = expr.SubstituteAll(sde.Volatility, renames)
		out.SDE = &sde
	}

	if _, isVar := varNames[in.Name]; !isVar {
		// Shared input: the population passes deduplicate it by name, so a
		// keyed collection must collapse to one distinct entry or the other
		// populations' entries would be dropped.
		value, ok := collapseKeyed(in.Value, func(a, b float64) bool { return a == b })
		if !ok {
			return model.Input{}, fmt.Errorf("%w: shared input %q has differing population-keyed values",
				ErrAmbiguousValue, in.Name)
		}
		out.Value = value
		prior, ok := collapseKeyed(in.Prior, priorEqual)
		if !ok {
			return model.Input{}, fmt.Errorf("%w: shared input %q has differing population-keyed priors",
				ErrAmbiguousValue, in.Name)
		}
		out.Prior = prior
		return out, nil
	}

	value, n := resolveLoose(in.Value, pop)
	if n > 1 {
		return model.Input{}, fmt.Errorf("%w: input %q has %d candidate values for population %q",
			ErrAmbiguousValue, in.Name, n, pop)
	}
	out.Value = value

	prior, n := resolveLoose(in.Prior, pop)
	if n > 1 {
		return model.Input{}, fmt.Errorf("%w: input %q has %d candidate priors for population %q",
			ErrAmbiguousValue, in.Name, n, pop)
	}
	out.Prior = prior
	return out, nil
}

func stratifyReaction(r model.Reaction, pop string, varNames map[string]struct{}, renames []expr.Rename) (model.Reaction, error) {
	out := r
	out.From = qualify(r.From, pop, varNames)
	out.To = make([]model.Branch, len(r.To))
	for i, b := range r.To {
		out.To[i] = model.Branch{
			To:     qualify(b.To, pop, varNames),
			Weight: expr.SubstituteAll(b.Weight, renames),
		}
	}
	out.Accumulators = make([]string, len(r.Accumulators))
	for i, acc := range r.Accumulators {
		out.Accumulators[i] = qualify(acc, pop, varNames)
	}
	if r.WhiteNoise != nil {
		wn := *r.WhiteNoise
		wn.Name = qualify(wn.Name, pop, varNames)
		wn.SD = expr.SubstituteAll(wn.SD, renames)
		out.WhiteNoise = &wn
	}

	rate, ok := r.Rate.Resolve(pop)
	if !ok {
		return model.Reaction{}, fmt.Errorf("%w: reaction %q (%s) for population %q",
			ErrUnresolvedRate, r.Description, r.From, pop)
	}
	out.Rate = model.Scalar(expr.SubstituteAll(rate, renames))
	return out, nil
}

func stratifyObservation(o model.Observation, pop string, varNames map[string]struct{}, renames []expr.Rename) model.Observation {
	out := o
	out.Name = qualify(o.Name, pop, varNames)
	out.Mean = expr.SubstituteAll(o.Mean, renames)
	out.SD = expr.SubstituteAll(o.SD, renames)
	return out
}

// stratifyErlang splits the shape and prior-mode maps into per-population
// entries for population-specific states and single entries for shared
// ones, then recombines them for the output bundle. A compartment counts as
// population-specific when either its own name or its first Erlang stage is
// a variable name.
func stratifyErlang(e model.Erlang, pops []string, varNames map[string]struct{}) (model.Erlang, error) {
	out := model.Erlang{}
	if len(e.Shapes) > 0 {
		out.Shapes = map[string]model.Variant[int]{}
	}
	if len(e.PriorModes) > 0 {
		out.PriorModes = map[string]string{}
	}

	isVar := func(name string) bool {
		if _, ok := varNames[name]; ok {
			return true
		}
		_, ok := varNames[symbol.ForStage(name, 1)]
		return ok
	}

	for name, shape := range e.Shapes {
		if isVar(name) {
			for _, pop := range pops {
				k, ok := shape.Resolve(pop)
				if !ok {
					// Expansion enforced uniformity on keyed shapes, so any
					// remaining entry stands in for an uncovered population.
					u, uok := uniformShape(shape)
					if !uok {
						return model.Erlang{}, fmt.Errorf(
							"erlang shape for %q does not cover population %q", name, pop)
					}
					k = u
				}
				out.Shapes[symbol.ForPopulation(name, pop)] = model.Scalar(k)
			}
			continue
		}
		k, ok := uniformShape(shape)
		if !ok {
			return model.Erlang{}, fmt.Errorf("%w: %q", ErrSharedShapeVaries, name)
		}
		out.Shapes[name] = model.Scalar(k)
	}

	for name, mode := range e.PriorModes {
		if isVar(name) {
			for _, pop := range pops {
				out.PriorModes[symbol.ForPopulation(name, pop)] = mode
			}
			continue
		}
		out.PriorModes[name] = mode
	}
	return out, nil
}

// collapseKeyed reduces a keyed variant authored on a shared input to its
// single distinct entry. ok is false when the entries disagree.
func collapseKeyed[T any](v model.Variant[T], eq func(a, b T) bool) (model.Variant[T], bool) {
	if !v.IsKeyed() {
		return v, true
	}
	pops := v.Populations()
	if len(pops) == 0 {
		return model.Variant[T]{}, true
	}
	first, _ := v.Resolve(pops[0])
	for _, p := range pops[1:] {
		val, _ := v.Resolve(p)
		if !eq(first, val) {
			return v, false
		}
	}
	return model.Scalar(first), true
}

func priorEqual(a, b model.Prior) bool {
	if a.Dist != b.Dist || len(a.Params) != len(b.Params) {
		return false
	}
	for k, v := range a.Params {
		w, ok := b.Params[k]
		if !ok || w != v {
			return false
		}
	}
	return true
}

// uniformShape returns the single value of a shape variant whose entries all
// agree.
func uniformShape(v model.Variant[int]) (int, bool) {
	if k, ok := v.Single(); ok {
		return k, true
	}
	pops := v.Populations()
	if len(pops) == 0 {
		return 0, false
	}
	k, _ := v.Resolve(pops[0])
	for _, p := range pops[1:] {
		if n, _ := v.Resolve(p); n != k {
			return 0, false
		}
	}
	return k, true
}

// resolveLoose resolves a keyed variant against the population: the entry
// under the label wins, a single uniform entry applies to every population,
// and anything else is ambiguous. The returned count is the number of
// competing entries when no resolution was possible.
func resolveLoose[T any](v model.Variant[T], pop string) (model.Variant[T], int) {
	if !v.IsKeyed() {
		return v, 0
	}
	if val, ok := v.Resolve(pop); ok {
		return model.Scalar(val), 0
	}
	pops := v.Populations()
	if len(pops) == 1 {
		val, _ := v.Resolve(pops[0])
		return model.Scalar(val), 0
	}
	return v, len(pops)
}

// resolveUnstratified checks that a population-free model carries no keyed
// fields it cannot resolve.
func resolveUnstratified(m model.Model) (model.Model, error) {
	for _, in := range m.Inputs {
		if in.Value.IsKeyed() {
			if _, n := resolveLoose(in.Value, ""); n > 1 {
				return model.Model{}, fmt.Errorf("%w: input %q is population-keyed but the model declares no populations",
					ErrAmbiguousValue, in.Name)
			}
		}
		if in.Prior.IsKeyed() {
			if _, n := resolveLoose(in.Prior, ""); n > 1 {
				return model.Model{}, fmt.Errorf("%w: prior of input %q is population-keyed but the model declares no populations",
					ErrAmbiguousValue, in.Name)
			}
		}
	}
	next := m
	next.Inputs = append([]model.Input(nil), m.Inputs...)
	for i, in := range next.Inputs {
		v, _ := resolveLoose(in.Value, "")
		p, _ := resolveLoose(in.Prior, "")
		next.Inputs[i].Value = v
		next.Inputs[i].Prior = p
	}
	next.Reactions = append([]model.Reaction(nil), m.Reactions...)
	for i, r := range next.Reactions {
		rate, ok := r.Rate.Resolve("")
		if !ok {
			if pops := r.Rate.Populations(); len(pops) == 1 {
				rate, _ = r.Rate.Resolve(pops[0])
			} else {
				return model.Model{}, fmt.Errorf("%w: reaction %q (%s) is population-keyed but the model declares no populations",
					ErrUnresolvedRate, r.Description, r.From)
			}
		}
		next.Reactions[i].Rate = model.Scalar(rate)
	}
	return next, nil
}

func reactionKey(r model.Reaction) string {
	var b strings.Builder
	b.WriteString(r.From)
	b.WriteString("|")
	for _, br := range r.To {
		b.WriteString(br.To)
		b.WriteString("^")
		b.WriteString(br.Weight)
		b.WriteString(",")
	}
	rate, _ := r.Rate.Single()
	b.WriteString("|")
	b.WriteString(rate)
	b.WriteString("|")
	b.WriteString(r.Description)
	return b.String()
}
