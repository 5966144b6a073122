package hclmodel

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/epimorph/internal/model"
	"github.com/vk/epimorph/internal/schema"
	"github.com/vk/epimorph/internal/symbol"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// translate converts the merged HCL schema into the format-agnostic model.
func translate(f *schema.File) (model.Model, error) {
	m := model.Model{
		Name:        f.Model.Name,
		StartDate:   f.Model.StartDate,
		Populations: f.Model.Populations,
		Shared:      f.Model.Shared,
	}

	for _, in := range f.Inputs {
		out := model.Input{
			Name:           in.Name,
			Description:    in.Description,
			Transformation: in.Transformation,
			Tag:            in.Tag,
			ForcedInput:    in.ForcedInput,
		}
		value, err := numberVariant(in.Value)
		if err != nil {
			return model.Model{}, fmt.Errorf("input %q: value: %w", in.Name, err)
		}
		out.Value = value
		prior, err := priorVariant(in.Priors)
		if err != nil {
			return model.Model{}, fmt.Errorf("input %q: %w", in.Name, err)
		}
		out.Prior = prior
		if in.SDE != nil {
			out.SDE = &model.SDE{
				Volatility:     in.SDE.Volatility,
				Transformation: in.SDE.Transformation,
			}
		}
		m.Inputs = append(m.Inputs, out)
	}

	for _, r := range f.Reactions {
		out := model.Reaction{
			From:         r.From,
			Description:  r.Description,
			Accumulators: r.Accumulators,
			Keywords:     r.Keywords,
		}
		to, err := branches(r.To)
		if err != nil {
			return model.Model{}, fmt.Errorf("reaction %q: to: %w", r.Description, err)
		}
		out.To = to
		rate, err := stringVariant(r.Rate)
		if err != nil {
			return model.Model{}, fmt.Errorf("reaction %q: rate: %w", r.Description, err)
		}
		out.Rate = rate
		if r.WhiteNoise != nil {
			out.WhiteNoise = &model.WhiteNoise{Name: r.WhiteNoise.Name, SD: r.WhiteNoise.SD}
		}
		m.Reactions = append(m.Reactions, out)
	}

	for _, o := range f.Observations {
		m.Observations = append(m.Observations, model.Observation{
			Name: o.Name,
			Mean: o.Mean,
			SD:   o.SD,
		})
	}

	if f.Erlang != nil {
		shapes, err := shapeVariants(f.Erlang.Shapes)
		if err != nil {
			return model.Model{}, fmt.Errorf("erlang shapes: %w", err)
		}
		modes, err := stringMap(f.Erlang.Priors)
		if err != nil {
			return model.Model{}, fmt.Errorf("erlang priors: %w", err)
		}
		m.Erlang = model.Erlang{Shapes: shapes, PriorModes: modes}
	}
	return m, nil
}

// evalAttr evaluates an optional attribute expression. A nil expression
// returns cty.NilVal.
func evalAttr(e hcl.Expression) (cty.Value, error) {
	if e == nil {
		return cty.NilVal, nil
	}
	v, diags := e.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	if v.IsNull() {
		return cty.NilVal, nil
	}
	return v, nil
}

func keyed(v cty.Value) bool {
	t := v.Type()
	return t.IsObjectType() || t.IsMapType()
}

// numberVariant decodes a bare number or a population-keyed object of
// numbers.
func numberVariant(e hcl.Expression) (model.Variant[float64], error) {
	v, err := evalAttr(e)
	if err != nil || v == cty.NilVal {
		return model.Variant[float64]{}, err
	}
	if v.Type() == cty.Number {
		f, _ := v.AsBigFloat().Float64()
		return model.Scalar(f), nil
	}
	if keyed(v) {
		out := map[string]float64{}
		for it := v.ElementIterator(); it.Next(); {
			k, elem := it.Element()
			n, err := convert.Convert(elem, cty.Number)
			if err != nil {
				return model.Variant[float64]{}, fmt.Errorf("entry %q: %w", k.AsString(), err)
			}
			f, _ := n.AsBigFloat().Float64()
			out[k.AsString()] = f
		}
		return model.Keyed(out), nil
	}
	return model.Variant[float64]{}, fmt.Errorf("expected a number or a population-keyed object, got %s", v.Type().FriendlyName())
}

// stringVariant decodes a bare expression string or a population-keyed
// object of expression strings.
func stringVariant(e hcl.Expression) (model.Variant[string], error) {
	v, err := evalAttr(e)
	if err != nil || v == cty.NilVal {
		return model.Variant[string]{}, err
	}
	if keyed(v) {
		out := map[string]string{}
		for it := v.ElementIterator(); it.Next(); {
			k, elem := it.Element()
			s, err := convert.Convert(elem, cty.String)
			if err != nil {
				return model.Variant[string]{}, fmt.Errorf("entry %q: %w", k.AsString(), err)
			}
			out[k.AsString()] = s.AsString()
		}
		return model.Keyed(out), nil
	}
	s, cerr := convert.Convert(v, cty.String)
	if cerr != nil {
		return model.Variant[string]{}, fmt.Errorf("expected an expression string or a population-keyed object, got %s", v.Type().FriendlyName())
	}
	return model.Scalar(s.AsString()), nil
}

// branches decodes `to`: a single target name or an object mapping targets
// to branch-weight expressions. Object keys come back in lexical order,
// which keeps branch splitting deterministic.
func branches(e hcl.Expression) ([]model.Branch, error) {
	v, err := evalAttr(e)
	if err != nil {
		return nil, err
	}
	if v == cty.NilVal {
		return nil, fmt.Errorf("missing target")
	}
	if v.Type() == cty.String {
		return []model.Branch{{To: v.AsString()}}, nil
	}
	if keyed(v) {
		var out []model.Branch
		for it := v.ElementIterator(); it.Next(); {
			k, elem := it.Element()
			w, err := convert.Convert(elem, cty.String)
			if err != nil {
				return nil, fmt.Errorf("branch %q: %w", k.AsString(), err)
			}
			out = append(out, model.Branch{To: k.AsString(), Weight: w.AsString()})
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a target name or an object of branch weights, got %s", v.Type().FriendlyName())
}

// shapeVariants decodes the erlang shape map: compartment to integer shape
// or to a population-keyed object of integer shapes.
func shapeVariants(e hcl.Expression) (map[string]model.Variant[int], error) {
	v, err := evalAttr(e)
	if err != nil || v == cty.NilVal {
		return nil, err
	}
	if !keyed(v) {
		return nil, fmt.Errorf("expected an object mapping compartments to shapes, got %s", v.Type().FriendlyName())
	}
	out := map[string]model.Variant[int]{}
	for it := v.ElementIterator(); it.Next(); {
		k, elem := it.Element()
		name := k.AsString()
		if elem.Type() == cty.Number {
			n, err := shapeInt(elem, name)
			if err != nil {
				return nil, err
			}
			out[name] = model.Scalar(n)
			continue
		}
		if keyed(elem) {
			byPop := map[string]int{}
			for pit := elem.ElementIterator(); pit.Next(); {
				pk, pv := pit.Element()
				n, err := shapeInt(pv, name)
				if err != nil {
					return nil, err
				}
				byPop[pk.AsString()] = n
			}
			out[name] = model.Keyed(byPop)
			continue
		}
		return nil, fmt.Errorf("shape of %q must be an integer or a population-keyed object", name)
	}
	return out, nil
}

func shapeInt(v cty.Value, name string) (int, error) {
	n, err := convert.Convert(v, cty.Number)
	if err != nil {
		return 0, fmt.Errorf("shape of %q: %w", name, err)
	}
	bf := n.AsBigFloat()
	i, _ := bf.Int64()
	if !bf.IsInt() || i < 1 {
		return 0, fmt.Errorf("shape of %q must be an integer >= 1", name)
	}
	return int(i), nil
}

// stringMap decodes an object of strings (the erlang prior-mode map).
func stringMap(e hcl.Expression) (map[string]string, error) {
	v, err := evalAttr(e)
	if err != nil || v == cty.NilVal {
		return nil, err
	}
	if !keyed(v) {
		return nil, fmt.Errorf("expected an object of strings, got %s", v.Type().FriendlyName())
	}
	out := map[string]string{}
	for it := v.ElementIterator(); it.Next(); {
		k, elem := it.Element()
		s, err := convert.Convert(elem, cty.String)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", k.AsString(), err)
		}
		out[k.AsString()] = s.AsString()
	}
	return out, nil
}

// priorVariant folds an input's prior blocks into a variant: one unlabeled
// block is population-invariant; labeled blocks form a keyed prior.
func priorVariant(blocks []*schema.PriorBlock) (model.Variant[model.Prior], error) {
	switch len(blocks) {
	case 0:
		return model.Variant[model.Prior]{}, nil
	case 1:
		if blocks[0].Population == "" {
			p, err := translatePrior(blocks[0])
			if err != nil {
				return model.Variant[model.Prior]{}, err
			}
			return model.Scalar(p), nil
		}
	}
	byPop := map[string]model.Prior{}
	for _, b := range blocks {
		if b.Population == "" {
			return model.Variant[model.Prior]{}, fmt.Errorf("several prior blocks require a population on each")
		}
		if _, dup := byPop[b.Population]; dup {
			return model.Variant[model.Prior]{}, fmt.Errorf("duplicate prior for population %q", b.Population)
		}
		p, err := translatePrior(b)
		if err != nil {
			return model.Variant[model.Prior]{}, err
		}
		byPop[b.Population] = p
	}
	return model.Keyed(byPop), nil
}

func translatePrior(b *schema.PriorBlock) (model.Prior, error) {
	p := model.Prior{Dist: b.Dist}
	v, err := evalAttr(b.Params)
	if err != nil {
		return model.Prior{}, fmt.Errorf("prior params: %w", err)
	}
	if v == cty.NilVal {
		return p, nil
	}
	if !keyed(v) {
		return model.Prior{}, fmt.Errorf("prior params must be an object of numbers")
	}
	p.Params = map[string]float64{}
	for it := v.ElementIterator(); it.Next(); {
		k, elem := it.Element()
		n, err := convert.Convert(elem, cty.Number)
		if err != nil {
			return model.Prior{}, fmt.Errorf("prior param %q: %w", k.AsString(), err)
		}
		f, _ := n.AsBigFloat().Float64()
		p.Params[k.AsString()] = f
	}
	return p, nil
}

// validate enforces the identifier and uniqueness rules of the authoring
// format.
func validate(m model.Model) error {
	if _, err := time.Parse("2006-01-02", m.StartDate); err != nil {
		return fmt.Errorf("model %q: start_date must be YYYY-MM-DD, got %q", m.Name, m.StartDate)
	}

	inputNames := map[string]struct{}{}
	var inputList []string
	for _, in := range m.Inputs {
		if err := symbol.Validate(in.Name); err != nil {
			return fmt.Errorf("input: %w", err)
		}
		if _, dup := inputNames[in.Name]; dup {
			return fmt.Errorf("duplicate input %q", in.Name)
		}
		inputNames[in.Name] = struct{}{}
		inputList = append(inputList, in.Name)
	}

	for _, pop := range m.Populations {
		if err := symbol.Validate(pop); err != nil {
			return fmt.Errorf("population: %w", err)
		}
	}
	seenPop := map[string]struct{}{}
	for _, pop := range m.Populations {
		if _, dup := seenPop[pop]; dup {
			return fmt.Errorf("duplicate population %q", pop)
		}
		seenPop[pop] = struct{}{}
	}

	for _, s := range m.Shared {
		if _, ok := inputNames[s]; !ok {
			msg := fmt.Sprintf("shared name %q does not match any input", s)
			if near := symbol.Nearest(s, inputList); near != "" {
				msg += fmt.Sprintf(" (did you mean %q?)", near)
			}
			return fmt.Errorf("%s", msg)
		}
	}

	for _, r := range m.Reactions {
		if r.From != "" {
			if err := symbol.Validate(r.From); err != nil {
				return fmt.Errorf("reaction %q: from: %w", r.Description, err)
			}
		}
		for _, b := range r.To {
			if err := symbol.Validate(b.To); err != nil {
				return fmt.Errorf("reaction %q: to: %w", r.Description, err)
			}
		}
		for _, acc := range r.Accumulators {
			if err := symbol.Validate(acc); err != nil {
				return fmt.Errorf("reaction %q: accumulator: %w", r.Description, err)
			}
		}
		if r.WhiteNoise != nil {
			if err := symbol.Validate(r.WhiteNoise.Name); err != nil {
				return fmt.Errorf("reaction %q: white noise: %w", r.Description, err)
			}
		}
		for _, kw := range r.Keywords {
			if kw != model.KeywordLinear && kw != model.KeywordWhileFromIsPositive {
				return fmt.Errorf("reaction %q: unknown keyword %q", r.Description, kw)
			}
		}
	}

	obsNames := map[string]struct{}{}
	for _, o := range m.Observations {
		if err := symbol.Validate(o.Name); err != nil {
			return fmt.Errorf("observation: %w", err)
		}
		if _, dup := obsNames[o.Name]; dup {
			return fmt.Errorf("duplicate observation %q", o.Name)
		}
		obsNames[o.Name] = struct{}{}
	}

	for name := range m.Erlang.Shapes {
		if err := symbol.Validate(name); err != nil {
			return fmt.Errorf("erlang shape: %w", err)
		}
	}
	for name := range m.Erlang.PriorModes {
		if err := symbol.Validate(name); err != nil {
			return fmt.Errorf("erlang prior mode: %w", err)
		}
	}
	return nil
}
