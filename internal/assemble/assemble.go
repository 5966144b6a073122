// Package assemble sequences the expansion pipeline and emits the
// normalized bundle. The pipeline is an explicit ordered list of named
// stages with one shared state, so stage ordering is visible in one place:
// branch splitting must precede Erlang expansion (split branches expand
// independently), expansion must precede stratification (stage names get
// population-qualified like any other state variable), and the linear,
// positivity and remainder rewrites run only after the base rates have been
// simplified.
package assemble

import (
	"context"
	"fmt"

	"github.com/vk/epimorph/internal/ctxlog"
	"github.com/vk/epimorph/internal/erlang"
	"github.com/vk/epimorph/internal/expr"
	"github.com/vk/epimorph/internal/model"
	"github.com/vk/epimorph/internal/normalize"
	"github.com/vk/epimorph/internal/stratify"
)

// state is the single value threaded through the pipeline stages.
type state struct {
	model   model.Model
	guarded bool
}

type stage struct {
	name string
	run  func(*state) error
}

var pipeline = []stage{
	{"split", func(s *state) error {
		s.model.Reactions = normalize.SplitBranches(s.model.Reactions)
		return nil
	}},
	{"erlang", func(s *state) error {
		m, err := erlang.Expand(s.model)
		if err != nil {
			return err
		}
		s.model = m
		return nil
	}},
	{"stratify", func(s *state) error {
		m, err := stratify.Apply(s.model)
		if err != nil {
			return err
		}
		s.model = m
		return nil
	}},
	{"simplify", func(s *state) error {
		for i, r := range s.model.Reactions {
			s.model.Reactions[i].Rate = r.Rate.Map(expr.Simplify)
		}
		for i, o := range s.model.Observations {
			s.model.Observations[i].Mean = expr.Simplify(o.Mean)
			s.model.Observations[i].SD = expr.Simplify(o.SD)
		}
		return nil
	}},
	{"linear", func(s *state) error {
		s.model.Reactions = normalize.ApplyLinear(s.model.Reactions)
		return nil
	}},
	{"positivity", func(s *state) error {
		s.model.Reactions, s.guarded = normalize.ApplyPositivityGuard(s.model.Reactions)
		return nil
	}},
	{"remainder", func(s *state) error {
		m, err := normalize.SubstituteRemainder(s.model)
		if err != nil {
			return err
		}
		s.model = m
		return nil
	}},
}

// Assemble runs the full expansion pipeline over the raw model and returns
// the normalized bundle.
func Assemble(ctx context.Context, m model.Model) (*Bundle, error) {
	logger := ctxlog.FromContext(ctx)
	s := &state{model: m}
	for _, st := range pipeline {
		if err := st.run(s); err != nil {
			return nil, fmt.Errorf("stage %q: %w", st.name, err)
		}
		logger.Debug("pipeline stage complete",
			"stage", st.name,
			"inputs", len(s.model.Inputs),
			"reactions", len(s.model.Reactions))
	}
	return finalize(s)
}

// finalize flattens the fully expanded model into the bundle contract.
func finalize(s *state) (*Bundle, error) {
	m := s.model
	b := &Bundle{
		Name:                   m.Name,
		StartDate:              m.StartDate,
		RequiresStepWorkaround: s.guarded,
	}

	for _, in := range m.Inputs {
		out := Input{
			Name:           in.Name,
			Description:    in.Description,
			Transformation: in.Transformation,
			Tag:            in.Tag,
			ForcedInput:    in.ForcedInput,
		}
		if prior, ok := in.Prior.Single(); ok {
			// An input carries a value or a prior reference, never both;
			// a fixed value under estimation is a dirac prior.
			out.Prior = in.Name
			b.PriorStore = append(b.PriorStore, NamedPrior{Name: in.Name, Prior: prior})
			if !prior.IsDirac() {
				b.Priors = append(b.Priors, NamedPrior{Name: in.Name, Prior: prior})
			}
		} else if v, ok := in.Value.Single(); ok {
			val := v
			out.Value = &val
		}
		if in.SDE != nil {
			if b.SDE == nil {
				b.SDE = map[string]Diffusion{}
			}
			b.SDE[in.Name] = Diffusion{
				Volatility:     in.SDE.Volatility,
				Transformation: in.SDE.Transformation,
			}
		}
		if in.ForcedInput != "" {
			b.Data = append(b.Data, DataSeries{
				Name:   in.ForcedInput,
				Fields: []string{"date", in.ForcedInput},
			})
		}
		b.Inputs = append(b.Inputs, out)
	}

	for _, r := range m.Reactions {
		if len(r.To) != 1 {
			return nil, fmt.Errorf("reaction %q (%s) still has %d targets after normalization",
				r.Description, r.From, len(r.To))
		}
		rate, ok := r.Rate.Single()
		if !ok {
			return nil, fmt.Errorf("reaction %q (%s) still has a population-keyed rate after stratification",
				r.Description, r.From)
		}
		out := Reaction{
			From:         r.From,
			To:           r.To[0].To,
			Rate:         rate,
			Description:  r.Description,
			Accumulators: r.Accumulators,
		}
		if r.WhiteNoise != nil {
			out.WhiteNoise = &Noise{Name: r.WhiteNoise.Name, SD: r.WhiteNoise.SD}
		}
		b.Reactions = append(b.Reactions, out)
	}

	for _, o := range m.Observations {
		b.Observations = append(b.Observations, Observation{
			Name:  o.Name,
			Mean:  o.Mean,
			SD:    o.SD,
			Start: m.StartDate,
		})
	}

	if len(m.Erlang.Shapes) > 0 {
		b.ErlangShapes = map[string]int{}
		for name, shape := range m.Erlang.Shapes {
			if k, ok := shape.Single(); ok {
				b.ErlangShapes[name] = k
			}
		}
	}
	return b, nil
}
