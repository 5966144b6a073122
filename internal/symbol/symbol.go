// Package symbol owns the canonical naming scheme for population-qualified
// and Erlang-stage-qualified identifiers. Both qualifiers are injective and
// reversible, and both use reserved multi-character markers that the loader
// forbids inside user-authored identifiers, so a qualified name can never be
// mistaken for (or substring-collide with) an unqualified one.
package symbol

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// PopulationMarker separates a base name from its population label.
	PopulationMarker = "__pop_"

	// StageMarker separates a base name from its 1-based Erlang stage index.
	StageMarker = "__x"

	// stageTotalSuffix names the carrier input that holds the prior over an
	// Erlang chain's total occupancy in "sum" aggregation mode.
	stageTotalSuffix = "__x_total"
)

// ForPopulation returns the population-qualified form of base.
func ForPopulation(base, population string) string {
	return base + PopulationMarker + population
}

// SplitPopulation recovers the base name and population label from a
// population-qualified identifier. ok is false when name carries no
// population marker.
func SplitPopulation(name string) (base, population string, ok bool) {
	i := strings.LastIndex(name, PopulationMarker)
	if i < 0 {
		return name, "", false
	}
	return name[:i], name[i+len(PopulationMarker):], true
}

// ForStage returns the Erlang-stage-qualified form of base for the given
// 1-based stage index.
func ForStage(base string, stage int) string {
	return base + StageMarker + strconv.Itoa(stage)
}

// SplitStage recovers the base name and stage index from a stage-qualified
// identifier. ok is false when name carries no stage marker or the trailing
// segment is not a stage number.
func SplitStage(name string) (base string, stage int, ok bool) {
	i := strings.LastIndex(name, StageMarker)
	if i < 0 {
		return name, 0, false
	}
	n, err := strconv.Atoi(name[i+len(StageMarker):])
	if err != nil || n < 1 {
		return name, 0, false
	}
	return name[:i], n, true
}

// StageTotal names the carrier input declared for a "sum"-mode Erlang prior:
// the prior is stated once over the chain's total occupancy and each
// sub-compartment is initialized from the carrier divided by the shape.
func StageTotal(base string) string {
	return base + stageTotalSuffix
}

// Reserved reports whether name contains one of the qualifier markers and is
// therefore not a legal user-authored identifier.
func Reserved(name string) bool {
	return strings.Contains(name, PopulationMarker) ||
		strings.Contains(name, StageMarker)
}

// Stages returns the full ordered list of stage-qualified names for base.
func Stages(base string, shape int) []string {
	out := make([]string, 0, shape)
	for i := 1; i <= shape; i++ {
		out = append(out, ForStage(base, i))
	}
	return out
}

// Validate returns an error when name is empty, malformed, or uses a
// reserved marker. Legal identifiers match [A-Za-z][A-Za-z0-9_]*.
func Validate(name string) error {
	if name == "" {
		return fmt.Errorf("identifier is empty")
	}
	if Reserved(name) {
		return fmt.Errorf("identifier %q uses a reserved qualifier marker", name)
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '_' || (r >= '0' && r <= '9')):
		default:
			return fmt.Errorf("identifier %q contains illegal character %q", name, r)
		}
	}
	return nil
}
