package model

import "sort"

// Variant is a tagged scalar-or-per-population value. Model fields that may
// be authored either as one value for all populations or as a mapping keyed
// by population label (value, prior, rate, erlang shape) are Variants; the
// single Resolve operation replaces ad-hoc runtime type inspection.
type Variant[T any] struct {
	scalar *T
	byPop  map[string]T
}

// Scalar wraps a single population-invariant value.
func Scalar[T any](v T) Variant[T] {
	return Variant[T]{scalar: &v}
}

// Keyed wraps a population-keyed mapping. The map is copied.
func Keyed[T any](m map[string]T) Variant[T] {
	cp := make(map[string]T, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Variant[T]{byPop: cp}
}

// IsZero reports whether no value was authored at all.
func (v Variant[T]) IsZero() bool {
	return v.scalar == nil && v.byPop == nil
}

// IsKeyed reports whether the value is a population-keyed mapping.
func (v Variant[T]) IsKeyed() bool {
	return v.byPop != nil
}

// Single returns the population-invariant value, if that is what was
// authored.
func (v Variant[T]) Single() (T, bool) {
	if v.scalar == nil {
		var zero T
		return zero, false
	}
	return *v.scalar, true
}

// Resolve returns the value for the given population: the entry under that
// label for a keyed variant, or the scalar for an invariant one. ok is
// false for an unset variant or a keyed variant missing the label.
func (v Variant[T]) Resolve(population string) (T, bool) {
	if v.scalar != nil {
		return *v.scalar, true
	}
	val, ok := v.byPop[population]
	return val, ok
}

// Populations returns the sorted labels of a keyed variant.
func (v Variant[T]) Populations() []string {
	out := make([]string, 0, len(v.byPop))
	for k := range v.byPop {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Map returns a new Variant with fn applied to every stored value.
func (v Variant[T]) Map(fn func(T) T) Variant[T] {
	if v.scalar != nil {
		return Scalar(fn(*v.scalar))
	}
	if v.byPop != nil {
		cp := make(map[string]T, len(v.byPop))
		for k, val := range v.byPop {
			cp[k] = fn(val)
		}
		return Variant[T]{byPop: cp}
	}
	return v
}
