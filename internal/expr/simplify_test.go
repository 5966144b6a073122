package expr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vk/epimorph/internal/expr"
)

func TestSimplify_ConstantFolding(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2 * 3", "6"},
		{"2 * (1 + 2)", "6"},
		{"0.5 * 4", "2"},
		{"10 - 4 - 1", "5"},
		{"-(2 + 1)", "-3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expr.Simplify(tt.in), tt.in)
	}
}

func TestSimplify_Identities(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"x * 1", "x"},
		{"1 * x", "x"},
		{"x / 1", "x"},
		{"x + 0", "x"},
		{"0 + x", "x"},
		{"x - 0", "x"},
		{"x * 0", "0"},
		{"0 * x", "0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expr.Simplify(tt.in), tt.in)
	}
}

func TestSimplify_PreservesStructure(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"beta * I / N", "beta * I / N"},
		{"beta*I/N", "beta * I / N"},
		{"a - (b + c)", "a - (b + c)"},
		{"a * (b + c)", "a * (b + c)"},
		{"(gamma)", "gamma"},
		{"2 * (gamma)", "2 * gamma"},
		{"gamma * heaviside(S - 1)", "gamma * heaviside(S - 1)"},
		{"sqrt(rep * Inc)", "sqrt(rep * Inc)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expr.Simplify(tt.in), tt.in)
	}
}

func TestSimplify_UnparseableIsKept(t *testing.T) {
	src := "beta * / N"
	assert.Equal(t, src, expr.Simplify(src))
}
