// Package expr rewrites and simplifies the algebraic rate/mean/sd
// expressions of a model. Expressions are kept as strings at the model
// level (that is the external contract), but every transformation here goes
// through the HCL lexer or parser rather than raw string surgery:
// identifier substitution operates on whole ident tokens, which gives
// word-boundary safety by construction.
package expr

import (
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
)

// Rename is a single identifier replacement. SubstituteAll applies renames
// in slice order; qualified replacement names can never re-match an earlier
// pattern because the qualifier markers are reserved.
type Rename struct {
	Old string
	New string
}

// Substitute replaces every whole-identifier occurrence of oldName in src
// with newName. Occurrences embedded in longer identifiers are left alone.
// If src does not lex as an expression it is returned unchanged.
func Substitute(src, oldName, newName string) string {
	if oldName == newName || !strings.Contains(src, oldName) {
		return src
	}
	toks, diags := hclsyntax.LexExpression([]byte(src), "expr", hcl.InitialPos)
	if diags.HasErrors() {
		return src
	}
	var b strings.Builder
	b.Grow(len(src))
	prev := 0
	changed := false
	for _, t := range toks {
		// Copy the inter-token bytes verbatim so spacing is preserved.
		if t.Range.Start.Byte > prev {
			b.WriteString(src[prev:t.Range.Start.Byte])
		}
		if t.Type == hclsyntax.TokenIdent && string(t.Bytes) == oldName {
			b.WriteString(newName)
			changed = true
		} else {
			b.Write(t.Bytes)
		}
		prev = t.Range.End.Byte
	}
	if prev < len(src) {
		b.WriteString(src[prev:])
	}
	if !changed {
		return src
	}
	return b.String()
}

// SubstituteAll applies the renames to src in order.
func SubstituteAll(src string, renames []Rename) string {
	for _, r := range renames {
		src = Substitute(src, r.Old, r.New)
	}
	return src
}

// References returns the sorted set of variable names referenced by src.
// Function call names are not references. An unparseable src falls back to
// collecting every ident token.
func References(src string) []string {
	seen := map[string]struct{}{}
	e, diags := hclsyntax.ParseExpression([]byte(src), "expr", hcl.InitialPos)
	if !diags.HasErrors() {
		for _, trav := range e.Variables() {
			seen[trav.RootName()] = struct{}{}
		}
	} else {
		toks, lexDiags := hclsyntax.LexExpression([]byte(src), "expr", hcl.InitialPos)
		if lexDiags.HasErrors() {
			return nil
		}
		for _, t := range toks {
			if t.Type == hclsyntax.TokenIdent {
				seen[string(t.Bytes)] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// atom reports whether src binds tighter than any infix operator (a bare
// identifier, a literal, a function call, or an already parenthesized
// expression) and therefore never needs defensive parentheses.
func atom(src string) bool {
	e, diags := hclsyntax.ParseExpression([]byte(src), "expr", hcl.InitialPos)
	if diags.HasErrors() {
		return false
	}
	switch e.(type) {
	case *hclsyntax.ScopeTraversalExpr, *hclsyntax.LiteralValueExpr,
		*hclsyntax.FunctionCallExpr, *hclsyntax.ParenthesesExpr:
		return true
	}
	return false
}

// group wraps src in parentheses unless it is a single token.
func group(src string) string {
	if atom(src) {
		return src
	}
	return "(" + src + ")"
}

// Sum renders the canonical occupancy sum over names: "(a + b + c)".
// A single name is returned bare; an empty list renders as "0".
func Sum(names []string) string {
	switch len(names) {
	case 0:
		return "0"
	case 1:
		return names[0]
	}
	return "(" + strings.Join(names, " + ") + ")"
}

// Mul renders the algebraic product of two expressions, grouping each
// operand as needed. Neither operand is numerically evaluated.
func Mul(a, b string) string {
	return group(a) + " * " + group(b)
}

// Div renders the algebraic quotient of two expressions.
func Div(a, b string) string {
	return group(a) + " / " + group(b)
}
