package expr

import (
	"math/big"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// Operator precedence levels, mirroring HCL's grammar. Atoms sit above every
// operator so they are never parenthesized.
const (
	precLowest = 0
	precOr     = 1
	precAnd    = 2
	precEq     = 3
	precCmp    = 4
	precAdd    = 5
	precMul    = 6
	precUnary  = 7
	precAtom   = 8
)

// folded is the result of simplifying one subtree: its canonical text, the
// precedence of its top-level operator, and its numeric value when the
// subtree is constant (cty.NilVal otherwise).
type folded struct {
	text string
	prec int
	val  cty.Value
}

// Simplify constant-folds and trivially reduces a rate expression, emitting
// a canonical textual form. Expressions that do not parse are returned
// unchanged: failure to simplify is never an error.
func Simplify(src string) string {
	e, diags := hclsyntax.ParseExpression([]byte(src), "expr", hcl.InitialPos)
	if diags.HasErrors() {
		return src
	}
	return fold(e, src).text
}

func fold(e hclsyntax.Expression, src string) folded {
	switch n := e.(type) {
	case *hclsyntax.LiteralValueExpr:
		if isNumber(n.Val) {
			return constant(n.Val)
		}
		return opaque(e, src)

	case *hclsyntax.ScopeTraversalExpr:
		if len(n.Traversal) == 1 {
			return folded{text: n.Traversal.RootName(), prec: precAtom, val: cty.NilVal}
		}
		return opaque(e, src)

	case *hclsyntax.ParenthesesExpr:
		return fold(n.Expression, src)

	case *hclsyntax.UnaryOpExpr:
		return foldUnary(n, src)

	case *hclsyntax.BinaryOpExpr:
		return foldBinary(n, src)

	case *hclsyntax.FunctionCallExpr:
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			args[i] = fold(a, src).text
		}
		return folded{
			text: n.Name + "(" + strings.Join(args, ", ") + ")",
			prec: precAtom,
			val:  cty.NilVal,
		}
	}
	return opaque(e, src)
}

func foldUnary(n *hclsyntax.UnaryOpExpr, src string) folded {
	v := fold(n.Val, src)
	if v.val != cty.NilVal {
		if out, err := n.Op.Impl.Call([]cty.Value{v.val}); err == nil && isNumber(out) {
			return constant(out)
		}
	}
	sym := "-"
	if n.Op == hclsyntax.OpLogicalNot {
		sym = "!"
	}
	t := v.text
	if v.prec < precUnary {
		t = "(" + t + ")"
	}
	return folded{text: sym + t, prec: precUnary, val: cty.NilVal}
}

func foldBinary(n *hclsyntax.BinaryOpExpr, src string) folded {
	l := fold(n.LHS, src)
	r := fold(n.RHS, src)
	p := precOf(n.Op)

	if l.val != cty.NilVal && r.val != cty.NilVal {
		if out, err := n.Op.Impl.Call([]cty.Value{l.val, r.val}); err == nil && isNumber(out) {
			return constant(out)
		}
	}

	switch n.Op {
	case hclsyntax.OpMultiply:
		if isConst(l, 0) || isConst(r, 0) {
			return constant(cty.Zero)
		}
		if isConst(l, 1) {
			return r
		}
		if isConst(r, 1) {
			return l
		}
	case hclsyntax.OpDivide:
		if isConst(r, 1) {
			return l
		}
	case hclsyntax.OpAdd:
		if isConst(l, 0) {
			return r
		}
		if isConst(r, 0) {
			return l
		}
	case hclsyntax.OpSubtract:
		if isConst(r, 0) {
			return l
		}
	}

	lt := l.text
	if l.prec < p {
		lt = "(" + lt + ")"
	}
	rt := r.text
	// Subtraction, division and modulo are left-associative: an equal
	// precedence subtree on the right keeps its parentheses.
	rightAssocUnsafe := n.Op == hclsyntax.OpSubtract ||
		n.Op == hclsyntax.OpDivide || n.Op == hclsyntax.OpModulo
	if r.prec < p || (r.prec == p && rightAssocUnsafe) {
		rt = "(" + rt + ")"
	}
	return folded{text: lt + " " + opSym(n.Op) + " " + rt, prec: p, val: cty.NilVal}
}

func precOf(op *hclsyntax.Operation) int {
	switch op {
	case hclsyntax.OpLogicalOr:
		return precOr
	case hclsyntax.OpLogicalAnd:
		return precAnd
	case hclsyntax.OpEqual, hclsyntax.OpNotEqual:
		return precEq
	case hclsyntax.OpGreaterThan, hclsyntax.OpGreaterThanOrEqual,
		hclsyntax.OpLessThan, hclsyntax.OpLessThanOrEqual:
		return precCmp
	case hclsyntax.OpAdd, hclsyntax.OpSubtract:
		return precAdd
	case hclsyntax.OpMultiply, hclsyntax.OpDivide, hclsyntax.OpModulo:
		return precMul
	}
	return precLowest
}

func opSym(op *hclsyntax.Operation) string {
	switch op {
	case hclsyntax.OpLogicalOr:
		return "||"
	case hclsyntax.OpLogicalAnd:
		return "&&"
	case hclsyntax.OpEqual:
		return "=="
	case hclsyntax.OpNotEqual:
		return "!="
	case hclsyntax.OpGreaterThan:
		return ">"
	case hclsyntax.OpGreaterThanOrEqual:
		return ">="
	case hclsyntax.OpLessThan:
		return "<"
	case hclsyntax.OpLessThanOrEqual:
		return "<="
	case hclsyntax.OpAdd:
		return "+"
	case hclsyntax.OpSubtract:
		return "-"
	case hclsyntax.OpDivide:
		return "/"
	case hclsyntax.OpModulo:
		return "%"
	}
	return "*"
}

// opaque keeps a subtree the simplifier does not model (conditionals,
// templates, splats) as its verbatim source text at lowest precedence, so
// any parent always parenthesizes it.
func opaque(e hclsyntax.Expression, src string) folded {
	return folded{text: srcSlice(e.Range(), src), prec: precLowest, val: cty.NilVal}
}

func srcSlice(r hcl.Range, src string) string {
	start, end := r.Start.Byte, r.End.Byte
	if start < 0 || end > len(src) || start > end {
		return src
	}
	return src[start:end]
}

func constant(v cty.Value) folded {
	text := formatNumber(v)
	prec := precAtom
	if strings.HasPrefix(text, "-") {
		prec = precUnary
	}
	return folded{text: text, prec: prec, val: v}
}

func isNumber(v cty.Value) bool {
	return v != cty.NilVal && v.IsKnown() && !v.IsNull() && v.Type() == cty.Number
}

func isConst(f folded, n int64) bool {
	if f.val == cty.NilVal || !isNumber(f.val) {
		return false
	}
	return f.val.AsBigFloat().Cmp(big.NewFloat(float64(n))) == 0
}

func formatNumber(v cty.Value) string {
	return v.AsBigFloat().Text('g', -1)
}
