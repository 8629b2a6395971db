package operator

import (
	"fmt"
	"go/ast"
	"go/token"
	"strconv"
	"strings"
)

// Returns mutates returned values: structurally boolean expressions are
// negated and non-trivial literals collapse to their zero form. Bare
// true/false returns are left to the boolean operator.
func Returns() Operator { return returns{} }

type returns struct{}

func (returns) Name() string { return "returns" }

func (returns) Candidates(n ast.Node, fset *token.FileSet, src []byte) []Candidate {
	ret, ok := n.(*ast.ReturnStmt)
	if !ok {
		return nil
	}

	var candidates []Candidate
	for _, result := range ret.Results {
		if c, ok := negateBooleanResult(result, fset, src); ok {
			candidates = append(candidates, c)
		}
		if c, ok := zeroLiteralResult(result, fset); ok {
			candidates = append(candidates, c)
		}
	}
	return candidates
}

// negateBooleanResult wraps comparison and logical expressions in !(...).
// Structure proves the expression is boolean, so the variant always
// type-checks.
func negateBooleanResult(expr ast.Expr, fset *token.FileSet, src []byte) (Candidate, bool) {
	bin, ok := expr.(*ast.BinaryExpr)
	if !ok {
		return Candidate{}, false
	}
	switch bin.Op {
	case token.LAND, token.LOR:
	default:
		if !isComparisonOp(bin.Op) {
			return Candidate{}, false
		}
	}

	start, end, ok := spanForNode(fset, bin)
	if !ok || end > len(src) {
		return Candidate{}, false
	}
	original := string(src[start:end])

	return Candidate{
		Start:       start,
		End:         end,
		Line:        lineForPos(fset, bin.Pos()),
		Original:    original,
		Mutated:     "!(" + original + ")",
		Description: "negate return value",
	}, true
}

func zeroLiteralResult(expr ast.Expr, fset *token.FileSet) (Candidate, bool) {
	lit, ok := expr.(*ast.BasicLit)
	if !ok {
		return Candidate{}, false
	}

	var mutated string
	switch lit.Kind {
	case token.INT:
		if v, err := strconv.ParseInt(lit.Value, 0, 64); err != nil || v == 0 {
			return Candidate{}, false
		}
		mutated = "0"
	case token.FLOAT:
		if v, err := strconv.ParseFloat(lit.Value, 64); err != nil || v == 0 {
			return Candidate{}, false
		}
		mutated = "0"
	case token.STRING:
		if v, err := strconv.Unquote(lit.Value); err != nil || v == "" {
			return Candidate{}, false
		}
		mutated = `""`
	default:
		return Candidate{}, false
	}

	start, ok := offsetForPos(fset, lit.Pos())
	if !ok {
		return Candidate{}, false
	}

	return Candidate{
		Start:       start,
		End:         start + len(lit.Value),
		Line:        lineForPos(fset, lit.Pos()),
		Original:    lit.Value,
		Mutated:     mutated,
		Description: fmt.Sprintf("%s to %s", abbreviate(lit.Value), mutated),
	}, true
}

func abbreviate(s string) string {
	const max = 24
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max]) + "..."
}
