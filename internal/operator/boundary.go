package operator

import (
	"fmt"
	"go/ast"
	"go/token"
	"strconv"
)

// Boundary shifts integer literals used in comparisons by one in each
// direction, probing off-by-one conditions.
func Boundary() Operator { return boundary{} }

type boundary struct{}

func (boundary) Name() string { return "boundary" }

func (boundary) Candidates(n ast.Node, fset *token.FileSet, _ []byte) []Candidate {
	bin, ok := n.(*ast.BinaryExpr)
	if !ok {
		return nil
	}
	if !isComparisonOp(bin.Op) {
		return nil
	}

	var candidates []Candidate
	for _, operand := range []ast.Expr{bin.X, bin.Y} {
		candidates = append(candidates, shiftIntLiteral(operand, fset)...)
	}
	return candidates
}

func shiftIntLiteral(expr ast.Expr, fset *token.FileSet) []Candidate {
	lit, ok := expr.(*ast.BasicLit)
	if !ok || lit.Kind != token.INT {
		return nil
	}

	// Base 0 handles hex, octal, binary and underscore forms.
	value, err := strconv.ParseInt(lit.Value, 0, 64)
	if err != nil {
		return nil
	}

	start, ok := offsetForPos(fset, lit.Pos())
	if !ok {
		return nil
	}
	line := lineForPos(fset, lit.Pos())

	var candidates []Candidate
	for _, shifted := range []int64{value + 1, value - 1} {
		mutated := strconv.FormatInt(shifted, 10)
		candidates = append(candidates, Candidate{
			Start:       start,
			End:         start + len(lit.Value),
			Line:        line,
			Original:    lit.Value,
			Mutated:     mutated,
			Description: fmt.Sprintf("%s to %s", lit.Value, mutated),
		})
	}
	return candidates
}
