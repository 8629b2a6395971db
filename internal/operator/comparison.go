package operator

import (
	"fmt"
	"go/ast"
	"go/token"
)

// Comparison swaps comparison operators. Ordering swaps stay within the
// ordered family so the mutated expression still type-checks; equality
// swaps apply to any comparable operands.
func Comparison() Operator { return comparison{} }

type comparison struct{}

func (comparison) Name() string { return "comparison" }

var comparisonAlternatives = map[token.Token][]token.Token{
	token.LSS: {token.LEQ, token.GTR},
	token.LEQ: {token.LSS, token.GEQ},
	token.GTR: {token.GEQ, token.LSS},
	token.GEQ: {token.GTR, token.LEQ},
	token.EQL: {token.NEQ},
	token.NEQ: {token.EQL},
}

func (comparison) Candidates(n ast.Node, fset *token.FileSet, _ []byte) []Candidate {
	bin, ok := n.(*ast.BinaryExpr)
	if !ok {
		return nil
	}
	if !isComparisonOp(bin.Op) {
		return nil
	}

	start, ok := offsetForPos(fset, bin.OpPos)
	if !ok {
		return nil
	}
	original := bin.Op.String()

	var candidates []Candidate
	for _, alt := range comparisonAlternatives[bin.Op] {
		candidates = append(candidates, Candidate{
			Start:       start,
			End:         start + len(original),
			Line:        lineForPos(fset, bin.OpPos),
			Original:    original,
			Mutated:     alt.String(),
			Description: fmt.Sprintf("%s to %s", original, alt),
		})
	}
	return candidates
}

func isComparisonOp(op token.Token) bool {
	_, ok := comparisonAlternatives[op]
	return ok
}
