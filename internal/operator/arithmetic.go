package operator

import (
	"fmt"
	"go/ast"
	"go/token"
)

// Arithmetic swaps arithmetic operators. Expressions built from string
// literals are left alone: concatenation has exactly one operator.
func Arithmetic() Operator { return arithmetic{} }

type arithmetic struct{}

func (arithmetic) Name() string { return "arithmetic" }

var arithmeticAlternatives = map[token.Token][]token.Token{
	token.ADD: {token.SUB},
	token.SUB: {token.ADD},
	token.MUL: {token.QUO},
	token.QUO: {token.MUL},
	token.REM: {token.MUL},
}

func (arithmetic) Candidates(n ast.Node, fset *token.FileSet, _ []byte) []Candidate {
	bin, ok := n.(*ast.BinaryExpr)
	if !ok {
		return nil
	}
	if !isArithmeticOp(bin.Op) {
		return nil
	}
	if looksLikeString(bin.X) || looksLikeString(bin.Y) {
		return nil
	}

	start, ok := offsetForPos(fset, bin.OpPos)
	if !ok {
		return nil
	}
	original := bin.Op.String()

	var candidates []Candidate
	for _, alt := range arithmeticAlternatives[bin.Op] {
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

func isArithmeticOp(op token.Token) bool {
	_, ok := arithmeticAlternatives[op]
	return ok
}

// looksLikeString reports whether the expression is syntactically a string
// literal or a concatenation chain containing one. Identifiers of string
// type are invisible without type information; those swaps are caught
// later when the instrumented file fails to build.
func looksLikeString(expr ast.Expr) bool {
	switch e := expr.(type) {
	case *ast.BasicLit:
		return e.Kind == token.STRING
	case *ast.BinaryExpr:
		return looksLikeString(e.X) || looksLikeString(e.Y)
	case *ast.ParenExpr:
		return looksLikeString(e.X)
	default:
		return false
	}
}
