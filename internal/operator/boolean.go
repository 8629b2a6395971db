package operator

import (
	"fmt"
	"go/ast"
	"go/token"
)

const (
	trueStr  = "true"
	falseStr = "false"
)

// Boolean swaps logical connectives, drops negations and flips boolean
// literals, including literals in package-level initializers and
// composite-literal field values.
func Boolean() Operator { return boolean{} }

type boolean struct{}

func (boolean) Name() string { return "boolean" }

func (boolean) Candidates(n ast.Node, fset *token.FileSet, _ []byte) []Candidate {
	switch node := n.(type) {
	case *ast.BinaryExpr:
		return logicalSwap(node, fset)
	case *ast.UnaryExpr:
		return dropNegation(node, fset)
	case *ast.Ident:
		return flipBooleanLiteral(node, fset)
	default:
		return nil
	}
}

func logicalSwap(bin *ast.BinaryExpr, fset *token.FileSet) []Candidate {
	var alt token.Token
	switch bin.Op {
	case token.LAND:
		alt = token.LOR
	case token.LOR:
		alt = token.LAND
	default:
		return nil
	}

	start, ok := offsetForPos(fset, bin.OpPos)
	if !ok {
		return nil
	}
	original := bin.Op.String()

	return []Candidate{{
		Start:       start,
		End:         start + len(original),
		Line:        lineForPos(fset, bin.OpPos),
		Original:    original,
		Mutated:     alt.String(),
		Description: fmt.Sprintf("%s to %s", original, alt),
	}}
}

func dropNegation(unary *ast.UnaryExpr, fset *token.FileSet) []Candidate {
	if unary.Op != token.NOT {
		return nil
	}

	start, ok := offsetForPos(fset, unary.OpPos)
	if !ok {
		return nil
	}

	return []Candidate{{
		Start:       start,
		End:         start + 1,
		Line:        lineForPos(fset, unary.OpPos),
		Original:    "!",
		Mutated:     "",
		Description: "drop negation",
	}}
}

func flipBooleanLiteral(ident *ast.Ident, fset *token.FileSet) []Candidate {
	if ident.Name != trueStr && ident.Name != falseStr {
		return nil
	}

	start, ok := offsetForPos(fset, ident.Pos())
	if !ok {
		return nil
	}
	mutated := flipBoolean(ident.Name)

	return []Candidate{{
		Start:       start,
		End:         start + len(ident.Name),
		Line:        lineForPos(fset, ident.Pos()),
		Original:    ident.Name,
		Mutated:     mutated,
		Description: fmt.Sprintf("%s to %s", ident.Name, mutated),
	}}
}

func flipBoolean(original string) string {
	if original == trueStr {
		return falseStr
	}
	return trueStr
}
