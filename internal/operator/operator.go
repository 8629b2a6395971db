// Package operator defines the mutation operators and the registry that
// resolves operator names at startup.
package operator

import (
	"go/ast"
	"go/token"
)

// Candidate is one mutation an operator proposes at a specific byte span
// of a source file. Spans are offsets into the file content the operator
// inspected; Original is exactly src[Start:End] and Mutated its
// replacement. Operators never modify the nodes they inspect and never
// propose a replacement identical to the original.
type Candidate struct {
	Start       int
	End         int
	Line        int
	Original    string
	Mutated     string
	Description string
}

// Operator inspects a single AST node and proposes mutations for it.
type Operator interface {
	Name() string
	Candidates(node ast.Node, fset *token.FileSet, src []byte) []Candidate
}

// Builtins returns the built-in operator families in registration order.
func Builtins() []Operator {
	return []Operator{
		Comparison(),
		Arithmetic(),
		Boolean(),
		Boundary(),
		Returns(),
	}
}

func offsetForPos(fset *token.FileSet, pos token.Pos) (int, bool) {
	if !pos.IsValid() {
		return 0, false
	}
	position := fset.Position(pos)
	if position.Offset < 0 {
		return 0, false
	}
	return position.Offset, true
}

func spanForNode(fset *token.FileSet, node ast.Node) (start, end int, ok bool) {
	start, ok = offsetForPos(fset, node.Pos())
	if !ok {
		return 0, 0, false
	}
	end, ok = offsetForPos(fset, node.End())
	if !ok {
		return 0, 0, false
	}
	return start, end, true
}

func lineForPos(fset *token.FileSet, pos token.Pos) int {
	return fset.Position(pos).Line
}
