package domain

import (
	"context"
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikelane/gremlins/internal/model"
	"github.com/mikelane/gremlins/internal/operator"
)

const calcSource = `package calc

func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func Sum(a, b int) int {
	return a + b
}
`

func newTestGenerator(ops ...operator.Operator) Generator {
	return NewGenerator(ops, "example.com/target/gremlinswitch")
}

func mustGenerate(t *testing.T, gen Generator, path model.Path, src string) FileMutation {
	t.Helper()

	fm, err := gen.GenerateFile(context.Background(), path, []byte(src))
	require.NoError(t, err)
	return fm
}

func mustParse(t *testing.T, src []byte) {
	t.Helper()

	_, err := parser.ParseFile(token.NewFileSet(), "instrumented.go", src, 0)
	require.NoError(t, err, "instrumented source must stay valid Go:\n%s", src)
}

func TestGenerateFileFindsGremlins(t *testing.T) {
	gen := newTestGenerator(operator.Comparison(), operator.Arithmetic())
	fm := mustGenerate(t, gen, "calc.go", calcSource)

	require.Len(t, fm.Gremlins, 3)

	assert.Equal(t, "calc.go:g001", fm.Gremlins[0].ID)
	assert.Equal(t, "calc.go:g002", fm.Gremlins[1].ID)
	assert.Equal(t, "calc.go:g003", fm.Gremlins[2].ID)

	assert.Equal(t, "comparison", fm.Gremlins[0].Operator)
	assert.Equal(t, "comparison", fm.Gremlins[1].Operator)
	assert.Equal(t, "arithmetic", fm.Gremlins[2].Operator)

	assert.Equal(t, 4, fm.Gremlins[0].Line)
	assert.Equal(t, 4, fm.Gremlins[1].Line)
	assert.Equal(t, 11, fm.Gremlins[2].Line)

	for _, g := range fm.Gremlins {
		assert.Equal(t, model.Path("calc.go"), g.File)
		assert.NotEmpty(t, g.Description)
		assert.NotEmpty(t, g.Diff)
	}
}

func TestGenerateFileIsDeterministic(t *testing.T) {
	gen := newTestGenerator(operator.Comparison(), operator.Arithmetic())

	first := mustGenerate(t, gen, "calc.go", calcSource)
	for i := 0; i < 5; i++ {
		again := mustGenerate(t, gen, "calc.go", calcSource)
		assert.Equal(t, first.Gremlins, again.Gremlins)
		assert.Equal(t, string(first.Instrumented), string(again.Instrumented))
	}
}

func TestInstrumentedOutputIsSwitchable(t *testing.T) {
	gen := newTestGenerator(operator.Comparison())
	fm := mustGenerate(t, gen, "calc.go", calcSource)
	require.Len(t, fm.Gremlins, 2)
	require.NotNil(t, fm.Instrumented)

	mustParse(t, fm.Instrumented)
	out := string(fm.Instrumented)

	assert.Contains(t, out, `gremlinswitch "example.com/target/gremlinswitch"`)
	assert.Contains(t, out, `gremlinswitch.Enabled("calc.go:g001")`)
	assert.Contains(t, out, `gremlinswitch.Enabled("calc.go:g002")`)
	assert.Contains(t, out, "a < b")
	assert.Contains(t, out, "a >= b")
	assert.Contains(t, out, "default:")

	// The untouched function body survives as the default branch.
	assert.Contains(t, out, "a > b")
}

func TestGenerateFileWithoutCandidates(t *testing.T) {
	gen := newTestGenerator(operator.Comparison())
	fm := mustGenerate(t, gen, "types.go", "package types\n\ntype Pair struct {\n\tA, B int\n}\n")

	assert.Empty(t, fm.Gremlins)
	assert.Nil(t, fm.Instrumented)
}

func TestGenerateFileSkipsConstContexts(t *testing.T) {
	src := `package c

const Answer = 40 + 2

var buf [5 + 3]byte

var Sum = 40 + 2
`
	gen := newTestGenerator(operator.Arithmetic())
	fm := mustGenerate(t, gen, "c.go", src)

	require.Len(t, fm.Gremlins, 1, "only the var initializer is mutable")
	assert.Equal(t, 7, fm.Gremlins[0].Line)

	mustParse(t, fm.Instrumented)
	assert.Contains(t, string(fm.Instrumented), "gremlinswitch.Value(")
}

func TestGenerateFileSkipsLabeledFunctions(t *testing.T) {
	src := `package l

func find(grid [][]int, want int) bool {
outer:
	for i := range grid {
		for j := range grid[i] {
			if grid[i][j] == want {
				break outer
			}
		}
	}
	return false
}

func equal(a, b int) bool {
	return a == b
}
`
	gen := newTestGenerator(operator.Comparison())
	fm := mustGenerate(t, gen, "l.go", src)

	require.Len(t, fm.Gremlins, 1)
	assert.Equal(t, 16, fm.Gremlins[0].Line)
	assert.Equal(t, 1, strings.Count(string(fm.Instrumented), "case gremlinswitch.Enabled"))
}

func TestGenerateFileHonorsIgnoreAnnotations(t *testing.T) {
	t.Run("file level", func(t *testing.T) {
		src := `// Package ignored is generated output.
//
// gremlins:ignore
package ignored

func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
`
		gen := newTestGenerator(operator.Comparison())
		fm := mustGenerate(t, gen, "ignored.go", src)
		assert.Empty(t, fm.Gremlins)
		assert.Nil(t, fm.Instrumented)
	})

	t.Run("function level", func(t *testing.T) {
		src := `package pick

// Max is checked elsewhere.
//
// gremlins:ignore
func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
`
		gen := newTestGenerator(operator.Comparison())
		fm := mustGenerate(t, gen, "pick.go", src)

		require.Len(t, fm.Gremlins, 2)
		for _, g := range fm.Gremlins {
			assert.Equal(t, 14, g.Line, "only Min may be mutated")
		}
	})

	t.Run("line level trailing", func(t *testing.T) {
		src := `package mix

func Weight(a, b int) int {
	if a > b { // gremlins:ignore comparison
		return a + b
	}
	return a - b
}
`
		gen := newTestGenerator(operator.Comparison(), operator.Arithmetic())
		fm := mustGenerate(t, gen, "mix.go", src)

		require.Len(t, fm.Gremlins, 2)
		for _, g := range fm.Gremlins {
			assert.Equal(t, "arithmetic", g.Operator)
		}
	})

	t.Run("line level above", func(t *testing.T) {
		src := `package mix

func Flag(a int) bool {
	// gremlins:ignore
	return a > 10
}
`
		gen := newTestGenerator(operator.Comparison(), operator.Boundary())
		fm := mustGenerate(t, gen, "mix.go", src)
		assert.Empty(t, fm.Gremlins)
	})
}

func TestReinstrumentKeepsSurvivingIDs(t *testing.T) {
	gen := newTestGenerator(operator.Comparison())
	fm := mustGenerate(t, gen, "calc.go", calcSource)
	require.Len(t, fm.Gremlins, 2)

	out, err := gen.Reinstrument(context.Background(), "calc.go", []byte(calcSource),
		map[string]bool{"calc.go:g001": true})
	require.NoError(t, err)
	require.NotNil(t, out)

	mustParse(t, out)
	assert.NotContains(t, string(out), "calc.go:g001")
	assert.Contains(t, string(out), `gremlinswitch.Enabled("calc.go:g002")`)
	assert.Contains(t, string(out), "a >= b")
}

func TestReinstrumentWithEverythingExcluded(t *testing.T) {
	gen := newTestGenerator(operator.Comparison())

	out, err := gen.Reinstrument(context.Background(), "calc.go", []byte(calcSource),
		map[string]bool{"calc.go:g001": true, "calc.go:g002": true})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGenerateFileRejectsSwitchCollision(t *testing.T) {
	src := `package clash

func gremlinswitch() {}

func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
`
	gen := newTestGenerator(operator.Comparison())
	_, err := gen.GenerateFile(context.Background(), "clash.go", []byte(src))
	require.ErrorIs(t, err, ErrSwitchCollision)
}

func TestGenerateFileRejectsUnparsableSource(t *testing.T) {
	gen := newTestGenerator(operator.Comparison())
	_, err := gen.GenerateFile(context.Background(), "broken.go", []byte("func broken("))
	require.Error(t, err)
}

func TestGenerateFileStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := newTestGenerator(operator.Comparison())
	_, err := gen.GenerateFile(ctx, "calc.go", []byte(calcSource))
	require.ErrorIs(t, err, context.Canceled)
}
