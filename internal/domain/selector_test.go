package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikelane/gremlins/internal/model"
)

func coverageFixture() *model.CoverageMap {
	cov := model.NewCoverageMap()
	// TestNarrow touches a single line, TestBroad ranges over many.
	cov.Add("a.go", 10, "TestBroad")
	cov.Add("a.go", 10, "TestNarrow")
	cov.Add("a.go", 12, "TestBroad")
	cov.Add("a.go", 13, "TestBroad")
	cov.Add("b.go", 5, "TestBroad")
	return cov
}

func gremlinAt(file model.Path, line int) model.Gremlin {
	return model.Gremlin{
		ID:   model.GremlinID(file, 1),
		File: file,
		Line: line,
	}
}

func TestSelectorReturnsCoveringTests(t *testing.T) {
	sel := NewSelector(coverageFixture())

	tests := sel.SelectTests(gremlinAt("a.go", 10))
	assert.ElementsMatch(t, []string{"TestBroad", "TestNarrow"}, tests)
}

func TestSelectorEmptyForUncoveredLine(t *testing.T) {
	sel := NewSelector(coverageFixture())

	assert.Empty(t, sel.SelectTests(gremlinAt("a.go", 11)))
	assert.Empty(t, sel.SelectTests(gremlinAt("missing.go", 10)))
}

func TestPrioritizedSelectorOrdersBySpecificity(t *testing.T) {
	sel := NewPrioritizedSelector(coverageFixture())

	tests := sel.SelectTests(gremlinAt("a.go", 10))
	require.Len(t, tests, 2)
	assert.Equal(t, "TestNarrow", tests[0], "the most targeted test goes first")
	assert.Equal(t, "TestBroad", tests[1])
}

func TestPrioritizedSelectorBreaksTiesByName(t *testing.T) {
	cov := model.NewCoverageMap()
	cov.Add("a.go", 7, "TestZulu")
	cov.Add("a.go", 7, "TestAlpha")

	sel := NewPrioritizedSelector(cov)
	tests := sel.SelectTests(gremlinAt("a.go", 7))
	assert.Equal(t, []string{"TestAlpha", "TestZulu"}, tests)
}
