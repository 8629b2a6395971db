// Package domain contains the core mutation testing workflow and logic.
package domain

import (
	"sort"

	"github.com/mikelane/gremlins/internal/model"
)

// TestSelector resolves the tests that could possibly detect a gremlin,
// based on which tests execute the gremlin's source line.
type TestSelector interface {
	// SelectTests returns test names for the gremlin's location. An empty
	// slice means no test covers the line.
	SelectTests(g model.Gremlin) []string
}

type selector struct {
	coverage *model.CoverageMap
}

// NewSelector builds a selector answering from the given coverage map.
func NewSelector(coverage *model.CoverageMap) TestSelector {
	return &selector{coverage: coverage}
}

func (s *selector) SelectTests(g model.Gremlin) []string {
	return s.coverage.TestsFor(g.File, g.Line)
}

type prioritizedSelector struct {
	coverage *model.CoverageMap
}

// NewPrioritizedSelector builds a selector that orders tests by
// specificity: tests covering fewer lines overall come first, so the
// most targeted test gets the first chance to kill the gremlin. Ties
// stay in name order.
func NewPrioritizedSelector(coverage *model.CoverageMap) TestSelector {
	return &prioritizedSelector{coverage: coverage}
}

func (s *prioritizedSelector) SelectTests(g model.Gremlin) []string {
	tests := s.coverage.TestsFor(g.File, g.Line)
	sort.SliceStable(tests, func(i, j int) bool {
		return s.coverage.Breadth(tests[i]) < s.coverage.Breadth(tests[j])
	})
	return tests
}
