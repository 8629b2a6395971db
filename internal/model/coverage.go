package model

import "sort"

// TestInfo identifies one discovered test function.
type TestInfo struct {
	Name    string
	File    Path   // declaring file, relative to the project root
	Package string // package directory relative to the project root
}

type lineKey struct {
	file Path
	line int
}

// CoverageMap maps (file, line) to the set of tests covering that line.
// It is built once during the baseline phase and read-only afterwards; it
// is not safe for concurrent mutation.
type CoverageMap struct {
	lines   map[lineKey]map[string]struct{}
	byTest  map[string]int
	entries int
}

func NewCoverageMap() *CoverageMap {
	return &CoverageMap{
		lines:  make(map[lineKey]map[string]struct{}),
		byTest: make(map[string]int),
	}
}

// Add records that test covers file:line. Duplicate records are collapsed.
func (m *CoverageMap) Add(file Path, line int, test string) {
	key := lineKey{file: file, line: line}
	tests, ok := m.lines[key]
	if !ok {
		tests = make(map[string]struct{})
		m.lines[key] = tests
	}
	if _, dup := tests[test]; dup {
		return
	}
	tests[test] = struct{}{}
	m.byTest[test]++
	m.entries++
}

// TestsFor returns a sorted copy of the tests covering file:line. An
// unknown location yields an empty slice, never nil shared state.
func (m *CoverageMap) TestsFor(file Path, line int) []string {
	tests := m.lines[lineKey{file: file, line: line}]
	out := make([]string, 0, len(tests))
	for test := range tests {
		out = append(out, test)
	}
	sort.Strings(out)
	return out
}

// Breadth returns how many covered lines the test reaches. Used to order
// tests most-targeted-first.
func (m *CoverageMap) Breadth(test string) int {
	return m.byTest[test]
}

// Locations returns the number of distinct covered (file, line) pairs.
func (m *CoverageMap) Locations() int {
	return len(m.lines)
}

// TestCount returns the number of distinct tests seen.
func (m *CoverageMap) TestCount() int {
	return len(m.byTest)
}

// Entries returns the number of distinct (file, line, test) records.
func (m *CoverageMap) Entries() int {
	return m.entries
}
