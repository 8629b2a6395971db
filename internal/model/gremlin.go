// Package model defines the data structures for mutation testing.
package model

import "fmt"

// Path represents a file system path.
type Path string

// Gremlin is a single mutant: one small deliberate fault embedded in a
// source file behind a runtime switch. A Gremlin is immutable once
// generated; its ID is "<relative file path>:gNNN" where the gNNN sequence
// restarts for every file.
type Gremlin struct {
	ID          string
	File        Path
	Line        int
	Original    string // original source fragment
	Mutated     string // replacement fragment
	Operator    string
	Description string
	Diff        string // unified diff of the mutated statement, for display
}

// GremlinID builds the project-unique id for the seq-th mutant of a file.
func GremlinID(file Path, seq int) string {
	return fmt.Sprintf("%s:g%03d", file, seq)
}

func (g Gremlin) String() string {
	return fmt.Sprintf("%s %s:%d %s", g.ID, g.File, g.Line, g.Description)
}
