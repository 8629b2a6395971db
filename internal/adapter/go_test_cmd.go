package adapter

import (
	"regexp"

	"github.com/mikelane/gremlins/internal/model"
)

// TestCommand builds the test invocations workers execute. The engine
// treats the commands as opaque: only the exit status matters.
type TestCommand struct {
	// ExtraArgs go onto every invocation, e.g. -tags.
	ExtraArgs []string
}

// NewTestCommand constructs a TestCommand with no extra arguments.
func NewTestCommand(extraArgs ...string) *TestCommand {
	return &TestCommand{ExtraArgs: extraArgs}
}

// Invocation runs exactly one named test inside its own package.
func (c *TestCommand) Invocation(test model.TestInfo) model.TestInvocation {
	argv := []string{"go", "test", "-run", "^" + regexp.QuoteMeta(test.Name) + "$", "-count=1"}
	argv = append(argv, c.ExtraArgs...)
	argv = append(argv, pkgArg(test.Package))
	return model.TestInvocation{Test: test.Name, Argv: argv}
}

// FullSuite runs every test in the tree. Used for gremlins no coverage
// maps to a test, so they still reach a terminal status.
func (c *TestCommand) FullSuite() model.TestInvocation {
	argv := []string{"go", "test", "-count=1"}
	argv = append(argv, c.ExtraArgs...)
	argv = append(argv, "./...")
	return model.TestInvocation{Argv: argv}
}
