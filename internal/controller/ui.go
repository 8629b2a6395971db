// Package controller provides output adapters for displaying mutation
// testing progress and results.
package controller

import (
	"context"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mikelane/gremlins/internal/model"
)

// StartMode selects what the UI is about to display.
type StartMode int

// Available StartMode values.
const (
	// ModeList displays generated gremlins without running anything.
	ModeList StartMode = iota
	// ModeRun follows a full mutation run.
	ModeRun
)

// StartOption is a functional option for Start.
type StartOption func(*StartConfig)

// StartConfig holds configuration for starting the UI.
type StartConfig struct {
	mode StartMode
}

// Mode reports the configured start mode.
func (c *StartConfig) Mode() StartMode {
	return c.mode
}

// WithListMode sets the UI to gremlin listing mode.
func WithListMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeList
	}
}

// WithRunMode sets the UI to run-following mode.
func WithRunMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeRun
	}
}

// UI renders gremlin listings and run progress. Implementations range
// from plain text to a full terminal UI.
type UI interface {
	Start(ctx context.Context, options ...StartOption) error
	Close(ctx context.Context)
	// Wait blocks until the UI is done with the screen, e.g. the user
	// dismissed it. Plain implementations return immediately.
	Wait(ctx context.Context)
	DisplayGremlins(ctx context.Context, gremlins []model.Gremlin) error
	DisplayRunStart(ctx context.Context, total, workers, cached int)
	// DisplayResult reports one outcome together with the gremlin it
	// belongs to, so survivors can show their diff.
	DisplayResult(ctx context.Context, res model.WorkerResult, gremlin model.Gremlin)
	DisplayProgress(ctx context.Context, completed, total int)
	DisplaySummary(ctx context.Context, summary model.Summary) error
}

// NewUI picks the terminal UI on a real terminal, plain output
// everywhere else (pipes, CI).
func NewUI(cmd *cobra.Command, tty bool) UI {
	if tty {
		return NewTUI(cmd.OutOrStdout())
	}
	return NewSimpleUI(cmd)
}

// IsTTY reports whether f is attached to a terminal.
func IsTTY(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
