package controller

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mikelane/gremlins/internal/model"
)

const summaryElapsedPrecision = 10 * time.Millisecond

// SimpleUI implements UI with plain text on the cobra command's output
// stream. It never blocks and ignores the start mode.
type SimpleUI struct {
	cmd *cobra.Command
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd}
}

// Start initializes the UI.
func (s *SimpleUI) Start(ctx context.Context, _ ...StartOption) error {
	return ctx.Err()
}

// Close finalizes the UI.
func (s *SimpleUI) Close(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
}

// Wait blocks until the UI is closed (no-op for SimpleUI).
func (s *SimpleUI) Wait(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
}

// DisplayGremlins prints every generated gremlin as a table row.
func (s *SimpleUI) DisplayGremlins(ctx context.Context, gremlins []model.Gremlin) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sorted := append([]model.Gremlin(nil), gremlins...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	s.printf("\n%s", renderGremlinTable(sorted))
	return nil
}

func renderGremlinTable(gremlins []model.Gremlin) string {
	var buf bytes.Buffer

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"ID", "Line", "Operator", "Mutation"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_LEFT,
	})

	for _, g := range gremlins {
		table.Append([]string{g.ID, fmt.Sprintf("%d", g.Line), g.Operator, g.Description})
	}
	table.SetFooter([]string{"Total", fmt.Sprintf("%d", len(gremlins)), "", ""})
	table.Render()

	return buf.String()
}

// DisplayRunStart announces the scheduling parameters.
func (s *SimpleUI) DisplayRunStart(ctx context.Context, total, workers, cached int) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("Testing %d gremlin(s) with %d worker(s), %d answered from cache\n", total, workers, cached)
}

// DisplayResult prints one outcome as it arrives. Surviving gremlins
// print their diff so the weak spot is visible right away.
func (s *SimpleUI) DisplayResult(ctx context.Context, res model.WorkerResult, gremlin model.Gremlin) {
	if err := ctx.Err(); err != nil {
		return
	}

	line := fmt.Sprintf("%-8s %s", res.Status.String(), res.GremlinID)
	if res.Status == model.StatusZapped && res.KillingTest != "" {
		line += fmt.Sprintf(" (by %s)", res.KillingTest)
	}
	if res.Cached {
		line += " (cached)"
	}
	s.printf("%s\n", line)

	if res.Status == model.StatusSurvived && gremlin.Diff != "" {
		s.printf("%s\n", gremlin.Diff)
	}
}

// DisplayProgress is a no-op; plain output has one line per result
// already.
func (s *SimpleUI) DisplayProgress(ctx context.Context, _, _ int) {
	if err := ctx.Err(); err != nil {
		return
	}
}

// DisplaySummary prints the final counts and the mutation score.
func (s *SimpleUI) DisplaySummary(ctx context.Context, summary model.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("\n%s", renderSummaryTable(summary))
	s.printf("Completed in %s\n", summary.Elapsed.Round(summaryElapsedPrecision))
	return nil
}

func renderSummaryTable(summary model.Summary) string {
	var buf bytes.Buffer

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Outcome", "Count"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER})

	rows := [][]string{
		{"Zapped", fmt.Sprintf("%d", summary.Zapped)},
		{"Survived", fmt.Sprintf("%d", summary.Survived)},
		{"Timeout", fmt.Sprintf("%d", summary.Timeout)},
		{"Errors", fmt.Sprintf("%d", summary.Errors)},
		{"Cached", fmt.Sprintf("%d", summary.Cached)},
		{"Total", fmt.Sprintf("%d", summary.Total)},
	}
	for _, row := range rows {
		table.Append(row)
	}
	table.SetFooter([]string{"Score", fmt.Sprintf("%.2f%%", summary.Score)})
	table.Render()

	return buf.String()
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}
