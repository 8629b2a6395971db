package controller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mikelane/gremlins/internal/model"
)

const (
	// recentResultLines bounds the rolling result feed in run mode.
	recentResultLines = 10
	// listFallbackPageSize is the listing length above which the
	// interactive pager takes over from plain printing.
	listFallbackPageSize = 40
	// tuiCloseGrace is how long Close waits for the program to drain
	// before killing it.
	tuiCloseGrace = 2 * time.Second
)

var (
	tuiHeaderStyle   = lipgloss.NewStyle().Bold(true)
	tuiZappedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	tuiSurvivedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	tuiTimeoutStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	tuiErrorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("135"))
	tuiFaintStyle    = lipgloss.NewStyle().Faint(true)
)

// TUI implements UI using Bubble Tea. Run mode drives a live program
// fed through messages; list mode renders synchronously, paging only
// when the listing is long.
type TUI struct {
	output io.Writer

	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
}

// NewTUI creates a new TUI writing to output.
func NewTUI(output io.Writer) *TUI {
	return &TUI{output: output}
}

// Start brings up the live program in run mode. List mode needs no
// long-lived program.
func (p *TUI) Start(ctx context.Context, options ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var cfg StartConfig
	for _, opt := range options {
		opt(&cfg)
	}
	if cfg.Mode() != ModeRun {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.program != nil {
		return fmt.Errorf("terminal UI already started")
	}

	program := tea.NewProgram(newRunModel(), tea.WithOutput(p.output))
	done := make(chan struct{})
	go func() {
		if _, err := program.Run(); err != nil {
			slog.Error("Terminal UI stopped with error", "error", err)
		}
		close(done)
	}()
	p.program = program
	p.done = done
	return nil
}

// Close shuts the live program down, forcefully after a grace period.
func (p *TUI) Close(ctx context.Context) {
	p.mu.Lock()
	program, done := p.program, p.done
	p.program = nil
	p.done = nil
	p.mu.Unlock()
	if program == nil {
		return
	}

	program.Quit()
	select {
	case <-done:
	case <-ctx.Done():
		program.Kill()
	case <-time.After(tuiCloseGrace):
		program.Kill()
	}
}

// Wait blocks until the live program finishes rendering, normally right
// after the summary arrives.
func (p *TUI) Wait(ctx context.Context) {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// DisplayGremlins renders the listing, interactively when it would not
// fit a screen.
func (p *TUI) DisplayGremlins(ctx context.Context, gremlins []model.Gremlin) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sorted := append([]model.Gremlin(nil), gremlins...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	lm := newListModel(sorted)
	if !lm.needsPagination() {
		_, err := fmt.Fprint(p.output, lm.View())
		return err
	}

	program := tea.NewProgram(lm, tea.WithOutput(p.output), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return err
	}
	return nil
}

func (p *TUI) send(msg tea.Msg) {
	p.mu.Lock()
	program := p.program
	p.mu.Unlock()
	if program != nil {
		program.Send(msg)
	}
}

// DisplayRunStart seeds the live view with the run shape.
func (p *TUI) DisplayRunStart(ctx context.Context, total, workers, cached int) {
	if err := ctx.Err(); err != nil {
		return
	}
	p.send(runStartMsg{total: total, workers: workers, cached: cached})
}

// DisplayResult feeds one outcome into the rolling feed.
func (p *TUI) DisplayResult(ctx context.Context, res model.WorkerResult, gremlin model.Gremlin) {
	if err := ctx.Err(); err != nil {
		return
	}
	p.send(resultMsg{result: res, gremlin: gremlin})
}

// DisplayProgress advances the progress bar.
func (p *TUI) DisplayProgress(ctx context.Context, completed, total int) {
	if err := ctx.Err(); err != nil {
		return
	}
	p.send(progressMsg{completed: completed, total: total})
}

// DisplaySummary finishes the live view, or prints the table directly
// when no program is running.
func (p *TUI) DisplaySummary(ctx context.Context, summary model.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	program := p.program
	p.mu.Unlock()
	if program == nil {
		_, err := fmt.Fprint(p.output, renderSummaryTable(summary))
		return err
	}
	program.Send(summaryMsg{summary: summary})
	return nil
}

type runStartMsg struct {
	total   int
	workers int
	cached  int
}

type resultMsg struct {
	result  model.WorkerResult
	gremlin model.Gremlin
}

type progressMsg struct {
	completed int
	total     int
}

type summaryMsg struct {
	summary model.Summary
}

// runModel is the Bubble Tea model of a live mutation run.
type runModel struct {
	bar       progress.Model
	width     int
	total     int
	completed int
	workers   int
	cached    int
	counts    map[model.Status]int
	recent    []string
	summary   *model.Summary
	quitting  bool
}

func newRunModel() runModel {
	return runModel{
		bar:    progress.New(progress.WithDefaultGradient()),
		counts: make(map[model.Status]int),
	}
}

func (rm runModel) Init() tea.Cmd {
	return nil
}

func (rm runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		rm.width = msg.Width

		barWidth := msg.Width - 24
		if barWidth < 10 {
			barWidth = 10
		}
		rm.bar.Width = barWidth
		return rm, nil

	case tea.KeyMsg:
		switch {
		case msg.Type == tea.KeyCtrlC, msg.Type == tea.KeyEsc, msg.String() == "q":
			rm.quitting = true
			return rm, tea.Quit
		}
		return rm, nil

	case runStartMsg:
		rm.total = msg.total
		rm.workers = msg.workers
		rm.cached = msg.cached
		return rm, nil

	case resultMsg:
		rm.counts[msg.result.Status]++
		rm.recent = append(rm.recent, renderResultLine(msg.result, msg.gremlin))
		if len(rm.recent) > recentResultLines {
			rm.recent = rm.recent[1:]
		}
		return rm, nil

	case progressMsg:
		rm.completed = msg.completed
		rm.total = msg.total
		return rm, nil

	case summaryMsg:
		summary := msg.summary
		rm.summary = &summary
		return rm, tea.Quit
	}

	return rm, nil
}

func (rm runModel) View() string {
	var b strings.Builder

	b.WriteString(tuiHeaderStyle.Render("gremlins mutation run"))
	b.WriteString("\n\n")

	if rm.total > 0 {
		pct := float64(rm.completed) / float64(rm.total)
		fmt.Fprintf(&b, "%s %d/%d\n\n", rm.bar.ViewAs(pct), rm.completed, rm.total)
	}

	fmt.Fprintf(&b, "%s %d  %s %d  %s %d  %s %d  %s\n\n",
		tuiZappedStyle.Render("zapped"), rm.counts[model.StatusZapped],
		tuiSurvivedStyle.Render("survived"), rm.counts[model.StatusSurvived],
		tuiTimeoutStyle.Render("timeout"), rm.counts[model.StatusTimeout],
		tuiErrorStyle.Render("errors"), rm.counts[model.StatusError],
		tuiFaintStyle.Render(fmt.Sprintf("cached %d, workers %d", rm.cached, rm.workers)))

	for _, line := range rm.recent {
		b.WriteString(line)
		b.WriteString("\n")
	}

	if rm.summary != nil {
		b.WriteString("\n")
		fmt.Fprintf(&b, "score %s  (%s)\n",
			tuiHeaderStyle.Render(fmt.Sprintf("%.2f%%", rm.summary.Score)),
			rm.summary.Elapsed.Round(summaryElapsedPrecision))
	}

	return b.String()
}

func renderResultLine(res model.WorkerResult, gremlin model.Gremlin) string {
	var status string
	switch res.Status {
	case model.StatusZapped:
		status = tuiZappedStyle.Render("✓ zapped  ")
	case model.StatusSurvived:
		status = tuiSurvivedStyle.Render("✗ survived")
	case model.StatusTimeout:
		status = tuiTimeoutStyle.Render("⧖ timeout ")
	default:
		status = tuiErrorStyle.Render("! error   ")
	}

	line := fmt.Sprintf("  %s %s", status, res.GremlinID)
	if gremlin.Description != "" {
		line += " " + tuiFaintStyle.Render(gremlin.Description)
	}
	if res.Status == model.StatusZapped && res.KillingTest != "" {
		line += tuiFaintStyle.Render(" by " + res.KillingTest)
	}
	return line
}

// listModel pages through generated gremlins.
type listModel struct {
	gremlins []model.Gremlin
	height   int
	width    int
	offset   int
	quitting bool
}

func newListModel(gremlins []model.Gremlin) listModel {
	return listModel{gremlins: gremlins}
}

func (lm listModel) Init() tea.Cmd {
	return nil
}

func (lm listModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		lm.height = msg.Height
		lm.width = msg.Width
		return lm, nil

	case tea.KeyMsg:
		return lm.handleKeyPress(msg)
	}

	return lm, nil
}

func (lm listModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		lm.quitting = true
		return lm, tea.Quit
	default:
	}

	switch msg.String() {
	case "q":
		lm.quitting = true
		return lm, tea.Quit

	case "down", "j":
		lm.offset = clampOffset(lm.offset+1, lm.maxOffset())
		return lm, nil

	case "up", "k":
		lm.offset = clampOffset(lm.offset-1, lm.maxOffset())
		return lm, nil

	case "g", "home":
		lm.offset = 0
		return lm, nil

	case "G", "end":
		lm.offset = lm.maxOffset()
		return lm, nil

	case "d", "pgdown":
		lm.offset = clampOffset(lm.offset+lm.itemsPerPage(), lm.maxOffset())
		return lm, nil

	case "u", "pgup":
		lm.offset = clampOffset(lm.offset-lm.itemsPerPage(), lm.maxOffset())
		return lm, nil
	}

	return lm, nil
}

func clampOffset(offset, maxOffset int) int {
	if offset < 0 {
		return 0
	}
	if offset > maxOffset {
		return maxOffset
	}
	return offset
}

// itemsPerPage reserves lines for the header, the total line and the
// pager footer.
func (lm listModel) itemsPerPage() int {
	if lm.height == 0 {
		return listFallbackPageSize
	}
	reserved := 7

	available := lm.height - reserved
	if available < 1 {
		return 1
	}
	return available
}

func (lm listModel) maxOffset() int {
	maxOff := len(lm.gremlins) - lm.itemsPerPage()
	if maxOff < 0 {
		return 0
	}
	return maxOff
}

// needsPagination is judged before a terminal size is known, so it goes
// by listing length alone.
func (lm listModel) needsPagination() bool {
	return len(lm.gremlins) > listFallbackPageSize
}

func (lm listModel) View() string {
	var b strings.Builder

	b.WriteString(tuiHeaderStyle.Render("gremlins"))
	b.WriteString("\n\n")

	if len(lm.gremlins) == 0 {
		b.WriteString("  no gremlins generated\n")
		return b.String()
	}

	perPage := lm.itemsPerPage()
	start := clampOffset(lm.offset, lm.maxOffset())
	end := start + perPage
	if end > len(lm.gremlins) {
		end = len(lm.gremlins)
	}

	for _, g := range lm.gremlins[start:end] {
		fmt.Fprintf(&b, "  %-28s %4d  %-10s %s\n", g.ID, g.Line, g.Operator, g.Description)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "  total: %d gremlin(s)\n", len(lm.gremlins))

	if lm.needsPagination() {
		fmt.Fprintf(&b, "  showing %d-%d | ↑/k up, ↓/j down, g top, G bottom, q quit\n",
			start+1, end)
	}

	return b.String()
}
