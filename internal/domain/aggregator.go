package domain

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mikelane/gremlins/internal/model"
)

// Aggregator collects worker results as futures resolve, in any order,
// from any goroutine. One result per gremlin: the first recorded
// outcome wins and later duplicates are dropped.
type Aggregator struct {
	mu      sync.Mutex
	total   int
	results map[string]model.WorkerResult
	counts  map[model.Status]int
	cached  int
}

// NewAggregator returns an empty aggregator. Call SetTotal once the
// number of scheduled gremlins is known.
func NewAggregator() *Aggregator {
	return &Aggregator{
		results: make(map[string]model.WorkerResult),
		counts:  make(map[model.Status]int),
	}
}

// SetTotal fixes the denominator for progress reporting.
func (a *Aggregator) SetTotal(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total = n
}

// AddResult records one outcome.
func (a *Aggregator) AddResult(res model.WorkerResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.results[res.GremlinID]; dup {
		slog.Warn("Dropping duplicate result", "gremlin", res.GremlinID, "status", res.Status.String())
		return
	}
	a.results[res.GremlinID] = res
	a.counts[res.Status]++
	if res.Cached {
		a.cached++
	}
}

// AddError synthesizes an Error outcome for a gremlin whose dispatch
// failed before any worker could report on it.
func (a *Aggregator) AddError(gremlinID string, cause error) {
	slog.Error("Recording gremlin error", "gremlin", gremlinID, "error", cause)
	a.AddResult(model.WorkerResult{
		GremlinID: gremlinID,
		Status:    model.StatusError,
	})
}

// Results returns all outcomes sorted by gremlin id, deterministic
// regardless of arrival order.
func (a *Aggregator) Results() []model.WorkerResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.sortedLocked()
}

func (a *Aggregator) sortedLocked() []model.WorkerResult {
	out := make([]model.WorkerResult, 0, len(a.results))
	for _, res := range a.results {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GremlinID < out[j].GremlinID
	})
	return out
}

// Progress returns completed and total counts. Gremlins skipped by
// early termination never complete, so completed can stay below total.
func (a *Aggregator) Progress() (completed, total int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.results), a.total
}

// ProgressPercentage is Progress as a 0-100 value; an empty run counts
// as fully done.
func (a *Aggregator) ProgressPercentage() float64 {
	completed, total := a.Progress()
	if total == 0 {
		return 100.0
	}
	return 100.0 * float64(completed) / float64(total)
}

// Count reports how many collected results carry the given status.
func (a *Aggregator) Count(status model.Status) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.counts[status]
}

// Summary snapshots the run outcome.
func (a *Aggregator) Summary(elapsed time.Duration) model.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	return model.Summary{
		Total:    a.total,
		Zapped:   a.counts[model.StatusZapped],
		Survived: a.counts[model.StatusSurvived],
		Timeout:  a.counts[model.StatusTimeout],
		Errors:   a.counts[model.StatusError],
		Cached:   a.cached,
		Score:    MutationScore(a.sortedLocked()),
		Elapsed:  elapsed,
	}
}
