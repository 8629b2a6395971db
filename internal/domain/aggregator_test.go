package domain

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikelane/gremlins/internal/model"
)

func TestAggregatorCollectsResults(t *testing.T) {
	agg := NewAggregator()
	agg.SetTotal(3)

	agg.AddResult(result("a.go:g002", model.StatusSurvived))
	agg.AddResult(result("a.go:g001", model.StatusZapped))
	agg.AddResult(result("b.go:g001", model.StatusZapped))

	results := agg.Results()
	require.Len(t, results, 3)
	assert.Equal(t, "a.go:g001", results[0].GremlinID)
	assert.Equal(t, "a.go:g002", results[1].GremlinID)
	assert.Equal(t, "b.go:g001", results[2].GremlinID)

	assert.Equal(t, 2, agg.Count(model.StatusZapped))
	assert.Equal(t, 1, agg.Count(model.StatusSurvived))
}

func TestAggregatorDropsDuplicates(t *testing.T) {
	agg := NewAggregator()
	agg.SetTotal(1)

	agg.AddResult(result("a.go:g001", model.StatusZapped))
	agg.AddResult(result("a.go:g001", model.StatusSurvived))

	results := agg.Results()
	require.Len(t, results, 1)
	assert.Equal(t, model.StatusZapped, results[0].Status, "first outcome wins")
	assert.Equal(t, 0, agg.Count(model.StatusSurvived))
}

func TestAggregatorAddErrorSynthesizesResult(t *testing.T) {
	agg := NewAggregator()
	agg.SetTotal(1)

	agg.AddError("a.go:g001", errors.New("worker exploded"))

	results := agg.Results()
	require.Len(t, results, 1)
	assert.Equal(t, model.StatusError, results[0].Status)
	assert.Equal(t, 1, agg.Count(model.StatusError))
}

func TestAggregatorProgress(t *testing.T) {
	agg := NewAggregator()
	agg.SetTotal(4)

	completed, total := agg.Progress()
	assert.Equal(t, 0, completed)
	assert.Equal(t, 4, total)
	assert.InDelta(t, 0.0, agg.ProgressPercentage(), 0.0001)

	agg.AddResult(result("a.go:g001", model.StatusZapped))
	agg.AddResult(result("a.go:g002", model.StatusSurvived))

	completed, total = agg.Progress()
	assert.Equal(t, 2, completed)
	assert.Equal(t, 4, total)
	assert.InDelta(t, 50.0, agg.ProgressPercentage(), 0.0001)
}

func TestAggregatorProgressOnEmptyRun(t *testing.T) {
	agg := NewAggregator()
	assert.InDelta(t, 100.0, agg.ProgressPercentage(), 0.0001)
}

func TestAggregatorSummary(t *testing.T) {
	agg := NewAggregator()
	agg.SetTotal(6)

	agg.AddResult(result("a.go:g001", model.StatusZapped))
	agg.AddResult(result("a.go:g002", model.StatusZapped))
	agg.AddResult(result("a.go:g003", model.StatusSurvived))
	agg.AddResult(result("a.go:g004", model.StatusTimeout))
	agg.AddResult(result("a.go:g005", model.StatusError))
	agg.AddResult(model.WorkerResult{GremlinID: "a.go:g006", Status: model.StatusZapped, Cached: true})

	summary := agg.Summary(3 * time.Second)
	assert.Equal(t, 6, summary.Total)
	assert.Equal(t, 3, summary.Zapped)
	assert.Equal(t, 1, summary.Survived)
	assert.Equal(t, 1, summary.Timeout)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Cached)
	assert.Equal(t, 3*time.Second, summary.Elapsed)
	// 3 zapped out of 5 scoreable results.
	assert.InDelta(t, 60.0, summary.Score, 0.0001)
}

func TestAggregatorConcurrentAdds(t *testing.T) {
	agg := NewAggregator()

	const workers = 8
	const perWorker = 50
	agg.SetTotal(workers * perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := fmt.Sprintf("f%d.go:g%03d", w, i+1)
				agg.AddResult(result(id, model.StatusZapped))
			}
		}(w)
	}
	wg.Wait()

	completed, total := agg.Progress()
	assert.Equal(t, workers*perWorker, completed)
	assert.Equal(t, workers*perWorker, total)
	assert.Equal(t, workers*perWorker, agg.Count(model.StatusZapped))
}
