package pool

import (
	"context"
	"sync"

	"github.com/mikelane/gremlins/internal/model"
)

// BatchFuture resolves once a dispatched batch reaches a terminal state:
// worker results, or a dispatch-level error covering the whole batch.
type BatchFuture struct {
	ids  []string
	done chan struct{}

	once    sync.Once
	results []model.WorkerResult
	err     error
}

func newBatchFuture(ids []string) *BatchFuture {
	return &BatchFuture{ids: ids, done: make(chan struct{})}
}

// GremlinIDs returns the ids the dispatch carried, in order.
func (f *BatchFuture) GremlinIDs() []string {
	return append([]string(nil), f.ids...)
}

func (f *BatchFuture) resolve(results []model.WorkerResult, err error) {
	f.once.Do(func() {
		f.results = results
		f.err = err
		close(f.done)
	})
}

// Done closes when the future resolves.
func (f *BatchFuture) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until resolution or context cancellation. On success the
// results carry outcomes for a prefix of the batch: items skipped by
// early termination have no result.
func (f *BatchFuture) Wait(ctx context.Context) ([]model.WorkerResult, error) {
	select {
	case <-f.done:
		return f.results, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResolvedBatch returns an already resolved future, for synchronous
// pool implementations.
func ResolvedBatch(results []model.WorkerResult, err error) *BatchFuture {
	ids := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.GremlinID)
	}
	f := newBatchFuture(ids)
	f.resolve(results, err)
	return f
}

// Future resolves a single-item dispatch.
type Future struct {
	batch *BatchFuture
}

// Wait blocks until the item's result is available.
func (f *Future) Wait(ctx context.Context) (model.WorkerResult, error) {
	results, err := f.batch.Wait(ctx)
	if err != nil {
		return model.WorkerResult{}, err
	}
	if len(results) == 0 {
		return model.WorkerResult{}, ErrNoResult
	}
	return results[0], nil
}

// Done closes when the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.batch.Done()
}
