package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mikelane/gremlins/internal/adapter"
	"github.com/mikelane/gremlins/internal/cache"
	"github.com/mikelane/gremlins/internal/model"
)

// fullSuiteKey marks the synthetic test-hash entry used when no
// covering test exists and the whole suite runs instead.
const fullSuiteKey = ""

// gremlinPlan pairs one live gremlin with the work item that tests it
// and the cache key guarding re-execution.
type gremlinPlan struct {
	gremlin model.Gremlin
	item    model.WorkItem
	// key is empty when caching is disabled.
	key    string
	cached bool
}

// plan builds one work item per live gremlin. Covered gremlins get
// their covering tests, most targeted first unless prioritization is
// off; uncovered ones fall back to the full suite so they still reach
// a terminal status.
func (e *engine) plan(args RunArgs, gremlins []model.Gremlin, outcomes []fileOutcome, cov *model.CoverageMap, tests []model.TestInfo, root, tmp model.Path, excluded map[string]bool) []*gremlinPlan {
	srcHash := make(map[model.Path]string, len(outcomes))
	for _, out := range outcomes {
		srcHash[out.mutation.Path] = out.hash
	}

	index := make(map[string]model.TestInfo, len(tests))
	for _, t := range tests {
		if prev, ok := index[t.Name]; ok {
			slog.Debug("Duplicate test name across packages, coverage maps to the first",
				"test", t.Name, "kept", prev.File, "dropped", t.File)
			continue
		}
		index[t.Name] = t
	}

	hashes := newTestHasher(e.FS, root, tests)
	selector := NewPrioritizedSelector(cov)
	if args.NoPrioritize {
		selector = NewSelector(cov)
	}

	plans := make([]*gremlinPlan, 0, len(gremlins))
	uncovered := 0
	for _, g := range gremlins {
		if excluded[g.ID] {
			continue
		}

		var invocations []model.TestInvocation
		testHashes := make(map[string]string)
		for _, name := range selector.SelectTests(g) {
			info, ok := index[name]
			if !ok {
				slog.Warn("Coverage names a test that discovery missed", "test", name, "gremlin", g.ID)
				continue
			}
			invocations = append(invocations, e.TestCmd.Invocation(info))
			testHashes[name] = hashes.file(info.File)
		}
		if len(invocations) == 0 {
			uncovered++
			invocations = []model.TestInvocation{e.TestCmd.FullSuite()}
			testHashes = map[string]string{fullSuiteKey: hashes.suite()}
		}

		p := &gremlinPlan{
			gremlin: g,
			item: model.WorkItem{
				GremlinID: g.ID,
				Dir:       string(tmp),
				Env:       map[string]string{adapter.ActiveEnvVar: g.ID},
				Tests:     invocations,
			},
		}
		if e.Cache != nil {
			p.key = e.Cache.Key(g.ID, srcHash[g.File], testHashes)
		}
		plans = append(plans, p)
	}
	if uncovered > 0 {
		slog.Info("Gremlins without covering tests run the full suite", "count", uncovered)
	}
	return plans
}

// consultCache answers plans from the cache where possible and returns
// the hit count. Hits are recorded immediately and never scheduled.
func (e *engine) consultCache(ctx context.Context, agg *Aggregator, plans []*gremlinPlan) int {
	if e.Cache == nil {
		return 0
	}
	hits := 0
	for _, p := range plans {
		if ctx.Err() != nil {
			return hits
		}
		res, ok := e.Cache.Get(p.key)
		if !ok {
			continue
		}
		p.cached = true
		hits++
		agg.AddResult(res)
	}
	if hits > 0 {
		slog.Info("Answered gremlins from cache", "hits", hits, "total", len(plans))
	}
	return hits
}

// execute schedules every uncached plan onto the pool and records the
// outcomes. Dispatch failures become Error results; the run itself only
// fails on context cancellation or pool startup problems.
func (e *engine) execute(ctx context.Context, args RunArgs, agg *Aggregator, plans []*gremlinPlan) error {
	byID := make(map[string]*gremlinPlan, len(plans))
	ids := make([]string, 0, len(plans))
	for _, p := range plans {
		if p.cached {
			continue
		}
		byID[p.gremlin.ID] = p
		ids = append(ids, p.gremlin.ID)
	}
	if len(ids) == 0 {
		slog.Info("Nothing left to schedule, cache answered everything")
		return nil
	}

	dist, err := e.distribution(args.Strategy, byID)
	if err != nil {
		return err
	}

	pl, err := e.NewPool(args.Pool)
	if err != nil {
		return fmt.Errorf("failed to build worker pool: %w", err)
	}
	if err := pl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	defer pl.Shutdown(true)

	var writer *cache.Writer
	if e.Cache != nil {
		writer = e.Cache.Writer()
		defer func() {
			if err := writer.Flush(); err != nil {
				slog.Error("Failed to flush result cache", "error", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, bucket := range dist.Distribute(ids, args.Pool.MaxWorkers) {
		g.Go(func() error {
			for _, batchIDs := range Partition(bucket, args.Pool.BatchSize) {
				if err := gctx.Err(); err != nil {
					return err
				}
				e.runBatch(gctx, pl, agg, writer, byID, batchIDs)
			}
			return nil
		})
	}
	return g.Wait()
}

// distribution resolves the configured strategy. Weighted balancing
// costs a gremlin by how many test invocations it carries.
func (e *engine) distribution(strategy string, byID map[string]*gremlinPlan) (Distribution, error) {
	switch strategy {
	case "", "weighted":
		costs := make(map[string]float64, len(byID))
		for id, p := range byID {
			costs[id] = float64(len(p.item.Tests))
		}
		return NewWeighted(costs), nil
	case "round-robin":
		return NewRoundRobin(), nil
	default:
		return nil, fmt.Errorf("unknown distribution strategy %q", strategy)
	}
}

// runBatch submits one batch and records whatever comes back. Batch
// items skipped by early termination produce no result at all.
func (e *engine) runBatch(ctx context.Context, pl Pool, agg *Aggregator, writer *cache.Writer, byID map[string]*gremlinPlan, ids []string) {
	batch := make(model.Batch, 0, len(ids))
	for _, id := range ids {
		batch = append(batch, byID[id].item)
	}

	fut, err := pl.SubmitBatch(ctx, batch)
	if err != nil {
		for _, id := range ids {
			agg.AddError(id, err)
		}
		e.progress(ctx, agg)
		return
	}
	results, err := fut.Wait(ctx)
	if err != nil {
		for _, id := range ids {
			agg.AddError(id, err)
		}
		e.progress(ctx, agg)
		return
	}

	for _, res := range results {
		agg.AddResult(res)
		p, known := byID[res.GremlinID]
		if !known {
			slog.Warn("Worker reported an unknown gremlin", "gremlin", res.GremlinID)
			continue
		}
		e.UI.DisplayResult(ctx, res, p.gremlin)
		if writer == nil || res.Status == model.StatusError {
			continue
		}
		if err := writer.Put(p.key, res); err != nil {
			slog.Warn("Failed to stage cache write", "gremlin", res.GremlinID, "error", err)
		}
	}
	if len(results) < len(ids) {
		slog.Debug("Batch terminated early", "ran", len(results), "skipped", len(ids)-len(results))
	}
	e.progress(ctx, agg)
}

func (e *engine) progress(ctx context.Context, agg *Aggregator) {
	completed, total := agg.Progress()
	e.UI.DisplayProgress(ctx, completed, total)
}

// testHasher memoizes test file content hashes for cache keys. Hashing
// failures poison the affected keys with a unique value so they can
// never produce a false cache hit.
type testHasher struct {
	fs    adapter.SourceFS
	root  model.Path
	files []model.Path
	memo  map[model.Path]string
	all   string
}

func newTestHasher(fs adapter.SourceFS, root model.Path, tests []model.TestInfo) *testHasher {
	seen := make(map[model.Path]bool)
	var files []model.Path
	for _, t := range tests {
		if !seen[t.File] {
			seen[t.File] = true
			files = append(files, t.File)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })
	return &testHasher{fs: fs, root: root, files: files, memo: make(map[model.Path]string)}
}

func (h *testHasher) file(file model.Path) string {
	if hash, ok := h.memo[file]; ok {
		return hash
	}
	src, err := h.fs.ReadFile(h.fs.JoinPath(string(h.root), string(file)))
	var hash string
	if err != nil {
		slog.Warn("Failed to hash test file, cache key degrades to unique", "file", file, "error", err)
		hash = cache.HashBytes([]byte("unreadable:" + string(file) + ":" + uuid.NewString()))
	} else {
		hash = cache.HashBytes(src)
	}
	h.memo[file] = hash
	return hash
}

// suite hashes every discovered test file together, for full-suite
// fallback keys.
func (h *testHasher) suite() string {
	if h.all != "" {
		return h.all
	}
	var combined []byte
	for _, file := range h.files {
		combined = append(combined, file...)
		combined = append(combined, 0)
		combined = append(combined, h.file(file)...)
		combined = append(combined, 0)
	}
	h.all = cache.HashBytes(combined)
	return h.all
}
