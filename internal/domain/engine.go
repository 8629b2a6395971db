package domain

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mikelane/gremlins/internal/adapter"
	"github.com/mikelane/gremlins/internal/cache"
	"github.com/mikelane/gremlins/internal/controller"
	"github.com/mikelane/gremlins/internal/model"
	"github.com/mikelane/gremlins/internal/operator"
	"github.com/mikelane/gremlins/internal/pool"
)

// maxProbeRounds bounds the quarantine loop expelling gremlins whose
// variants break the instrumented build.
const maxProbeRounds = 3

// RunArgs configures one mutation testing run.
type RunArgs struct {
	// Path is a file or directory inside the target project.
	Path string
	// Operators enables a subset of operators by name; empty means all.
	Operators []string
	// Strategy picks the distribution: "weighted" (default) or
	// "round-robin".
	Strategy string
	Pool     model.PoolConfig
	// KeepTree leaves the instrumented tree on disk for inspection.
	KeepTree bool
	// NoCoverage skips baseline collection; every gremlin then runs
	// the full suite.
	NoCoverage bool
	// NoPrioritize keeps covering tests in name order instead of most
	// targeted first.
	NoPrioritize bool
}

// ListArgs configures gremlin listing without execution.
type ListArgs struct {
	Path      string
	Operators []string
}

// Pool is the scheduling surface the engine drives.
type Pool interface {
	Start(ctx context.Context) error
	SubmitBatch(ctx context.Context, batch model.Batch) (*pool.BatchFuture, error)
	Shutdown(wait bool)
}

// PoolFactory builds the worker pool for one run.
type PoolFactory func(cfg model.PoolConfig) (Pool, error)

// Engine drives the full workflow: generate, instrument, select,
// schedule, aggregate.
type Engine interface {
	Run(ctx context.Context, args RunArgs) (model.Summary, error)
	List(ctx context.Context, args ListArgs) ([]model.Gremlin, error)
}

// EngineDeps carries the engine's collaborators.
type EngineDeps struct {
	FS        adapter.SourceFS
	GoSource  adapter.GoSource
	Coverage  adapter.CoverageSource
	TestCmd   *adapter.TestCommand
	Installer adapter.SwitchInstaller
	Probe     adapter.BuildProbe
	Registry  *operator.Registry
	// Cache may be nil to disable incremental caching.
	Cache   *cache.Cache
	UI      controller.UI
	NewPool PoolFactory
}

type engine struct {
	EngineDeps
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(deps EngineDeps) Engine {
	return &engine{EngineDeps: deps}
}

func (e *engine) Run(ctx context.Context, args RunArgs) (model.Summary, error) {
	runID := uuid.NewString()
	started := time.Now()

	root, err := e.FS.FindProjectRoot(model.Path(args.Path))
	if err != nil {
		return model.Summary{}, fmt.Errorf("failed to locate project root: %w", err)
	}
	slog.Info("Starting mutation run", "run_id", runID, "root", root)

	ops, err := e.Registry.Enabled(args.Operators...)
	if err != nil {
		return model.Summary{}, err
	}

	files, err := e.FS.ListGoFiles(root)
	if err != nil {
		return model.Summary{}, err
	}
	tests, err := e.GoSource.DiscoverTests(root)
	if err != nil {
		return model.Summary{}, err
	}
	slog.Info("Scanned project", "files", len(files), "tests", len(tests))

	tmp, err := e.FS.CreateTempDir("gremlins-run-*")
	if err != nil {
		return model.Summary{}, fmt.Errorf("failed to create instrumented tree dir: %w", err)
	}
	defer func() {
		if args.KeepTree {
			slog.Info("Keeping instrumented tree", "dir", tmp)
			return
		}
		if err := e.FS.RemoveAll(tmp); err != nil {
			slog.Error("Failed to clean up instrumented tree", "dir", tmp, "error", err)
		}
	}()

	if err := e.FS.CopyTree(root, tmp); err != nil {
		return model.Summary{}, fmt.Errorf("failed to copy project tree: %w", err)
	}
	switchImport, err := e.Installer.Install(tmp)
	if err != nil {
		return model.Summary{}, err
	}
	modulePath := path.Dir(switchImport)

	var cov *model.CoverageMap
	if args.NoCoverage {
		slog.Info("Coverage collection disabled, every gremlin runs the full suite")
		cov = model.NewCoverageMap()
	} else {
		cov, err = e.Coverage.Collect(ctx, root, modulePath, tests)
		if err != nil {
			return model.Summary{}, fmt.Errorf("failed to collect baseline coverage: %w", err)
		}
	}

	gen := NewGenerator(ops, switchImport)
	outcomes, err := e.generate(ctx, gen, root, tmp, files, args.Pool.MaxWorkers)
	if err != nil {
		return model.Summary{}, err
	}

	var gremlins []model.Gremlin
	for _, out := range outcomes {
		gremlins = append(gremlins, out.mutation.Gremlins...)
	}
	if len(gremlins) == 0 {
		slog.Info("No gremlins generated", "run_id", runID)
		summary := model.Summary{Score: 100.0, Elapsed: time.Since(started)}
		if err := e.UI.DisplaySummary(ctx, summary); err != nil {
			slog.Error("Failed to display summary", "error", err)
		}
		return summary, nil
	}

	agg := NewAggregator()
	agg.SetTotal(len(gremlins))

	excluded, err := e.quarantine(ctx, gen, root, tmp, outcomes, agg)
	if err != nil {
		return model.Summary{}, err
	}

	plans := e.plan(args, gremlins, outcomes, cov, tests, root, tmp, excluded)
	cachedHits := e.consultCache(ctx, agg, plans)

	if err := e.UI.Start(ctx, controller.WithRunMode()); err != nil {
		return model.Summary{}, fmt.Errorf("failed to start UI: %w", err)
	}
	defer e.UI.Close(ctx)
	e.UI.DisplayRunStart(ctx, len(gremlins), args.Pool.MaxWorkers, cachedHits)

	if err := e.execute(ctx, args, agg, plans); err != nil {
		return model.Summary{}, err
	}

	summary := agg.Summary(time.Since(started))
	slog.Info("Mutation run finished",
		"run_id", runID,
		"total", summary.Total,
		"zapped", summary.Zapped,
		"survived", summary.Survived,
		"timeout", summary.Timeout,
		"errors", summary.Errors,
		"cached", summary.Cached,
		"score", summary.Score)
	if err := e.UI.DisplaySummary(ctx, summary); err != nil {
		slog.Error("Failed to display summary", "error", err)
	}
	e.UI.Wait(ctx)
	return summary, nil
}

// List generates gremlins without building or running anything.
func (e *engine) List(ctx context.Context, args ListArgs) ([]model.Gremlin, error) {
	root, err := e.FS.FindProjectRoot(model.Path(args.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to locate project root: %w", err)
	}
	ops, err := e.Registry.Enabled(args.Operators...)
	if err != nil {
		return nil, err
	}
	files, err := e.FS.ListGoFiles(root)
	if err != nil {
		return nil, err
	}

	// The switch import is never materialized in list mode; any
	// placeholder renders.
	gen := NewGenerator(ops, "gremlinswitch")
	var gremlins []model.Gremlin
	for _, file := range files {
		src, err := e.FS.ReadFile(e.FS.JoinPath(string(root), string(file)))
		if err != nil {
			return nil, err
		}
		fm, err := gen.GenerateFile(ctx, file, src)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			slog.Warn("Skipping file that cannot be instrumented", "file", file, "error", err)
			continue
		}
		gremlins = append(gremlins, fm.Gremlins...)
	}

	if err := e.UI.Start(ctx, controller.WithListMode()); err != nil {
		return nil, fmt.Errorf("failed to start UI: %w", err)
	}
	defer e.UI.Close(ctx)
	if err := e.UI.DisplayGremlins(ctx, gremlins); err != nil {
		return nil, err
	}
	e.UI.Wait(ctx)
	return gremlins, nil
}

// fileOutcome is one file's generation result plus the source hash the
// cache keys on.
type fileOutcome struct {
	mutation FileMutation
	hash     string
}

// generate produces and writes the instrumented rendition of every
// file into the copied tree, in parallel.
func (e *engine) generate(ctx context.Context, gen Generator, root, tmp model.Path, files []model.Path, workers int) ([]fileOutcome, error) {
	if workers < 1 {
		workers = 1
	}
	outcomes := make([]fileOutcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, file := range files {
		g.Go(func() error {
			src, err := e.FS.ReadFile(e.FS.JoinPath(string(root), string(file)))
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", file, err)
			}
			fm, err := gen.GenerateFile(gctx, file, src)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				slog.Warn("Skipping file that cannot be instrumented", "file", file, "error", err)
				outcomes[i] = fileOutcome{mutation: FileMutation{Path: file}}
				return nil
			}
			if fm.Instrumented != nil {
				dst := e.FS.JoinPath(string(tmp), string(file))
				if err := e.FS.WriteFile(dst, fm.Instrumented, 0o600); err != nil {
					return fmt.Errorf("failed to write instrumented %s: %w", file, err)
				}
			}
			outcomes[i] = fileOutcome{mutation: fm, hash: cache.HashBytes(src)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// quarantine probes the instrumented build and expels gremlins whose
// variants break it, re-instrumenting their files without them. Every
// expelled gremlin is recorded as an Error result.
func (e *engine) quarantine(ctx context.Context, gen Generator, root, tmp model.Path, outcomes []fileOutcome, agg *Aggregator) (map[string]bool, error) {
	owner := make(map[string]*fileOutcome)
	for i := range outcomes {
		for _, g := range outcomes[i].mutation.Gremlins {
			owner[g.ID] = &outcomes[i]
		}
	}

	excluded := make(map[string]bool)
	for round := 0; round < maxProbeRounds; round++ {
		report, err := e.Probe.Probe(ctx, tmp)
		if err != nil {
			return nil, err
		}
		if report.OK {
			return excluded, nil
		}
		if len(report.Blamed) == 0 {
			return nil, fmt.Errorf("instrumented tree does not build and no gremlin could be blamed: %v", report.Unattributed)
		}

		dirty := make(map[model.Path]bool)
		for _, id := range report.Blamed {
			if excluded[id] {
				continue
			}
			excluded[id] = true
			out, ok := owner[id]
			if !ok {
				return nil, fmt.Errorf("build probe blamed unknown gremlin %s", id)
			}
			dirty[out.mutation.Path] = true
			slog.Warn("Excluding gremlin with non-compiling variant", "gremlin", id)
			agg.AddError(id, fmt.Errorf("variant does not compile"))
		}

		for file := range dirty {
			src, err := e.FS.ReadFile(e.FS.JoinPath(string(root), string(file)))
			if err != nil {
				return nil, fmt.Errorf("failed to re-read %s: %w", file, err)
			}
			instrumented, err := gen.Reinstrument(ctx, file, src, excluded)
			if err != nil {
				return nil, err
			}
			if instrumented == nil {
				instrumented = src
			}
			dst := e.FS.JoinPath(string(tmp), string(file))
			if err := e.FS.WriteFile(dst, instrumented, 0o600); err != nil {
				return nil, fmt.Errorf("failed to rewrite %s: %w", file, err)
			}
		}
	}

	report, err := e.Probe.Probe(ctx, tmp)
	if err != nil {
		return nil, err
	}
	if !report.OK {
		return nil, fmt.Errorf("instrumented tree still does not build after %d quarantine rounds", maxProbeRounds)
	}
	return excluded, nil
}
