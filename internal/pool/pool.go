package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mikelane/gremlins/internal/model"
)

var (
	// ErrNotRunning is returned by Submit and SubmitBatch when the pool
	// has not been started or has already been shut down.
	ErrNotRunning = errors.New("worker pool is not running")

	// ErrShutdown resolves futures whose work was abandoned because the
	// pool stopped before a worker picked it up.
	ErrShutdown = errors.New("worker pool was shut down")

	// ErrNoResult is returned when a worker finished a batch without
	// reporting anything for an item, which happens when an earlier
	// failure terminated the batch early.
	ErrNoResult = errors.New("no result reported for work item")
)

const (
	warmupTimeout = 10 * time.Second
	dispatchGrace = 15 * time.Second
	shutdownGrace = 5 * time.Second
)

// Option configures a Pool.
type Option func(*Pool)

// WithCommand sets the argv used to launch worker processes.
func WithCommand(argv []string) Option {
	return func(p *Pool) {
		p.start = execStarter(argv)
	}
}

// WithStarter overrides process creation entirely.
func WithStarter(s starter) Option {
	return func(p *Pool) {
		p.start = s
	}
}

type job struct {
	batch  model.Batch
	future *BatchFuture
}

// Pool runs batches of work items on a fixed set of worker processes.
// Each worker handles one batch at a time; results come back through
// futures.
type Pool struct {
	cfg   model.PoolConfig
	start starter

	jobs     chan job
	mu       sync.RWMutex
	running  bool
	stopped  bool
	done     <-chan struct{}
	cancel   context.CancelFunc
	procs    []procConn
	workers  sync.WaitGroup
	inflight sync.WaitGroup
	warmed   atomic.Int32
	seq      atomic.Uint64
}

// New validates cfg and builds a pool. The pool does nothing until
// Start is called.
func New(cfg model.PoolConfig, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool configuration: %w", err)
	}

	p := &Pool{
		cfg:  cfg,
		jobs: make(chan job, cfg.MaxWorkers),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start launches the worker processes and their dispatchers. With the
// persistent start method every worker is spawned up front and,
// when warmup is enabled, answers a ping before Start returns.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("worker pool already started")
	}
	if p.stopped {
		p.mu.Unlock()
		return ErrShutdown
	}
	if p.start == nil {
		p.mu.Unlock()
		return fmt.Errorf("no worker command configured")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = ctx.Done()
	p.running = true
	p.mu.Unlock()

	if p.cfg.StartMethod == model.StartPersistent {
		if err := p.startPersistent(ctx); err != nil {
			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
			cancel()
			return err
		}
	} else {
		for i := 0; i < p.cfg.MaxWorkers; i++ {
			p.workers.Add(1)
			go p.dispatchSpawn(ctx, i)
		}
	}

	slog.Info("Worker pool started",
		"workers", p.cfg.MaxWorkers,
		"start_method", string(p.cfg.StartMethod),
		"warmed", p.WarmupCount())
	return nil
}

func (p *Pool) startPersistent(ctx context.Context) error {
	conns := make([]procConn, p.cfg.MaxWorkers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range conns {
		g.Go(func() error {
			conn, err := p.start(ctx)
			if err != nil {
				return fmt.Errorf("failed to start worker %d: %w", i, err)
			}
			conns[i] = conn
			if p.cfg.Warmup {
				if err := warmConn(gctx, conn); err != nil {
					return fmt.Errorf("failed to warm worker %d: %w", i, err)
				}
				p.warmed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, conn := range conns {
			if conn != nil {
				conn.Kill()
			}
		}
		return err
	}

	p.mu.Lock()
	p.procs = conns
	p.mu.Unlock()

	for i, conn := range conns {
		p.workers.Add(1)
		go p.dispatchPersistent(ctx, i, conn)
	}
	return nil
}

// warmConn sends a ping and waits for the matching pong.
func warmConn(ctx context.Context, conn procConn) error {
	if err := conn.Send(request{Type: msgPing}); err != nil {
		return err
	}
	select {
	case resp, ok := <-conn.Responses():
		if !ok {
			return fmt.Errorf("worker exited during warmup")
		}
		if resp.Type != msgPong {
			return fmt.Errorf("unexpected warmup response %q", resp.Type)
		}
		return nil
	case <-time.After(warmupTimeout):
		return fmt.Errorf("worker did not answer warmup ping within %s", warmupTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WarmupCount reports how many workers answered the warmup ping.
func (p *Pool) WarmupCount() int {
	return int(p.warmed.Load())
}

// Warmed reports whether every worker answered its warmup ping.
func (p *Pool) Warmed() bool {
	return p.WarmupCount() == p.cfg.MaxWorkers
}

// Running reports whether the pool accepts work.
func (p *Pool) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.running && !p.stopped
}

// Submit queues a single work item.
func (p *Pool) Submit(ctx context.Context, item model.WorkItem) (*Future, error) {
	bf, err := p.SubmitBatch(ctx, model.Batch{item})
	if err != nil {
		return nil, err
	}
	return &Future{batch: bf}, nil
}

// SubmitBatch queues a batch for the next free worker. It blocks while
// all workers are busy and the queue is full.
func (p *Pool) SubmitBatch(ctx context.Context, batch model.Batch) (*BatchFuture, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("cannot submit an empty batch")
	}
	p.mu.RLock()
	running, stopped, done := p.running, p.stopped, p.done
	p.mu.RUnlock()
	if !running || stopped {
		return nil, ErrNotRunning
	}

	f := newBatchFuture(batch.GremlinIDs())
	p.inflight.Add(1)
	select {
	case p.jobs <- job{batch: batch, future: f}:
		return f, nil
	case <-ctx.Done():
		p.inflight.Done()
		return nil, ctx.Err()
	case <-done:
		p.inflight.Done()
		return nil, ErrShutdown
	}
}

// Shutdown stops the pool. With wait true it first lets queued and
// running batches finish and asks workers to exit cleanly; with wait
// false it abandons queued work and kills the workers. Shutdown is
// idempotent and Submit returns ErrNotRunning afterwards.
func (p *Pool) Shutdown(wait bool) {
	p.mu.Lock()
	if !p.running || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	if wait {
		p.inflight.Wait()
	}
	p.cancel()
	p.failQueued()
	p.workers.Wait()

	p.mu.Lock()
	procs := p.procs
	p.procs = nil
	p.running = false
	p.mu.Unlock()

	for _, conn := range procs {
		if wait {
			conn.Shutdown(shutdownGrace)
		} else {
			conn.Kill()
		}
	}
	slog.Debug("Worker pool stopped", "graceful", wait)
}

// failQueued resolves jobs no dispatcher will ever pick up.
func (p *Pool) failQueued() {
	for {
		select {
		case j := <-p.jobs:
			p.finish(j, nil, ErrShutdown)
		default:
			return
		}
	}
}

func (p *Pool) finish(j job, results []model.WorkerResult, err error) {
	j.future.resolve(results, err)
	p.inflight.Done()
}

// dispatchPersistent feeds one long-lived worker. A failed round trip
// kills the worker and spawns a replacement for the next batch.
func (p *Pool) dispatchPersistent(ctx context.Context, id int, conn procConn) {
	defer p.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			results, err := p.roundTrip(ctx, conn, j)
			if err == nil {
				p.finish(j, results, nil)
				continue
			}
			p.finish(j, nil, err)
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Worker failed, respawning", "worker", id, "error", err)
			conn.Kill()
			fresh, serr := p.start(ctx)
			if serr != nil {
				slog.Error("Failed to respawn worker", "worker", id, "error", serr)
				return
			}
			p.replaceProc(conn, fresh)
			conn = fresh
		}
	}
}

// dispatchSpawn starts a fresh worker process per batch.
func (p *Pool) dispatchSpawn(ctx context.Context, id int) {
	defer p.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			conn, err := p.start(ctx)
			if err != nil {
				p.finish(j, nil, fmt.Errorf("failed to start worker %d: %w", id, err))
				continue
			}
			results, rerr := p.roundTrip(ctx, conn, j)
			if rerr != nil {
				conn.Kill()
			} else {
				conn.Shutdown(shutdownGrace)
			}
			p.finish(j, results, rerr)
		}
	}
}

// roundTrip sends one batch and waits for its result. The budget scales
// with the batch size so a wedged worker cannot stall the dispatcher
// forever.
func (p *Pool) roundTrip(ctx context.Context, conn procConn, j job) ([]model.WorkerResult, error) {
	req := request{
		Type: msgBatch,
		Seq:  p.seq.Add(1),
		Batch: &batchPayload{
			TimeoutMS: p.cfg.Timeout.Milliseconds(),
			Items:     j.batch,
		},
	}
	if err := conn.Send(req); err != nil {
		return nil, err
	}

	budget := time.Duration(len(j.batch))*p.cfg.Timeout + dispatchGrace
	timer := time.NewTimer(budget)
	defer timer.Stop()

	for {
		select {
		case resp, ok := <-conn.Responses():
			if !ok {
				return nil, fmt.Errorf("worker exited mid-batch")
			}
			if resp.Seq != req.Seq {
				slog.Warn("Dropping stale worker response", "want", req.Seq, "got", resp.Seq)
				continue
			}
			if resp.Type == msgError {
				return nil, fmt.Errorf("worker reported error: %s", resp.Error)
			}
			return resp.Results, nil
		case <-timer.C:
			return nil, fmt.Errorf("worker did not finish batch of %d within %s", len(j.batch), budget)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) replaceProc(old, fresh procConn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, conn := range p.procs {
		if conn == old {
			p.procs[i] = fresh
			return
		}
	}
}
