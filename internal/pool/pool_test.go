package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikelane/gremlins/internal/model"
)

// fakeConn is an in-memory worker connection. A handler maps each sent
// request to zero or more responses; tests can also push responses by
// hand to control timing.
type fakeConn struct {
	handler func(req request) []response

	mu        sync.Mutex
	sent      []request
	killed    bool
	stopped   bool
	respCh    chan response
	closeOnce sync.Once
}

func newFakeConn(handler func(request) []response) *fakeConn {
	return &fakeConn{handler: handler, respCh: make(chan response, 8)}
}

func (c *fakeConn) Send(req request) error {
	c.mu.Lock()
	c.sent = append(c.sent, req)
	handler := c.handler
	c.mu.Unlock()

	if handler == nil {
		return nil
	}
	for _, resp := range handler(req) {
		c.respCh <- resp
	}
	return nil
}

func (c *fakeConn) Responses() <-chan response { return c.respCh }

func (c *fakeConn) Kill() {
	c.mu.Lock()
	c.killed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.respCh) })
}

func (c *fakeConn) Shutdown(time.Duration) {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.respCh) })
}

func (c *fakeConn) push(resp response) { c.respCh <- resp }

func (c *fakeConn) requests() []request {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]request(nil), c.sent...)
}

func (c *fakeConn) wasKilled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.killed
}

func (c *fakeConn) wasStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stopped
}

// fakeFactory hands out fakeConns and counts how many were started.
type fakeFactory struct {
	mu      sync.Mutex
	conns   []*fakeConn
	handler func(request) []response
}

func newFakeFactory(handler func(request) []response) *fakeFactory {
	return &fakeFactory{handler: handler}
}

func (f *fakeFactory) starter() starter {
	return func(ctx context.Context) (procConn, error) {
		conn := newFakeConn(f.handler)
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()
		return conn, nil
	}
}

func (f *fakeFactory) started() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.conns)
}

func (f *fakeFactory) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.conns[i]
}

// survivingHandler answers pings and reports every batch item survived.
func survivingHandler(req request) []response {
	switch req.Type {
	case msgPing:
		return []response{{Type: msgPong, Seq: req.Seq}}
	case msgBatch:
		results := make([]model.WorkerResult, 0, len(req.Batch.Items))
		for _, item := range req.Batch.Items {
			results = append(results, model.WorkerResult{
				GremlinID: item.GremlinID,
				Status:    model.StatusSurvived,
			})
		}
		return []response{{Type: msgBatchResult, Seq: req.Seq, Results: results}}
	}
	return nil
}

// pingOnlyHandler warms up but never answers batches.
func pingOnlyHandler(req request) []response {
	if req.Type == msgPing {
		return []response{{Type: msgPong, Seq: req.Seq}}
	}
	return nil
}

func testConfig(workers int) model.PoolConfig {
	cfg := model.DefaultPoolConfig()
	cfg.MaxWorkers = workers
	cfg.Timeout = 2 * time.Second
	return cfg
}

func batchOf(ids ...string) model.Batch {
	b := make(model.Batch, len(ids))
	for i, id := range ids {
		b[i] = model.WorkItem{
			GremlinID: id,
			Tests:     []model.TestInvocation{{Test: "TestOne", Argv: []string{"true"}}},
		}
	}
	return b
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(0)

	_, err := New(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max workers")
}

func TestSubmitBeforeStartFails(t *testing.T) {
	p, err := New(testConfig(1), WithStarter(newFakeFactory(survivingHandler).starter()))
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), model.WorkItem{GremlinID: "a.go:g001"})

	require.ErrorIs(t, err, ErrNotRunning)
}

func TestStartWarmsEveryWorker(t *testing.T) {
	factory := newFakeFactory(survivingHandler)
	p, err := New(testConfig(3), WithStarter(factory.starter()))
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	defer p.Shutdown(false)

	assert.Equal(t, 3, factory.started())
	assert.Equal(t, 3, p.WarmupCount())
	assert.True(t, p.Warmed())
	assert.True(t, p.Running())
}

func TestStartTwiceFails(t *testing.T) {
	p, err := New(testConfig(1), WithStarter(newFakeFactory(survivingHandler).starter()))
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	defer p.Shutdown(false)

	require.Error(t, p.Start(context.Background()))
}

func TestWarmupFailureAbortsStart(t *testing.T) {
	broken := func(req request) []response {
		if req.Type == msgPing {
			return []response{{Type: msgError, Seq: req.Seq, Error: "boom"}}
		}
		return nil
	}
	factory := newFakeFactory(broken)
	p, err := New(testConfig(2), WithStarter(factory.starter()))
	require.NoError(t, err)

	err = p.Start(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "warm")
	assert.False(t, p.Running())
	_, err = p.SubmitBatch(context.Background(), batchOf("a.go:g001"))
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestSubmitBatchRoundTrip(t *testing.T) {
	factory := newFakeFactory(survivingHandler)
	p, err := New(testConfig(1), WithStarter(factory.starter()))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Shutdown(false)

	f, err := p.SubmitBatch(context.Background(), batchOf("a.go:g001", "a.go:g002"))
	require.NoError(t, err)

	results, err := f.Wait(context.Background())

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.go:g001", results[0].GremlinID)
	assert.Equal(t, "a.go:g002", results[1].GremlinID)
	assert.Equal(t, []string{"a.go:g001", "a.go:g002"}, f.GremlinIDs())
}

func TestSubmitSingleItem(t *testing.T) {
	factory := newFakeFactory(survivingHandler)
	p, err := New(testConfig(1), WithStarter(factory.starter()))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Shutdown(false)

	f, err := p.Submit(context.Background(), batchOf("pkg/b.go:g007")[0])
	require.NoError(t, err)

	res, err := f.Wait(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "pkg/b.go:g007", res.GremlinID)
	assert.Equal(t, model.StatusSurvived, res.Status)
}

func TestStaleResponsesAreSkipped(t *testing.T) {
	stale := func(req request) []response {
		if req.Type == msgPing {
			return []response{{Type: msgPong, Seq: req.Seq}}
		}
		if req.Type == msgBatch {
			return []response{
				{Type: msgBatchResult, Seq: req.Seq + 100, Results: nil},
				{Type: msgBatchResult, Seq: req.Seq, Results: []model.WorkerResult{
					{GremlinID: req.Batch.Items[0].GremlinID, Status: model.StatusZapped, KillingTest: "TestOne"},
				}},
			}
		}
		return nil
	}
	p, err := New(testConfig(1), WithStarter(newFakeFactory(stale).starter()))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Shutdown(false)

	f, err := p.SubmitBatch(context.Background(), batchOf("a.go:g001"))
	require.NoError(t, err)

	results, err := f.Wait(context.Background())

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.StatusZapped, results[0].Status)
}

func TestWorkerDeathFailsFutureAndRespawns(t *testing.T) {
	factory := newFakeFactory(nil)
	var dieOnce sync.Once
	factory.handler = func(req request) []response {
		if req.Type == msgPing {
			return []response{{Type: msgPong, Seq: req.Seq}}
		}
		died := false
		dieOnce.Do(func() {
			died = true
			factory.conn(0).Kill()
		})
		if died {
			return nil
		}
		return survivingHandler(req)
	}
	p, err := New(testConfig(1), WithStarter(factory.starter()))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Shutdown(false)

	f, err := p.SubmitBatch(context.Background(), batchOf("a.go:g001"))
	require.NoError(t, err)
	_, err = f.Wait(context.Background())
	require.Error(t, err)

	// A replacement worker serves the next batch.
	f2, err := p.SubmitBatch(context.Background(), batchOf("a.go:g002"))
	require.NoError(t, err)
	results, err := f2.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.GreaterOrEqual(t, factory.started(), 2)
}

func TestGracefulShutdownWaitsForInflight(t *testing.T) {
	factory := newFakeFactory(pingOnlyHandler)
	p, err := New(testConfig(1), WithStarter(factory.starter()))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	f, err := p.SubmitBatch(context.Background(), batchOf("a.go:g001"))
	require.NoError(t, err)

	conn := factory.conn(0)
	var batchReq request
	require.Eventually(t, func() bool {
		for _, r := range conn.requests() {
			if r.Type == msgBatch {
				batchReq = r
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		conn.push(response{Type: msgBatchResult, Seq: batchReq.Seq, Results: []model.WorkerResult{
			{GremlinID: "a.go:g001", Status: model.StatusSurvived},
		}})
	}()

	p.Shutdown(true)

	select {
	case <-f.Done():
	default:
		t.Fatal("future not resolved after graceful shutdown")
	}
	results, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.True(t, conn.wasStopped())
}

func TestAbortShutdownFailsQueuedWork(t *testing.T) {
	factory := newFakeFactory(pingOnlyHandler)
	p, err := New(testConfig(1), WithStarter(factory.starter()))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	// First batch occupies the only worker, second sits in the queue.
	f1, err := p.SubmitBatch(context.Background(), batchOf("a.go:g001"))
	require.NoError(t, err)
	f2, err := p.SubmitBatch(context.Background(), batchOf("a.go:g002"))
	require.NoError(t, err)

	p.Shutdown(false)

	_, err1 := f1.Wait(context.Background())
	require.Error(t, err1)
	_, err2 := f2.Wait(context.Background())
	require.Error(t, err2)
	if !errors.Is(err1, ErrShutdown) && !errors.Is(err2, ErrShutdown) {
		t.Fatalf("expected one future to fail with ErrShutdown, got %v and %v", err1, err2)
	}

	_, err = p.SubmitBatch(context.Background(), batchOf("a.go:g003"))
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestShutdownIsIdempotent(t *testing.T) {
	p, err := New(testConfig(1), WithStarter(newFakeFactory(survivingHandler).starter()))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	p.Shutdown(true)
	p.Shutdown(true)
	p.Shutdown(false)

	assert.False(t, p.Running())
}

func TestSpawnMethodStartsWorkerPerBatch(t *testing.T) {
	factory := newFakeFactory(survivingHandler)
	cfg := testConfig(1)
	cfg.StartMethod = model.StartSpawn
	cfg.Warmup = false
	p, err := New(cfg, WithStarter(factory.starter()))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Shutdown(false)

	for _, id := range []string{"a.go:g001", "a.go:g002"} {
		f, err := p.SubmitBatch(context.Background(), batchOf(id))
		require.NoError(t, err)
		_, err = f.Wait(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, 2, factory.started())
	assert.True(t, factory.conn(0).wasStopped())
	assert.True(t, factory.conn(1).wasStopped())
}

func TestSubmitEmptyBatchFails(t *testing.T) {
	p, err := New(testConfig(1), WithStarter(newFakeFactory(survivingHandler).starter()))
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	defer p.Shutdown(false)

	_, err = p.SubmitBatch(context.Background(), model.Batch{})

	require.Error(t, err)
}
