package model

import (
	"fmt"
	"time"
)

// StartMethod selects how the pool obtains worker processes.
type StartMethod string

const (
	// StartPersistent keeps warm worker processes alive across dispatches.
	StartPersistent StartMethod = "persistent"
	// StartSpawn starts a fresh worker process per dispatch. Slower but
	// immune to state carried over between batches.
	StartSpawn StartMethod = "spawn"
)

// PoolConfig configures the worker pool. Invalid configuration is rejected
// when the pool is constructed, never later.
type PoolConfig struct {
	MaxWorkers  int
	Timeout     time.Duration // per-gremlin test deadline
	StartMethod StartMethod
	Warmup      bool
	BatchSize   int
}

// DefaultPoolConfig returns the configuration used when nothing is set.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxWorkers:  4,
		Timeout:     60 * time.Second,
		StartMethod: StartPersistent,
		Warmup:      true,
		BatchSize:   5,
	}
}

func (c PoolConfig) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("pool config: max workers must be at least 1, got %d", c.MaxWorkers)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("pool config: timeout must be positive, got %s", c.Timeout)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("pool config: batch size must be at least 1, got %d", c.BatchSize)
	}
	switch c.StartMethod {
	case StartPersistent, StartSpawn:
		return nil
	default:
		return fmt.Errorf("pool config: unknown start method %q (valid: %s, %s)",
			c.StartMethod, StartPersistent, StartSpawn)
	}
}

// TestInvocation is one opaque test-runner command. Test is the test name
// the command targets, empty for a whole-suite run; the engine never
// interprets anything about Argv beyond the exit status of running it.
type TestInvocation struct {
	Test string   `json:"test,omitempty"`
	Argv []string `json:"argv"`
}

// WorkItem is the unit of work dispatched to a worker: one gremlin, the
// directory of the instrumented tree to run in, the environment overlay
// that activates the gremlin, and the ordered test invocations to try.
type WorkItem struct {
	GremlinID string            `json:"gremlin"`
	Dir       string            `json:"dir"`
	Env       map[string]string `json:"env,omitempty"`
	Tests     []TestInvocation  `json:"tests"`
}

// Batch is an ordered sequence of work items assigned to one worker
// dispatch. Workers execute it sequentially and stop early at the first
// non-survived outcome.
type Batch []WorkItem

// GremlinIDs returns the ids in dispatch order.
func (b Batch) GremlinIDs() []string {
	ids := make([]string, len(b))
	for i, item := range b {
		ids[i] = item.GremlinID
	}
	return ids
}
