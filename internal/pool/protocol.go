// Package pool runs gremlin test batches on a fixed set of worker OS
// processes. Workers are children of this binary speaking line-delimited
// JSON on stdin/stdout; a batch is executed sequentially inside one
// worker and stops early at the first detected gremlin.
package pool

import (
	"github.com/mikelane/gremlins/internal/model"
)

const (
	msgPing        = "ping"
	msgPong        = "pong"
	msgBatch       = "batch"
	msgBatchResult = "batch_result"
	msgShutdown    = "shutdown"
	msgError       = "error"
)

// request travels parent -> worker.
type request struct {
	Type  string        `json:"type"`
	Seq   uint64        `json:"seq"`
	Batch *batchPayload `json:"batch,omitempty"`
}

type batchPayload struct {
	TimeoutMS int64       `json:"timeout_ms"` // per-item deadline
	Items     model.Batch `json:"items"`
}

// response travels worker -> parent. A batch_result carries results only
// for the items the worker actually tested; early termination truncates
// the list.
type response struct {
	Type    string               `json:"type"`
	Seq     uint64               `json:"seq"`
	Results []model.WorkerResult `json:"results,omitempty"`
	Error   string               `json:"error,omitempty"`
}
