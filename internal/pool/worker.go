package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/mikelane/gremlins/internal/model"
)

// RunWorker is the child-process side of the protocol. It serves
// requests from in until the stream ends or a shutdown request arrives.
// The worker handles one request at a time; batch items run
// sequentially within it.
func RunWorker(ctx context.Context, in io.Reader, out io.Writer) error {
	dec := json.NewDecoder(in)
	enc := json.NewEncoder(out)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("failed to decode request: %w", err)
		}

		var resp response
		switch req.Type {
		case msgPing:
			resp = response{Type: msgPong, Seq: req.Seq}
		case msgShutdown:
			return nil
		case msgBatch:
			resp = runBatch(ctx, req)
		default:
			resp = response{Type: msgError, Seq: req.Seq, Error: fmt.Sprintf("unknown request type %q", req.Type)}
		}

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
	}
}

// runBatch executes the items in order and stops at the first gremlin
// that does not survive. Items after the stopping point get no result
// at all; the response carries only what actually ran.
func runBatch(ctx context.Context, req request) response {
	if req.Batch == nil {
		return response{Type: msgError, Seq: req.Seq, Error: "batch request carries no payload"}
	}

	timeout := time.Duration(req.Batch.TimeoutMS) * time.Millisecond
	results := make([]model.WorkerResult, 0, len(req.Batch.Items))
	for i, item := range req.Batch.Items {
		res := runItem(ctx, item, timeout)
		results = append(results, res)
		if res.Status != model.StatusSurvived {
			if skipped := len(req.Batch.Items) - i - 1; skipped > 0 {
				slog.Debug("Terminating batch early",
					"gremlin", res.GremlinID,
					"status", res.Status.String(),
					"skipped", skipped)
			}
			break
		}
	}
	return response{Type: msgBatchResult, Seq: req.Seq, Results: results}
}

// runItem activates one gremlin and runs its test invocations in order,
// stopping at the first failing one. The timeout covers all of the
// item's invocations together.
func runItem(ctx context.Context, item model.WorkItem, timeout time.Duration) model.WorkerResult {
	start := time.Now()
	status, killing := runInvocations(ctx, item, timeout)
	return model.WorkerResult{
		GremlinID:   item.GremlinID,
		Status:      status,
		KillingTest: killing,
		Duration:    time.Since(start),
	}
}

func runInvocations(ctx context.Context, item model.WorkItem, timeout time.Duration) (model.Status, string) {
	if len(item.Tests) == 0 {
		slog.Error("Work item has no test invocations", "gremlin", item.GremlinID)
		return model.StatusError, ""
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, inv := range item.Tests {
		if ctx.Err() != nil {
			return model.StatusTimeout, ""
		}

		err := runInvocation(ctx, item, inv)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return model.StatusTimeout, ""
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return model.StatusZapped, inv.Test
		}

		slog.Error("Failed to run test invocation",
			"gremlin", item.GremlinID, "test", inv.Test, "error", err)
		return model.StatusError, ""
	}
	return model.StatusSurvived, ""
}

func runInvocation(ctx context.Context, item model.WorkItem, inv model.TestInvocation) error {
	if len(inv.Argv) == 0 {
		return fmt.Errorf("invocation for test %q has no command", inv.Test)
	}

	cmd := exec.CommandContext(ctx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = item.Dir
	cmd.Env = os.Environ()
	for k, v := range item.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	return cmd.Run()
}
