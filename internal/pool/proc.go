package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// procConn is one live worker process. The pool keeps exactly one request
// in flight per connection; responses arrive on Responses in order and
// the channel closes when the worker's stream ends.
type procConn interface {
	Send(req request) error
	Responses() <-chan response
	// Kill stops the process immediately.
	Kill()
	// Shutdown asks the process to exit and reaps it, killing after the
	// grace period.
	Shutdown(grace time.Duration)
}

// starter abstracts process creation so tests can supply in-memory
// workers.
type starter func(ctx context.Context) (procConn, error)

// execStarter launches argv as a child process wired for the protocol.
func execStarter(argv []string) starter {
	return func(ctx context.Context) (procConn, error) {
		if len(argv) == 0 {
			return nil, fmt.Errorf("worker command is empty")
		}

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to open worker stdin: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to open worker stdout: %w", err)
		}
		stderr := newTailBuffer(32 * 1024)
		cmd.Stderr = stderr

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start worker %v: %w", argv, err)
		}
		slog.Debug("Started worker process", "pid", cmd.Process.Pid)

		conn := &execConn{
			cmd:      cmd,
			stdin:    stdin,
			enc:      json.NewEncoder(stdin),
			respCh:   make(chan response, 4),
			readDone: make(chan struct{}),
			quit:     make(chan struct{}),
			stderr:   stderr,
		}
		go conn.readLoop(stdout)
		return conn, nil
	}
}

type execConn struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	enc      *json.Encoder
	respCh   chan response
	readDone chan struct{}
	quit     chan struct{}
	stderr   *tailBuffer

	quitOnce sync.Once
	reapOnce sync.Once
}

func (c *execConn) Send(req request) error {
	if err := c.enc.Encode(req); err != nil {
		return fmt.Errorf("failed to send %s to worker: %w", req.Type, err)
	}
	return nil
}

func (c *execConn) Responses() <-chan response {
	return c.respCh
}

// readLoop decodes worker responses until the stream ends. Closing respCh
// is the liveness signal the dispatcher watches.
func (c *execConn) readLoop(stdout io.Reader) {
	defer func() {
		close(c.respCh)
		close(c.readDone)
	}()

	dec := json.NewDecoder(stdout)
	for {
		var resp response
		if err := dec.Decode(&resp); err != nil {
			if err != io.EOF {
				slog.Debug("Worker stream ended", "pid", c.pid(), "error", err)
			}
			return
		}
		select {
		case c.respCh <- resp:
		case <-c.quit:
			return
		}
	}
}

func (c *execConn) Kill() {
	c.quitOnce.Do(func() { close(c.quit) })
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	c.reap()
}

func (c *execConn) Shutdown(grace time.Duration) {
	_ = c.Send(request{Type: msgShutdown})
	_ = c.stdin.Close()

	done := make(chan struct{})
	go func() {
		c.reap()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("Worker ignored shutdown, killing", "pid", c.pid())
		c.quitOnce.Do(func() { close(c.quit) })
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		<-done
	}
}

// reap waits for the reader to drain, then collects the exit status.
// Wait must not run concurrently with pipe reads.
func (c *execConn) reap() {
	c.reapOnce.Do(func() {
		<-c.readDone
		if err := c.cmd.Wait(); err != nil {
			if tail := c.stderr.String(); tail != "" {
				slog.Debug("Worker exited with error", "pid", c.pid(), "error", err, "stderr", tail)
			}
		}
	})
}

func (c *execConn) pid() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// tailBuffer keeps the last max bytes written, for crash diagnostics.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return string(t.buf)
}
