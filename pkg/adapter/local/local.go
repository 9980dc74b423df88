// Package local implements Backend A: local process
// execution. Each task launches a short-lived sandboxed worker process
// via os/exec, with a rolling trailing-window output buffer, soft-then-hard
// termination on timeout, and SIGSTOP/SIGCONT for pause/resume.
//
// Grounded on pkg/queue/worker.go's per-task goroutine lifecycle (claim,
// execute, heartbeat, terminal-status synthesis on nil/timeout/cancel) and
// pkg/queue/pool.go's task-to-handle tracking map.
package local

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/tarsybroker/broker/pkg/adapter"
	"github.com/tarsybroker/broker/pkg/task"
)

// ringBufferBytes is the trailing-window bound for aggregated stdout and
// stderr.
const ringBufferBytes = 50 * 1024

// Config controls the sandboxed worker process and its lifecycle.
type Config struct {
	// Command is the executable launched for each task; the prompt is
	// appended as its final argument.
	Command []string
	// WorkDir is the root under which each task gets its own
	// subdirectory, mounted as the worker's working directory.
	WorkDir string
	// GracePeriod is how long a soft-terminated worker is given before
	// being hard-killed.
	GracePeriod time.Duration
}

// DefaultConfig returns the built-in local-backend defaults.
func DefaultConfig() Config {
	return Config{
		Command:     []string{"/bin/sh", "-c", "cat"},
		WorkDir:     "/tmp/broker-workspaces",
		GracePeriod: 5 * time.Second,
	}
}

type workerHandle struct {
	cmd     *exec.Cmd
	paused  bool
	abortCh chan struct{}
	once    sync.Once
}

// Adapter is Backend A.
type Adapter struct {
	cfg Config

	mu      sync.Mutex
	workers map[string]*workerHandle
}

var _ adapter.Adapter = (*Adapter)(nil)

// New constructs a local-process Adapter.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, workers: make(map[string]*workerHandle)}
}

// ringBuffer retains only the last N bytes written to it, giving a bounded
// trailing window over aggregated output without unbounded memory growth.
type ringBuffer struct {
	mu    sync.Mutex
	limit int
	buf   bytes.Buffer
}

func newRingBuffer(limit int) *ringBuffer {
	return &ringBuffer{limit: limit}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf.Write(p)
	if r.buf.Len() > r.limit {
		trimmed := r.buf.Bytes()[r.buf.Len()-r.limit:]
		r.buf.Reset()
		r.buf.Write(trimmed)
	}
	return len(p), nil
}

func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

// Execute launches the sandboxed worker process and blocks until it exits,
// the context is cancelled, or req.TimeoutMS elapses — emitting only the
// lifecycle events start/complete/error/timeout to onEvent; raw
// stdout/stderr chunks are never surfaced as distinct events.
func (a *Adapter) Execute(ctx context.Context, req task.ExecutionRequest, onEvent adapter.OnEvent) (task.ExecutionResult, error) {
	started := time.Now()

	args := append([]string(nil), a.cfg.Command[1:]...)
	args = append(args, req.Prompt)
	cmd := exec.CommandContext(ctx, a.cfg.Command[0], args...)
	cmd.Dir = taskWorkDir(a.cfg.WorkDir, req.TaskID)

	stdout := newRingBuffer(ringBufferBytes)
	stderr := newRingBuffer(ringBufferBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	handle := &workerHandle{cmd: cmd, abortCh: make(chan struct{})}
	a.mu.Lock()
	a.workers[req.TaskID] = handle
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.workers, req.TaskID)
		a.mu.Unlock()
	}()

	if err := cmd.Start(); err != nil {
		onEvent(task.Event{Timestamp: time.Now(), Type: task.EventError, RawType: "start_failed"})
		return errorResult(started, err), nil
	}
	onEvent(task.Event{Timestamp: time.Now(), Type: task.EventStart, RawType: "process.start"})

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var timeoutC <-chan time.Time
	if req.TimeoutMS > 0 {
		timer := time.NewTimer(time.Duration(req.TimeoutMS) * time.Millisecond)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case err := <-waitCh:
		return a.finish(started, err, stdout, stderr, onEvent), nil
	case <-handle.abortCh:
		a.terminate(handle)
		<-waitCh
		onEvent(task.Event{Timestamp: time.Now(), Type: task.EventAbort, RawType: "process.abort"})
		return task.ExecutionResult{
			Status:      task.ExecError,
			Output:      stdout.String(),
			Err:         fmt.Errorf("task aborted"),
			StartedAt:   started,
			CompletedAt: time.Now(),
			Duration:    time.Since(started),
		}, nil
	case <-timeoutC:
		a.terminate(handle)
		<-waitCh
		onEvent(task.Event{Timestamp: time.Now(), Type: task.EventError, RawType: "timeout"})
		return task.ExecutionResult{
			Status:      task.ExecTimeout,
			Output:      stdout.String(),
			StartedAt:   started,
			CompletedAt: time.Now(),
			Duration:    time.Since(started),
		}, nil
	}
}

func (a *Adapter) finish(started time.Time, err error, stdout, stderr *ringBuffer, onEvent adapter.OnEvent) task.ExecutionResult {
	completed := time.Now()
	if err != nil {
		onEvent(task.Event{Timestamp: completed, Type: task.EventError, RawType: "process.exit_error"})
		return task.ExecutionResult{
			Status:      task.ExecError,
			Output:      stdout.String(),
			Err:         fmt.Errorf("%s: %w", stderr.String(), err),
			StartedAt:   started,
			CompletedAt: completed,
			Duration:    completed.Sub(started),
		}
	}
	onEvent(task.Event{Timestamp: completed, Type: task.EventComplete, RawType: "process.exit"})
	zero := 0
	return task.ExecutionResult{
		Status:      task.ExecSuccess,
		ExitCode:    &zero,
		Output:      stdout.String(),
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
	}
}

func errorResult(started time.Time, err error) task.ExecutionResult {
	return task.ExecutionResult{
		Status:      task.ExecError,
		Err:         err,
		StartedAt:   started,
		CompletedAt: time.Now(),
		Duration:    time.Since(started),
	}
}

// terminate soft-terminates the worker, escalating to a hard kill after
// the configured grace period.
func (a *Adapter) terminate(h *workerHandle) {
	if h.cmd.Process == nil {
		return
	}
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		slog.Warn("local adapter: soft-terminate failed, escalating", "error", err)
		_ = h.cmd.Process.Kill()
		return
	}
	grace := a.cfg.GracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	go func() {
		time.Sleep(grace)
		_ = h.cmd.Process.Kill()
	}()
}

// Abort signals the running worker for taskID to stop early.
func (a *Adapter) Abort(taskID string) bool {
	a.mu.Lock()
	h, ok := a.workers[taskID]
	a.mu.Unlock()
	if !ok {
		return false
	}
	h.once.Do(func() { close(h.abortCh) })
	return true
}

// Pause sends SIGSTOP to the worker process.
func (a *Adapter) Pause(taskID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.workers[taskID]
	if !ok || h.cmd.Process == nil || h.paused {
		return false
	}
	if err := h.cmd.Process.Signal(syscall.SIGSTOP); err != nil {
		slog.Warn("local adapter: pause failed", "task_id", taskID, "error", err)
		return false
	}
	h.paused = true
	return true
}

// Resume sends SIGCONT to a previously paused worker process.
func (a *Adapter) Resume(taskID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.workers[taskID]
	if !ok || h.cmd.Process == nil || !h.paused {
		return false
	}
	if err := h.cmd.Process.Signal(syscall.SIGCONT); err != nil {
		slog.Warn("local adapter: resume failed", "task_id", taskID, "error", err)
		return false
	}
	h.paused = false
	return true
}

// ListFiles is unsupported on Backend A.
func (a *Adapter) ListFiles(string) ([]string, error) {
	return nil, adapter.ErrUnsupported
}

// ReadFile is unsupported on Backend A.
func (a *Adapter) ReadFile(string, string) (string, error) {
	return "", adapter.ErrUnsupported
}

func taskWorkDir(root, taskID string) string {
	return root + "/" + taskID
}
