// Package remote implements Backend B: execution delegated to a
// remote worker server reachable over MCP. The remote server exposes the
// same tool surface the broker itself exposes to its own callers
// (execute_task, get_task_status, get_task_history, send_task_control,
// get_task_files, read_task_file) — Backend B is, from the broker's point
// of view, just another MCP client of that shape.
//
// Grounded on pkg/mcp/client.go's session lifecycle (connect-with-timeout,
// CallTool-with-retry, jittered backoff) and pkg/mcp/recovery.go's
// ClassifyError-style recoverable/non-recoverable split.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/tarsybroker/broker/pkg/adapter"
	"github.com/tarsybroker/broker/pkg/normalize"
	"github.com/tarsybroker/broker/pkg/task"
	"github.com/tarsybroker/broker/pkg/version"
)

// Jittered backoff bounds for a single CallTool retry, grounded on
// pkg/mcp/client.go's RetryBackoffMin/RetryBackoffMax.
const (
	RetryBackoffMin = 250 * time.Millisecond
	RetryBackoffMax = 750 * time.Millisecond
)

// Config points the adapter at the remote worker server.
type Config struct {
	Transport mcpsdk.Transport
	// PollInterval controls how often get_task_history is polled while
	// waiting for completion; the remote server's unbounded event stream
	// is realized here as tool-call long-polling.
	PollInterval time.Duration
}

// DefaultConfig returns the built-in remote-backend defaults.
func DefaultConfig() Config {
	return Config{PollInterval: 500 * time.Millisecond}
}

type remoteSession struct {
	mu      sync.Mutex
	session *mcpsdk.ClientSession
}

// Adapter is Backend B.
type Adapter struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*remoteSession
}

var _ adapter.Adapter = (*Adapter)(nil)

// New constructs a remote-session Adapter.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, sessions: make(map[string]*remoteSession)}
}

func (a *Adapter) connect(ctx context.Context) (*mcpsdk.ClientSession, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)
	session, err := client.Connect(ctx, a.cfg.Transport, nil)
	if err != nil {
		return nil, fmt.Errorf("remote adapter: connect: %w", err)
	}
	return session, nil
}

// Execute establishes a session, sends the prompt via the remote
// execute_task tool, then races a completion poller against the request's
// timeout — exactly one of the two resolves the outer wait.
func (a *Adapter) Execute(ctx context.Context, req task.ExecutionRequest, onEvent adapter.OnEvent) (task.ExecutionResult, error) {
	started := time.Now()

	session, err := a.connect(ctx)
	if err != nil {
		return errorResult(started, err), nil
	}
	rs := &remoteSession{session: session}
	a.mu.Lock()
	a.sessions[req.TaskID] = rs
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.sessions, req.TaskID)
		a.mu.Unlock()
		_ = session.Close()
	}()

	if _, err := a.callTool(ctx, session, "execute_task", map[string]any{
		"task_id": req.TaskID,
		"prompt":  req.Prompt,
	}); err != nil {
		return errorResult(started, err), nil
	}
	onEvent(task.Event{Timestamp: time.Now(), Type: task.EventStart, RawType: "session.start"})

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut bool
	g, gctx := errgroup.WithContext(execCtx)

	g.Go(func() error {
		return a.pollUntilComplete(gctx, session, req, onEvent)
	})

	if req.TimeoutMS > 0 {
		g.Go(func() error {
			timer := time.NewTimer(time.Duration(req.TimeoutMS) * time.Millisecond)
			defer timer.Stop()
			select {
			case <-timer.C:
				timedOut = true
				_, _ = a.callTool(context.Background(), session, "send_task_control", map[string]any{
					"task_id": req.TaskID,
					"signal":  "cancel",
				})
				cancel()
				return nil
			case <-gctx.Done():
				return nil
			}
		})
	}

	waitErr := g.Wait()

	completed := time.Now()
	switch {
	case timedOut:
		onEvent(task.Event{Timestamp: completed, Type: task.EventError, RawType: "timeout"})
		return task.ExecutionResult{
			Status:      task.ExecTimeout,
			StartedAt:   started,
			CompletedAt: completed,
			Duration:    completed.Sub(started),
		}, nil
	case waitErr != nil:
		onEvent(task.Event{Timestamp: completed, Type: task.EventError, RawType: "poll_failed"})
		return task.ExecutionResult{
			Status:      task.ExecError,
			Err:         waitErr,
			StartedAt:   started,
			CompletedAt: completed,
			Duration:    completed.Sub(started),
		}, nil
	default:
		return task.ExecutionResult{
			Status:      task.ExecSuccess,
			StartedAt:   started,
			CompletedAt: completed,
			Duration:    completed.Sub(started),
		}, nil
	}
}

// pollUntilComplete long-polls get_task_history until a completion event is
// observed, feeding every newly-seen event through the normalizer and
// onEvent as it goes.
func (a *Adapter) pollUntilComplete(ctx context.Context, session *mcpsdk.ClientSession, req task.ExecutionRequest, onEvent adapter.OnEvent) error {
	interval := a.cfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			history, err := a.callTool(ctx, session, "get_task_history", map[string]any{
				"task_id":       req.TaskID,
				"events_offset": seen,
			})
			if err != nil {
				return err
			}
			events, _ := history["events"].([]any)
			for _, raw := range events {
				entry, _ := raw.(map[string]any)
				rawType, _ := entry["type"].(string)
				props, _ := entry["properties"].(map[string]any)
				rawEvent := task.RawEvent{Type: rawType, Properties: props}
				ev := normalize.Normalize(rawEvent)
				onEvent(ev)
				if ev.Type == task.EventComplete || ev.Type == task.EventAbort {
					return nil
				}
			}
			seen += len(events)
		}
	}
}

// callTool invokes a tool on the remote session, retrying once after a
// jittered backoff on a recoverable error, grounded on pkg/mcp/client.go's
// CallTool retry shape.
func (a *Adapter) callTool(ctx context.Context, session *mcpsdk.ClientSession, name string, args map[string]any) (map[string]any, error) {
	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err == nil {
		return decodeResult(result)
	}

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	slog.Warn("remote adapter: tool call failed, retrying once", "tool", name, "error", err)
	result, err = session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("remote adapter: %s: %w", name, err)
	}
	return decodeResult(result)
}

// decodeResult extracts the tool's text content and parses it as a JSON
// object, mirroring pkg/mcp/executor.go's extractTextContent (concatenate
// every TextContent item, skip anything else).
func decodeResult(result *mcpsdk.CallToolResult) (map[string]any, error) {
	if result == nil {
		return map[string]any{}, nil
	}
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if text == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("remote adapter: decode tool result: %w", err)
	}
	return out, nil
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

// Abort sends a cancel control signal to the remote session.
func (a *Adapter) Abort(taskID string) bool {
	a.mu.Lock()
	rs, ok := a.sessions[taskID]
	a.mu.Unlock()
	if !ok {
		return false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	_, err := a.callTool(context.Background(), rs.session, "send_task_control", map[string]any{
		"task_id": taskID,
		"signal":  "cancel",
	})
	return err == nil
}

// Pause is unsupported on Backend B.
func (a *Adapter) Pause(string) bool { return false }

// Resume is unsupported on Backend B.
func (a *Adapter) Resume(string) bool { return false }

// ListFiles enumerates files in the remote task's workspace via the
// get_task_files tool.
func (a *Adapter) ListFiles(taskID string) ([]string, error) {
	a.mu.Lock()
	rs, ok := a.sessions[taskID]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("remote adapter: no session for task %q", taskID)
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()

	result, err := a.callTool(context.Background(), rs.session, "get_task_files", map[string]any{"task_id": taskID})
	if err != nil {
		return nil, err
	}
	raw, _ := result["files"].([]any)
	files := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			files = append(files, s)
		}
	}
	return files, nil
}

// ReadFile reads a single file from the remote task's workspace via the
// read_task_file tool.
func (a *Adapter) ReadFile(taskID, path string) (string, error) {
	a.mu.Lock()
	rs, ok := a.sessions[taskID]
	a.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("remote adapter: no session for task %q", taskID)
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()

	result, err := a.callTool(context.Background(), rs.session, "read_task_file", map[string]any{
		"task_id": taskID,
		"path":    path,
	})
	if err != nil {
		return "", err
	}
	content, _ := result["content"].(string)
	return content, nil
}
