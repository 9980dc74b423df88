// Package adapter defines the Execution Adapter contract
// implemented by the two interchangeable backends: pkg/adapter/local
// (Backend A, os/exec sandboxed process) and pkg/adapter/remote
// (Backend B, remote session server over MCP).
package adapter

import (
	"context"

	"github.com/tarsybroker/broker/pkg/task"
)

// OnEvent is invoked synchronously from the adapter's event loop for every
// raw event that passes normalization, in the order the backend produced
// them. Implementations must not call it concurrently for the same task.
type OnEvent func(task.Event)

// Adapter is the contract both execution backends implement. Execute
// blocks until either a terminal event has been observed and processed by
// onEvent, or the request's timeout has elapsed — whichever comes first
//.
type Adapter interface {
	Execute(ctx context.Context, req task.ExecutionRequest, onEvent OnEvent) (task.ExecutionResult, error)

	// Abort requests early termination of a still-running task. Returns
	// false if the task is unknown to this adapter.
	Abort(taskID string) bool

	// Pause suspends a running task. Backend A only; Backend B always
	// returns false.
	Pause(taskID string) bool

	// Resume continues a paused task. Backend A only; Backend B always
	// returns false.
	Resume(taskID string) bool

	// ListFiles enumerates files visible in the task's workspace. Backend B
	// only; Backend A returns ErrUnsupported.
	ListFiles(taskID string) ([]string, error)

	// ReadFile reads a single file from the task's workspace. Backend B
	// only; Backend A returns ErrUnsupported.
	ReadFile(taskID, path string) (string, error)
}

// ErrUnsupported is returned by ListFiles/ReadFile on Backend A and by
// Pause/Resume semantics are instead expressed as a false return rather
// than an error.
var ErrUnsupported = unsupportedError{}

type unsupportedError struct{}

func (unsupportedError) Error() string { return "adapter: operation not supported by this backend" }
