// Package control implements the Control-Signal Handler: validates a
// requested state transition (cancel/pause/resume) against a task's
// current status, applies it to the adapter and the registry, and mirrors
// the action to the task's workspace document and chat room.
//
// Grounded on pkg/api/handler_session.go's cancelSessionHandler: the
// cancel path touches the registry, the worker pool, and the chat
// executor independently, reporting success if any of them actually
// cancelled something rather than requiring every side effect to succeed.
package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tarsybroker/broker/pkg/adapter"
	"github.com/tarsybroker/broker/pkg/registry"
	"github.com/tarsybroker/broker/pkg/task"
	"github.com/tarsybroker/broker/pkg/workspace"
)

// transitions enumerates the legal (signal, from-status) -> to-status
// edges. Anything not listed here is rejected.
var transitions = map[task.ControlSignal]map[task.Status]task.Status{
	task.SignalCancel: {
		task.StatusQueued:  task.StatusCancelled,
		task.StatusRunning: task.StatusCancelled,
		task.StatusPaused:  task.StatusCancelled,
	},
	task.SignalPause: {
		task.StatusRunning: task.StatusPaused,
	},
	task.SignalResume: {
		task.StatusPaused: task.StatusRunning,
	},
}

// LivenessChecker reports whether an adapter still considers a task
// active, used to decide whether a failed adapter signal should still be
// treated as a successful state change (the task already finished on its
// own between the signal being issued and the adapter acting on it).
type LivenessChecker interface {
	IsActive(taskID string) bool
}

// RoomMirror mirrors a control action to a task's chat room, if one is
// attached. Mirroring failures are logged, never surfaced to the caller.
type RoomMirror interface {
	MirrorControl(ctx context.Context, roomHandle string, req task.ControlRequest, result task.ControlResult) error
}

// Handler is the Control-Signal Handler.
type Handler struct {
	registry *registry.Registry
	adapter  adapter.Adapter
	live     LivenessChecker
	docs     *workspace.Manager
	room     RoomMirror
}

// New constructs a Handler. room may be nil when chat-room mirroring is
// disabled.
func New(reg *registry.Registry, ad adapter.Adapter, live LivenessChecker, docs *workspace.Manager, room RoomMirror) *Handler {
	return &Handler{registry: reg, adapter: ad, live: live, docs: docs, room: room}
}

// Signal validates and applies a control request. It never returns an
// error: every failure mode is reported through ControlResult.Success/
// Error, matching the tool surface's structured-result convention.
func (h *Handler) Signal(ctx context.Context, req task.ControlRequest) task.ControlResult {
	snap, ok := h.registry.Get(req.TaskID)
	if !ok {
		return task.ControlResult{Success: false, Error: fmt.Sprintf("unknown task: %s", req.TaskID)}
	}

	target, legal := transitions[req.Signal][snap.Status]
	if !legal {
		return task.ControlResult{
			Success:        false,
			PreviousStatus: snap.Status,
			Error:          fmt.Sprintf("cannot %s task with status: %s", req.Signal, snap.Status),
		}
	}

	if !h.applyToAdapter(req) {
		if h.live == nil || h.live.IsActive(req.TaskID) {
			return task.ControlResult{
				Success:        false,
				PreviousStatus: snap.Status,
				Error:          fmt.Sprintf("adapter rejected %s for task %s", req.Signal, req.TaskID),
			}
		}
		// The adapter said no, but it no longer considers the task
		// active — the state change is still committed.
	}

	if err := h.registry.UpdateStatus(req.TaskID, target, registry.StatusUpdate{}); err != nil {
		return task.ControlResult{
			Success:        false,
			PreviousStatus: snap.Status,
			Error:          err.Error(),
		}
	}

	result := task.ControlResult{Success: true, PreviousStatus: snap.Status, NewStatus: target}

	if h.docs != nil {
		handle := workspace.Handle{CallerID: snap.CallerID, ID: workspace.Label(req.TaskID)}
		if _, err := h.docs.AppendEvent(ctx, handle, workspace.Event{
			Type:    "control",
			Message: fmt.Sprintf("%s: %s -> %s (requested by %s)", req.Signal, snap.Status, target, req.RequestedBy),
		}); err != nil {
			slog.Warn("control handler: failed to append control event to workspace", "task_id", req.TaskID, "error", err)
		}
	}

	if h.room != nil && snap.RoomHandle != "" {
		if err := h.room.MirrorControl(ctx, snap.RoomHandle, req, result); err != nil {
			slog.Warn("control handler: failed to mirror control action to room", "task_id", req.TaskID, "error", err)
		}
	}

	return result
}

// applyToAdapter issues the signal to the execution backend. Unknown
// signals never reach here because transitions already rejected them.
func (h *Handler) applyToAdapter(req task.ControlRequest) bool {
	switch req.Signal {
	case task.SignalCancel:
		return h.adapter.Abort(req.TaskID)
	case task.SignalPause:
		return h.adapter.Pause(req.TaskID)
	case task.SignalResume:
		return h.adapter.Resume(req.TaskID)
	default:
		return false
	}
}
