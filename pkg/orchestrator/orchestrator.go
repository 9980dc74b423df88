// Package orchestrator implements the Task Orchestrator: the entry
// point that mints a task, admits and registers it, attaches a
// workspace document, drives execution through an Adapter, and finalizes
// the task across the registry, workspace, and room once execution
// reaches a terminal outcome. Grounded on pkg/queue/worker.go's
// poll-execute-finalize loop shape and pkg/api/handler_session.go's
// synchronous-vs-background request splitting.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tarsybroker/broker/pkg/adapter"
	"github.com/tarsybroker/broker/pkg/collaborator"
	"github.com/tarsybroker/broker/pkg/masking"
	"github.com/tarsybroker/broker/pkg/registry"
	"github.com/tarsybroker/broker/pkg/task"
	"github.com/tarsybroker/broker/pkg/workspace"
)

// outputPreviewLimit bounds the truncated output preview included in the
// caller notification and room summary.
const outputPreviewLimit = 1024

// Notifier delivers a best-effort, out-of-band notification to a task's
// caller once it reaches a terminal status. The spec names no concrete
// transport for this — every caller-facing channel besides the
// workspace document and the room is deployment-specific — so Notifier
// is optional: a nil Notifier makes the final notification step a no-op
// besides the log line, which still satisfies "best-effort, log and
// proceed on failure".
type Notifier interface {
	NotifyCaller(ctx context.Context, callerID string, summary collaborator.Summary) error
}

// Config controls admission-independent orchestrator behavior.
type Config struct {
	RoomsEnabled     bool
	ResponseDeadline time.Duration
	ExecutionTimeout time.Duration

	// OrphanGrace extends ExecutionTimeout before a running task with no
	// heartbeat is considered orphaned: an Adapter.Execute that hangs past
	// its own requested timeout (e.g. a crashed worker process that never
	// reports back) still needs a terminal outcome.
	OrphanGrace time.Duration
	// OrphanSweepInterval controls how often the orphan scan runs.
	OrphanSweepInterval time.Duration
}

// DefaultConfig returns the built-in orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		RoomsEnabled:        false,
		ResponseDeadline:    25 * time.Second,
		ExecutionTimeout:    10 * time.Minute,
		OrphanGrace:         30 * time.Second,
		OrphanSweepInterval: time.Minute,
	}
}

// SubmitRequest carries a caller's request to commission a task.
type SubmitRequest struct {
	CallerID       string
	Description    string
	IdempotencyKey string
	TimeoutMS      int64
	Sync           bool
	Observers      []string
}

// SubmitResult is the tool-surface response to execute_task.
type SubmitResult struct {
	TaskID      string
	Status      task.Status
	WorkspaceID string
	Message     string
}

// Orchestrator is the Task Orchestrator.
type Orchestrator struct {
	cfg      Config
	registry *registry.Registry
	docs     *workspace.Manager
	adapter  adapter.Adapter
	room     collaborator.RoomBackend // nil when rooms_enabled is false
	notifier Notifier                 // nil when no out-of-band notifier is configured
	masker   *masking.Service

	orphanCancel context.CancelFunc
	orphanDone   chan struct{}
}

// New constructs an Orchestrator. room and notifier may be nil.
func New(cfg Config, reg *registry.Registry, docs *workspace.Manager, ad adapter.Adapter, room collaborator.RoomBackend, notifier Notifier) *Orchestrator {
	return &Orchestrator{cfg: cfg, registry: reg, docs: docs, adapter: ad, room: room, notifier: notifier, masker: masking.NewService()}
}

// Submit runs the full task lifecycle. When req.Sync is true, it races
// the async body against the orchestrator's response-deadline timer:
// whichever resolves first determines the return value. The async body
// is never cancelled by the timer winning — it always continues through
// to detachment independently, in its own goroutine.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if !o.registry.Admit() {
		return SubmitResult{}, registry.ErrQueueFull
	}

	taskID := uuid.New().String()
	snap, existed, err := o.registry.Register(taskID, req.CallerID, req.IdempotencyKey)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("orchestrator: register: %w", err)
	}
	if existed {
		return SubmitResult{TaskID: snap.ID, Status: snap.Status, WorkspaceID: snap.WorkspaceID, Message: "idempotent replay"}, nil
	}
	taskID = snap.ID

	handle, _, err := o.docs.Create(ctx, taskID, req.CallerID, map[string]any{"description": req.Description})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("orchestrator: create workspace: %w", err)
	}
	workspaceID := handle.ID

	if !req.Sync {
		go o.runAsync(context.WithoutCancel(ctx), taskID, req, handle)
		return SubmitResult{TaskID: taskID, Status: task.StatusQueued, WorkspaceID: workspaceID}, nil
	}

	done := make(chan struct{})
	go func() {
		o.runAsync(context.WithoutCancel(ctx), taskID, req, handle)
		close(done)
	}()

	deadline := o.cfg.ResponseDeadline
	if deadline <= 0 {
		deadline = DefaultConfig().ResponseDeadline
	}
	select {
	case <-done:
		snap, _ := o.registry.Get(taskID)
		return SubmitResult{TaskID: taskID, Status: snap.Status, WorkspaceID: workspaceID}, nil
	case <-time.After(deadline):
		return SubmitResult{
			TaskID:      taskID,
			Status:      task.StatusRunning,
			WorkspaceID: workspaceID,
			Message:     "continues in background",
		}, nil
	}
}

// runAsync is the background body: steps 6-14 of the task lifecycle. It
// never returns an error; every failure is absorbed into a terminal
// status and logged.
func (o *Orchestrator) runAsync(ctx context.Context, taskID string, req SubmitRequest, handle workspace.Handle) {
	startedAt := time.Now()
	workspaceID := handle.ID
	if err := o.registry.UpdateStatus(taskID, task.StatusRunning, registry.StatusUpdate{StartedAt: &startedAt, WorkspaceID: &workspaceID}); err != nil {
		slog.Error("orchestrator: failed to transition task to running", "task_id", taskID, "error", err)
	}

	var roomHandle string
	if o.cfg.RoomsEnabled && o.room != nil {
		h, err := o.room.CreateRoom(ctx, collaborator.CreateRoomInput{
			TaskID:   taskID,
			Name:     req.Description,
			Invitees: req.Observers,
		})
		if err != nil {
			slog.Warn("orchestrator: room creation failed, continuing without a room", "task_id", taskID, "error", err)
		} else {
			roomHandle = h
			o.registry.AttachRoom(taskID, roomHandle)
		}
	}

	if _, err := o.docs.AppendEvent(ctx, handle, workspace.Event{
		Type:      "task_started",
		Timestamp: time.Now(),
		Message:   "task started",
	}); err != nil {
		slog.Warn("orchestrator: failed to append task_started event", "task_id", taskID, "error", err)
	}

	timeoutMS := req.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = o.cfg.ExecutionTimeout.Milliseconds()
	}

	onEvent := func(ev task.Event) {
		o.registry.Touch(taskID)
		maskedRawType := o.masker.MaskOutput(ev.RawType)
		if _, err := o.docs.AppendEvent(ctx, handle, workspace.Event{
			Type:      "task_progress",
			Timestamp: ev.Timestamp,
			Message:   string(ev.Type),
			Data:      ev.Data,
		}); err != nil {
			slog.Warn("orchestrator: failed to append progress event", "task_id", taskID, "error", err)
		}
		if roomHandle != "" && o.room != nil {
			if err := o.room.SendText(ctx, roomHandle, fmt.Sprintf("[%s] %s", ev.Type, maskedRawType)); err != nil {
				slog.Warn("orchestrator: failed to mirror progress event to room", "task_id", taskID, "error", err)
			}
		}
	}

	result, execErr := o.adapter.Execute(ctx, task.ExecutionRequest{
		TaskID:      taskID,
		CallerID:    req.CallerID,
		Prompt:      req.Description,
		TimeoutMS:   timeoutMS,
		WorkspaceID: handle.ID,
	}, onEvent)

	result.Output = o.masker.MaskOutput(result.Output)
	finalStatus, errMessage := finalize(result, execErr)
	errMessage = o.masker.MaskMetadata(errMessage)

	_ = o.registry.UpdateStatus(taskID, finalStatus, registry.StatusUpdate{})

	summary := collaborator.Summary{
		TaskID:        taskID,
		Status:        finalStatus,
		OutputPreview: truncatePreview(result.Output),
		ErrorMessage:  errMessage,
	}

	if roomHandle != "" && o.room != nil {
		if err := o.room.PostSummary(ctx, roomHandle, summary); err != nil {
			slog.Warn("orchestrator: failed to post room summary", "task_id", taskID, "error", err)
		}
		if err := o.room.Close(ctx, roomHandle); err != nil {
			slog.Warn("orchestrator: failed to close room", "task_id", taskID, "error", err)
		}
	}

	if _, err := o.docs.AppendEvent(ctx, handle, workspace.Event{
		Type:      "task_terminal",
		Timestamp: time.Now(),
		Message:   string(finalStatus),
	}); err != nil {
		slog.Warn("orchestrator: failed to append terminal event", "task_id", taskID, "error", err)
	}
	if _, err := o.docs.RecordArtifact(ctx, handle, workspace.Artifact{
		Timestamp: time.Now(),
		Type:      "output",
		Name:      "task_output",
		Content:   result.Output,
	}); err != nil {
		slog.Warn("orchestrator: failed to record output artifact", "task_id", taskID, "error", err)
	}
	if _, err := o.docs.SetStatus(ctx, handle, string(finalStatus)); err != nil {
		slog.Warn("orchestrator: failed to set terminal workspace status", "task_id", taskID, "error", err)
	}

	o.docs.Detach(ctx, handle)

	if o.notifier != nil {
		if err := o.notifier.NotifyCaller(ctx, req.CallerID, summary); err != nil {
			slog.Warn("orchestrator: failed to notify caller", "task_id", taskID, "error", err)
		}
	}
}

// StartOrphanSweep launches the background orphan-recovery scan: running
// tasks with no heartbeat for longer than ExecutionTimeout+OrphanGrace are
// force-transitioned to failed, covering the case where an Adapter never
// reports back (a crashed worker process) despite its own timeout. Safe to
// call at most once; a no-op if already running.
func (o *Orchestrator) StartOrphanSweep(ctx context.Context) {
	if o.orphanCancel != nil {
		return
	}
	ctx, o.orphanCancel = context.WithCancel(ctx)
	o.orphanDone = make(chan struct{})
	go o.runOrphanSweep(ctx)
}

// StopOrphanSweep signals the orphan scanner to exit and waits for it to
// finish.
func (o *Orchestrator) StopOrphanSweep() {
	if o.orphanCancel == nil {
		return
	}
	o.orphanCancel()
	<-o.orphanDone
}

func (o *Orchestrator) runOrphanSweep(ctx context.Context) {
	defer close(o.orphanDone)

	interval := o.cfg.OrphanSweepInterval
	if interval <= 0 {
		interval = DefaultConfig().OrphanSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepOrphansOnce(ctx)
		}
	}
}

func (o *Orchestrator) sweepOrphansOnce(ctx context.Context) {
	threshold := o.cfg.ExecutionTimeout + o.cfg.OrphanGrace
	if threshold <= 0 {
		threshold = DefaultConfig().ExecutionTimeout + DefaultConfig().OrphanGrace
	}

	for _, snap := range o.registry.StaleRunning(threshold) {
		reason := fmt.Sprintf("orphaned: no heartbeat for over %s", threshold)
		if err := o.registry.UpdateStatus(snap.ID, task.StatusFailed, registry.StatusUpdate{}); err != nil {
			slog.Error("orchestrator: failed to recover orphaned task", "task_id", snap.ID, "error", err)
			continue
		}
		slog.Warn("orchestrator: recovered orphaned task", "task_id", snap.ID, "last_activity", snap.LastActivity)

		handle := workspace.Handle{CallerID: snap.CallerID, ID: snap.WorkspaceID}
		if _, err := o.docs.AppendEvent(ctx, handle, workspace.Event{
			Type:      "task_orphaned",
			Timestamp: time.Now(),
			Message:   reason,
		}); err != nil {
			slog.Warn("orchestrator: failed to append orphan event", "task_id", snap.ID, "error", err)
		}
		if _, err := o.docs.SetStatus(ctx, handle, string(task.StatusFailed)); err != nil {
			slog.Warn("orchestrator: failed to set orphaned workspace status", "task_id", snap.ID, "error", err)
		}

		if snap.RoomHandle != "" && o.room != nil {
			_ = o.room.PostSummary(ctx, snap.RoomHandle, collaborator.Summary{
				TaskID:       snap.ID,
				Status:       task.StatusFailed,
				ErrorMessage: reason,
			})
			_ = o.room.Close(ctx, snap.RoomHandle)
		}
	}
}

// finalize maps an Adapter's outcome onto the task's terminal status,
// per the task state machine: success -> completed, timeout -> timeout,
// error -> failed. An Execute error that returns before any
// ExecutionResult is itself treated as failed.
func finalize(result task.ExecutionResult, execErr error) (task.Status, string) {
	if execErr != nil {
		return task.StatusFailed, execErr.Error()
	}
	switch result.Status {
	case task.ExecSuccess:
		return task.StatusCompleted, ""
	case task.ExecTimeout:
		return task.StatusTimeout, ""
	default:
		msg := ""
		if result.Err != nil {
			msg = result.Err.Error()
		}
		return task.StatusFailed, msg
	}
}

func truncatePreview(output string) string {
	if len(output) <= outputPreviewLimit {
		return output
	}
	return output[:outputPreviewLimit] + "... (truncated)"
}
