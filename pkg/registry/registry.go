// Package registry implements the Task Registry: an in-memory,
// thread-safe structure indexed by task id, by (caller, idempotency key),
// and by chat-room handle, enforcing the admission cap and the task state
// machine.
//
// Grounded on pkg/session/manager.go's map-behind-mutex shape and
// pkg/queue/pool.go's activeSessions tracking table; the expiry sweep is
// grounded on pkg/cleanup/service.go's ticker-loop-with-graceful-stop shape.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tarsybroker/broker/pkg/task"
)

// ErrQueueFull is returned by Admit when the concurrency cap is reached.
var ErrQueueFull = fmt.Errorf("task queue full")

// Config controls admission capacity and idempotency retention.
type Config struct {
	MaxConcurrentTasks int
	IdempotencyWindow  time.Duration
	SweepInterval      time.Duration
}

// DefaultConfig returns the built-in registry defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks: 3,
		IdempotencyWindow:  24 * time.Hour,
		SweepInterval:      time.Hour,
	}
}

type idempotencyRecord struct {
	taskID string
}

// Registry is the thread-safe Task Registry
type Registry struct {
	cfg Config

	mu          sync.RWMutex
	tasks       map[string]*task.Task
	idempotency map[string]idempotencyRecord // key: callerID + "\x00" + idempotencyKey
	byRoom      map[string]string            // room handle -> task id

	// group collapses concurrent Register calls racing on the same
	// (caller, idempotency key) pair so only one creates the task record;
	// the rest observe the winner's result. Mirrors the thundering-herd
	// protection pkg/mcp/client.go gives session (re)initialization via
	// its per-server mutex, but for admission instead of reconnection.
	group singleflight.Group

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Registry with the given config.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:         cfg,
		tasks:       make(map[string]*task.Task),
		idempotency: make(map[string]idempotencyRecord),
		byRoom:      make(map[string]string),
	}
}

func idemKey(callerID, key string) string {
	return callerID + "\x00" + key
}

// liveCountLocked returns the count of queued+running tasks. Caller must
// hold mu (read or write lock).
func (r *Registry) liveCountLocked() int {
	n := 0
	for _, t := range r.tasks {
		if t.Clone().Status.Live() {
			n++
		}
	}
	return n
}

// Admit returns false when the number of non-terminal tasks already equals
// the configured maximum. It does not itself reserve a slot; Register is
// expected to be called immediately after a true result.
func (r *Registry) Admit() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveCountLocked() < r.cfg.MaxConcurrentTasks
}

// Register records taskID as a new queued task, or — if idempotencyKey is
// set and already resolves to a task that is still live or has already
// run to a terminal status — returns that existing task unchanged and
// leaves taskID unused. existed reports which case occurred. taskID is
// minted by the orchestrator, not by the registry.
func (r *Registry) Register(taskID, callerID, idempotencyKey string) (t task.Snapshot, existed bool, err error) {
	if idempotencyKey == "" {
		return r.registerNew(taskID, callerID, idempotencyKey), false, nil
	}

	key := idemKey(callerID, idempotencyKey)
	v, err, _ := r.group.Do(key, func() (any, error) {
		r.mu.RLock()
		if rec, ok := r.idempotency[key]; ok {
			if existing, ok := r.tasks[rec.taskID]; ok {
				snap := existing.Clone()
				if snap.Status.Live() || snap.Status.Terminal() {
					r.mu.RUnlock()
					return registerOutcome{snapshot: snap, existed: true}, nil
				}
			}
		}
		r.mu.RUnlock()

		snap := r.registerNew(taskID, callerID, idempotencyKey)
		return registerOutcome{snapshot: snap, existed: false}, nil
	})
	if err != nil {
		return task.Snapshot{}, false, err
	}
	out := v.(registerOutcome)
	return out.snapshot, out.existed, nil
}

type registerOutcome struct {
	snapshot task.Snapshot
	existed  bool
}

func (r *Registry) registerNew(taskID, callerID, idempotencyKey string) task.Snapshot {
	now := time.Now()
	t := &task.Task{
		ID:             taskID,
		CallerID:       callerID,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		LastActivity:   now,
		Status:         task.StatusQueued,
	}

	r.mu.Lock()
	r.tasks[t.ID] = t
	if idempotencyKey != "" {
		r.idempotency[idemKey(callerID, idempotencyKey)] = idempotencyRecord{taskID: t.ID}
	}
	r.mu.Unlock()

	return t.Clone()
}

// transitions enumerates the legal state machine edges.
var transitions = map[task.Status]map[task.Status]bool{
	task.StatusQueued: {
		task.StatusRunning:   true,
		task.StatusCancelled: true,
	},
	task.StatusRunning: {
		task.StatusPaused:    true,
		task.StatusCompleted: true,
		task.StatusFailed:    true,
		task.StatusTimeout:   true,
		task.StatusCancelled: true,
	},
	task.StatusPaused: {
		task.StatusRunning:   true,
		task.StatusCancelled: true,
	},
}

// ErrIllegalTransition is returned by UpdateStatus for a move the state
// machine forbids.
type ErrIllegalTransition struct {
	From, To task.Status
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s", e.From, e.To)
}

// StatusUpdate carries the optional side-fields UpdateStatus may also set.
type StatusUpdate struct {
	WorkspaceID *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// UpdateStatus enforces the state machine transition and writes the new
// status plus any provided side-fields. No-ops silently on an unknown id
//. Returns ErrIllegalTransition if the move is not legal.
func (r *Registry) UpdateStatus(taskID string, newStatus task.Status, upd StatusUpdate) error {
	r.mu.RLock()
	t, ok := r.tasks[taskID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	t.Lock()
	defer t.Unlock()

	if t.Status == newStatus {
		// Idempotent no-op re-application (e.g. duplicate terminal writes).
		return nil
	}
	if allowed := transitions[t.Status]; allowed == nil || !allowed[newStatus] {
		return &ErrIllegalTransition{From: t.Status, To: newStatus}
	}

	prev := t.Status
	t.Status = newStatus
	t.Touch()

	if newStatus == task.StatusRunning && prev == task.StatusQueued && t.StartedAt.IsZero() {
		t.StartedAt = time.Now()
	}
	if newStatus.Terminal() && t.CompletedAt.IsZero() {
		t.CompletedAt = time.Now()
	}
	if upd.WorkspaceID != nil {
		t.WorkspaceID = *upd.WorkspaceID
	}
	if upd.StartedAt != nil && t.StartedAt.IsZero() {
		t.StartedAt = *upd.StartedAt
	}
	if upd.CompletedAt != nil && t.CompletedAt.IsZero() {
		t.CompletedAt = *upd.CompletedAt
	}
	return nil
}

// Touch refreshes a task's LastActivity without altering its status,
// serving as the heartbeat adapter progress events feed the orphan
// detector. A no-op on an unknown id.
func (r *Registry) Touch(taskID string) {
	r.mu.RLock()
	t, ok := r.tasks[taskID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	t.Lock()
	t.Touch()
	t.Unlock()
}

// StaleRunning returns snapshots of every running task whose LastActivity
// is older than threshold, for the orphan-recovery sweep to force-
// transition.
func (r *Registry) StaleRunning(threshold time.Duration) []task.Snapshot {
	cutoff := time.Now().Add(-threshold)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stale []task.Snapshot
	for _, t := range r.tasks {
		snap := t.Clone()
		if snap.Status == task.StatusRunning && snap.LastActivity.Before(cutoff) {
			stale = append(stale, snap)
		}
	}
	return stale
}

// Get returns a snapshot of a task, or false if unknown.
func (r *Registry) Get(taskID string) (task.Snapshot, bool) {
	r.mu.RLock()
	t, ok := r.tasks[taskID]
	r.mu.RUnlock()
	if !ok {
		return task.Snapshot{}, false
	}
	return t.Clone(), true
}

// All returns a snapshot of every task.
func (r *Registry) All() []task.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]task.Snapshot, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	return out
}

// ByCaller returns every task submitted by a given caller.
func (r *Registry) ByCaller(callerID string) []task.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]task.Snapshot, 0)
	for _, t := range r.tasks {
		if t.CallerID == callerID {
			out = append(out, t.Clone())
		}
	}
	return out
}

// ByRoom resolves a chat-room handle to its task, if any.
func (r *Registry) ByRoom(handle string) (task.Snapshot, bool) {
	r.mu.RLock()
	taskID, ok := r.byRoom[handle]
	r.mu.RUnlock()
	if !ok {
		return task.Snapshot{}, false
	}
	return r.Get(taskID)
}

// AttachRoom records the chat-room handle assigned to a task.
func (r *Registry) AttachRoom(taskID, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return
	}
	t.Lock()
	t.RoomHandle = handle
	t.Unlock()
	r.byRoom[handle] = taskID
}

// DetachRoom removes the chat-room association for a task.
func (r *Registry) DetachRoom(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return
	}
	t.Lock()
	handle := t.RoomHandle
	t.RoomHandle = ""
	t.Unlock()
	delete(r.byRoom, handle)
}

// Count returns the number of tasks currently counted against the
// admission cap.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liveCountLocked()
}

// Health reports pool-level statistics, grounded on pkg/queue/pool.go's
// PoolHealth shape, surfaced via the ping/health tool.
type Health struct {
	ActiveTasks   int
	TotalTasks    int
	MaxConcurrent int
}

// Health returns a snapshot of registry-wide statistics.
func (r *Registry) Health() Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Health{
		ActiveTasks:   r.liveCountLocked(),
		TotalTasks:    len(r.tasks),
		MaxConcurrent: r.cfg.MaxConcurrentTasks,
	}
}

// StartSweep launches the background expiry sweeper: terminal tasks whose
// completion time is older than the idempotency window are removed along
// with their idempotency record. Safe to call at most once.
func (r *Registry) StartSweep(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.runSweep(ctx)
}

// StopSweep signals the sweeper to exit and waits for it to finish.
func (r *Registry) StopSweep() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Registry) runSweep(ctx context.Context) {
	defer close(r.done)

	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *Registry) sweepOnce() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, t := range r.tasks {
		snap := t.Clone()
		if !snap.Status.Terminal() {
			continue
		}
		if snap.CompletedAt.IsZero() || now.Sub(snap.CompletedAt) < r.cfg.IdempotencyWindow {
			continue
		}
		delete(r.tasks, id)
		if snap.RoomHandle != "" {
			delete(r.byRoom, snap.RoomHandle)
		}
		for k, rec := range r.idempotency {
			if rec.taskID == id {
				delete(r.idempotency, k)
			}
		}
		removed++
	}
	if removed > 0 {
		slog.Info("registry sweep removed expired tasks", "count", removed)
	}
}
