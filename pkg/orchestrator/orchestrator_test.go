package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsybroker/broker/pkg/collaborator"
	"github.com/tarsybroker/broker/pkg/registry"
	"github.com/tarsybroker/broker/pkg/task"
	"github.com/tarsybroker/broker/pkg/workspace"
)

type fakeAdapter struct {
	result    task.ExecutionResult
	err       error
	events    []task.Event
	execDelay time.Duration
}

func (f *fakeAdapter) Execute(ctx context.Context, req task.ExecutionRequest, onEvent func(task.Event)) (task.ExecutionResult, error) {
	for _, ev := range f.events {
		onEvent(ev)
	}
	if f.execDelay > 0 {
		select {
		case <-time.After(f.execDelay):
		case <-ctx.Done():
		}
	}
	return f.result, f.err
}
func (f *fakeAdapter) Abort(string) bool                       { return true }
func (f *fakeAdapter) Pause(string) bool                       { return true }
func (f *fakeAdapter) Resume(string) bool                      { return true }
func (f *fakeAdapter) ListFiles(string) ([]string, error)      { return nil, nil }
func (f *fakeAdapter) ReadFile(string, string) (string, error) { return "", nil }

type fakeRoom struct {
	mu        sync.Mutex
	created   int
	texts     []string
	summaries []collaborator.Summary
	closed    int
}

func (f *fakeRoom) CreateRoom(context.Context, collaborator.CreateRoomInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return "room-handle", nil
}
func (f *fakeRoom) SendText(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}
func (f *fakeRoom) SendHTML(context.Context, string, string, string) error { return nil }
func (f *fakeRoom) MirrorControl(context.Context, string, task.ControlRequest, task.ControlResult) error {
	return nil
}
func (f *fakeRoom) PostSummary(_ context.Context, _ string, summary collaborator.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
	return nil
}
func (f *fakeRoom) Invite(context.Context, string, []string) error { return nil }
func (f *fakeRoom) Kick(context.Context, string, string) error     { return nil }
func (f *fakeRoom) SetTopic(context.Context, string, string) error { return nil }
func (f *fakeRoom) Leave(context.Context, string) error            { return nil }
func (f *fakeRoom) Close(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	summaries []collaborator.Summary
}

func (f *fakeNotifier) NotifyCaller(_ context.Context, _ string, summary collaborator.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
	return nil
}

func newTestOrchestrator(t *testing.T, ad *fakeAdapter, room collaborator.RoomBackend, notifier Notifier, cfg Config) (*Orchestrator, *registry.Registry, *workspace.Manager) {
	t.Helper()
	reg := registry.New(registry.DefaultConfig())
	store := workspace.NewMemStore()
	docs := workspace.New(store, workspace.DefaultConfig())
	return New(cfg, reg, docs, ad, room, notifier), reg, docs
}

func waitForTerminal(t *testing.T, reg *registry.Registry, taskID string) task.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := reg.Get(taskID)
		if ok && snap.Status.Terminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal status")
	return task.Snapshot{}
}

func TestSubmitAsyncReturnsQueuedImmediately(t *testing.T) {
	ad := &fakeAdapter{result: task.ExecutionResult{Status: task.ExecSuccess, Output: "done"}}
	o, reg, _ := newTestOrchestrator(t, ad, nil, nil, DefaultConfig())

	res, err := o.Submit(context.Background(), SubmitRequest{CallerID: "caller-1", Description: "investigate", Sync: false})
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, res.Status)
	assert.NotEmpty(t, res.TaskID)
	assert.NotEmpty(t, res.WorkspaceID)

	snap := waitForTerminal(t, reg, res.TaskID)
	assert.Equal(t, task.StatusCompleted, snap.Status)
}

func TestSubmitSyncReturnsTerminalStatusWhenFastEnough(t *testing.T) {
	ad := &fakeAdapter{result: task.ExecutionResult{Status: task.ExecSuccess, Output: "done"}}
	cfg := DefaultConfig()
	cfg.ResponseDeadline = time.Second
	o, _, _ := newTestOrchestrator(t, ad, nil, nil, cfg)

	res, err := o.Submit(context.Background(), SubmitRequest{CallerID: "caller-1", Description: "investigate", Sync: true})
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, res.Status)
}

func TestSubmitSyncReturnsRunningWhenDeadlineElapsesFirst(t *testing.T) {
	ad := &fakeAdapter{
		result:    task.ExecutionResult{Status: task.ExecSuccess, Output: "done"},
		execDelay: 200 * time.Millisecond,
	}
	cfg := DefaultConfig()
	cfg.ResponseDeadline = 20 * time.Millisecond
	o, reg, _ := newTestOrchestrator(t, ad, nil, nil, cfg)

	res, err := o.Submit(context.Background(), SubmitRequest{CallerID: "caller-1", Description: "investigate", Sync: true})
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, res.Status)
	assert.Equal(t, "continues in background", res.Message)

	snap := waitForTerminal(t, reg, res.TaskID)
	assert.Equal(t, task.StatusCompleted, snap.Status)
}

func TestSubmitFailsClosedWhenAdapterErrors(t *testing.T) {
	ad := &fakeAdapter{err: assert.AnError}
	o, reg, _ := newTestOrchestrator(t, ad, nil, nil, DefaultConfig())

	res, err := o.Submit(context.Background(), SubmitRequest{CallerID: "caller-1", Description: "investigate", Sync: false})
	require.NoError(t, err)

	snap := waitForTerminal(t, reg, res.TaskID)
	assert.Equal(t, task.StatusFailed, snap.Status)
}

func TestSubmitMarksTimeoutStatus(t *testing.T) {
	ad := &fakeAdapter{result: task.ExecutionResult{Status: task.ExecTimeout}}
	o, reg, _ := newTestOrchestrator(t, ad, nil, nil, DefaultConfig())

	res, err := o.Submit(context.Background(), SubmitRequest{CallerID: "caller-1", Description: "investigate", Sync: false})
	require.NoError(t, err)

	snap := waitForTerminal(t, reg, res.TaskID)
	assert.Equal(t, task.StatusTimeout, snap.Status)
}

func TestSubmitCreatesAndClosesRoomWhenEnabled(t *testing.T) {
	ad := &fakeAdapter{
		result: task.ExecutionResult{Status: task.ExecSuccess, Output: "done"},
		events: []task.Event{{Type: task.EventOutput, RawType: "output_chunk"}},
	}
	room := &fakeRoom{}
	cfg := DefaultConfig()
	cfg.RoomsEnabled = true
	o, reg, _ := newTestOrchestrator(t, ad, room, nil, cfg)

	res, err := o.Submit(context.Background(), SubmitRequest{CallerID: "caller-1", Description: "investigate", Sync: false})
	require.NoError(t, err)
	waitForTerminal(t, reg, res.TaskID)

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Equal(t, 1, room.created)
	assert.Equal(t, 1, room.closed)
	assert.Len(t, room.summaries, 1)
	assert.NotEmpty(t, room.texts)
}

func TestSubmitSkipsRoomWhenDisabled(t *testing.T) {
	ad := &fakeAdapter{result: task.ExecutionResult{Status: task.ExecSuccess, Output: "done"}}
	room := &fakeRoom{}
	o, reg, _ := newTestOrchestrator(t, ad, room, nil, DefaultConfig())

	res, err := o.Submit(context.Background(), SubmitRequest{CallerID: "caller-1", Description: "investigate", Sync: false})
	require.NoError(t, err)
	waitForTerminal(t, reg, res.TaskID)

	room.mu.Lock()
	defer room.mu.Unlock()
	assert.Equal(t, 0, room.created)
}

func TestSubmitNotifiesCallerWithTruncatedPreview(t *testing.T) {
	bigOutput := make([]byte, outputPreviewLimit+500)
	for i := range bigOutput {
		bigOutput[i] = 'x'
	}
	ad := &fakeAdapter{result: task.ExecutionResult{Status: task.ExecSuccess, Output: string(bigOutput)}}
	notifier := &fakeNotifier{}
	o, reg, _ := newTestOrchestrator(t, ad, nil, notifier, DefaultConfig())

	res, err := o.Submit(context.Background(), SubmitRequest{CallerID: "caller-1", Description: "investigate", Sync: false})
	require.NoError(t, err)
	waitForTerminal(t, reg, res.TaskID)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.summaries, 1)
	assert.Less(t, len(notifier.summaries[0].OutputPreview), len(string(bigOutput)))
	assert.Equal(t, task.StatusCompleted, notifier.summaries[0].Status)
}

func TestSubmitRecordsWorkspaceArtifactAndTerminalEvent(t *testing.T) {
	ad := &fakeAdapter{result: task.ExecutionResult{Status: task.ExecSuccess, Output: "final output"}}
	o, reg, docs := newTestOrchestrator(t, ad, nil, nil, DefaultConfig())

	res, err := o.Submit(context.Background(), SubmitRequest{CallerID: "caller-1", Description: "investigate", Sync: false})
	require.NoError(t, err)
	waitForTerminal(t, reg, res.TaskID)

	doc, err := docs.Get(context.Background(), workspace.Handle{CallerID: "caller-1", ID: workspace.Label(res.TaskID)})
	require.NoError(t, err)
	assert.Equal(t, "completed", doc.Status)
	require.NotEmpty(t, doc.Artifacts)
	assert.Equal(t, "final output", doc.Artifacts[len(doc.Artifacts)-1].Content)

	var sawTerminal bool
	for _, ev := range doc.Events {
		if ev.Type == "task_terminal" {
			sawTerminal = true
		}
	}
	assert.True(t, sawTerminal)
}

func TestSubmitIdempotentReplayReturnsExistingTask(t *testing.T) {
	ad := &fakeAdapter{result: task.ExecutionResult{Status: task.ExecSuccess, Output: "done"}}
	o, reg, _ := newTestOrchestrator(t, ad, nil, nil, DefaultConfig())

	first, err := o.Submit(context.Background(), SubmitRequest{CallerID: "caller-1", Description: "investigate", IdempotencyKey: "key-1", Sync: false})
	require.NoError(t, err)
	waitForTerminal(t, reg, first.TaskID)

	second, err := o.Submit(context.Background(), SubmitRequest{CallerID: "caller-1", Description: "investigate", IdempotencyKey: "key-1", Sync: false})
	require.NoError(t, err)
	assert.Equal(t, first.TaskID, second.TaskID)
	assert.Equal(t, "idempotent replay", second.Message)
}

func TestSubmitRejectsWhenRegistryAtCapacity(t *testing.T) {
	ad := &fakeAdapter{execDelay: time.Second, result: task.ExecutionResult{Status: task.ExecSuccess}}
	reg := registry.New(registry.Config{MaxConcurrentTasks: 1, IdempotencyWindow: time.Hour})
	store := workspace.NewMemStore()
	docs := workspace.New(store, workspace.DefaultConfig())
	o := New(DefaultConfig(), reg, docs, ad, nil, nil)

	_, err := o.Submit(context.Background(), SubmitRequest{CallerID: "caller-1", Description: "first", Sync: false})
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), SubmitRequest{CallerID: "caller-1", Description: "second", Sync: false})
	assert.ErrorIs(t, err, registry.ErrQueueFull)
}

// A task whose Adapter.Execute hangs past ExecutionTimeout+OrphanGrace
// with no further heartbeat is force-failed by the background sweep
// rather than left running forever.
func TestOrphanSweepRecoversStuckTask(t *testing.T) {
	ad := &fakeAdapter{execDelay: time.Hour, result: task.ExecutionResult{Status: task.ExecSuccess}}
	room := &fakeRoom{}
	cfg := Config{
		RoomsEnabled:        true,
		ResponseDeadline:    50 * time.Millisecond,
		ExecutionTimeout:    10 * time.Millisecond,
		OrphanGrace:         0,
		OrphanSweepInterval: 10 * time.Millisecond,
	}
	o, reg, docs := newTestOrchestrator(t, ad, room, nil, cfg)

	res, err := o.Submit(context.Background(), SubmitRequest{CallerID: "caller-1", Description: "hangs forever", Sync: false})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.StartOrphanSweep(ctx)
	defer o.StopOrphanSweep()

	snap := waitForTerminal(t, reg, res.TaskID)
	assert.Equal(t, task.StatusFailed, snap.Status)

	doc, err := docs.Get(context.Background(), workspace.Handle{CallerID: "caller-1", ID: snap.WorkspaceID})
	require.NoError(t, err)
	found := false
	for _, ev := range doc.Events {
		if ev.Type == "task_orphaned" {
			found = true
		}
	}
	assert.True(t, found, "expected a task_orphaned event in the workspace document")
}

func TestStartOrphanSweepIsIdempotent(t *testing.T) {
	ad := &fakeAdapter{result: task.ExecutionResult{Status: task.ExecSuccess}}
	o, _, _ := newTestOrchestrator(t, ad, nil, nil, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.StartOrphanSweep(ctx)
	o.StartOrphanSweep(ctx) // second call must not spawn a second loop or panic on double-close
	o.StopOrphanSweep()
}
