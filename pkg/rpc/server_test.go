package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsybroker/broker/pkg/adapter"
	"github.com/tarsybroker/broker/pkg/collaborator"
	"github.com/tarsybroker/broker/pkg/control"
	"github.com/tarsybroker/broker/pkg/orchestrator"
	"github.com/tarsybroker/broker/pkg/registry"
	"github.com/tarsybroker/broker/pkg/task"
	"github.com/tarsybroker/broker/pkg/workspace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAdapter struct {
	events  []task.Event
	result  task.ExecutionResult
	execErr error
	files   []string
	content string
	readErr error
}

func (f *fakeAdapter) Execute(_ context.Context, _ task.ExecutionRequest, onEvent adapter.OnEvent) (task.ExecutionResult, error) {
	for _, ev := range f.events {
		onEvent(ev)
	}
	return f.result, f.execErr
}
func (f *fakeAdapter) Abort(string) bool  { return true }
func (f *fakeAdapter) Pause(string) bool  { return true }
func (f *fakeAdapter) Resume(string) bool { return true }
func (f *fakeAdapter) ListFiles(string) ([]string, error) {
	if f.files == nil {
		return nil, adapter.ErrUnsupported
	}
	return f.files, nil
}
func (f *fakeAdapter) ReadFile(string, string) (string, error) {
	if f.readErr != nil {
		return "", f.readErr
	}
	return f.content, nil
}

type fakeRoom struct{}

func (fakeRoom) CreateRoom(context.Context, collaborator.CreateRoomInput) (string, error) { return "", nil }
func (fakeRoom) SendText(context.Context, string, string) error                           { return nil }
func (fakeRoom) SendHTML(context.Context, string, string, string) error                   { return nil }
func (fakeRoom) MirrorControl(context.Context, string, task.ControlRequest, task.ControlResult) error {
	return nil
}
func (fakeRoom) PostSummary(context.Context, string, collaborator.Summary) error { return nil }
func (fakeRoom) Invite(context.Context, string, []string) error                 { return nil }
func (fakeRoom) Kick(context.Context, string, string) error                     { return nil }
func (fakeRoom) SetTopic(context.Context, string, string) error                 { return nil }
func (fakeRoom) Leave(context.Context, string) error                            { return nil }
func (fakeRoom) Close(context.Context, string) error                            { return nil }

func newTestServer(t *testing.T, ad *fakeAdapter) (*Server, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.DefaultConfig())
	docs := workspace.New(workspace.NewMemStore(), workspace.DefaultConfig())
	orch := orchestrator.New(orchestrator.Config{ResponseDeadline: orchestrator.DefaultConfig().ResponseDeadline, ExecutionTimeout: orchestrator.DefaultConfig().ExecutionTimeout}, reg, docs, ad, nil, nil)
	ctrl := control.New(reg, ad, nil, docs, nil)
	return New(orch, reg, docs, ctrl, ad, fakeRoom{}), reg
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestExecuteTaskReturnsQueuedTask(t *testing.T) {
	ad := &fakeAdapter{result: task.ExecutionResult{Status: task.ExecSuccess}}
	s, _ := newTestServer(t, ad)

	rec := doRequest(t, s, http.MethodPost, "/tools/execute_task", ExecuteTaskRequest{
		CallerID:    "caller-1",
		Description: "do a thing",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ExecuteTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Nil(t, resp.Error)
}

func TestExecuteTaskRejectsMissingFields(t *testing.T) {
	ad := &fakeAdapter{}
	s, _ := newTestServer(t, ad)

	rec := doRequest(t, s, http.MethodPost, "/tools/execute_task", ExecuteTaskRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteTaskReturnsQueueFullAsDomainError(t *testing.T) {
	ad := &fakeAdapter{}
	reg := registry.New(registry.Config{MaxConcurrentTasks: 0, IdempotencyWindow: registry.DefaultConfig().IdempotencyWindow})
	docs := workspace.New(workspace.NewMemStore(), workspace.DefaultConfig())
	orch := orchestrator.New(orchestrator.DefaultConfig(), reg, docs, ad, nil, nil)
	ctrl := control.New(reg, ad, nil, docs, nil)
	s := New(orch, reg, docs, ctrl, ad, nil)

	rec := doRequest(t, s, http.MethodPost, "/tools/execute_task", ExecuteTaskRequest{
		CallerID:    "caller-1",
		Description: "do a thing",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ExecuteTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, DomainQueueFull, resp.Error.Code)
}

func TestGetTaskStatusReturnsNotFoundDomainError(t *testing.T) {
	ad := &fakeAdapter{}
	s, _ := newTestServer(t, ad)

	rec := doRequest(t, s, http.MethodGet, "/tools/get_task_status?task_id=does-not-exist", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp GetTaskStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, DomainTaskNotFound, resp.Error.Code)
}

func TestGetTaskStatusReturnsRecentEvents(t *testing.T) {
	ad := &fakeAdapter{result: task.ExecutionResult{Status: task.ExecSuccess, Output: "done"}}
	s, reg := newTestServer(t, ad)

	rec := doRequest(t, s, http.MethodPost, "/tools/execute_task", ExecuteTaskRequest{
		CallerID:    "caller-1",
		Description: "do a thing",
		Sync:        true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var submitResp ExecuteTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitResp))

	waitForTerminalStatus(t, reg, submitResp.TaskID)

	rec = doRequest(t, s, http.MethodGet, "/tools/get_task_status?task_id="+submitResp.TaskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp GetTaskStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, task.StatusCompleted, resp.Status)
}

func TestSendTaskControlRejectsUnknownSignal(t *testing.T) {
	ad := &fakeAdapter{}
	s, _ := newTestServer(t, ad)

	rec := doRequest(t, s, http.MethodPost, "/tools/send_task_control", SendTaskControlRequest{
		TaskID:  "t1",
		Control: "explode",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendTaskControlReturnsIllegalTransitionAsDomainError(t *testing.T) {
	ad := &fakeAdapter{}
	s, _ := newTestServer(t, ad)

	rec := doRequest(t, s, http.MethodPost, "/tools/send_task_control", SendTaskControlRequest{
		TaskID:  "unknown-task",
		Control: "cancel",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SendTaskControlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
}

func TestGetTaskFilesReturnsUnsupportedDomainErrorForBackendA(t *testing.T) {
	ad := &fakeAdapter{} // files == nil -> ErrUnsupported
	s, _ := newTestServer(t, ad)

	rec := doRequest(t, s, http.MethodGet, "/tools/get_task_files?task_id=t1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp GetTaskFilesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, DomainUnsupportedByBackend, resp.Error.Code)
}

func TestReadTaskFileRejectsOversizedContent(t *testing.T) {
	big := make([]byte, maxReadableFileSize+1)
	ad := &fakeAdapter{files: []string{"big.txt"}, content: string(big)}
	s, _ := newTestServer(t, ad)

	rec := doRequest(t, s, http.MethodGet, "/tools/read_task_file?task_id=t1&file_path=big.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ReadTaskFileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, DomainFileTooLarge, resp.Error.Code)
	assert.Empty(t, resp.Content)
}

func TestPingAndHealth(t *testing.T) {
	ad := &fakeAdapter{}
	s, _ := newTestServer(t, ad)

	rec := doRequest(t, s, http.MethodGet, "/tools/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/tools/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.MaxConcurrent)
}

func waitForTerminalStatus(t *testing.T, reg *registry.Registry, taskID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := reg.Get(taskID)
		if ok && snap.Status.Terminal() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal status in time", taskID)
}
