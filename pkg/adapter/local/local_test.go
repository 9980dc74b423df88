package local

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsybroker/broker/pkg/adapter"
	"github.com/tarsybroker/broker/pkg/task"
)

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return Config{
		Command:     []string{"/bin/sh", "-c", "printf '%s' \"$0\""},
		WorkDir:     dir,
		GracePeriod: time.Second,
	}
}

func TestExecuteSuccessEmitsStartAndComplete(t *testing.T) {
	a := New(testConfig(t))
	require.NoError(t, os.MkdirAll(testWorkDir(t, a, "task-1"), 0o755))

	var events []task.EventType
	result, err := a.Execute(context.Background(), task.ExecutionRequest{
		TaskID: "task-1",
		Prompt: "hello",
	}, func(ev task.Event) { events = append(events, ev.Type) })

	require.NoError(t, err)
	assert.Equal(t, task.ExecSuccess, result.Status)
	assert.Contains(t, result.Output, "hello")
	assert.Equal(t, []task.EventType{task.EventStart, task.EventComplete}, events)
}

func TestExecuteTimeoutReportsTimeoutStatus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Command = []string{"/bin/sh", "-c", "sleep 5"}
	cfg.GracePeriod = 50 * time.Millisecond
	a := New(cfg)
	require.NoError(t, os.MkdirAll(testWorkDir(t, a, "task-2"), 0o755))

	var events []task.EventType
	result, err := a.Execute(context.Background(), task.ExecutionRequest{
		TaskID:    "task-2",
		Prompt:    "",
		TimeoutMS: 50,
	}, func(ev task.Event) { events = append(events, ev.Type) })

	require.NoError(t, err)
	assert.Equal(t, task.ExecTimeout, result.Status)
	assert.Contains(t, events, task.EventStart)
	assert.Contains(t, events, task.EventError)
}

func TestAbortUnknownTaskReturnsFalse(t *testing.T) {
	a := New(testConfig(t))
	assert.False(t, a.Abort("does-not-exist"))
}

func TestPauseResumeUnknownTaskReturnsFalse(t *testing.T) {
	a := New(testConfig(t))
	assert.False(t, a.Pause("does-not-exist"))
	assert.False(t, a.Resume("does-not-exist"))
}

// Backend A never supports the file-browsing operations; those are
// Backend B only.
func TestListFilesAndReadFileUnsupported(t *testing.T) {
	a := New(testConfig(t))
	_, err := a.ListFiles("any")
	assert.ErrorIs(t, err, adapter.ErrUnsupported)
	_, err = a.ReadFile("any", "path")
	assert.ErrorIs(t, err, adapter.ErrUnsupported)
}

func TestRingBufferRetainsOnlyTrailingWindow(t *testing.T) {
	rb := newRingBuffer(8)
	_, _ = rb.Write([]byte("0123456789"))
	assert.Equal(t, "23456789", rb.String())
}

func testWorkDir(t *testing.T, a *Adapter, taskID string) string {
	t.Helper()
	return taskWorkDir(a.cfg.WorkDir, taskID)
}
