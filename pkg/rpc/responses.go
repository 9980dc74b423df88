package rpc

import (
	"time"

	"github.com/tarsybroker/broker/pkg/task"
	"github.com/tarsybroker/broker/pkg/workspace"
)

// ExecuteTaskResponse is returned by execute_task.
type ExecuteTaskResponse struct {
	TaskID      string       `json:"task_id"`
	Status      task.Status  `json:"status"`
	WorkspaceID string       `json:"workspace_id"`
	Message     string       `json:"message,omitempty"`
	Error       *DomainError `json:"error,omitempty"`
}

// GetTaskStatusResponse is returned by get_task_status.
type GetTaskStatusResponse struct {
	TaskID       string            `json:"task_id"`
	Status       task.Status       `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    time.Time         `json:"started_at,omitempty"`
	CompletedAt  time.Time         `json:"completed_at,omitempty"`
	LastActivity time.Time         `json:"last_activity"`
	RecentEvents []workspace.Event `json:"recent_events"`
	Error        *DomainError      `json:"error,omitempty"`
}

// GetTaskHistoryResponse is returned by get_task_history.
type GetTaskHistoryResponse struct {
	TaskID      string               `json:"task_id"`
	Events      []workspace.Event    `json:"events"`
	Artifacts   []workspace.Artifact `json:"artifacts,omitempty"`
	TotalEvents int                  `json:"total_events"`
	HasMore     bool                 `json:"has_more"`
	Error       *DomainError         `json:"error,omitempty"`
}

// SendTaskMessageResponse is returned by send_task_message.
type SendTaskMessageResponse struct {
	Accepted  bool         `json:"accepted"`
	Timestamp time.Time    `json:"timestamp"`
	Error     *DomainError `json:"error,omitempty"`
}

// SendTaskControlResponse is returned by send_task_control.
type SendTaskControlResponse struct {
	Success        bool         `json:"success"`
	PreviousStatus task.Status  `json:"previous_status,omitempty"`
	NewStatus      task.Status  `json:"new_status,omitempty"`
	Error          *DomainError `json:"error,omitempty"`
}

// GetTaskFilesResponse is returned by get_task_files.
type GetTaskFilesResponse struct {
	Paths []string     `json:"paths"`
	Error *DomainError `json:"error,omitempty"`
}

// ReadTaskFileResponse is returned by read_task_file.
type ReadTaskFileResponse struct {
	Content string       `json:"content,omitempty"`
	Size    int          `json:"size"`
	Error   *DomainError `json:"error,omitempty"`
}

// PingResponse is returned by ping.
type PingResponse struct {
	Status string `json:"status"`
}

// HealthResponse is returned by health, grounded on pkg/queue/pool.go's
// PoolHealth shape.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	ActiveTasks   int    `json:"active_tasks"`
	TotalTasks    int    `json:"total_tasks"`
	MaxConcurrent int    `json:"max_concurrent"`
}
