package rpc

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tarsybroker/broker/pkg/adapter"
	"github.com/tarsybroker/broker/pkg/orchestrator"
	"github.com/tarsybroker/broker/pkg/registry"
	"github.com/tarsybroker/broker/pkg/task"
	"github.com/tarsybroker/broker/pkg/workspace"
)

const recentEventsLimit = 5

func (s *Server) executeTask(c *gin.Context) {
	var req ExecuteTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := s.orch.Submit(c.Request.Context(), orchestrator.SubmitRequest{
		CallerID:       req.CallerID,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
		TimeoutMS:      req.TimeoutMS,
		Sync:           req.Sync,
		Observers:      req.Observers,
	})
	if err != nil {
		if err == registry.ErrQueueFull {
			c.JSON(http.StatusOK, ExecuteTaskResponse{
				Error: &DomainError{Code: DomainQueueFull, Message: err.Error()},
			})
			return
		}
		internalError(c, err.Error())
		return
	}

	c.JSON(http.StatusOK, ExecuteTaskResponse{
		TaskID:      result.TaskID,
		Status:      result.Status,
		WorkspaceID: result.WorkspaceID,
		Message:     result.Message,
	})
}

func (s *Server) getTaskStatus(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		badRequest(c, "task_id is required")
		return
	}

	snap, ok := s.reg.Get(taskID)
	if !ok {
		c.JSON(http.StatusOK, GetTaskStatusResponse{
			Error: &DomainError{Code: DomainTaskNotFound, Message: "unknown task: " + taskID},
		})
		return
	}

	resp := GetTaskStatusResponse{
		TaskID:       snap.ID,
		Status:       snap.Status,
		CreatedAt:    snap.CreatedAt,
		StartedAt:    snap.StartedAt,
		CompletedAt:  snap.CompletedAt,
		LastActivity: snap.LastActivity,
	}

	if snap.WorkspaceID != "" {
		doc, err := s.docs.Get(c.Request.Context(), workspace.Handle{CallerID: snap.CallerID, ID: snap.WorkspaceID})
		if err == nil {
			resp.RecentEvents = lastN(doc.Events, recentEventsLimit)
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) getTaskHistory(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		badRequest(c, "task_id is required")
		return
	}

	var q GetTaskHistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}

	snap, ok := s.reg.Get(taskID)
	if !ok {
		c.JSON(http.StatusOK, GetTaskHistoryResponse{
			Error: &DomainError{Code: DomainTaskNotFound, Message: "unknown task: " + taskID},
		})
		return
	}

	doc, err := s.docs.Get(c.Request.Context(), workspace.Handle{CallerID: snap.CallerID, ID: snap.WorkspaceID})
	if err != nil {
		c.JSON(http.StatusOK, GetTaskHistoryResponse{
			Error: &DomainError{Code: DomainTaskNotFound, Message: "workspace document unavailable: " + err.Error()},
		})
		return
	}

	events, hasMore := paginate(doc.Events, q.EventsOffset, q.EventsLimit)

	resp := GetTaskHistoryResponse{
		TaskID:      taskID,
		Events:      events,
		TotalEvents: len(doc.Events),
		HasMore:     hasMore,
	}
	if q.IncludeArtifacts {
		resp.Artifacts = doc.Artifacts
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) sendTaskMessage(c *gin.Context) {
	var req SendTaskMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	snap, ok := s.reg.Get(req.TaskID)
	if !ok {
		c.JSON(http.StatusOK, SendTaskMessageResponse{
			Error: &DomainError{Code: DomainTaskNotFound, Message: "unknown task: " + req.TaskID},
		})
		return
	}

	message := s.masker.MaskMetadata(req.Message)
	now := time.Now()

	if _, err := s.docs.AppendEvent(c.Request.Context(), workspace.Handle{CallerID: snap.CallerID, ID: snap.WorkspaceID}, workspace.Event{
		Type:      req.MessageType,
		Timestamp: now,
		Message:   message,
		Data:      req.Metadata,
	}); err != nil {
		internalError(c, err.Error())
		return
	}

	if s.room != nil && snap.RoomHandle != "" {
		_ = s.room.SendText(c.Request.Context(), snap.RoomHandle, message)
	}

	c.JSON(http.StatusOK, SendTaskMessageResponse{Accepted: true, Timestamp: now})
}

func (s *Server) sendTaskControl(c *gin.Context) {
	var req SendTaskControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	signal := task.ControlSignal(req.Control)
	switch signal {
	case task.SignalCancel, task.SignalPause, task.SignalResume:
	default:
		badRequest(c, "control must be one of cancel, pause, resume")
		return
	}

	result := s.ctrl.Signal(c.Request.Context(), task.ControlRequest{
		TaskID:      req.TaskID,
		Signal:      signal,
		Reason:      s.masker.MaskMetadata(req.Reason),
		RequestedBy: "rpc",
	})

	resp := SendTaskControlResponse{
		Success:        result.Success,
		PreviousStatus: result.PreviousStatus,
		NewStatus:      result.NewStatus,
	}
	if !result.Success {
		resp.Error = &DomainError{Code: DomainIllegalTransition, Message: result.Error}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getTaskFiles(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		badRequest(c, "task_id is required")
		return
	}

	paths, err := s.adapter.ListFiles(taskID)
	if err != nil {
		if err == adapter.ErrUnsupported {
			c.JSON(http.StatusOK, GetTaskFilesResponse{
				Error: &DomainError{Code: DomainUnsupportedByBackend, Message: err.Error()},
			})
			return
		}
		internalError(c, err.Error())
		return
	}

	c.JSON(http.StatusOK, GetTaskFilesResponse{Paths: paths})
}

func (s *Server) readTaskFile(c *gin.Context) {
	taskID := c.Query("task_id")
	filePath := c.Query("file_path")
	if taskID == "" || filePath == "" {
		badRequest(c, "task_id and file_path are required")
		return
	}

	content, err := s.adapter.ReadFile(taskID, filePath)
	if err != nil {
		if err == adapter.ErrUnsupported {
			c.JSON(http.StatusOK, ReadTaskFileResponse{
				Error: &DomainError{Code: DomainUnsupportedByBackend, Message: err.Error()},
			})
			return
		}
		internalError(c, err.Error())
		return
	}

	if len(content) > maxReadableFileSize {
		c.JSON(http.StatusOK, ReadTaskFileResponse{
			Size:  len(content),
			Error: &DomainError{Code: DomainFileTooLarge, Message: "file exceeds 1 MB limit"},
		})
		return
	}

	c.JSON(http.StatusOK, ReadTaskFileResponse{Content: content, Size: len(content)})
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, PingResponse{Status: "ok"})
}

func (s *Server) health(c *gin.Context) {
	h := s.reg.Health()
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       brokerVersion,
		ActiveTasks:   h.ActiveTasks,
		TotalTasks:    h.TotalTasks,
		MaxConcurrent: h.MaxConcurrent,
	})
}

// lastN returns the final n elements of events, or all of them if there
// are fewer than n.
func lastN(events []workspace.Event, n int) []workspace.Event {
	if len(events) <= n {
		return events
	}
	return events[len(events)-n:]
}

// paginate slices events by offset/limit, reporting whether more remain
// beyond the returned page. A non-positive limit returns everything from
// offset onward.
func paginate(events []workspace.Event, offset, limit int) ([]workspace.Event, bool) {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(events) {
		return []workspace.Event{}, false
	}
	if limit <= 0 {
		return events[offset:], false
	}
	end := offset + limit
	if end >= len(events) {
		return events[offset:], false
	}
	return events[offset:end], true
}
