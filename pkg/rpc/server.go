// Package rpc implements the broker's inbound JSON-RPC-ish tool surface:
// execute_task, get_task_status, get_task_history, send_task_message,
// send_task_control, get_task_files, read_task_file, ping, and health.
// Grounded on the teacher's gin-based pkg/api/handlers.go plumbing
// (request bind -> validate -> call collaborator -> shape response),
// restricted to request parsing and response shaping: no session cookie,
// CORS, or origin logic, which is genuinely out of scope here.
package rpc

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tarsybroker/broker/pkg/adapter"
	"github.com/tarsybroker/broker/pkg/collaborator"
	"github.com/tarsybroker/broker/pkg/control"
	"github.com/tarsybroker/broker/pkg/masking"
	"github.com/tarsybroker/broker/pkg/orchestrator"
	"github.com/tarsybroker/broker/pkg/registry"
	"github.com/tarsybroker/broker/pkg/version"
	"github.com/tarsybroker/broker/pkg/workspace"
)

// maxReadableFileSize rejects read_task_file for anything larger, per
// spec §6.
const maxReadableFileSize = 1 << 20 // 1 MB

// Server is the tool-surface HTTP server.
type Server struct {
	engine *gin.Engine

	orch    *orchestrator.Orchestrator
	reg     *registry.Registry
	docs    *workspace.Manager
	ctrl    *control.Handler
	adapter adapter.Adapter
	room    collaborator.RoomBackend // nil when rooms_enabled is false
	masker  *masking.Service
}

// New constructs a Server and registers its routes. room may be nil.
func New(orch *orchestrator.Orchestrator, reg *registry.Registry, docs *workspace.Manager, ctrl *control.Handler, ad adapter.Adapter, room collaborator.RoomBackend) *Server {
	s := &Server{
		orch:    orch,
		reg:     reg,
		docs:    docs,
		ctrl:    ctrl,
		adapter: ad,
		room:    room,
		masker:  masking.NewService(),
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler, for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	tools := s.engine.Group("/tools")
	tools.POST("/execute_task", s.executeTask)
	tools.GET("/get_task_status", s.getTaskStatus)
	tools.GET("/get_task_history", s.getTaskHistory)
	tools.POST("/send_task_message", s.sendTaskMessage)
	tools.POST("/send_task_control", s.sendTaskControl)
	tools.GET("/get_task_files", s.getTaskFiles)
	tools.GET("/read_task_file", s.readTaskFile)
	tools.GET("/ping", s.ping)
	tools.GET("/health", s.health)
}

// version is surfaced on /tools/health.
var brokerVersion = version.Full()
