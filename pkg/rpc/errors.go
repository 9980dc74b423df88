package rpc

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Transport-level JSON-RPC error codes (spec §6). These are distinct
// from domain errors, which are returned as structured fields inside a
// 200 tool result rather than as transport failures.
const (
	codeBadRequest     = -32000
	codeNotFoundOrAuth = -32001
	codeInternal       = -32603
)

// rpcError is the transport-level error envelope written for malformed
// requests, unknown sessions, and unexpected internal failures.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Domain error codes embedded inside a tool result, matching spec §6's
// "domain errors are structured objects inside the tool result, not
// transport errors".
const (
	DomainQueueFull            = "QUEUE_FULL"
	DomainTaskNotFound         = "TASK_NOT_FOUND"
	DomainIllegalTransition    = "ILLEGAL_TRANSITION"
	DomainUnsupportedByBackend = "UNSUPPORTED_BY_BACKEND"
	DomainFileTooLarge         = "FILE_TOO_LARGE"
)

// DomainError is embedded in a tool's JSON result on a known failure
// mode. It never changes the HTTP status code: the request reached the
// handler and was processed, it just didn't succeed.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, rpcError{Code: codeBadRequest, Message: message})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, rpcError{Code: codeNotFoundOrAuth, Message: message})
}

func internalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, rpcError{Code: codeInternal, Message: message})
}
