// Package collaborator defines the Room backend contract the
// orchestrator depends on for per-task chat collaboration: room create
// with name/topic/invitees, send text/HTML messages (with plaintext
// fallback), invite, kick, set topic, leave.
package collaborator

import (
	"context"

	"github.com/tarsybroker/broker/pkg/task"
)

// CreateRoomInput describes a room to create for a task.
type CreateRoomInput struct {
	TaskID   string
	Name     string
	Topic    string
	Invitees []string
}

// Summary is the terminal-status message content posted to a room (or a
// caller notification) when a task finishes.
type Summary struct {
	TaskID       string
	Status       task.Status
	OutputPreview string
	ErrorMessage string
}

// RoomBackend is implemented by chat-room collaborators (Slack, or any
// other chat system). All methods are expected to be called fire-and-
// forget by the orchestrator and control handler: failures are logged by
// the caller, never propagated into task state.
type RoomBackend interface {
	// CreateRoom provisions a room for a task and returns its handle.
	CreateRoom(ctx context.Context, input CreateRoomInput) (handle string, err error)

	// SendText posts a plain text message to the room.
	SendText(ctx context.Context, handle, text string) error

	// SendHTML posts a rich message to the room. Implementations must
	// fall back to plaintext when the backend rejects HTML content.
	SendHTML(ctx context.Context, handle, html, plaintextFallback string) error

	// MirrorControl posts a structured control-signal notice to the
	// room. Satisfies pkg/control's RoomMirror interface.
	MirrorControl(ctx context.Context, handle string, req task.ControlRequest, result task.ControlResult) error

	// PostSummary posts the terminal-status summary message (HTML with
	// plaintext fallback).
	PostSummary(ctx context.Context, handle string, summary Summary) error

	// Invite adds participants to the room.
	Invite(ctx context.Context, handle string, who []string) error

	// Kick removes a participant from the room.
	Kick(ctx context.Context, handle, who string) error

	// SetTopic updates the room's topic.
	SetTopic(ctx context.Context, handle, topic string) error

	// Leave removes the broker's own presence from the room without
	// closing it.
	Leave(ctx context.Context, handle string) error

	// Close finalizes the room once a task reaches a terminal status.
	Close(ctx context.Context, handle string) error
}
