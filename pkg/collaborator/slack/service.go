package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tarsybroker/broker/pkg/collaborator"
	"github.com/tarsybroker/broker/pkg/task"
)

// Config holds the parameters needed to construct a Service.
type Config struct {
	Token   string
	Channel string
}

// Service implements collaborator.RoomBackend over a single Slack
// channel, using one thread per task as the room.
type Service struct {
	client    *Client
	channelID string
	logger    *slog.Logger
}

// New creates a Service, or nil if Token or Channel is unset — matching
// the teacher's nil-tolerant singleton pattern, so a broker deployed
// with rooms_enabled=false never needs a non-nil stub.
func New(cfg Config) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:    NewClient(cfg.Token, cfg.Channel),
		channelID: cfg.Channel,
		logger:    slog.Default().With("component", "slack-room-backend"),
	}
}

// NewWithClient builds a Service backed by a pre-constructed Client,
// useful for tests that inject a fake api.
func NewWithClient(client *Client, channelID string) *Service {
	return &Service{
		client:    client,
		channelID: channelID,
		logger:    slog.Default().With("component", "slack-room-backend"),
	}
}

var _ collaborator.RoomBackend = (*Service)(nil)

// CreateRoom posts the opening message for a task and returns the
// resulting thread as a room handle. Invitees are added as a follow-up
// best-effort call; a failure there does not fail room creation.
func (s *Service) CreateRoom(ctx context.Context, input collaborator.CreateRoomInput) (string, error) {
	if s == nil {
		return "", nil
	}

	blocks := buildOpeningMessage(input.Name, input.Topic)
	ts, err := s.client.postMessage(ctx, blocks, "", 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("slack: create room: %w", err)
	}

	if len(input.Invitees) > 0 {
		if _, err := s.client.api.InviteUsersToConversationContext(ctx, s.channelID, input.Invitees...); err != nil {
			s.logger.Warn("slack: failed to invite participants", "task_id", input.TaskID, "error", err)
		}
	}

	return roomHandle(s.channelID, ts), nil
}

// SendText posts a plaintext message threaded under the room.
func (s *Service) SendText(ctx context.Context, handle, text string) error {
	if s == nil {
		return nil
	}
	_, threadTS, ok := splitHandle(handle)
	if !ok {
		return fmt.Errorf("slack: malformed room handle %q", handle)
	}
	_, err := s.client.postMessage(ctx, buildTextMessage(text), threadTS, 5*time.Second)
	return err
}

// SendHTML posts a rich message threaded under the room. Slack has no
// HTML message type, so html is rendered as markdown blocks; if block
// posting fails, plaintextFallback is sent as a bare text message.
func (s *Service) SendHTML(ctx context.Context, handle, html, plaintextFallback string) error {
	if s == nil {
		return nil
	}
	_, threadTS, ok := splitHandle(handle)
	if !ok {
		return fmt.Errorf("slack: malformed room handle %q", handle)
	}
	if _, err := s.client.postMessage(ctx, buildTextMessage(html), threadTS, 5*time.Second); err != nil {
		s.logger.Warn("slack: rich message failed, falling back to plaintext", "error", err)
		_, err := s.client.postMessage(ctx, buildTextMessage(plaintextFallback), threadTS, 5*time.Second)
		return err
	}
	return nil
}

// MirrorControl posts a control-signal notice threaded under the room.
func (s *Service) MirrorControl(ctx context.Context, handle string, req task.ControlRequest, result task.ControlResult) error {
	if s == nil {
		return nil
	}
	_, threadTS, ok := splitHandle(handle)
	if !ok {
		return fmt.Errorf("slack: malformed room handle %q", handle)
	}
	_, err := s.client.postMessage(ctx, buildControlMessage(req, result), threadTS, 5*time.Second)
	return err
}

// PostSummary posts the terminal-status summary message threaded under
// the room.
func (s *Service) PostSummary(ctx context.Context, handle string, summary collaborator.Summary) error {
	if s == nil {
		return nil
	}
	_, threadTS, ok := splitHandle(handle)
	if !ok {
		return fmt.Errorf("slack: malformed room handle %q", handle)
	}
	_, err := s.client.postMessage(ctx, buildSummaryMessage(summary), threadTS, 10*time.Second)
	return err
}

// Invite adds participants to the room's channel.
func (s *Service) Invite(ctx context.Context, handle string, who []string) error {
	if s == nil || len(who) == 0 {
		return nil
	}
	channelID, _, ok := splitHandle(handle)
	if !ok {
		return fmt.Errorf("slack: malformed room handle %q", handle)
	}
	_, err := s.client.api.InviteUsersToConversationContext(ctx, channelID, who...)
	return err
}

// Kick removes a participant from the room's channel.
func (s *Service) Kick(ctx context.Context, handle, who string) error {
	if s == nil {
		return nil
	}
	channelID, _, ok := splitHandle(handle)
	if !ok {
		return fmt.Errorf("slack: malformed room handle %q", handle)
	}
	return s.client.api.KickUserFromConversationContext(ctx, channelID, who)
}

// SetTopic updates the room channel's topic.
func (s *Service) SetTopic(ctx context.Context, handle, topic string) error {
	if s == nil {
		return nil
	}
	channelID, _, ok := splitHandle(handle)
	if !ok {
		return fmt.Errorf("slack: malformed room handle %q", handle)
	}
	_, err := s.client.api.SetTopicOfConversationContext(ctx, channelID, topic)
	return err
}

// Leave removes the bot's own presence from the room's channel.
func (s *Service) Leave(ctx context.Context, handle string) error {
	if s == nil {
		return nil
	}
	channelID, _, ok := splitHandle(handle)
	if !ok {
		return fmt.Errorf("slack: malformed room handle %q", handle)
	}
	_, err := s.client.api.LeaveConversationContext(ctx, channelID)
	return err
}

// Close finalizes the room. Slack threads have no explicit close
// operation, so Close posts a closing notice into the thread.
func (s *Service) Close(ctx context.Context, handle string) error {
	return s.SendText(ctx, handle, ":lock: room closed")
}

// FindThreadByFingerprint exposes the teacher's fingerprint-reuse lookup
// for callers that need to attach a new task to an existing
// Slack-originated thread rather than creating a fresh one.
func (s *Service) FindThreadByFingerprint(ctx context.Context, fingerprint string) (handle string, found bool, err error) {
	if s == nil || fingerprint == "" {
		return "", false, nil
	}
	ts, err := s.client.findMessageByFingerprint(ctx, fingerprint)
	if err != nil {
		return "", false, err
	}
	if ts == "" {
		return "", false, nil
	}
	return roomHandle(s.channelID, ts), true, nil
}
