// Package slack implements collaborator.RoomBackend over the Slack API.
// A "room" is a thread in a single fixed channel: CreateRoom posts the
// opening message and returns "<channel>:<thread_ts>" as the handle;
// every other operation posts a threaded reply or acts on the channel
// itself. Adapted from the teacher's Slack notification service —
// thread-by-fingerprint reuse, Block Kit message construction, and the
// nil-tolerant fail-open posting style carry over unchanged.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"
)

// api is the subset of the slack-go client this package calls, narrowed
// so tests can supply a fake without hitting the network.
type api interface {
	PostMessageContext(ctx context.Context, channelID string, opts ...goslack.MsgOption) (string, string, error)
	GetConversationHistoryContext(ctx context.Context, params *goslack.GetConversationHistoryParameters) (*goslack.GetConversationHistoryResponse, error)
	InviteUsersToConversationContext(ctx context.Context, channelID string, users ...string) (*goslack.Channel, error)
	KickUserFromConversationContext(ctx context.Context, channelID, user string) error
	SetTopicOfConversationContext(ctx context.Context, channelID, topic string) (*goslack.Channel, error)
	LeaveConversationContext(ctx context.Context, channelID string) (bool, error)
}

// Client is a thin wrapper around the slack-go SDK.
type Client struct {
	api       api
	channelID string
	logger    *slog.Logger
}

// NewClient creates a Slack API client for the given bot token and
// channel. Every task's room is a thread within this one channel.
func NewClient(token, channelID string) *Client {
	return &Client{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "slack-client"),
	}
}

// NewClientWithAPIURL creates a Slack API client that targets a custom
// API URL, for testing against a mock server.
func NewClientWithAPIURL(token, channelID, apiURL string) *Client {
	return &Client{
		api:       goslack.New(token, goslack.OptionAPIURL(apiURL)),
		channelID: channelID,
		logger:    slog.Default().With("component", "slack-client"),
	}
}

// postMessage sends blocks to the channel, optionally as a threaded
// reply to threadTS.
func (c *Client) postMessage(ctx context.Context, blocks []goslack.Block, threadTS string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []goslack.MsgOption{goslack.MsgOptionBlocks(blocks...)}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}

	_, ts, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return ts, nil
}

// findMessageByFingerprint searches recent channel history for a message
// containing the given fingerprint text. Pages through up to 1000
// messages from the last 24 hours. Returns the message timestamp (ts)
// for threading, or empty string if not found.
func (c *Client) findMessageByFingerprint(ctx context.Context, fingerprint string) (string, error) {
	oldest := fmt.Sprintf("%d", time.Now().Add(-24*time.Hour).Unix())
	normalizedFingerprint := normalizeText(fingerprint)

	params := &goslack.GetConversationHistoryParameters{
		ChannelID: c.channelID,
		Oldest:    oldest,
		Limit:     200,
	}

	const maxPages = 5
	for page := 0; page < maxPages; page++ {
		history, err := c.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return "", fmt.Errorf("conversations.history failed: %w", err)
		}

		for _, msg := range history.Messages {
			text := collectMessageText(msg)
			if strings.Contains(normalizeText(text), normalizedFingerprint) {
				return msg.Timestamp, nil
			}
		}

		if !history.HasMore || history.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = history.ResponseMetaData.NextCursor
	}

	return "", nil
}
