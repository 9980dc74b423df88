package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/tarsybroker/broker/pkg/collaborator"
	"github.com/tarsybroker/broker/pkg/task"
)

const maxBlockTextLength = 2900

var statusEmoji = map[task.Status]string{
	task.StatusCompleted: ":white_check_mark:",
	task.StatusFailed:    ":x:",
	task.StatusTimeout:   ":hourglass:",
	task.StatusCancelled: ":no_entry_sign:",
}

var statusLabel = map[task.Status]string{
	task.StatusCompleted: "Task Complete",
	task.StatusFailed:    "Task Failed",
	task.StatusTimeout:   "Task Timed Out",
	task.StatusCancelled: "Task Cancelled",
}

// buildOpeningMessage creates the Block Kit blocks for a room's opening
// message, posted by CreateRoom.
func buildOpeningMessage(name, topic string) []goslack.Block {
	text := fmt.Sprintf(":arrows_counterclockwise: *%s*", name)
	if topic != "" {
		text += fmt.Sprintf("\n%s", topic)
	}
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// buildTextMessage creates the Block Kit blocks for a plain text message.
func buildTextMessage(text string) []goslack.Block {
	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

// buildSummaryMessage creates the Block Kit blocks for a terminal-status
// summary message. Slack's markdown rendering stands in for the "HTML
// with plaintext fallback" requirement: the blocks carry the rich
// markdown text, and plaintextFallback is used unmodified whenever the
// backend rejects block content (see Client.postMessage's caller).
func buildSummaryMessage(summary collaborator.Summary) []goslack.Block {
	emoji := statusEmoji[summary.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[summary.Status]
	if label == "" {
		label = "Task " + string(summary.Status)
	}

	headerText := fmt.Sprintf("%s *%s*", emoji, label)
	if summary.ErrorMessage != "" {
		headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncate(summary.ErrorMessage))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}

	if summary.OutputPreview != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncate(summary.OutputPreview), false, false),
			nil, nil,
		))
	}

	return blocks
}

// buildControlMessage creates the Block Kit blocks for a control-signal
// mirror notice.
func buildControlMessage(req task.ControlRequest, result task.ControlResult) []goslack.Block {
	text := fmt.Sprintf(":gear: control signal *%s* requested by `%s`", req.Signal, req.RequestedBy)
	if result.Success {
		text += fmt.Sprintf(" — %s → %s", result.PreviousStatus, result.NewStatus)
	} else {
		text += fmt.Sprintf(" — rejected: %s", result.Error)
	}
	return buildTextMessage(text)
}

func truncate(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
