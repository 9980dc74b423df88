package slack

import (
	"regexp"
	"strings"

	goslack "github.com/slack-go/slack"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func collectMessageText(msg goslack.Message) string {
	var parts []string
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	for _, att := range msg.Attachments {
		if att.Text != "" {
			parts = append(parts, att.Text)
		}
		if att.Fallback != "" {
			parts = append(parts, att.Fallback)
		}
	}
	return strings.Join(parts, " ")
}

// roomHandle encodes the channel and thread timestamp that together
// identify a room.
func roomHandle(channelID, threadTS string) string {
	return channelID + ":" + threadTS
}

// splitHandle decodes a room handle back into channel and thread
// timestamp. Returns ok=false if the handle is malformed.
func splitHandle(handle string) (channelID, threadTS string, ok bool) {
	idx := strings.IndexByte(handle, ':')
	if idx < 0 {
		return "", "", false
	}
	return handle[:idx], handle[idx+1:], true
}
