package chat

import (
	"regexp"
	"strings"
	"time"

	"chatClient/pkg/api"
)

var linkPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"']+`)

// Link is a URL found in the text of a message.
type Link struct {
	MessageId api.ID    `json:"messageId"`
	SenderId  api.ID    `json:"senderId"`
	URL       string    `json:"url"`
	SentAt    time.Time `json:"sentAt"`
}

// Media returns image and video messages, newest first.
func Media(messages []api.Message) []api.Message {
	return newestWhere(messages, func(m api.Message) bool {
		return m.MessageType == api.MessageImage || m.MessageType == api.MessageVideo
	})
}

// Files returns document and audio messages, newest first.
func Files(messages []api.Message) []api.Message {
	return newestWhere(messages, func(m api.Message) bool {
		return m.MessageType == api.MessageFile || m.MessageType == api.MessageAudio
	})
}

// Links extracts every URL shared in text messages, newest first.
func Links(messages []api.Message) []Link {
	var links []Link
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.MessageType != api.MessageText || m.Failed {
			continue
		}
		for _, u := range linkPattern.FindAllString(m.Content, -1) {
			links = append(links, Link{
				MessageId: m.Id,
				SenderId:  m.SenderId,
				URL:       strings.TrimRight(u, ".,;:!?)"),
				SentAt:    m.CreatedAt,
			})
		}
	}
	return links
}

// Search matches query against message text and attachment names, ignoring
// case. A blank query matches nothing.
func Search(messages []api.Message, query string) []api.Message {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	return newestWhere(messages, func(m api.Message) bool {
		return strings.Contains(strings.ToLower(m.Content), query) ||
			(m.FileName != "" && strings.Contains(strings.ToLower(m.FileName), query))
	})
}

func newestWhere(messages []api.Message, keep func(api.Message) bool) []api.Message {
	var out []api.Message
	for i := len(messages) - 1; i >= 0; i-- {
		if keep(messages[i]) {
			out = append(out, messages[i])
		}
	}
	return out
}
