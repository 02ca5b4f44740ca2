package responder

import "github.com/koanbot/koanbot/pkg/bsky"

// FilterMentions keeps unread mention notifications in their original order.
func FilterMentions(notifications []bsky.Notification) []bsky.Notification {
	var out []bsky.Notification
	for _, n := range notifications {
		if n.Reason == bsky.ReasonMention && !n.IsRead {
			out = append(out, n)
		}
	}
	return out
}
