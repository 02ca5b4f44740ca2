package bsky

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// DefaultNotificationLimit matches the server-side default page size.
const DefaultNotificationLimit = 50

// ListNotifications returns the newest page of notifications for the account.
func (c *Client) ListNotifications(ctx context.Context, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = DefaultNotificationLimit
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	var out listNotificationsOutput
	if err := c.query(ctx, "app.bsky.notification.listNotifications", params, &out); err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

// MarkSeen marks every notification indexed before seenAt as read.
func (c *Client) MarkSeen(ctx context.Context, seenAt time.Time) error {
	input := map[string]string{"seenAt": seenAt.UTC().Format(time.RFC3339Nano)}
	return c.procedure(ctx, "app.bsky.notification.updateSeen", input, nil)
}
