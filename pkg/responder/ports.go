package responder

import (
	"context"
	"time"

	"github.com/koanbot/koanbot/pkg/bsky"
	"github.com/koanbot/koanbot/pkg/oracle"
)

// ThreadFetcher loads a single post of a thread.
type ThreadFetcher interface {
	FetchThread(ctx context.Context, uri string, depth int) (*bsky.ThreadPost, error)
}

// NotificationSource is the account-side surface the cycle consumes.
type NotificationSource interface {
	ThreadFetcher
	ListNotifications(ctx context.Context, limit int) ([]bsky.Notification, error)
	MarkSeen(ctx context.Context, seenAt time.Time) error
	Like(ctx context.Context, subject bsky.StrongRef) error
}

// Poster publishes a reply.
type Poster interface {
	Publish(ctx context.Context, post bsky.PostRecord) (bsky.StrongRef, error)
}

// Oracle produces completions for a prompt.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (*oracle.Completion, error)
}

// Annotator derives rich text facets and an optional embed for reply text.
type Annotator interface {
	Annotate(ctx context.Context, text string) ([]bsky.Facet, *bsky.Embed, error)
}
