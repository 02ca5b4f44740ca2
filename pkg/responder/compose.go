package responder

import (
	"context"
	"time"

	"github.com/koanbot/koanbot/pkg/bsky"
)

// Composer builds reply records.
type Composer struct {
	// Annotator is optional. Without it replies are plain text.
	Annotator Annotator
	Langs     []string
	Now       func() time.Time
}

// Compose returns a reply carrying text anchored at anchor. Annotation
// failures are logged and the reply falls back to plain text.
func (c Composer) Compose(ctx context.Context, text string, anchor bsky.ReplyRef) bsky.PostRecord {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	reply := anchor
	post := bsky.PostRecord{
		Type:      bsky.TypePost,
		Text:      text,
		CreatedAt: now().UTC().Format(time.RFC3339),
		Reply:     &reply,
	}
	if len(c.Langs) > 0 {
		post.Langs = append([]string(nil), c.Langs...)
	}
	if c.Annotator == nil {
		return post
	}
	facets, embed, err := c.Annotator.Annotate(ctx, text)
	if err != nil {
		loggerFrom(ctx).Warn().Err(err).Msg("Failed to annotate reply, posting plain text")
		return post
	}
	post.Facets = facets
	post.Embed = embed
	return post
}
