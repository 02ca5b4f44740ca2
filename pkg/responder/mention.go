package responder

import (
	"context"
	"fmt"

	"github.com/koanbot/koanbot/pkg/bsky"
)

// Mention is either a TopLevel post or a ReplyTo inside an existing thread.
type Mention interface {
	MentionRef() bsky.StrongRef
	isMention()
}

// TopLevel is a mention that starts its own thread.
type TopLevel struct {
	Ref  bsky.StrongRef
	Post *bsky.PostRecord
}

// ReplyTo is a mention posted as a reply. Parent is the post the author
// answered and Root is the first post of the thread.
type ReplyTo struct {
	Ref    bsky.StrongRef
	Post   *bsky.PostRecord
	Parent bsky.StrongRef
	Root   bsky.StrongRef
}

func (m TopLevel) MentionRef() bsky.StrongRef { return m.Ref }
func (m ReplyTo) MentionRef() bsky.StrongRef  { return m.Ref }

func (TopLevel) isMention() {}
func (ReplyTo) isMention()  {}

// Classify decodes a mention notification and decides its shape.
func Classify(n bsky.Notification) (Mention, error) {
	ref := n.Ref()
	if !ref.Valid() {
		return nil, fmt.Errorf("%w: notification %q is missing uri or cid", ErrMalformedMention, n.URI)
	}
	post, err := n.Post()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMention, err)
	}
	if !post.IsReply() {
		return TopLevel{Ref: ref, Post: post}, nil
	}
	if !post.Reply.Parent.Valid() || !post.Reply.Root.Valid() {
		return nil, fmt.Errorf("%w: reply %s is missing parent or root", ErrMalformedMention, n.URI)
	}
	return ReplyTo{
		Ref:    ref,
		Post:   post,
		Parent: post.Reply.Parent,
		Root:   post.Reply.Root,
	}, nil
}

// Target is the text to rewrite and where the reply attaches.
type Target struct {
	Record *bsky.PostRecord
	Anchor bsky.ReplyRef
}

// Resolver finds the post a mention asks the bot to answer.
type Resolver struct {
	Threads ThreadFetcher
}

// Resolve returns the target of m. A reply targets its parent post while the
// reply itself anchors below the mention, keeping the thread root.
func (r Resolver) Resolve(ctx context.Context, m Mention) (Target, error) {
	switch m := m.(type) {
	case TopLevel:
		return Target{
			Record: m.Post,
			Anchor: bsky.ReplyRef{Root: m.Ref, Parent: m.Ref},
		}, nil
	case ReplyTo:
		post, err := r.Threads.FetchThread(ctx, m.Parent.URI, 1)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %s: %w", ErrThreadUnavailable, m.Parent.URI, err)
		}
		if post == nil {
			return Target{}, fmt.Errorf("%w: %s has no post", ErrThreadUnavailable, m.Parent.URI)
		}
		return Target{
			Record: &post.Record,
			Anchor: bsky.ReplyRef{Root: m.Root, Parent: m.Ref},
		}, nil
	default:
		return Target{}, fmt.Errorf("%w: unknown mention type %T", ErrMalformedMention, m)
	}
}
