package responder

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/koanbot/koanbot/pkg/bsky"
)

func TestFilterMentions(t *testing.T) {
	in := []bsky.Notification{
		{URI: "at://1", Reason: bsky.ReasonMention},
		{URI: "at://2", Reason: bsky.ReasonLike},
		{URI: "at://3", Reason: bsky.ReasonMention, IsRead: true},
		{URI: "at://4", Reason: bsky.ReasonReply},
		{URI: "at://5", Reason: bsky.ReasonMention},
	}
	got := FilterMentions(in)
	var uris []string
	for _, n := range got {
		uris = append(uris, n.URI)
	}
	if diff := cmp.Diff([]string{"at://1", "at://5"}, uris); diff != "" {
		t.Fatalf("filtered mentions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(got, FilterMentions(got)); diff != "" {
		t.Fatalf("filter is not idempotent (-first +second):\n%s", diff)
	}
	if len(FilterMentions(nil)) != 0 {
		t.Fatal("expected no mentions from empty input")
	}
}

func TestClassify(t *testing.T) {
	root := bsky.StrongRef{URI: "at://root", CID: "cid-root"}
	parent := bsky.StrongRef{URI: "at://parent", CID: "cid-parent"}

	top, err := Classify(mentionNotification(t, "at://m1", "cid-m1", "@bot hi", nil))
	if err != nil {
		t.Fatalf("top-level: %v", err)
	}
	if _, ok := top.(TopLevel); !ok {
		t.Fatalf("expected TopLevel, got %T", top)
	}

	reply, err := Classify(mentionNotification(t, "at://m2", "cid-m2", "@bot this", &bsky.ReplyRef{Root: root, Parent: parent}))
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	r, ok := reply.(ReplyTo)
	if !ok {
		t.Fatalf("expected ReplyTo, got %T", reply)
	}
	if r.Parent != parent || r.Root != root {
		t.Fatalf("unexpected refs: %+v", r)
	}
	if r.MentionRef() != (bsky.StrongRef{URI: "at://m2", CID: "cid-m2"}) {
		t.Fatalf("unexpected mention ref %+v", r.MentionRef())
	}
}

func TestClassifyMalformed(t *testing.T) {
	missingCID := mentionNotification(t, "at://m1", "", "hi", nil)
	badRecord := bsky.Notification{URI: "at://m2", CID: "c", Reason: bsky.ReasonMention, Record: []byte(`{"text":12}`)}
	noRecord := bsky.Notification{URI: "at://m3", CID: "c", Reason: bsky.ReasonMention}
	noRoot := mentionNotification(t, "at://m4", "c", "hi", &bsky.ReplyRef{Parent: bsky.StrongRef{URI: "at://p", CID: "c"}})

	for name, n := range map[string]bsky.Notification{
		"missing cid": missingCID,
		"bad record":  badRecord,
		"no record":   noRecord,
		"no root":     noRoot,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Classify(n); !errors.Is(err, ErrMalformedMention) {
				t.Fatalf("expected ErrMalformedMention, got %v", err)
			}
		})
	}
}

func TestResolveTopLevelAnchorsAtMention(t *testing.T) {
	m, err := Classify(mentionNotification(t, "at://m1", "cid-m1", "@bot hello there", nil))
	if err != nil {
		t.Fatal(err)
	}
	target, err := Resolver{Threads: &fakeSource{}}.Resolve(context.Background(), m)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := bsky.ReplyRef{
		Root:   bsky.StrongRef{URI: "at://m1", CID: "cid-m1"},
		Parent: bsky.StrongRef{URI: "at://m1", CID: "cid-m1"},
	}
	if diff := cmp.Diff(want, target.Anchor); diff != "" {
		t.Fatalf("anchor mismatch (-want +got):\n%s", diff)
	}
	if target.Record.Text != "@bot hello there" {
		t.Fatalf("unexpected target text %q", target.Record.Text)
	}
}

func TestResolveReplyTargetsParentAndKeepsRoot(t *testing.T) {
	root := bsky.StrongRef{URI: "at://root", CID: "cid-root"}
	parent := bsky.StrongRef{URI: "at://parent", CID: "cid-parent"}
	source := &fakeSource{threads: map[string]*bsky.ThreadPost{
		"at://parent": {URI: "at://parent", CID: "cid-parent", Record: bsky.PostRecord{Text: "the rain falls on the roof"}},
	}}
	m, err := Classify(mentionNotification(t, "at://m2", "cid-m2", "@bot this one", &bsky.ReplyRef{Root: root, Parent: parent}))
	if err != nil {
		t.Fatal(err)
	}

	target, err := Resolver{Threads: source}.Resolve(context.Background(), m)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if target.Record.Text != "the rain falls on the roof" {
		t.Fatalf("expected parent text, got %q", target.Record.Text)
	}
	want := bsky.ReplyRef{Root: root, Parent: bsky.StrongRef{URI: "at://m2", CID: "cid-m2"}}
	if diff := cmp.Diff(want, target.Anchor); diff != "" {
		t.Fatalf("anchor mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveMissingParentIsUnavailable(t *testing.T) {
	ref := bsky.StrongRef{URI: "at://gone", CID: "c"}
	m, err := Classify(mentionNotification(t, "at://m3", "cid-m3", "@bot", &bsky.ReplyRef{Root: ref, Parent: ref}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = Resolver{Threads: &fakeSource{}}.Resolve(context.Background(), m)
	if !errors.Is(err, ErrThreadUnavailable) {
		t.Fatalf("expected ErrThreadUnavailable, got %v", err)
	}
	if !errors.Is(err, bsky.ErrPostNotFound) {
		t.Fatalf("expected the fetch error to be wrapped, got %v", err)
	}
}
