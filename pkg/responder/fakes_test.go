package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koanbot/koanbot/pkg/bsky"
	"github.com/koanbot/koanbot/pkg/oracle"
)

func mentionNotification(t *testing.T, uri, cid, text string, reply *bsky.ReplyRef) bsky.Notification {
	t.Helper()
	record, err := json.Marshal(bsky.PostRecord{
		Type:      bsky.TypePost,
		Text:      text,
		CreatedAt: "2024-05-01T12:00:00Z",
		Reply:     reply,
	})
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	return bsky.Notification{
		URI:    uri,
		CID:    cid,
		Author: bsky.Actor{DID: "did:plc:author", Handle: "author.bsky.social"},
		Reason: bsky.ReasonMention,
		Record: record,
	}
}

type fakeSource struct {
	mu            sync.Mutex
	notifications []bsky.Notification
	listErr       error
	threads       map[string]*bsky.ThreadPost
	markSeenErr   error
	seen          []time.Time
	likes         []bsky.StrongRef
	journal       *journal
}

func (f *fakeSource) ListNotifications(ctx context.Context, limit int) ([]bsky.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]bsky.Notification(nil), f.notifications...), nil
}

func (f *fakeSource) MarkSeen(ctx context.Context, seenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, seenAt)
	f.journal.record("markSeen")
	return f.markSeenErr
}

func (f *fakeSource) FetchThread(ctx context.Context, uri string, depth int) (*bsky.ThreadPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	post, ok := f.threads[uri]
	if !ok {
		return nil, bsky.ErrPostNotFound
	}
	return post, nil
}

func (f *fakeSource) Like(ctx context.Context, subject bsky.StrongRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.likes = append(f.likes, subject)
	return nil
}

type fakePoster struct {
	mu      sync.Mutex
	posts   []bsky.PostRecord
	err     error
	journal *journal
}

func (f *fakePoster) Publish(ctx context.Context, post bsky.PostRecord) (bsky.StrongRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return bsky.StrongRef{}, f.err
	}
	f.posts = append(f.posts, post)
	f.journal.record("publish")
	return bsky.StrongRef{URI: "at://did:plc:bot/app.bsky.feed.post/reply", CID: "bafyreply"}, nil
}

func (f *fakePoster) published() []bsky.PostRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bsky.PostRecord(nil), f.posts...)
}

type scriptedReply struct {
	text  string
	none  bool
	err   error
	block bool
}

// fakeOracle replays a script of replies. Once the script runs out the last
// entry repeats.
type fakeOracle struct {
	mu      sync.Mutex
	script  []scriptedReply
	prompts []string
}

func (f *fakeOracle) Complete(ctx context.Context, prompt string) (*oracle.Completion, error) {
	f.mu.Lock()
	idx := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	reply := f.script[idx]
	f.mu.Unlock()

	if reply.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if reply.err != nil {
		return nil, reply.err
	}
	if reply.none {
		return &oracle.Completion{}, nil
	}
	return &oracle.Completion{Choices: []string{reply.text}}, nil
}

func (f *fakeOracle) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeAnnotator struct {
	facets []bsky.Facet
	embed  *bsky.Embed
	err    error
}

func (f fakeAnnotator) Annotate(ctx context.Context, text string) ([]bsky.Facet, *bsky.Embed, error) {
	return f.facets, f.embed, f.err
}

// syncBuffer collects log output written from concurrent handlers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// journal records calls across fakes in the order they happened.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) record(entry string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// barrierOracle holds every caller until n calls are in flight at once.
type barrierOracle struct {
	n       int32
	wait    time.Duration
	entered atomic.Int32
	once    sync.Once
	all     chan struct{}
}

func newBarrierOracle(n int) *barrierOracle {
	return &barrierOracle{n: int32(n), wait: 2 * time.Second, all: make(chan struct{})}
}

func (b *barrierOracle) Complete(ctx context.Context, prompt string) (*oracle.Completion, error) {
	if b.entered.Add(1) >= b.n {
		b.once.Do(func() { close(b.all) })
	}
	select {
	case <-b.all:
		return &oracle.Completion{Choices: []string{"Together."}}, nil
	case <-time.After(b.wait):
		return nil, errBarrierTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// gaugeOracle tracks the peak number of concurrent calls.
type gaugeOracle struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (g *gaugeOracle) Complete(ctx context.Context, prompt string) (*oracle.Completion, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	g.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
	return &oracle.Completion{Choices: []string{"One at a time."}}, nil
}

var (
	errBoom           = errors.New("boom")
	errBarrierTimeout = errors.New("barrier not reached")
)
