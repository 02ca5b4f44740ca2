// Package responder turns unread Bluesky mentions into generated replies.
package responder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/koanbot/koanbot/pkg/bsky"
	"github.com/koanbot/koanbot/pkg/metrics"
)

// Deps are the collaborators a Responder talks to. Annotator and Metrics
// may be nil.
type Deps struct {
	Source    NotificationSource
	Poster    Poster
	Oracle    Oracle
	Annotator Annotator
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
}

// Options tune a Responder. Zero values take the package defaults.
type Options struct {
	NotificationLimit int
	LikeMentions      bool
	// MaxConcurrent caps parallel mention handlers. Zero means no limit.
	MaxConcurrent  int
	Prompt         PromptBuilder
	MaxLength      int
	MaxAttempts    int
	AttemptTimeout time.Duration
	Langs          []string
	ClaimTTL       time.Duration
}

// Mention outcomes used for logging and metrics.
const (
	OutcomePosted    = "posted"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
)

// CycleReport summarizes one cycle.
type CycleReport struct {
	ID       string
	Listed   int
	Selected int
	Posted   int
	Failed   int
	Skipped  int
}

// Responder runs fetch-and-respond cycles.
type Responder struct {
	deps      Deps
	opts      Options
	resolver  Resolver
	generator Generator
	composer  Composer
	claims    *Claims
	now       func() time.Time
}

// New wires a Responder.
func New(deps Deps, opts Options) *Responder {
	r := &Responder{
		deps:   deps,
		opts:   opts,
		claims: NewClaims(opts.ClaimTTL, 0),
		now:    time.Now,
	}
	r.resolver = Resolver{Threads: deps.Source}
	r.generator = Generator{
		Oracle:         deps.Oracle,
		MaxLength:      opts.MaxLength,
		MaxAttempts:    opts.MaxAttempts,
		AttemptTimeout: opts.AttemptTimeout,
		Metrics:        deps.Metrics,
	}
	r.composer = Composer{
		Annotator: deps.Annotator,
		Langs:     opts.Langs,
		Now:       func() time.Time { return r.now() },
	}
	return r
}

// RunCycle lists notifications, answers every unread mention concurrently
// and then marks notifications seen up to the moment the cycle started.
// Per-mention failures are logged and counted, never returned.
func (r *Responder) RunCycle(ctx context.Context) (CycleReport, error) {
	start := r.now()
	report := CycleReport{ID: uuid.NewString()}
	log := r.deps.Log.With().Str("cycle_id", report.ID).Logger()
	ctx = log.WithContext(ctx)

	result := "ok"
	defer func() {
		r.deps.Metrics.ObserveCycle(result, r.now().Sub(start))
	}()

	notifications, err := r.deps.Source.ListNotifications(ctx, r.opts.NotificationLimit)
	if err != nil {
		result = "list_failed"
		return report, fmt.Errorf("failed to list notifications: %w", err)
	}
	mentions := FilterMentions(notifications)
	report.Listed = len(notifications)
	report.Selected = len(mentions)
	log.Info().Int("notifications", report.Listed).Int("mentions", report.Selected).Msg("Found new mentions")

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	if r.opts.MaxConcurrent > 0 {
		g.SetLimit(r.opts.MaxConcurrent)
	}
	for _, n := range mentions {
		g.Go(func() error {
			outcome := r.handle(ctx, n)
			r.deps.Metrics.CountMention(outcome)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomePosted:
				report.Posted++
			case OutcomeDuplicate:
				report.Skipped++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := r.deps.Source.MarkSeen(ctx, start); err != nil {
		result = "mark_seen_failed"
		return report, fmt.Errorf("failed to mark notifications seen: %w", err)
	}
	if report.Failed > 0 {
		result = "partial"
	}
	log.Info().
		Int("posted", report.Posted).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Dur("elapsed", r.now().Sub(start)).
		Msg("Completed cycle")
	return report, nil
}

func (r *Responder) handle(ctx context.Context, n bsky.Notification) string {
	log := loggerFrom(ctx).With().
		Str("handler_id", xid.New().String()).
		Str("mention_uri", n.URI).
		Str("author", n.Author.Handle).
		Logger()
	ctx = log.WithContext(ctx)

	if !r.claims.Claim(n.URI) {
		log.Debug().Msg("Mention already claimed, skipping")
		return OutcomeDuplicate
	}
	ref, err := r.respond(ctx, n)
	if err != nil {
		// Nothing was posted, so a later cycle may try again.
		r.claims.Release(n.URI)
		log.Err(err).Msg("Failed to respond to mention")
		return OutcomeFailed
	}
	log.Info().Str("reply_uri", ref.URI).Msg("Responded to mention")
	return OutcomePosted
}

func (r *Responder) respond(ctx context.Context, n bsky.Notification) (bsky.StrongRef, error) {
	log := loggerFrom(ctx)

	mention, err := Classify(n)
	if err != nil {
		return bsky.StrongRef{}, err
	}
	target, err := r.resolver.Resolve(ctx, mention)
	if err != nil {
		return bsky.StrongRef{}, err
	}
	prompt := r.opts.Prompt.Build(target.Record.Text)
	log.Debug().Str("prompt", prompt).Msg("Built prompt")

	outcome := r.generator.Generate(ctx, prompt)
	var text string
	switch o := outcome.(type) {
	case Accepted:
		text = o.Text
		log.Debug().Int("attempts", o.Attempts).Str("completion", text).Msg("Accepted completion")
	case Exhausted:
		return bsky.StrongRef{}, o.AsError()
	}

	post := r.composer.Compose(ctx, text, target.Anchor)
	ref, err := r.deps.Poster.Publish(ctx, post)
	if err != nil {
		return bsky.StrongRef{}, fmt.Errorf("failed to publish reply: %w", err)
	}
	if r.opts.LikeMentions {
		if err := r.deps.Source.Like(ctx, mention.MentionRef()); err != nil {
			log.Warn().Err(err).Msg("Failed to like mention")
		}
	}
	return ref, nil
}
