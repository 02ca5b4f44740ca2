package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/koanbot/koanbot/pkg/aierrors"
	"github.com/koanbot/koanbot/pkg/metrics"
)

const (
	DefaultMaxLength      = 300
	DefaultMaxAttempts    = 5
	DefaultAttemptTimeout = 30 * time.Second
)

var errEmptyCompletion = errors.New("oracle returned no usable completion")

// Outcome is the result of a generation loop: Accepted or Exhausted.
type Outcome interface {
	AttemptCount() int
	isOutcome()
}

// Accepted carries the first completion that passed validation.
type Accepted struct {
	Text     string
	Attempts int
}

// Exhausted means every attempt was rejected or failed. Err is the last cause.
type Exhausted struct {
	Attempts int
	Err      error
}

func (o Accepted) AttemptCount() int  { return o.Attempts }
func (o Exhausted) AttemptCount() int { return o.Attempts }

func (Accepted) isOutcome()  {}
func (Exhausted) isOutcome() {}

// AsError wraps ErrGenerationExhausted with the last failure.
func (o Exhausted) AsError() error {
	if o.Err == nil {
		return fmt.Errorf("%w after %d attempts", ErrGenerationExhausted, o.Attempts)
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrGenerationExhausted, o.Attempts, o.Err)
}

// Generator asks the oracle for completions until one fits.
type Generator struct {
	Oracle         Oracle
	MaxLength      int
	MaxAttempts    int
	AttemptTimeout time.Duration
	Metrics        *metrics.Metrics
}

func (g Generator) limits() (maxLength, maxAttempts int, timeout time.Duration) {
	maxLength, maxAttempts, timeout = g.MaxLength, g.MaxAttempts, g.AttemptTimeout
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return
}

// Generate runs the bounded completion loop for prompt. Empty and
// over-length candidates are regenerated. Oracle failures use up an attempt
// unless they cannot succeed on retry.
func (g Generator) Generate(ctx context.Context, prompt string) Outcome {
	maxLength, maxAttempts, timeout := g.limits()
	log := loggerFrom(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Exhausted{Attempts: attempt - 1, Err: err}
		}
		text, err := g.attempt(ctx, prompt, timeout)
		switch {
		case err != nil:
			lastErr = err
			kind := aierrors.Classify(err)
			g.Metrics.CountAttempt("error")
			log.Warn().Err(err).Int("attempt", attempt).Str("error_kind", string(kind)).Msg("Completion attempt failed")
			if ctx.Err() != nil || aierrors.IsPermanent(err) {
				return Exhausted{Attempts: attempt, Err: err}
			}
		case text == "":
			lastErr = errEmptyCompletion
			g.Metrics.CountAttempt("empty")
			log.Debug().Int("attempt", attempt).Msg("No valid completion found, regenerating")
		case utf8.RuneCountInString(text) > maxLength:
			n := utf8.RuneCountInString(text)
			lastErr = fmt.Errorf("completion has %d characters, limit is %d", n, maxLength)
			g.Metrics.CountAttempt("too_long")
			log.Debug().Int("attempt", attempt).Int("length", n).Int("max_length", maxLength).Msg("Completion too long, regenerating")
		default:
			g.Metrics.CountAttempt("accepted")
			return Accepted{Text: text, Attempts: attempt}
		}
	}
	return Exhausted{Attempts: maxAttempts, Err: lastErr}
}

func (g Generator) attempt(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := g.Oracle.Complete(attemptCtx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.First()), nil
}
