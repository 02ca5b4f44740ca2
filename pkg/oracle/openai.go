package oracle

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"
	"go.mau.fi/util/random"
	"golang.org/x/time/rate"

	"github.com/koanbot/koanbot/pkg/aierrors"
	"github.com/koanbot/koanbot/pkg/aitokens"
)

// DefaultModel is the chat model the bot was tuned against.
const DefaultModel = "gpt-3.5-turbo"

// Completion is one oracle response. Choices may be empty.
type Completion struct {
	Choices []string
	Model   string
}

// First returns the first choice, or "" when the oracle returned none.
func (c *Completion) First() string {
	if c == nil || len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0]
}

// Config controls how the oracle talks to the OpenAI API.
type Config struct {
	APIKey            string
	Organization      string
	BaseURL           string
	Model             string
	RequestsPerSecond float64
	Burst             int
}

// Option customizes an OpenAI oracle.
type Option func(*OpenAI)

// WithTokenCounter replaces the prompt token estimator. nil disables counting.
func WithTokenCounter(fn func(model, prompt string) (int, error)) Option {
	return func(o *OpenAI) { o.countTokens = fn }
}

// WithTokenObserver receives the estimated prompt token count of each request.
func WithTokenObserver(fn func(tokens int)) Option {
	return func(o *OpenAI) { o.observeTokens = fn }
}

// WithRequestOptions appends raw SDK request options.
func WithRequestOptions(opts ...option.RequestOption) Option {
	return func(o *OpenAI) { o.extra = append(o.extra, opts...) }
}

// OpenAI is a completion oracle backed by the Chat Completions API.
type OpenAI struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
	log     zerolog.Logger
	extra   []option.RequestOption

	countTokens   func(model, prompt string) (int, error)
	observeTokens func(tokens int)
}

// NewOpenAI creates an oracle from cfg.
func NewOpenAI(cfg Config, log zerolog.Logger, opts ...Option) *OpenAI {
	o := &OpenAI{
		model:       strings.TrimSpace(cfg.Model),
		log:         log.With().Str("component", "oracle").Str("provider", "openai").Logger(),
		countTokens: aitokens.CountPrompt,
	}
	if o.model == "" {
		o.model = DefaultModel
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	o.limiter = rate.NewLimiter(limit, burst)
	for _, opt := range opts {
		opt(o)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.Organization))
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, option.WithMiddleware(makeRequestTraceMiddleware(o.log)))
	reqOpts = append(reqOpts, o.extra...)
	o.client = openai.NewClient(reqOpts...)
	return o
}

// Model returns the configured model name.
func (o *OpenAI) Model() string {
	return o.model
}

// Complete requests a single chat completion for prompt.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (*Completion, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for oracle rate limit: %w", err)
	}
	if o.countTokens != nil {
		if tokens, err := o.countTokens(o.model, prompt); err == nil {
			if o.observeTokens != nil {
				o.observeTokens(tokens)
			}
			o.log.Debug().Int("prompt_tokens", tokens).Msg("Estimated prompt size")
		} else {
			o.log.Debug().Err(err).Msg("Prompt token estimate unavailable")
		}
	}

	req := openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	resp, err := o.client.Chat.Completions.New(ctx, req)
	if err != nil {
		o.log.Warn().Err(err).Str("error_kind", string(aierrors.Classify(err))).Str("model", o.model).Msg("Chat completion failed")
		return nil, fmt.Errorf("OpenAI chat completion failed: %w", err)
	}

	out := &Completion{Model: resp.Model}
	for _, choice := range resp.Choices {
		out.Choices = append(out.Choices, choice.Message.Content)
	}
	return out, nil
}

func newOutboundRequestID() string {
	return "kb_" + random.String(12)
}

func makeRequestTraceMiddleware(log zerolog.Logger) option.Middleware {
	traceLog := log.With().Str("component", "openai_http").Logger()
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		start := time.Now()
		requestID := strings.TrimSpace(req.Header.Get("x-request-id"))
		if requestID == "" {
			requestID = newOutboundRequestID()
			req.Header.Set("x-request-id", requestID)
		}

		resp, err := next(req)
		elapsedMs := time.Since(start).Milliseconds()
		if err != nil {
			traceLog.Error().
				Err(err).
				Str("request_id", requestID).
				Str("request_path", req.URL.Path).
				Int64("duration_ms", elapsedMs).
				Msg("Provider HTTP request failed")
			return nil, err
		}

		event := traceLog.Debug().
			Str("request_id", requestID).
			Str("request_path", req.URL.Path).
			Int("status_code", resp.StatusCode).
			Int64("duration_ms", elapsedMs)
		if upstream := strings.TrimSpace(resp.Header.Get("x-request-id")); upstream != "" {
			event = event.Str("upstream_request_id", upstream)
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			event.Msg("Provider HTTP response error")
		} else {
			event.Msg("Provider HTTP response")
		}
		return resp, nil
	}
}
