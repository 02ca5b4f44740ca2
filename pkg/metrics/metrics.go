// Package metrics exposes Prometheus collectors for the responder.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "koanbot"

// Metrics holds the bot's collectors.
type Metrics struct {
	cycles        *prometheus.CounterVec
	mentions      *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	promptTokens  prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Scheduled cycles by result.",
		}, []string{"result"}),
		mentions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mentions_total",
			Help:      "Handled mentions by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_attempts_total",
			Help:      "Completion attempts by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one fetch-and-respond cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		promptTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens",
			Help:      "Estimated prompt size in tokens.",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 8),
		}),
	}
	for _, c := range []prometheus.Collector{m.cycles, m.mentions, m.attempts, m.cycleDuration, m.promptTokens} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(elapsed.Seconds())
}

// CountMention records the outcome of one mention.
func (m *Metrics) CountMention(outcome string) {
	if m == nil {
		return
	}
	m.mentions.WithLabelValues(outcome).Inc()
}

// CountAttempt records one completion attempt.
func (m *Metrics) CountAttempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

// ObservePromptTokens records the estimated size of a prompt.
func (m *Metrics) ObservePromptTokens(tokens int) {
	if m == nil {
		return
	}
	m.promptTokens.Observe(float64(tokens))
}

// Serve exposes gatherer on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
