// Package metrics exposes conversation and provider counters in Prometheus
// format. The collector is fed from the event bus and owns a private
// registry, so several collectors can coexist in one process.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsim/internal/domain"
)

// Collector records domain events as Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	conversations   *prometheus.CounterVec
	rounds          prometheus.Counter
	turns           *prometheus.CounterVec
	turnDuration    *prometheus.HistogramVec
	turnRunes       *prometheus.CounterVec
	lengthExceeded  prometheus.Counter
	llmCalls        *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	llmDuration     *prometheus.HistogramVec
	singleChats     *prometheus.CounterVec
	sessionsCleared prometheus.Counter

	logger *slog.Logger
}

// New creates a collector whose metrics live under namespace.
func New(namespace string, logger *slog.Logger) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	c := &Collector{
		registry: reg,
		factory:  f,
		logger:   logger.With("component", "metrics"),
	}

	c.conversations = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversation_batches_total",
		Help:      "Conversation batches by outcome.",
	}, []string{"outcome"})

	c.rounds = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversation_rounds_total",
		Help:      "Completed conversation rounds.",
	})

	c.turns = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversation_turns_total",
		Help:      "Agent turns by provider.",
	}, []string{"provider"})

	c.turnDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "conversation_turn_duration_seconds",
		Help:      "Agent turn latency in seconds.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider"})

	c.turnRunes = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversation_response_characters_total",
		Help:      "Characters produced by agents.",
	}, []string{"provider"})

	c.lengthExceeded = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversation_response_length_exceeded_total",
		Help:      "Conversations whose accumulated response length crossed the limit.",
	})

	c.llmCalls = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_requests_total",
		Help:      "LLM requests by provider, model and status.",
	}, []string{"provider", "model", "status"})

	c.llmTokens = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_tokens_used_total",
		Help:      "Tokens reported by providers.",
	}, []string{"provider", "model"})

	c.llmDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_request_duration_seconds",
		Help:      "LLM request duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"provider", "model"})

	c.singleChats = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "single_chat_total",
		Help:      "Single-agent chat requests by outcome.",
	}, []string{"outcome"})

	c.sessionsCleared = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_cleared_total",
		Help:      "Sessions whose history was cleared.",
	})

	return c
}

// Gauge registers a gauge read from fn at scrape time.
func (c *Collector) Gauge(namespace, name, help string, fn func() float64) {
	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// Registry returns the collector's private registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Attach subscribes the collector to every event on bus.
func (c *Collector) Attach(bus domain.EventBus) (unsubscribe func()) {
	return bus.SubscribeAll(c.Observe)
}

// Observe records one event.
func (c *Collector) Observe(_ context.Context, ev domain.Event) {
	switch ev.Type {
	case domain.EventConversationStarted:
		c.conversations.WithLabelValues("started").Inc()
	case domain.EventBatchPaused:
		c.conversations.WithLabelValues("batch_paused").Inc()
	case domain.EventConversationCompleted:
		c.conversations.WithLabelValues("completed").Inc()
	case domain.EventConversationStopped:
		c.conversations.WithLabelValues("stopped").Inc()
	case domain.EventConversationFailed:
		c.conversations.WithLabelValues("failed").Inc()
	case domain.EventRoundCompleted:
		c.rounds.Inc()
	case domain.EventResponseLengthExceeded:
		c.lengthExceeded.Inc()
	case domain.EventSessionCleared:
		c.sessionsCleared.Inc()
	case domain.EventSingleChat:
		c.singleChats.WithLabelValues("answered").Inc()
	case domain.EventGenerationStopped:
		c.singleChats.WithLabelValues("stopped").Inc()

	case domain.EventTurnCompleted:
		var p domain.TurnCompletedPayload
		if !c.decode(ev, &p) {
			return
		}
		provider := string(p.Provider)
		c.turns.WithLabelValues(provider).Inc()
		c.turnDuration.WithLabelValues(provider).Observe(p.Duration.Seconds())
		c.turnRunes.WithLabelValues(provider).Add(float64(p.Runes))

	case domain.EventLLMCallCompleted:
		var p domain.LLMCallPayload
		if !c.decode(ev, &p) {
			return
		}
		status := "ok"
		if p.Error != "" {
			status = "error"
		}
		c.llmCalls.WithLabelValues(p.Provider, p.Model, status).Inc()
		c.llmDuration.WithLabelValues(p.Provider, p.Model).Observe(p.Duration.Seconds())
		if p.TotalTokens > 0 {
			c.llmTokens.WithLabelValues(p.Provider, p.Model).Add(float64(p.TotalTokens))
		}
	}
}

func (c *Collector) decode(ev domain.Event, v any) bool {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		c.logger.Warn("metrics: bad event payload", "type", string(ev.Type), "error", err)
		return false
	}
	return true
}
