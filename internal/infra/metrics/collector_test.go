package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsim/internal/domain"
	"chatsim/internal/infra/logger"
)

func TestCollectorConversationOutcomes(t *testing.T) {
	c := New("test", logger.Discard())
	ctx := context.Background()

	c.Observe(ctx, domain.NewEvent(domain.EventConversationStarted, "s1", nil))
	c.Observe(ctx, domain.NewEvent(domain.EventBatchPaused, "s1", nil))
	c.Observe(ctx, domain.NewEvent(domain.EventConversationStarted, "s1", nil))
	c.Observe(ctx, domain.NewEvent(domain.EventConversationCompleted, "s1", nil))
	c.Observe(ctx, domain.NewEvent(domain.EventRoundCompleted, "s1", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.conversations.WithLabelValues("started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conversations.WithLabelValues("batch_paused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conversations.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rounds))
}

func TestCollectorTurnsAndLLMCalls(t *testing.T) {
	c := New("test", logger.Discard())
	ctx := context.Background()

	c.Observe(ctx, domain.NewEvent(domain.EventTurnCompleted, "s1", domain.TurnCompletedPayload{
		Round: 1, Agent: "Agent A", Provider: domain.ProviderOpenAI, Runes: 42, Duration: time.Second,
	}))
	c.Observe(ctx, domain.NewEvent(domain.EventLLMCallCompleted, "", domain.LLMCallPayload{
		Provider: "openai", Model: "gpt-4o-mini", TotalTokens: 120, Duration: time.Second,
	}))
	c.Observe(ctx, domain.NewEvent(domain.EventLLMCallCompleted, "", domain.LLMCallPayload{
		Provider: "openai", Model: "gpt-4o-mini", Error: "boom",
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.turns.WithLabelValues("openai")))
	assert.Equal(t, 42.0, testutil.ToFloat64(c.turnRunes.WithLabelValues("openai")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.llmCalls.WithLabelValues("openai", "gpt-4o-mini", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.llmCalls.WithLabelValues("openai", "gpt-4o-mini", "error")))
	assert.Equal(t, 120.0, testutil.ToFloat64(c.llmTokens.WithLabelValues("openai", "gpt-4o-mini")))
}

func TestCollectorIgnoresBadPayload(t *testing.T) {
	c := New("test", logger.Discard())
	c.Observe(context.Background(), domain.Event{Type: domain.EventTurnCompleted, Payload: []byte("{")})
	assert.Equal(t, 0, testutil.CollectAndCount(c.turns))
}

func TestCollectorHandlerServesGauges(t *testing.T) {
	c := New("test", logger.Discard())
	c.Gauge("test", "sessions_active", "Known sessions.", func() float64 { return 7 })
	c.Observe(context.Background(), domain.NewEvent(domain.EventSessionCleared, "s1", nil))

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "test_sessions_active 7")
	assert.Contains(t, string(body), "test_sessions_cleared_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}

type fakeBus struct {
	handler domain.EventHandler
}

func (b *fakeBus) Publish(ctx context.Context, ev domain.Event)           { b.handler(ctx, ev) }
func (b *fakeBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *fakeBus) SubscribeAll(h domain.EventHandler) func() {
	b.handler = h
	return func() {}
}
func (b *fakeBus) Close() {}

func TestCollectorAttach(t *testing.T) {
	c := New("test", logger.Discard())
	bus := &fakeBus{}
	c.Attach(bus)

	bus.Publish(context.Background(), domain.NewEvent(domain.EventGenerationStopped, "conn-1", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.singleChats.WithLabelValues("stopped")))
}
