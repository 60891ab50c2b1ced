package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsim/internal/domain"
	"chatsim/internal/infra/config"
	"chatsim/internal/infra/logger"
)

type mockProvider struct {
	name     string
	calls    atomic.Int32
	chatFunc func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error)
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.calls.Add(1)
	return m.chatFunc(ctx, req)
}

func (m *mockProvider) Name() string { return m.name }

func failing(err error) func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) { return nil, err }
}

func TestCircuitBreakerPassesThrough(t *testing.T) {
	inner := &mockProvider{
		name: "openai",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			return &domain.ChatResponse{Message: domain.Message{Content: "ok"}}, nil
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, logger.Discard())
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)
	assert.Equal(t, "openai", cb.Name())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	inner := &mockProvider{name: "flaky", chatFunc: failing(errors.New("provider error"))}

	cfg := config.CircuitBreakerConfig{MaxFailures: 3, Timeout: 5 * time.Second, Interval: time.Minute}
	cb := NewCircuitBreakerProvider(inner, cfg, logger.Discard())

	for i := 0; i < 3; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "provider error")
	}
	assert.Equal(t, int32(3), inner.calls.Load())
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")
	assert.ErrorIs(t, err, domain.ErrProviderDown)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), inner.calls.Load(), "provider should not be called when circuit is open")
}

func TestCircuitBreakerClosesAfterSuccess(t *testing.T) {
	var shouldFail atomic.Bool
	shouldFail.Store(true)
	inner := &mockProvider{
		name: "recovering",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			if shouldFail.Load() {
				return nil, errors.New("down")
			}
			return &domain.ChatResponse{Message: domain.Message{Content: "recovered"}}, nil
		},
	}

	cfg := config.CircuitBreakerConfig{MaxFailures: 2, Timeout: 50 * time.Millisecond, Interval: time.Minute}
	cb := NewCircuitBreakerProvider(inner, cfg, logger.Discard())

	for i := 0; i < 2; i++ {
		cb.Chat(context.Background(), domain.ChatRequest{})
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, cb.State())

	shouldFail.Store(false)
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Message.Content)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresCancellation(t *testing.T) {
	inner := &mockProvider{name: "cancelled", chatFunc: failing(context.Canceled)}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 1}, logger.Discard())
	for i := 0; i < 3; i++ {
		_, err := cb.Chat(context.Background(), domain.ChatRequest{})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Counts().TotalFailures)
}

func TestCircuitBreakerPropagatesInnerErrors(t *testing.T) {
	inner := &mockProvider{name: "err", chatFunc: failing(domain.ErrRateLimit)}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 10}, logger.Discard())
	_, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimit)
}

func TestCircuitBreakerCounts(t *testing.T) {
	var callNum atomic.Int32
	inner := &mockProvider{
		name: "counted",
		chatFunc: func(_ context.Context, _ domain.ChatRequest) (*domain.ChatResponse, error) {
			if callNum.Add(1) <= 2 {
				return &domain.ChatResponse{}, nil
			}
			return nil, errors.New("fail")
		},
	}

	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 10}, logger.Discard())
	cb.Chat(context.Background(), domain.ChatRequest{})
	cb.Chat(context.Background(), domain.ChatRequest{})
	assert.Equal(t, uint32(2), cb.Counts().TotalSuccesses)

	cb.Chat(context.Background(), domain.ChatRequest{})
	counts := cb.Counts()
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
}
