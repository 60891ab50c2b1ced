package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsim/internal/domain"
	"chatsim/internal/infra/config"
	"chatsim/internal/infra/logger"
)

func TestRegistryBuildsPerProvider(t *testing.T) {
	reg := NewRegistry(config.LLMConfig{}, logger.Discard())

	tests := []struct {
		ref  domain.ModelRef
		want any
	}{
		{domain.ModelRef{Provider: domain.ProviderOpenAI, APIKey: "a"}, &OpenAIProvider{}},
		{domain.ModelRef{Provider: domain.ProviderDeepSeek, APIKey: "a"}, &OpenAIProvider{}},
		{domain.ModelRef{Provider: domain.ProviderLlama, Endpoint: "http://x"}, &OpenAIProvider{}},
		{domain.ModelRef{Provider: domain.ProviderAnthropic, APIKey: "a"}, &AnthropicProvider{}},
	}
	for _, tt := range tests {
		p, err := reg.Get(tt.ref)
		require.NoError(t, err)
		assert.IsType(t, tt.want, p)
		assert.Equal(t, string(tt.ref.Provider), p.Name())
	}
	assert.Equal(t, 4, reg.Len())
}

func TestRegistryCachesClients(t *testing.T) {
	reg := NewRegistry(config.LLMConfig{CircuitBreaker: config.CircuitBreakerConfig{Enabled: true}}, logger.Discard())
	ref := domain.ModelRef{ModelID: "gpt-4", Provider: domain.ProviderOpenAI, APIKey: "a"}

	p1, err := reg.Get(ref)
	require.NoError(t, err)
	assert.IsType(t, &CircuitBreakerProvider{}, p1)

	// Different model on the same provider shares the client.
	ref.ModelID = "gpt-3.5-turbo"
	p2, err := reg.Get(ref)
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	ref.APIKey = "rotated"
	p3, err := reg.Get(ref)
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryErrors(t *testing.T) {
	reg := NewRegistry(config.LLMConfig{}, logger.Discard())

	_, err := reg.Get(domain.ModelRef{Provider: domain.ProviderMixtral})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = reg.Get(domain.ModelRef{Provider: "bedrock"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	ref := domain.ModelRef{Provider: domain.ProviderOpenAI}
	require.NoError(t, reg.Register(ref, &mockProvider{name: "openai"}))
	assert.Error(t, reg.Register(ref, &mockProvider{name: "openai"}))
}
