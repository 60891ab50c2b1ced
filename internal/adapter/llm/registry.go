package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"chatsim/internal/domain"
	"chatsim/internal/infra/config"
)

// Registry builds and caches provider clients per ModelRef. Clients are keyed
// by provider, endpoint and a hash of the key so rotating credentials yields a
// fresh client.
type Registry struct {
	mu         sync.RWMutex
	providers  map[string]domain.LLMProvider
	httpClient *http.Client
	breaker    config.CircuitBreakerConfig
	logger     *slog.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(cfg config.LLMConfig, logger *slog.Logger) *Registry {
	return &Registry{
		providers:  make(map[string]domain.LLMProvider),
		httpClient: NewHTTPClient(cfg),
		breaker:    cfg.CircuitBreaker,
		logger:     logger,
	}
}

// Register adds a prebuilt provider for ref. Returns error if already registered.
func (r *Registry) Register(ref domain.ModelRef, provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := cacheKey(ref)
	if _, exists := r.providers[key]; exists {
		return fmt.Errorf("provider %q already registered", ref.Provider)
	}
	r.providers[key] = provider
	return nil
}

// Get returns the provider client serving ref, creating it on first use.
func (r *Registry) Get(ref domain.ModelRef) (domain.LLMProvider, error) {
	key := cacheKey(ref)

	r.mu.RLock()
	p, ok := r.providers[key]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[key]; ok {
		return p, nil
	}

	p, err := r.build(ref)
	if err != nil {
		return nil, err
	}
	if r.breaker.Enabled {
		p = NewCircuitBreakerProvider(p, r.breaker, r.logger)
	}
	r.providers[key] = p
	return p, nil
}

// Len returns the number of cached clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

func (r *Registry) build(ref domain.ModelRef) (domain.LLMProvider, error) {
	switch ref.Provider {
	case domain.ProviderOpenAI:
		return NewOpenAIProvider(string(ref.Provider), ref.APIKey, ref.Endpoint, r.httpClient, r.logger), nil
	case domain.ProviderDeepSeek:
		base := ref.Endpoint
		if base == "" {
			base = defaultDeepSeekBaseURL
		}
		return NewOpenAIProvider(string(ref.Provider), ref.APIKey, base, r.httpClient, r.logger), nil
	case domain.ProviderLlama, domain.ProviderMixtral:
		if ref.Endpoint == "" {
			return nil, domain.NewDomainError("Registry.Get", domain.ErrConfiguration,
				fmt.Sprintf("%s requires an endpoint", ref.Provider))
		}
		return NewOpenAIProvider(string(ref.Provider), ref.APIKey, ref.Endpoint, r.httpClient, r.logger), nil
	case domain.ProviderAnthropic:
		return NewAnthropicProvider(ref.APIKey, ref.Endpoint, r.httpClient, r.logger), nil
	default:
		return nil, domain.NewDomainError("Registry.Get", domain.ErrConfiguration,
			fmt.Sprintf("unsupported provider %q", ref.Provider))
	}
}

func cacheKey(ref domain.ModelRef) string {
	sum := sha256.Sum256([]byte(ref.APIKey))
	return string(ref.Provider) + "|" + ref.Endpoint + "|" + hex.EncodeToString(sum[:8])
}
