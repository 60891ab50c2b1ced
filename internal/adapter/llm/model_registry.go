package llm

import (
	"fmt"
	"strings"

	"chatsim/internal/domain"
	"chatsim/internal/infra/config"
)

var providerDisplayNames = map[domain.Provider]string{
	domain.ProviderOpenAI:    "OpenAI",
	domain.ProviderAnthropic: "Anthropic",
	domain.ProviderDeepSeek:  "DeepSeek",
	domain.ProviderLlama:     "Llama",
	domain.ProviderMixtral:   "Mixtral",
}

// ProviderCatalog is the client-facing description of one provider. It never
// carries credentials.
type ProviderCatalog struct {
	Name       string                  `json:"name"`
	Models     []string                `json:"models"`
	Features   config.ProviderFeatures `json:"features"`
	Configured bool                    `json:"configured"`
}

// Catalog is the payload of the modelConfig event.
type Catalog struct {
	Providers          map[domain.Provider]ProviderCatalog `json:"providers"`
	DefaultModel       string                              `json:"default_model"`
	Personalities      []string                            `json:"personalities,omitempty"`
	PersonalityDetails []domain.PersonalityInfo            `json:"personality_details,omitempty"`
}

// ModelRegistry maps model ids to providers and their credentials.
// Immutable after construction.
type ModelRegistry struct {
	defaultModel string
	byModel      map[string]config.ModelProviderConfig
	providers    []config.ModelProviderConfig
}

// NewModelRegistry builds a registry from the models config section.
func NewModelRegistry(cfg config.ModelsConfig) *ModelRegistry {
	r := &ModelRegistry{
		defaultModel: cfg.Default,
		byModel:      make(map[string]config.ModelProviderConfig),
		providers:    append([]config.ModelProviderConfig(nil), cfg.Providers...),
	}
	for _, p := range cfg.Providers {
		for _, m := range p.Models {
			if _, dup := r.byModel[m]; !dup {
				r.byModel[m] = p
			}
		}
	}
	return r
}

// Default returns the default model id.
func (r *ModelRegistry) Default() string { return r.defaultModel }

// Resolve returns the provider, credentials and endpoint for modelID. An empty
// id resolves the default model. Fails with domain.ErrConfiguration when the
// model is unknown or its provider lacks the endpoint or key it needs.
func (r *ModelRegistry) Resolve(modelID string) (domain.ModelRef, error) {
	const op = "ModelRegistry.Resolve"
	if modelID == "" {
		modelID = r.defaultModel
	}

	p, ok := r.byModel[modelID]
	if !ok {
		return domain.ModelRef{}, domain.NewDomainError(op, domain.ErrConfiguration,
			fmt.Sprintf("unknown model %q", modelID))
	}

	ref := domain.ModelRef{
		ModelID:  modelID,
		Provider: domain.Provider(p.Name),
		APIKey:   p.APIKey,
		Endpoint: p.Endpoint,
	}
	if ref.Provider.RequiresEndpoint() {
		if ref.Endpoint == "" {
			return domain.ModelRef{}, domain.NewDomainError(op, domain.ErrConfiguration,
				fmt.Sprintf("model %q: %s endpoint not configured (set %s_API_ENDPOINT)", modelID, p.Name, strings.ToUpper(p.Name)))
		}
		return ref, nil
	}
	if ref.APIKey == "" {
		return domain.ModelRef{}, domain.NewDomainError(op, domain.ErrConfiguration,
			fmt.Sprintf("model %q: %s API key not configured (set %s_API_KEY)", modelID, p.Name, strings.ToUpper(p.Name)))
	}
	return ref, nil
}

// Catalog returns the secret-free provider/model catalogue.
func (r *ModelRegistry) Catalog() Catalog {
	c := Catalog{
		Providers:    make(map[domain.Provider]ProviderCatalog, len(r.providers)),
		DefaultModel: r.defaultModel,
	}
	for _, p := range r.providers {
		prov := domain.Provider(p.Name)
		name := providerDisplayNames[prov]
		if name == "" {
			name = p.Name
		}
		c.Providers[prov] = ProviderCatalog{
			Name:       name,
			Models:     append([]string(nil), p.Models...),
			Features:   p.Features,
			Configured: r.configured(prov, p),
		}
	}
	return c
}

// configured mirrors the credential checks of Resolve.
func (r *ModelRegistry) configured(prov domain.Provider, p config.ModelProviderConfig) bool {
	if prov.RequiresEndpoint() {
		return p.Endpoint != ""
	}
	return r.HasKey(prov)
}

// HasKey reports whether provider has an API key configured.
func (r *ModelRegistry) HasKey(provider domain.Provider) bool {
	for _, p := range r.providers {
		if domain.Provider(p.Name) == provider {
			return p.APIKey != ""
		}
	}
	return false
}

// APIKey returns the configured key for provider, or "".
func (r *ModelRegistry) APIKey(provider domain.Provider) string {
	for _, p := range r.providers {
		if domain.Provider(p.Name) == provider {
			return p.APIKey
		}
	}
	return ""
}
