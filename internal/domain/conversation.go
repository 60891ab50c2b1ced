package domain

import "fmt"

// Provider identifies the backend family serving a model.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderDeepSeek  Provider = "deepseek"
	ProviderLlama     Provider = "llama"
	ProviderMixtral   Provider = "mixtral"
)

// RequiresEndpoint reports whether models of this provider are self-hosted and
// cannot be reached without an explicit endpoint.
func (p Provider) RequiresEndpoint() bool {
	return p == ProviderLlama || p == ProviderMixtral
}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderDeepSeek, ProviderLlama, ProviderMixtral:
		return true
	}
	return false
}

// ModelRef is a resolved model: which provider serves it and how to reach it.
type ModelRef struct {
	ModelID  string   `json:"model_id"`
	Provider Provider `json:"provider"`
	APIKey   string   `json:"-"`
	Endpoint string   `json:"endpoint,omitempty"`
}

// AgentDescriptor is the persona handed to the agent execution engine.
// Built fresh per conversation run.
type AgentDescriptor struct {
	Label     string   `json:"label"` // "Agent A" / "Agent B"
	Role      string   `json:"role"`
	Goal      string   `json:"goal"`
	Backstory string   `json:"backstory"`
	Model     ModelRef `json:"model"`
}

// AgentTask is one unit of work for the agent execution engine.
type AgentTask struct {
	Agent          AgentDescriptor
	Description    string
	ExpectedOutput string
}

// TurnRecord is one agent message in a session's history. Immutable once appended.
type TurnRecord struct {
	Round   int    `json:"round"`
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

// String renders the record the way it appears in a prompt context window.
func (r TurnRecord) String() string {
	return fmt.Sprintf("%s: %s", r.Agent, r.Message)
}

// AgentLabel returns the display label for the agent at index i (0 → "Agent A").
func AgentLabel(i int) string {
	return fmt.Sprintf("Agent %c", rune('A'+i))
}
