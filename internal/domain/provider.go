package domain

import (
	"context"
	"io"
)

// LLMProvider is the interface for any LLM backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "openai", "deepseek").
	Name() string
}

// AgentEngine turns an agent persona plus a task into text. One Execute call
// is one model invocation; implementations do not retry.
type AgentEngine interface {
	Execute(ctx context.Context, task AgentTask) (string, error)
}

// Transcriber converts recorded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
	// Available reports whether the transcriber has the credentials it needs.
	Available() bool
}
