package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"chatsim/internal/domain"
	"chatsim/internal/infra/tracer"
)

// EngineConfig holds per-call generation settings.
type EngineConfig struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration // per call; zero disables
}

// Engine implements domain.AgentEngine on top of the provider registry.
// Each Execute is exactly one chat request.
type Engine struct {
	providers *Registry
	cfg       EngineConfig
	bus       domain.EventBus
	logger    *slog.Logger
}

// NewEngine creates an engine. bus may be nil.
func NewEngine(providers *Registry, cfg EngineConfig, bus domain.EventBus, logger *slog.Logger) *Engine {
	return &Engine{providers: providers, cfg: cfg, bus: bus, logger: logger}
}

// Execute implements domain.AgentEngine.
func (e *Engine) Execute(ctx context.Context, task domain.AgentTask) (string, error) {
	const op = "Engine.Execute"
	ref := task.Agent.Model

	provider, err := e.providers.Get(ref)
	if err != nil {
		return "", err
	}

	ctx, span := tracer.StartSpan(ctx, "agent.execute",
		trace.WithAttributes(
			tracer.StringAttr("agent.role", task.Agent.Role),
			tracer.StringAttr("llm.provider", string(ref.Provider)),
			tracer.StringAttr("llm.model", ref.ModelID),
		),
	)
	defer span.End()

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	req := domain.ChatRequest{
		Model: ref.ModelID,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: SystemPrompt(task.Agent), Timestamp: time.Now()},
			{Role: domain.RoleUser, Content: TaskPrompt(task), Timestamp: time.Now()},
		},
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
	}

	start := time.Now()
	resp, err := provider.Chat(ctx, req)
	elapsed := time.Since(start)

	payload := domain.LLMCallPayload{
		Provider: string(ref.Provider),
		Model:    ref.ModelID,
		Duration: elapsed,
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", domain.ErrTimeout, e.cfg.Timeout, err)
		}
		err = domain.AgentExecutionError(op, err)
		payload.Error = err.Error()
		e.publish(ctx, payload)
		tracer.RecordError(span, err)
		e.logger.Warn("agent execution failed",
			"provider", ref.Provider,
			"model", ref.ModelID,
			"error", err,
		)
		return "", err
	}

	payload.TotalTokens = resp.Usage.TotalTokens
	e.publish(ctx, payload)
	tracer.SetOK(span)
	return resp.Message.Content, nil
}

func (e *Engine) publish(ctx context.Context, payload domain.LLMCallPayload) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(context.WithoutCancel(ctx), domain.NewEvent(domain.EventLLMCallCompleted, "", payload))
}

// SystemPrompt renders the persona part of the prompt.
func SystemPrompt(agent domain.AgentDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", agent.Role)
	if agent.Backstory != "" {
		b.WriteString(" ")
		b.WriteString(agent.Backstory)
	}
	if agent.Goal != "" {
		fmt.Fprintf(&b, "\nYour personal goal is: %s", agent.Goal)
	}
	return b.String()
}

// TaskPrompt renders the task part of the prompt.
func TaskPrompt(task domain.AgentTask) string {
	if task.ExpectedOutput == "" {
		return task.Description
	}
	return task.Description + "\n\nThis is the expected criteria for your final answer: " + task.ExpectedOutput
}

var _ domain.AgentEngine = (*Engine)(nil)
