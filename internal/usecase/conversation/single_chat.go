package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"chatsim/internal/domain"
)

// GenerationStoppedMessage acknowledges stopGeneration.
const GenerationStoppedMessage = "[Generation stopped by user]"

// SingleChat answers one-shot questions with a single assistant agent on the
// default model, outside the round scheduler.
type SingleChat struct {
	engine domain.AgentEngine
	models ModelResolver
	bus    domain.EventBus
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]*generation
}

type generation struct {
	cancel  context.CancelFunc
	stopped bool
}

// NewSingleChat creates the single-agent chat use case. bus may be nil.
func NewSingleChat(engine domain.AgentEngine, models ModelResolver, bus domain.EventBus, logger *slog.Logger) *SingleChat {
	return &SingleChat{
		engine:   engine,
		models:   models,
		bus:      bus,
		logger:   logger,
		inflight: make(map[string]*generation),
	}
}

// Ask answers message for the connection connID and emits message{content}.
// A newer Ask on the same connection cancels the previous one. Errors are
// reported to n and returned.
func (c *SingleChat) Ask(ctx context.Context, connID, message string, n domain.Notifier) error {
	if strings.TrimSpace(message) == "" {
		err := domain.NewDomainError("SingleChat.Ask", domain.ErrInvalidInput, "No message provided")
		n.Emit(ctx, domain.NotifyError, domain.ErrorPayload{Message: clientMessage(err)})
		return err
	}

	ref, err := c.models.Resolve(c.models.Default())
	if err != nil {
		n.Emit(ctx, domain.NotifyError, domain.ErrorPayload{Message: err.Error()})
		return err
	}

	ctx, gen := c.begin(ctx, connID)
	defer c.end(connID, gen)

	out, err := c.engine.Execute(ctx, domain.AgentTask{
		Agent: domain.AgentDescriptor{
			Label:     "AI Assistant",
			Role:      "AI Assistant",
			Goal:      "Provide helpful and accurate responses to user queries",
			Backstory: "You are a helpful AI assistant engaging in a one-on-one conversation.",
			Model:     ref,
		},
		Description:    "Respond to the user's message: " + message,
		ExpectedOutput: "A helpful and relevant response to the user's message.",
	})
	if err != nil {
		if c.wasStopped(gen) && errors.Is(err, context.Canceled) {
			return nil
		}
		c.logger.Error("single chat failed", "conn_id", connID, "error", err)
		n.Emit(ctx, domain.NotifyError, domain.ErrorPayload{Message: err.Error()})
		return err
	}

	reply := strings.TrimSpace(out)
	n.Emit(ctx, domain.NotifyMessage, domain.MessagePayload{Content: reply})
	c.publish(ctx, domain.EventSingleChat, connID, domain.LLMCallPayload{Provider: string(ref.Provider), Model: ref.ModelID})
	return nil
}

// Stop cancels the in-flight answer for connID, if any, and always
// acknowledges with the stopped message.
func (c *SingleChat) Stop(ctx context.Context, connID string, n domain.Notifier) {
	c.mu.Lock()
	gen, ok := c.inflight[connID]
	if ok {
		gen.stopped = true
		gen.cancel()
	}
	c.mu.Unlock()

	c.logger.Info("generation stop requested", "conn_id", connID, "in_flight", ok)
	n.Emit(ctx, domain.NotifyMessage, domain.MessagePayload{Content: GenerationStoppedMessage})
	c.publish(ctx, domain.EventGenerationStopped, connID, nil)
}

// InFlight returns the number of answers being generated.
func (c *SingleChat) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *SingleChat) begin(ctx context.Context, connID string) (context.Context, *generation) {
	ctx, cancel := context.WithCancel(ctx)
	gen := &generation{cancel: cancel}

	c.mu.Lock()
	if prev, ok := c.inflight[connID]; ok {
		prev.stopped = true
		prev.cancel()
	}
	c.inflight[connID] = gen
	c.mu.Unlock()
	return ctx, gen
}

func (c *SingleChat) end(connID string, gen *generation) {
	c.mu.Lock()
	if c.inflight[connID] == gen {
		delete(c.inflight, connID)
	}
	c.mu.Unlock()
	gen.cancel()
}

func (c *SingleChat) wasStopped(gen *generation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen.stopped
}

func (c *SingleChat) publish(ctx context.Context, typ domain.EventType, sessionID string, payload any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(context.WithoutCancel(ctx), domain.NewEvent(typ, sessionID, payload))
}
