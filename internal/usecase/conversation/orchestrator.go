package conversation

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/trace"

	"chatsim/internal/domain"
	"chatsim/internal/infra/tracer"
	"chatsim/internal/usecase/personality"
)

// ModelResolver maps model ids to provider references.
type ModelResolver interface {
	Resolve(modelID string) (domain.ModelRef, error)
	Default() string
}

// State is the scheduler state of a session's current run.
type State string

const (
	StateIdle        State = "idle"
	StateRunning     State = "running"
	StateBatchPaused State = "batch_paused"
	StateCancelled   State = "cancelled"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Orchestrator drives sessions through batches of rounds.
type Orchestrator struct {
	sessions      *Registry
	personalities *personality.Catalog
	models        ModelResolver
	executor      *TurnExecutor
	defaults      Defaults
	bus           domain.EventBus
	logger        *slog.Logger
	yield         func()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithYield replaces the scheduling yield taken after every emission.
func WithYield(fn func()) Option {
	return func(o *Orchestrator) { o.yield = fn }
}

// WithEventBus publishes run progress as domain events.
func WithEventBus(bus domain.EventBus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// NewOrchestrator creates an orchestrator. Zero defaults fall back to 10
// rounds, batches of 3, 2000 characters and a 4-record context window.
func NewOrchestrator(
	sessions *Registry,
	personalities *personality.Catalog,
	models ModelResolver,
	engine domain.AgentEngine,
	defaults Defaults,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	defaults.Rounds = orDefault(defaults.Rounds, 10)
	defaults.BatchSize = orDefault(defaults.BatchSize, 3)
	defaults.MaxResponseLength = orDefault(defaults.MaxResponseLength, 2000)
	defaults.ContextWindow = orDefault(defaults.ContextWindow, DefaultContextWindow)

	o := &Orchestrator{
		sessions:      sessions,
		personalities: personalities,
		models:        models,
		executor:      NewTurnExecutor(engine, defaults.ContextWindow),
		defaults:      defaults,
		logger:        logger,
		yield:         runtime.Gosched,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sessions returns the session registry.
func (o *Orchestrator) Sessions() *Registry { return o.sessions }

// Run executes one batch for req, emitting progress through n. Every error
// is logged and reported to n as a single error event before being returned;
// the session keeps whatever state it reached.
func (o *Orchestrator) Run(ctx context.Context, req StartRequest, n domain.Notifier) (State, error) {
	log := o.logger.With("session_id", req.SessionID)

	state, err := o.run(ctx, req, n)
	if err != nil {
		log.Error("conversation failed", "error", err, "continuation", req.IsContinuation)
		n.Emit(ctx, domain.NotifyError, domain.ErrorPayload{Message: clientMessage(err)})
		o.publish(ctx, domain.EventConversationFailed, req.SessionID, domain.ConversationEndPayload{Error: err.Error()})
		return StateFailed, err
	}
	log.Info("batch finished", "state", string(state))
	return state, nil
}

func (o *Orchestrator) run(ctx context.Context, req StartRequest, n domain.Notifier) (_ State, err error) {
	if err := req.Validate(); err != nil {
		return StateIdle, err
	}

	sess, err := o.sessions.Acquire(req.SessionID)
	if err != nil {
		return StateIdle, err
	}
	defer o.sessions.Release(sess)

	ctx, span := tracer.StartSpan(ctx, "conversation.batch",
		trace.WithAttributes(
			tracer.StringAttr("session.id", sess.ID()),
			tracer.BoolAttr("conversation.continuation", req.IsContinuation),
		),
	)
	defer func() { tracer.Finish(span, err) }()

	if err := sess.apply(req, o.defaults); err != nil {
		return StateIdle, err
	}
	cfg := sess.config()

	agents, err := o.agents(cfg)
	if err != nil {
		return StateIdle, err
	}

	done, total := sess.Progress()
	o.emit(ctx, n, domain.NotifyRoundUpdate, domain.RoundUpdatePayload{Round: done + 1, Total: total})
	o.publish(ctx, domain.EventConversationStarted, sess.ID(), domain.ConversationEndPayload{RoundsDone: done, RoundsTotal: total})

	start := done
	end := min(start+cfg.batchSize, total)
	stopped := false

rounds:
	for r := start; r < end; r++ {
		if sess.StopRequested() {
			stopped = true
			break
		}
		if err := ctx.Err(); err != nil {
			return StateFailed, err
		}

		round := sess.beginRound()
		for i, agent := range agents {
			if sess.StopRequested() {
				stopped = true
				break rounds
			}
			o.emit(ctx, n, domain.NotifyAgentTyping, domain.AgentTypingPayload{Round: round, Agent: agent.Label})

			turnStart := time.Now()
			msg, err := o.executor.Execute(ctx, agent, cfg.background, sess.Recent(o.defaults.ContextWindow), r == 0 && i == 0)
			if err != nil {
				return StateFailed, err
			}

			rec := domain.TurnRecord{Round: round, Agent: agent.Label, Message: msg}
			before, after := sess.appendTurn(rec)
			o.publish(ctx, domain.EventTurnCompleted, sess.ID(), domain.TurnCompletedPayload{
				Round:    round,
				Agent:    agent.Label,
				Provider: agent.Model.Provider,
				Runes:    after - before,
				Duration: time.Since(turnStart),
			})
			if before <= cfg.maxResponseLength && after > cfg.maxResponseLength {
				o.logger.Warn("response length limit exceeded",
					"session_id", sess.ID(),
					"accumulated", after,
					"limit", cfg.maxResponseLength,
				)
				o.publish(ctx, domain.EventResponseLengthExceeded, sess.ID(), domain.ConversationEndPayload{RoundsDone: round, RoundsTotal: total})
			}
			o.emit(ctx, n, domain.NotifyConversationUpdate, domain.ConversationUpdatePayload{
				Agent:   agent.Label,
				Message: msg,
				Round:   round,
			})
		}

		canContinue := round < total
		o.emit(ctx, n, domain.NotifyRoundUpdate, domain.RoundUpdatePayload{Round: round, Total: total, CanContinue: &canContinue})
		o.publish(ctx, domain.EventRoundCompleted, sess.ID(), domain.ConversationEndPayload{RoundsDone: round, RoundsTotal: total})
	}

	if o.sessions.settle(sess) {
		stopped = true
	}
	done, total = sess.Progress()
	summary := domain.ConversationEndPayload{RoundsDone: done, RoundsTotal: total}
	span.SetAttributes(tracer.IntAttr("conversation.rounds_done", done))
	switch {
	case stopped:
		n.Emit(ctx, domain.NotifyConversationStopped, domain.ProgressPayload{CurrentRound: done, CanContinue: done < total})
		o.publish(ctx, domain.EventConversationStopped, sess.ID(), summary)
		return StateCancelled, nil
	case done >= total:
		n.Emit(ctx, domain.NotifyConversationComplete, struct{}{})
		o.publish(ctx, domain.EventConversationCompleted, sess.ID(), summary)
		return StateCompleted, nil
	default:
		n.Emit(ctx, domain.NotifyBatchComplete, domain.ProgressPayload{CurrentRound: done, CanContinue: true})
		o.publish(ctx, domain.EventBatchPaused, sess.ID(), summary)
		return StateBatchPaused, nil
	}
}

// agents builds both descriptors. Model resolution happens here, before any
// engine call, so configuration errors abort the run untouched.
func (o *Orchestrator) agents(cfg runConfig) ([2]Agent, error) {
	pair, err := o.personalities.Resolve(cfg.personality, cfg.background)
	if err != nil {
		return [2]Agent{}, domain.WrapOp("Orchestrator.agents", err)
	}

	refA, err := o.models.Resolve(cfg.models.A)
	if err != nil {
		return [2]Agent{}, err
	}
	refB, err := o.models.Resolve(cfg.models.B)
	if err != nil {
		return [2]Agent{}, err
	}

	describe := func(i int, t personality.Template, ref domain.ModelRef) Agent {
		return Agent{
			AgentDescriptor: domain.AgentDescriptor{
				Label:     domain.AgentLabel(i),
				Role:      t.Role,
				Goal:      t.Goal,
				Backstory: t.Backstory,
				Model:     ref,
			},
			Style: pair.Style,
		}
	}
	return [2]Agent{describe(0, pair.A, refA), describe(1, pair.B, refB)}, nil
}

// Stop requests a stop for sessionID. A running batch acknowledges at its
// next checkpoint, the last one being right after its final turn. An idle
// session, or a run already past that point, is acknowledged immediately
// with its progress, and an unknown session with an empty conversationStopped.
func (o *Orchestrator) Stop(ctx context.Context, sessionID string, n domain.Notifier) {
	sess, awaited, err := o.sessions.RequestStop(sessionID)
	if err != nil {
		n.Emit(ctx, domain.NotifyConversationStopped, struct{}{})
		return
	}
	o.logger.Info("stop requested", "session_id", sessionID, "running", awaited)
	if !awaited {
		done, total := sess.Progress()
		n.Emit(ctx, domain.NotifyConversationStopped, domain.ProgressPayload{CurrentRound: done, CanContinue: done < total})
	}
}

// emit sends a notification and yields so the connection writer can flush
// before the next, possibly slow, step.
func (o *Orchestrator) emit(ctx context.Context, n domain.Notifier, event string, payload any) {
	n.Emit(ctx, event, payload)
	o.yield()
}

func (o *Orchestrator) publish(ctx context.Context, typ domain.EventType, sessionID string, payload any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(context.WithoutCancel(ctx), domain.NewEvent(typ, sessionID, payload))
}

// clientMessage is the human-readable text sent in an error event.
func clientMessage(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" && errors.Is(err, domain.ErrInvalidInput) {
		return de.Detail
	}
	return err.Error()
}
