package conversation

import (
	"context"
	"errors"
	"strings"

	"chatsim/internal/domain"
	"chatsim/internal/usecase/personality"
)

// DefaultContextWindow is the number of recent records shown to an agent.
const DefaultContextWindow = 4

// Agent is a descriptor plus the task style of its personality.
type Agent struct {
	domain.AgentDescriptor
	Style personality.Style
}

// TurnExecutor produces one agent message per call.
type TurnExecutor struct {
	engine domain.AgentEngine
	window int
}

// NewTurnExecutor creates an executor showing at most window recent records.
func NewTurnExecutor(engine domain.AgentEngine, window int) *TurnExecutor {
	if window <= 0 {
		window = DefaultContextWindow
	}
	return &TurnExecutor{engine: engine, window: window}
}

// Execute builds the turn task and calls the engine exactly once. The result
// is whitespace-trimmed. Engine failures come back as domain.ErrAgentExecution;
// configuration errors are returned unchanged.
func (x *TurnExecutor) Execute(ctx context.Context, agent Agent, scenario string, recent []domain.TurnRecord, isFirstTurn bool) (string, error) {
	recent = lastN(recent, x.window)

	task, err := agent.Style.Task(scenario, recent, isFirstTurn)
	if err != nil {
		return "", domain.WrapOp("TurnExecutor.Execute", err)
	}
	out, err := x.engine.Execute(ctx, domain.AgentTask{
		Agent:          agent.AgentDescriptor,
		Description:    task,
		ExpectedOutput: agent.Style.ExpectedOutput,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			return "", err
		}
		return "", domain.AgentExecutionError("TurnExecutor.Execute", err)
	}
	return strings.TrimSpace(out), nil
}
