package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chatsim/internal/domain"
	"chatsim/internal/infra/logger"
	"chatsim/internal/usecase/personality"
)

type emitted struct {
	event   string
	payload any
}

// recordingNotifier captures every emission in order. onEmit, when set, runs
// synchronously inside Emit.
type recordingNotifier struct {
	mu     sync.Mutex
	events []emitted
	onEmit func(event string, payload any)
}

func (n *recordingNotifier) Emit(_ context.Context, event string, payload any) {
	n.mu.Lock()
	n.events = append(n.events, emitted{event: event, payload: payload})
	hook := n.onEmit
	n.mu.Unlock()
	if hook != nil {
		hook(event, payload)
	}
}

func (n *recordingNotifier) all() []emitted {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]emitted(nil), n.events...)
}

func (n *recordingNotifier) names() []string {
	var out []string
	for _, e := range n.all() {
		out = append(out, e.event)
	}
	return out
}

func (n *recordingNotifier) last() emitted {
	all := n.all()
	if len(all) == 0 {
		return emitted{}
	}
	return all[len(all)-1]
}

func (n *recordingNotifier) count(event string) int {
	c := 0
	for _, e := range n.all() {
		if e.event == event {
			c++
		}
	}
	return c
}

// fakeEngine answers "msg-NN|" for call NN. onCall, when set, runs before the
// answer and may return an error or block.
type fakeEngine struct {
	mu     sync.Mutex
	tasks  []domain.AgentTask
	onCall func(ctx context.Context, call int, task domain.AgentTask) error
}

func (e *fakeEngine) Execute(ctx context.Context, task domain.AgentTask) (string, error) {
	e.mu.Lock()
	call := len(e.tasks)
	e.tasks = append(e.tasks, task)
	hook := e.onCall
	e.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call, task); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("  msg-%02d|  ", call), nil
}

func (e *fakeEngine) calls() []domain.AgentTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.AgentTask(nil), e.tasks...)
}

// fakeModels resolves every model id except those listed in fail.
type fakeModels struct {
	def  string
	fail map[string]error
}

func (m fakeModels) Resolve(id string) (domain.ModelRef, error) {
	if id == "" {
		id = m.def
	}
	if err, ok := m.fail[id]; ok {
		return domain.ModelRef{}, err
	}
	return domain.ModelRef{ModelID: id, Provider: domain.ProviderOpenAI, APIKey: "k"}, nil
}

func (m fakeModels) Default() string { return m.def }

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) count(typ domain.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	orch   *Orchestrator
	engine *fakeEngine
	bus    *recordingBus
	yields int
}

func newFixture(t *testing.T, models fakeModels) *fixture {
	t.Helper()
	if models.def == "" {
		models.def = "gpt-4o-mini"
	}
	catalog, err := personality.NewCatalog("")
	require.NoError(t, err)
	f := &fixture{engine: &fakeEngine{}, bus: &recordingBus{}}
	f.orch = NewOrchestrator(
		NewRegistry(),
		catalog,
		models,
		f.engine,
		Defaults{},
		logger.Discard(),
		WithYield(func() { f.yields++ }),
		WithEventBus(f.bus),
	)
	return f
}

func newRequest(session string) StartRequest {
	return StartRequest{SessionID: session, Prompt: "a rainy Monday commute"}
}
