package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsim/internal/adapter/llm"
	"chatsim/internal/domain"
	"chatsim/internal/infra/config"
	"chatsim/internal/infra/logger"
	"chatsim/internal/usecase/conversation"
	"chatsim/internal/usecase/personality"
)

// --- test doubles ---

type stubEngine struct {
	mu     sync.Mutex
	tasks  []domain.AgentTask
	onCall func(ctx context.Context, call int) error
}

func (e *stubEngine) Execute(ctx context.Context, task domain.AgentTask) (string, error) {
	e.mu.Lock()
	call := len(e.tasks)
	e.tasks = append(e.tasks, task)
	hook := e.onCall
	e.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf(" reply %d ", call), nil
}

func (e *stubEngine) calls() []domain.AgentTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.AgentTask(nil), e.tasks...)
}

type stubTranscriber struct {
	text string
	err  error

	mu    sync.Mutex
	audio []byte
}

func (s *stubTranscriber) Available() bool { return true }

func (s *stubTranscriber) Transcribe(_ context.Context, audio io.Reader, _ string) (string, error) {
	b, _ := io.ReadAll(audio)
	s.mu.Lock()
	s.audio = b
	s.mu.Unlock()
	return s.text, s.err
}

func testModels() *llm.ModelRegistry {
	return llm.NewModelRegistry(config.ModelsConfig{
		Default: "gpt-4o-mini",
		Providers: []config.ModelProviderConfig{
			{
				Name:     "openai",
				APIKey:   "sk-secret",
				Models:   []string{"gpt-4o-mini", "gpt-4"},
				Features: config.ProviderFeatures{VoiceInput: true},
			},
			{Name: "llama", Models: []string{"llama-2-70b-chat"}},
		},
	})
}

func newHandlerDeps(engine *stubEngine) HandlerDeps {
	models := testModels()
	personalities, err := personality.NewCatalog("")
	if err != nil {
		panic(err)
	}
	return HandlerDeps{
		Conversations: conversation.NewOrchestrator(
			conversation.NewRegistry(), personalities, models, engine, conversation.Defaults{}, logger.Discard(),
		),
		Chat:          conversation.NewSingleChat(engine, models, nil, logger.Discard()),
		Models:        models,
		Personalities: personalities,
		Logger:        logger.Discard(),
	}
}

func startGateway(t *testing.T, deps HandlerDeps) *Server {
	t.Helper()
	return startTestServer(t, func(s *Server) { RegisterDefaultHandlers(s, deps) })
}

func decode[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Payload, &v), "payload %s", f.Payload)
	return v
}

func methods(frames []Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Method
	}
	return out
}

func countMethod(frames []Frame, method string) int {
	n := 0
	for _, f := range frames {
		if f.Method == method {
			n++
		}
	}
	return n
}

// --- tests ---

func TestHandlerStartConversationBatch(t *testing.T) {
	engine := &stubEngine{}
	srv := startGateway(t, newHandlerDeps(engine))
	ws := dialWS(t, srv.BoundAddr(), "")

	send(t, ws, EventStartConversation, `{"prompt":"pineapple on pizza","session_id":"s1"}`)
	frames := readUntil(t, ws, domain.NotifyBatchComplete)

	assert.Equal(t, domain.NotifyRoundUpdate, frames[0].Method)
	assert.Equal(t, 6, countMethod(frames, domain.NotifyConversationUpdate))
	assert.Equal(t, 6, countMethod(frames, domain.NotifyAgentTyping))
	assert.Equal(t, domain.ProgressPayload{CurrentRound: 3, CanContinue: true},
		decode[domain.ProgressPayload](t, frames[len(frames)-1]))

	update := decode[domain.ConversationUpdatePayload](t, frames[2])
	assert.Equal(t, domain.ConversationUpdatePayload{Agent: "Agent A", Message: "reply 0", Round: 1}, update)

	first := decode[map[string]any](t, frames[0])
	assert.NotContains(t, first, "can_continue")
	assert.Contains(t, engine.calls()[0].Description, "pineapple on pizza")
}

func TestHandlerContinuationAndHistory(t *testing.T) {
	engine := &stubEngine{}
	srv := startGateway(t, newHandlerDeps(engine))
	ws := dialWS(t, srv.BoundAddr(), "")

	send(t, ws, EventStartConversation, `{"prompt":"x","session_id":"s1","rounds":4}`)
	readUntil(t, ws, domain.NotifyBatchComplete)

	send(t, ws, EventStartConversation, `{"session_id":"s1","is_continuation":true}`)
	frames := readUntil(t, ws, domain.NotifyConversationComplete)
	assert.Equal(t, 2, countMethod(frames, domain.NotifyConversationUpdate))

	send(t, ws, EventGetChatHistory, `{"session_id":"s1"}`)
	hist := decode[domain.ChatHistoryPayload](t, readFrame(t, ws))
	require.Len(t, hist.History, 8)
	assert.Equal(t, domain.TurnRecord{Round: 4, Agent: "Agent B", Message: "reply 7"}, hist.History[7])
}

func TestHandlerDefaultSessionIsPerConnection(t *testing.T) {
	srv := startGateway(t, newHandlerDeps(&stubEngine{}))
	ws := dialWS(t, srv.BoundAddr(), "")

	send(t, ws, EventStartConversation, `{"prompt":"x","rounds":1}`)
	readUntil(t, ws, domain.NotifyConversationComplete)

	send(t, ws, EventGetChatHistory, "")
	assert.Len(t, decode[domain.ChatHistoryPayload](t, readFrame(t, ws)).History, 2)

	other := dialWS(t, srv.BoundAddr(), "")
	send(t, other, EventGetChatHistory, "")
	assert.Empty(t, decode[domain.ChatHistoryPayload](t, readFrame(t, other)).History)
}

func TestHandlerClearChatHistory(t *testing.T) {
	srv := startGateway(t, newHandlerDeps(&stubEngine{}))
	ws := dialWS(t, srv.BoundAddr(), "")

	send(t, ws, EventStartConversation, `{"prompt":"x","session_id":"s1","rounds":1}`)
	readUntil(t, ws, domain.NotifyConversationComplete)

	send(t, ws, EventClearChatHistory, `{"session_id":"s1"}`)
	cleared := readFrame(t, ws)
	assert.Equal(t, domain.NotifyChatHistoryCleared, cleared.Method)
	assert.Equal(t, domain.ChatHistoryClearedPayload{SessionID: "s1"}, decode[domain.ChatHistoryClearedPayload](t, cleared))

	send(t, ws, EventGetChatHistory, `{"session_id":"s1"}`)
	history := readFrame(t, ws)
	assert.JSONEq(t, `{"history":[]}`, string(history.Payload))
}

func TestHandlerStopUnknownSession(t *testing.T) {
	srv := startGateway(t, newHandlerDeps(&stubEngine{}))
	ws := dialWS(t, srv.BoundAddr(), "")

	send(t, ws, EventStopConversation, `{"session_id":"ghost"}`)
	f := readFrame(t, ws)
	assert.Equal(t, domain.NotifyConversationStopped, f.Method)
	assert.JSONEq(t, `{}`, string(f.Payload))
}

func TestHandlerStopDuringRun(t *testing.T) {
	release := make(chan struct{})
	engine := &stubEngine{onCall: func(_ context.Context, call int) error {
		if call == 0 {
			<-release
		}
		return nil
	}}
	deps := newHandlerDeps(engine)
	srv := startGateway(t, deps)
	ws := dialWS(t, srv.BoundAddr(), "")

	send(t, ws, EventStartConversation, `{"prompt":"x","session_id":"s1"}`)
	readUntil(t, ws, domain.NotifyAgentTyping)

	send(t, ws, EventStopConversation, `{"session_id":"s1"}`)
	require.Eventually(t, func() bool {
		s, err := deps.Conversations.Sessions().Get("s1")
		return err == nil && s.StopRequested()
	}, 3*time.Second, 5*time.Millisecond)
	close(release)

	frames := readUntil(t, ws, domain.NotifyConversationStopped)
	assert.Equal(t, 1, countMethod(frames, domain.NotifyConversationUpdate))
	assert.Equal(t, domain.ProgressPayload{CurrentRound: 1, CanContinue: true},
		decode[domain.ProgressPayload](t, frames[len(frames)-1]))
	assert.Len(t, engine.calls(), 1)
}

func TestHandlerStartConversationErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"missing prompt", `{"session_id":"s1"}`, "No prompt provided"},
		{"schema violation", `{"prompt":"x","rounds":"ten"}`, "invalid"},
		{"not an object", `[1,2]`, "invalid"},
		{"unsupported agent count", `{"prompt":"x","agent_count":3}`, "agent_count"},
		{"llama without endpoint", `{"prompt":"x","models":{"A":"gpt-4","B":"llama-2-70b-chat"}}`, "LLAMA_API_ENDPOINT"},
		{"unknown model", `{"prompt":"x","models":{"A":"gpt-9"}}`, "unknown model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{}
			srv := startGateway(t, newHandlerDeps(engine))
			ws := dialWS(t, srv.BoundAddr(), "")

			send(t, ws, EventStartConversation, tt.payload)
			f := readFrame(t, ws)
			require.Equal(t, domain.NotifyError, f.Method, "payload %s", f.Payload)
			assert.Contains(t, decode[domain.ErrorPayload](t, f).Message, tt.want)
			assert.Empty(t, engine.calls())
		})
	}
}

func TestHandlerGetModelConfig(t *testing.T) {
	srv := startGateway(t, newHandlerDeps(&stubEngine{}))
	ws := dialWS(t, srv.BoundAddr(), "")

	send(t, ws, EventGetModelConfig, "")
	f := readFrame(t, ws)
	require.Equal(t, domain.NotifyModelConfig, f.Method)
	assert.NotContains(t, string(f.Payload), "sk-secret")

	var payload struct {
		Config llm.Catalog `json:"config"`
	}
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	assert.Equal(t, "gpt-4o-mini", payload.Config.DefaultModel)
	assert.Equal(t, "OpenAI", payload.Config.Providers[domain.ProviderOpenAI].Name)
	assert.True(t, payload.Config.Providers[domain.ProviderOpenAI].Features.VoiceInput)
	assert.True(t, payload.Config.Providers[domain.ProviderOpenAI].Configured)
	assert.False(t, payload.Config.Providers[domain.ProviderAnthropic].Configured)
	assert.Equal(t, []string{"PROFESSIONAL_TECH", "RAP_BATTLE", "SARCASTIC_NETIZEN"}, payload.Config.Personalities)
	require.Len(t, payload.Config.PersonalityDetails, 3)
	assert.Equal(t, "RAP_BATTLE", payload.Config.PersonalityDetails[1].ID)
	assert.NotEmpty(t, payload.Config.PersonalityDetails[1].Name)
	assert.NotEmpty(t, payload.Config.PersonalityDetails[1].Description)
}

func TestHandlerSingleAIMessage(t *testing.T) {
	engine := &stubEngine{}
	srv := startGateway(t, newHandlerDeps(engine))
	ws := dialWS(t, srv.BoundAddr(), "")

	send(t, ws, EventSingleAIMessage, `{"message":"hello there"}`)
	f := readFrame(t, ws)
	assert.Equal(t, domain.NotifyMessage, f.Method)
	assert.Equal(t, domain.MessagePayload{Content: "reply 0"}, decode[domain.MessagePayload](t, f))
	assert.Equal(t, "gpt-4o-mini", engine.calls()[0].Agent.Model.ModelID)

	send(t, ws, EventSingleAIMessage, `{}`)
	f = readFrame(t, ws)
	assert.Equal(t, domain.NotifyError, f.Method)
	assert.Equal(t, "No message provided", decode[domain.ErrorPayload](t, f).Message)
}

func TestHandlerStopGeneration(t *testing.T) {
	engine := &stubEngine{onCall: func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	deps := newHandlerDeps(engine)
	srv := startGateway(t, deps)
	ws := dialWS(t, srv.BoundAddr(), "")

	send(t, ws, EventSingleAIMessage, `{"message":"write an epic"}`)
	require.Eventually(t, func() bool { return deps.Chat.InFlight() == 1 }, 3*time.Second, 5*time.Millisecond)

	send(t, ws, EventStopGeneration, "")
	f := readFrame(t, ws)
	assert.Equal(t, domain.MessagePayload{Content: conversation.GenerationStoppedMessage}, decode[domain.MessagePayload](t, f))
	require.Eventually(t, func() bool { return deps.Chat.InFlight() == 0 }, 3*time.Second, 5*time.Millisecond)
}

func TestHandlerVoiceInput(t *testing.T) {
	engine := &stubEngine{}
	transcriber := &stubTranscriber{text: "robots taking over the kitchen"}
	deps := newHandlerDeps(engine)
	deps.Transcriber = transcriber
	srv := startGateway(t, deps)
	ws := dialWS(t, srv.BoundAddr(), "")

	audio := base64.StdEncoding.EncodeToString([]byte("RIFF-fake-audio"))
	send(t, ws, EventVoiceInput, `{"audio":"data:audio/webm;base64,`+audio+`","session_id":"v1","rounds":1}`)
	readUntil(t, ws, domain.NotifyConversationComplete)

	transcriber.mu.Lock()
	assert.Equal(t, "RIFF-fake-audio", string(transcriber.audio))
	transcriber.mu.Unlock()
	assert.Contains(t, engine.calls()[0].Description, "robots taking over the kitchen")

	sess, err := deps.Conversations.Sessions().Get("v1")
	require.NoError(t, err)
	assert.True(t, sess.Snapshot().VoiceInput)
}

func TestHandlerVoiceInputFailures(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte("sound"))
	tests := []struct {
		name        string
		transcriber domain.Transcriber
		maxBytes    int
		payload     string
		want        string
	}{
		{"no transcriber", nil, 0, `{"audio":"` + audio + `"}`, VoiceFailedMessage},
		{"bad base64", &stubTranscriber{text: "x"}, 0, `{"audio":"%%%"}`, VoiceFailedMessage},
		{"too large", &stubTranscriber{text: "x"}, 2, `{"audio":"` + audio + `"}`, VoiceFailedMessage},
		{"transcription error", &stubTranscriber{err: errors.New("whisper down")}, 0, `{"audio":"` + audio + `"}`, VoiceFailedMessage},
		{"missing audio", &stubTranscriber{text: "x"}, 0, `{}`, "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &stubEngine{}
			deps := newHandlerDeps(engine)
			deps.Transcriber = tt.transcriber
			deps.MaxAudioBytes = tt.maxBytes
			srv := startGateway(t, deps)
			ws := dialWS(t, srv.BoundAddr(), "")

			send(t, ws, EventVoiceInput, tt.payload)
			f := readFrame(t, ws)
			require.Equal(t, domain.NotifyError, f.Method)
			assert.Contains(t, decode[domain.ErrorPayload](t, f).Message, tt.want)
			assert.Empty(t, engine.calls())
		})
	}
}

func TestDecodeAudio(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("abc"))

	got, err := decodeAudio(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	got, err = decodeAudio("data:audio/wav;base64," + raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	_, err = decodeAudio("")
	assert.Error(t, err)
	_, err = decodeAudio(strings.Repeat("!", 8))
	assert.Error(t, err)
}
