package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"chatsim/internal/adapter/llm"
	"chatsim/internal/domain"
	"chatsim/internal/usecase/conversation"
	"chatsim/internal/usecase/personality"
)

// Inbound event names.
const (
	EventStartConversation = "startConversation"
	EventStopConversation  = "stopConversation"
	EventGetChatHistory    = "getChatHistory"
	EventClearChatHistory  = "clearChatHistory"
	EventVoiceInput        = "voiceInput"
	EventGetModelConfig    = "getModelConfig"
	EventSingleAIMessage   = "singleAIMessage"
	EventStopGeneration    = "stopGeneration"
)

// VoiceFailedMessage is the error text sent when voice input cannot be used.
const VoiceFailedMessage = "Voice input processing failed"

// HandlerDeps holds dependencies needed by event handlers.
type HandlerDeps struct {
	Conversations *conversation.Orchestrator
	Chat          *conversation.SingleChat
	Models        *llm.ModelRegistry
	Personalities *personality.Catalog
	Transcriber   domain.Transcriber // can be nil (voice input disabled)
	MaxAudioBytes int
	Bus           domain.EventBus // can be nil
	Logger        *slog.Logger
}

// RegisterDefaultHandlers registers all inbound event handlers on the server.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) {
	on := func(event string, schema *jsonschema.Schema, h Handler) {
		s.RegisterHandler(event, validated(event, schema, h))
	}

	on(EventStartConversation, startConversationSchema, startConversationHandler(deps))
	on(EventStopConversation, sessionSchema, stopConversationHandler(deps))
	on(EventGetChatHistory, sessionSchema, getChatHistoryHandler(deps))
	on(EventClearChatHistory, sessionSchema, clearChatHistoryHandler(deps))
	on(EventVoiceInput, voiceInputSchema, voiceInputHandler(deps))
	on(EventGetModelConfig, emptySchema, getModelConfigHandler(deps))
	on(EventSingleAIMessage, singleMessageSchema, singleAIMessageHandler(deps))
	on(EventStopGeneration, emptySchema, stopGenerationHandler(deps))
}

// --- conversation ---

type startConversationRequest struct {
	Prompt            string                   `json:"prompt"`
	Rounds            int                      `json:"rounds"`
	AgentCount        int                      `json:"agent_count"`
	Personality       string                   `json:"personality"`
	Models            conversation.ModelChoice `json:"models"`
	MaxResponseLength int                      `json:"max_response_length"`
	VoiceInput        bool                     `json:"voice_input"`
	SessionID         string                   `json:"session_id"`
	IsContinuation    bool                     `json:"is_continuation"`
}

func (r startConversationRequest) toStart(c *Client) conversation.StartRequest {
	return conversation.StartRequest{
		SessionID:         c.session(r.SessionID),
		Prompt:            r.Prompt,
		Rounds:            r.Rounds,
		AgentCount:        r.AgentCount,
		Personality:       r.Personality,
		Models:            r.Models,
		MaxResponseLength: r.MaxResponseLength,
		VoiceInput:        r.VoiceInput,
		IsContinuation:    r.IsContinuation,
	}
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func startConversationHandler(deps HandlerDeps) Handler {
	return func(ctx context.Context, c *Client, payload json.RawMessage) error {
		var req startConversationRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return invalidPayload(ctx, c, EventStartConversation, err)
		}
		_, err := deps.Conversations.Run(ctx, req.toStart(c), c)
		return err
	}
}

func stopConversationHandler(deps HandlerDeps) Handler {
	return func(ctx context.Context, c *Client, payload json.RawMessage) error {
		var req sessionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return invalidPayload(ctx, c, EventStopConversation, err)
		}
		deps.Conversations.Stop(ctx, c.session(req.SessionID), c)
		return nil
	}
}

func getChatHistoryHandler(deps HandlerDeps) Handler {
	return func(ctx context.Context, c *Client, payload json.RawMessage) error {
		var req sessionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return invalidPayload(ctx, c, EventGetChatHistory, err)
		}
		history := deps.Conversations.Sessions().History(c.session(req.SessionID))
		c.Emit(ctx, domain.NotifyChatHistory, domain.ChatHistoryPayload{History: history})
		return nil
	}
}

func clearChatHistoryHandler(deps HandlerDeps) Handler {
	return func(ctx context.Context, c *Client, payload json.RawMessage) error {
		var req sessionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return invalidPayload(ctx, c, EventClearChatHistory, err)
		}
		id := c.session(req.SessionID)
		if err := deps.Conversations.Sessions().Clear(id); err != nil {
			c.Emit(ctx, domain.NotifyError, domain.ErrorPayload{Message: err.Error()})
			return err
		}
		c.Emit(ctx, domain.NotifyChatHistoryCleared, domain.ChatHistoryClearedPayload{SessionID: id})
		if deps.Bus != nil {
			deps.Bus.Publish(context.WithoutCancel(ctx), domain.NewEvent(domain.EventSessionCleared, id, nil))
		}
		return nil
	}
}

// --- voice ---

type voiceInputRequest struct {
	Audio    string `json:"audio"`
	Filename string `json:"filename"`
	startConversationRequest
}

func voiceInputHandler(deps HandlerDeps) Handler {
	return func(ctx context.Context, c *Client, payload json.RawMessage) error {
		var req voiceInputRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return invalidPayload(ctx, c, EventVoiceInput, err)
		}

		text, err := transcribe(ctx, deps, req)
		if err != nil {
			err = domain.NewDomainError("gateway.voiceInput", domain.ErrTranscription, err.Error())
			deps.Logger.Warn("voice input failed", "session_id", c.session(req.SessionID), "error", err)
			c.Emit(ctx, domain.NotifyError, domain.ErrorPayload{Message: VoiceFailedMessage})
			return err
		}

		start := req.startConversationRequest
		start.Prompt = text
		start.VoiceInput = true
		start.IsContinuation = false
		_, err = deps.Conversations.Run(ctx, start.toStart(c), c)
		return err
	}
}

func transcribe(ctx context.Context, deps HandlerDeps, req voiceInputRequest) (string, error) {
	if deps.Transcriber == nil || !deps.Transcriber.Available() {
		return "", fmt.Errorf("no transcriber configured")
	}
	audio, err := decodeAudio(req.Audio)
	if err != nil {
		return "", err
	}
	if deps.MaxAudioBytes > 0 && len(audio) > deps.MaxAudioBytes {
		return "", fmt.Errorf("audio is %d bytes, limit %d", len(audio), deps.MaxAudioBytes)
	}
	name := req.Filename
	if name == "" {
		name = "voice.webm"
	}
	return deps.Transcriber.Transcribe(ctx, bytes.NewReader(audio), name)
}

// decodeAudio accepts plain base64 or a data URL.
func decodeAudio(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	audio, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio")
	}
	return audio, nil
}

// --- model config ---

func getModelConfigHandler(deps HandlerDeps) Handler {
	return func(ctx context.Context, c *Client, _ json.RawMessage) error {
		catalog := deps.Models.Catalog()
		catalog.Personalities = deps.Personalities.List()
		catalog.PersonalityDetails = deps.Personalities.Describe()
		c.Emit(ctx, domain.NotifyModelConfig, domain.ModelConfigPayload{Config: catalog})
		return nil
	}
}

// --- single chat ---

type singleMessageRequest struct {
	Message string `json:"message"`
}

func singleAIMessageHandler(deps HandlerDeps) Handler {
	return func(ctx context.Context, c *Client, payload json.RawMessage) error {
		var req singleMessageRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return invalidPayload(ctx, c, EventSingleAIMessage, err)
		}
		return deps.Chat.Ask(ctx, connKey(c), req.Message, c)
	}
}

func stopGenerationHandler(deps HandlerDeps) Handler {
	return func(ctx context.Context, c *Client, _ json.RawMessage) error {
		deps.Chat.Stop(ctx, connKey(c), c)
		return nil
	}
}

func connKey(c *Client) string { return fmt.Sprintf("conn-%d", c.ID) }

func invalidPayload(ctx context.Context, c *Client, event string, err error) error {
	err = domain.NewDomainError(event, domain.ErrEventInvalidPayload, err.Error())
	c.Emit(ctx, domain.NotifyError, domain.ErrorPayload{Message: err.Error()})
	return err
}
