package domain

import "context"

// Outbound event names pushed to a connected client.
const (
	NotifyAgentTyping          = "agentTyping"
	NotifyConversationUpdate   = "conversationUpdate"
	NotifyRoundUpdate          = "roundUpdate"
	NotifyConversationStopped  = "conversationStopped"
	NotifyConversationComplete = "conversationComplete"
	NotifyBatchComplete        = "batchComplete"
	NotifyChatHistory          = "chatHistory"
	NotifyChatHistoryCleared   = "chatHistoryCleared"
	NotifyModelConfig          = "modelConfig"
	NotifyMessage              = "message"
	NotifyError                = "error"
)

// Notifier pushes a named event to the listener attached to a session.
// Emit must not block on delivery; ordering per listener is preserved.
type Notifier interface {
	Emit(ctx context.Context, event string, payload any)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event string, payload any)

// Emit calls f.
func (f NotifierFunc) Emit(ctx context.Context, event string, payload any) { f(ctx, event, payload) }

// AgentTypingPayload is sent before an agent's turn starts.
type AgentTypingPayload struct {
	Round int    `json:"round"`
	Agent string `json:"agent"`
}

// ConversationUpdatePayload carries one finished agent turn.
type ConversationUpdatePayload struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
	Round   int    `json:"round"`
}

// RoundUpdatePayload announces round progress. CanContinue is absent on the
// announcement sent at the start of a batch.
type RoundUpdatePayload struct {
	Round       int   `json:"round"`
	Total       int   `json:"total"`
	CanContinue *bool `json:"can_continue,omitempty"`
}

// ProgressPayload is shared by conversationStopped and batchComplete.
type ProgressPayload struct {
	CurrentRound int  `json:"current_round"`
	CanContinue  bool `json:"can_continue"`
}

// ChatHistoryPayload is the reply to getChatHistory.
type ChatHistoryPayload struct {
	History []TurnRecord `json:"history"`
}

// ChatHistoryClearedPayload acknowledges clearChatHistory.
type ChatHistoryClearedPayload struct {
	SessionID string `json:"session_id"`
}

// ModelConfigPayload is the reply to getModelConfig.
type ModelConfigPayload struct {
	Config any `json:"config"`
}

// PersonalityInfo describes a selectable personality.
type PersonalityInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// MessagePayload is used by single-agent replies.
type MessagePayload struct {
	Content string `json:"content"`
}

// ErrorPayload reports a failure to the client.
type ErrorPayload struct {
	Message string `json:"message"`
}
