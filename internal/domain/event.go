package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventConversationStarted    EventType = "conversation.started"
	EventTurnCompleted          EventType = "conversation.turn.completed"
	EventRoundCompleted         EventType = "conversation.round.completed"
	EventBatchPaused            EventType = "conversation.batch.paused"
	EventConversationCompleted  EventType = "conversation.completed"
	EventConversationStopped    EventType = "conversation.stopped"
	EventConversationFailed     EventType = "conversation.failed"
	EventResponseLengthExceeded EventType = "conversation.response_length.exceeded"

	EventSessionCleared EventType = "session.cleared"

	EventLLMCallCompleted  EventType = "llm.call.completed"
	EventSingleChat        EventType = "single.chat.completed"
	EventGenerationStopped EventType = "single.chat.stopped"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes an event.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides publish/subscribe for domain events.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
	Close()
}

// NewEvent builds an Event stamped with the current time, marshaling payload
// when non-nil. A payload that fails to marshal is dropped.
func NewEvent(typ EventType, sessionID string, payload any) Event {
	ev := Event{Type: typ, Timestamp: time.Now(), SessionID: sessionID}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// TurnCompletedPayload accompanies EventTurnCompleted.
type TurnCompletedPayload struct {
	Round    int           `json:"round"`
	Agent    string        `json:"agent"`
	Provider Provider      `json:"provider"`
	Runes    int           `json:"runes"`
	Duration time.Duration `json:"duration"`
}

// ConversationEndPayload accompanies the terminal conversation events.
type ConversationEndPayload struct {
	RoundsDone  int    `json:"rounds_done"`
	RoundsTotal int    `json:"rounds_total"`
	Error       string `json:"error,omitempty"`
}

// LLMCallPayload accompanies EventLLMCallCompleted.
type LLMCallPayload struct {
	Provider    string        `json:"provider"`
	Model       string        `json:"model"`
	TotalTokens int           `json:"total_tokens"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}
