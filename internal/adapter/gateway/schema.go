package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"chatsim/internal/domain"
)

const startConversationProperties = `
	"prompt":              {"type": "string"},
	"rounds":              {"type": "integer", "minimum": 0},
	"agent_count":         {"type": "integer"},
	"personality":         {"type": "string"},
	"models": {
		"type": "object",
		"properties": {
			"A": {"type": "string"},
			"B": {"type": "string"}
		}
	},
	"max_response_length": {"type": "integer", "minimum": 0},
	"voice_input":         {"type": "boolean"},
	"session_id":          {"type": "string"},
	"is_continuation":     {"type": "boolean"}`

var (
	startConversationSchema = mustCompile(`{
		"type": "object",
		"properties": {` + startConversationProperties + `}
	}`)

	voiceInputSchema = mustCompile(`{
		"type": "object",
		"required": ["audio"],
		"properties": {
			"audio":    {"type": "string", "minLength": 1},
			"filename": {"type": "string"},` + startConversationProperties + `
		}
	}`)

	sessionSchema = mustCompile(`{
		"type": "object",
		"properties": {
			"session_id": {"type": "string"}
		}
	}`)

	singleMessageSchema = mustCompile(`{
		"type": "object",
		"properties": {
			"message": {"type": "string"}
		}
	}`)

	emptySchema = mustCompile(`{"type": "object"}`)
)

func mustCompile(schema string) *jsonschema.Schema {
	compiled, err := jsonschema.NewCompiler().Compile([]byte(schema))
	if err != nil {
		panic(fmt.Sprintf("gateway: invalid schema: %v", err))
	}
	return compiled
}

// validatePayload checks raw against schema. A missing payload is treated
// as an empty object.
func validatePayload(schema *jsonschema.Schema, raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage(`{}`)
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEventInvalidPayload, err)
	}
	result := schema.Validate(data)
	if !result.IsValid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrEventInvalidPayload, result.Error())
	}
	return raw, nil
}

// validated runs h only for payloads that match schema. Rejected payloads are
// reported to the client as an error event.
func validated(event string, schema *jsonschema.Schema, h Handler) Handler {
	return func(ctx context.Context, c *Client, payload json.RawMessage) error {
		raw, err := validatePayload(schema, payload)
		if err != nil {
			err = domain.NewDomainError(event, err, "")
			c.Emit(ctx, domain.NotifyError, domain.ErrorPayload{Message: err.Error()})
			return err
		}
		return h(ctx, c, raw)
	}
}
