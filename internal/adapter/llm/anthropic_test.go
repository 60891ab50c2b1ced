package llm

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsim/internal/domain"
	"chatsim/internal/infra/logger"
)

const anthropicMessage = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-opus",` +
	`"content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":2}}`

func TestAnthropicProviderChat(t *testing.T) {
	srv, rec, _ := newFakeServer(t, http.StatusOK, anthropicMessage)

	p := NewAnthropicProvider("test-key", srv.URL, srv.Client(), logger.Discard())
	resp, err := p.Chat(context.Background(), chatRequest())
	require.NoError(t, err)

	assert.Equal(t, "hi", resp.Message.Content)
	assert.Equal(t, 1, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.TotalTokens)
	assert.Equal(t, "anthropic", p.Name())

	got := rec.get()
	assert.True(t, strings.HasSuffix(got.path, "/v1/messages"), got.path)
	assert.Equal(t, "test-key", got.header.Get("X-Api-Key"))

	// System prompt travels in the top-level field, not as a message.
	msgs, ok := got.body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 1)
	assert.NotNil(t, got.body["system"])
	assert.EqualValues(t, 64, got.body["max_tokens"])
}

func TestAnthropicProviderDefaultMaxTokens(t *testing.T) {
	srv, rec, _ := newFakeServer(t, http.StatusOK, anthropicMessage)

	req := chatRequest()
	req.MaxTokens = 0
	p := NewAnthropicProvider("k", srv.URL, srv.Client(), logger.Discard())
	_, err := p.Chat(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, defaultAnthropicMaxTokens, rec.get().body["max_tokens"])
}

func TestAnthropicProviderErrors(t *testing.T) {
	srv, _, calls := newFakeServer(t, http.StatusTooManyRequests,
		`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)

	p := NewAnthropicProvider("k", srv.URL, srv.Client(), logger.Discard())
	_, err := p.Chat(context.Background(), chatRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.Equal(t, int32(1), calls.Load())
}
