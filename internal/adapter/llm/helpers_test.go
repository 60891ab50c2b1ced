package llm

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsim/internal/domain"
	"chatsim/internal/infra/config"
)

func TestNewPooledTransport_Defaults(t *testing.T) {
	tr := NewPooledTransport(config.PoolConfig{})

	assert.Equal(t, defaultMaxIdleConns, tr.MaxIdleConns)
	assert.Equal(t, defaultMaxIdleConnsPerHost, tr.MaxIdleConnsPerHost)
	assert.Equal(t, defaultMaxConnsPerHost, tr.MaxConnsPerHost)
	assert.Equal(t, defaultIdleConnTimeout, tr.IdleConnTimeout)
	assert.Equal(t, 10*time.Second, tr.TLSHandshakeTimeout)
	assert.True(t, tr.ForceAttemptHTTP2)
}

func TestNewPooledTransport_CustomConfig(t *testing.T) {
	tr := NewPooledTransport(config.PoolConfig{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 25,
		MaxConnsPerHost:     30,
		IdleConnTimeout:     5 * time.Minute,
	})

	assert.Equal(t, 50, tr.MaxIdleConns)
	assert.Equal(t, 25, tr.MaxIdleConnsPerHost)
	assert.Equal(t, 30, tr.MaxConnsPerHost)
	assert.Equal(t, 5*time.Minute, tr.IdleConnTimeout)
}

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusRequestEntityTooLarge, domain.ErrContextOverflow},
		{http.StatusBadGateway, domain.ErrProviderDown},
	}
	for _, tt := range tests {
		err := mapHTTPError(tt.status, " body ")
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
		assert.Contains(t, err.Error(), "body")
	}

	plain := mapHTTPError(http.StatusBadRequest, "bad")
	assert.Equal(t, "API error 400: bad", plain.Error())
}

func TestSplitPrompt(t *testing.T) {
	sys, rest := splitPrompt([]domain.Message{
		{Role: domain.RoleSystem, Content: "a"},
		{Role: domain.RoleUser, Content: "u"},
		{Role: domain.RoleSystem, Content: "b"},
	})
	assert.Equal(t, "a\n\nb", sys)
	require.Len(t, rest, 1)
	assert.Equal(t, "u", rest[0].Content)
}
