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

func TestWhisperTranscriber(t *testing.T) {
	srv, rec, _ := newFakeServer(t, http.StatusOK, `{"text":"  debate about cats  "}`)

	tr := NewWhisperTranscriber("k", srv.URL, "", srv.Client(), logger.Discard())
	require.True(t, tr.Available())

	text, err := tr.Transcribe(context.Background(), strings.NewReader("RIFF...."), "voice.webm")
	require.NoError(t, err)
	assert.Equal(t, "debate about cats", text)

	got := rec.get()
	assert.True(t, strings.HasSuffix(got.path, "/audio/transcriptions"), got.path)
	assert.Contains(t, got.header.Get("Content-Type"), "multipart/form-data")
}

func TestWhisperTranscriberUnavailable(t *testing.T) {
	tr := NewWhisperTranscriber("", "", "whisper-1", nil, logger.Discard())
	assert.False(t, tr.Available())

	_, err := tr.Transcribe(context.Background(), strings.NewReader("x"), "a.webm")
	assert.ErrorIs(t, err, domain.ErrTranscription)
}

func TestWhisperTranscriberErrors(t *testing.T) {
	srv, _, _ := newFakeServer(t, http.StatusOK, `{"text":"   "}`)
	tr := NewWhisperTranscriber("k", srv.URL, "", srv.Client(), logger.Discard())

	_, err := tr.Transcribe(context.Background(), strings.NewReader("x"), "a.webm")
	assert.ErrorIs(t, err, domain.ErrTranscription)

	srv, _, _ = newFakeServer(t, http.StatusUnauthorized, `{"error":{"message":"bad key"}}`)
	tr = NewWhisperTranscriber("k", srv.URL, "", srv.Client(), logger.Discard())
	_, err = tr.Transcribe(context.Background(), strings.NewReader("x"), "a.webm")
	assert.ErrorIs(t, err, domain.ErrTranscription)
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
}
