package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"go.opentelemetry.io/otel/trace"

	"chatsim/internal/domain"
	"chatsim/internal/infra/tracer"
)

// WhisperTranscriber implements domain.Transcriber with the OpenAI audio API.
type WhisperTranscriber struct {
	client    openai.Client
	model     string
	available bool
	logger    *slog.Logger
}

// NewWhisperTranscriber creates a transcriber. It reports unavailable when
// apiKey is empty.
func NewWhisperTranscriber(apiKey, baseURL, model string, httpClient *http.Client, logger *slog.Logger) *WhisperTranscriber {
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &WhisperTranscriber{
		client:    openai.NewClient(openAIOptions(apiKey, baseURL, httpClient)...),
		model:     model,
		available: apiKey != "",
		logger:    logger,
	}
}

// Available implements domain.Transcriber.
func (t *WhisperTranscriber) Available() bool { return t.available }

// Transcribe implements domain.Transcriber.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if !t.available {
		return "", fmt.Errorf("%w: no OpenAI API key configured", domain.ErrTranscription)
	}

	ctx, span := tracer.StartSpan(ctx, "voice.transcribe",
		trace.WithAttributes(tracer.StringAttr("voice.model", t.model)),
	)
	defer span.End()

	start := time.Now()
	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(t.model),
		File:  openai.File(audio, filename, "audio/webm"),
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrTranscription, classifyOpenAIError(err))
		tracer.RecordError(span, err)
		return "", err
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		err := fmt.Errorf("%w: empty transcription", domain.ErrTranscription)
		tracer.RecordError(span, err)
		return "", err
	}
	tracer.SetOK(span)
	t.logger.Debug("voice transcribed", "chars", len(text), "duration", time.Since(start))
	return text, nil
}

var _ domain.Transcriber = (*WhisperTranscriber)(nil)
