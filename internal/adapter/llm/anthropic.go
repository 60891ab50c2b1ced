package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/trace"

	"chatsim/internal/domain"
	"chatsim/internal/infra/tracer"
)

// The Messages API requires max_tokens on every request.
const defaultAnthropicMaxTokens = 1024

// AnthropicProvider implements domain.LLMProvider for the Anthropic Messages API.
type AnthropicProvider struct {
	name   string
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropicProvider creates a provider for the Anthropic Messages API.
// An empty baseURL targets api.anthropic.com.
func NewAnthropicProvider(apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &AnthropicProvider{
		name:   string(domain.ProviderAnthropic),
		client: anthropic.NewClient(opts...),
		logger: logger,
	}
}

// Chat implements domain.LLMProvider.
func (p *AnthropicProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, toAnthropicParams(req))
	if err != nil {
		err = classifyAnthropicError(err)
		tracer.RecordError(span, err)
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	result := &domain.ChatResponse{
		ID:    resp.ID,
		Model: string(resp.Model),
		Message: domain.Message{
			Role:      domain.RoleAssistant,
			Content:   text.String(),
			Timestamp: time.Now(),
		},
		Usage: domain.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
		CreatedAt: time.Now(),
	}
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result, time.Since(start))

	return result, nil
}

// Name implements domain.LLMProvider.
func (p *AnthropicProvider) Name() string { return p.name }

func toAnthropicParams(req domain.ChatRequest) anthropic.MessageNewParams {
	system, rest := splitPrompt(req.Messages)

	msgs := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		if m.Role == domain.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w (%w)", mapHTTPError(apiErr.StatusCode, http.StatusText(apiErr.StatusCode)), err)
	}
	return err
}

var _ domain.LLMProvider = (*AnthropicProvider)(nil)
