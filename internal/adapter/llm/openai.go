package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/trace"

	"chatsim/internal/domain"
	"chatsim/internal/infra/tracer"
)

// Default DeepSeek endpoint; DeepSeek speaks the OpenAI chat completions protocol.
const defaultDeepSeekBaseURL = "https://api.deepseek.com/v1"

// OpenAIProvider implements domain.LLMProvider for any OpenAI-compatible API
// (OpenAI, DeepSeek and self-hosted Llama/Mixtral gateways).
type OpenAIProvider struct {
	name   string
	client openai.Client
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider. An empty baseURL targets api.openai.com.
// SDK retries are disabled; failures surface on the first attempt.
func NewOpenAIProvider(name, apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		name:   name,
		client: openai.NewClient(openAIOptions(apiKey, baseURL, httpClient)...),
		logger: logger,
	}
}

func openAIOptions(apiKey, baseURL string, httpClient *http.Client) []option.RequestOption {
	// The key is always set explicitly so OPENAI_API_KEY never leaks to a
	// self-hosted endpoint.
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
	return opts
}

// Chat implements domain.LLMProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, toOpenAIParams(req))
	if err != nil {
		err = classifyOpenAIError(err)
		tracer.RecordError(span, err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("%s: no choices returned", p.name)
		tracer.RecordError(span, err)
		return nil, err
	}

	result := &domain.ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Message: domain.Message{
			Role:      domain.RoleAssistant,
			Content:   resp.Choices[0].Message.Content,
			Timestamp: time.Now(),
		},
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		CreatedAt: time.Unix(resp.Created, 0),
	}
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result, time.Since(start))

	return result, nil
}

// Name implements domain.LLMProvider.
func (p *OpenAIProvider) Name() string { return p.name }

func toOpenAIParams(req domain.ChatRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	return params
}

// classifyOpenAIError maps SDK API errors onto domain sentinels; transport
// and context errors are returned unchanged.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w (%w)", mapHTTPError(apiErr.StatusCode, apiErr.Message), err)
	}
	return err
}

var _ domain.LLMProvider = (*OpenAIProvider)(nil)
