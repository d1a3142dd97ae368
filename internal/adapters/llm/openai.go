// Package llm provides completion backends: an OpenAI-compatible HTTP
// client, an external command and a static responder for dry runs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/logging"
)

const defaultSystemPrompt = "You are a senior software engineer reviewing legacy code. Answer with the requested JSON only."

// OpenAIConfig configures an OpenAICompleter.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // empty uses api.openai.com
	Model        string
	MaxTokens    int
	Temperature  float32
	SystemPrompt string
}

// OpenAICompleter implements core.Completer over the chat completions API.
type OpenAICompleter struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *logging.Logger
}

// NewOpenAICompleter creates a completer. BaseURL lets it talk to any
// OpenAI-compatible gateway.
func NewOpenAICompleter(cfg OpenAIConfig, logger *logging.Logger) (*OpenAICompleter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "openai api key not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	logger.Info("initializing openai completer", "model", cfg.Model, "base_url", clientCfg.BaseURL)

	return &OpenAICompleter{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Model returns the configured model name.
func (o *OpenAICompleter) Model() string {
	return o.cfg.Model
}

// Complete implements core.Completer.
func (o *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", core.ErrValidation(core.CodeEmptyPrompt, "prompt is empty")
	}

	req := openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.cfg.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: o.cfg.Temperature,
	}
	if o.cfg.MaxTokens > 0 {
		req.MaxCompletionTokens = o.cfg.MaxTokens
	}

	o.logger.Debug("requesting chat completion", "model", o.cfg.Model, "prompt_length", len(prompt))
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classifyOpenAIError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", core.ErrParse("openai returned no choices")
	}
	o.logger.Debug("chat completion received",
		"finish_reason", resp.Choices[0].FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}

// classifyOpenAIError maps client failures onto the domain taxonomy so the
// retry policy and breakers can tell transient from permanent failures.
func classifyOpenAIError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return core.ErrTimeout("openai request timed out").WithCause(err)
	case errors.Is(err, context.Canceled):
		return core.ErrCancelled("openai request cancelled").WithCause(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, reqErr.Error(), err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return core.ErrTimeout("openai request timed out").WithCause(err)
		}
		return core.ErrTransport(netErr.Error()).WithCause(err)
	}
	return fmt.Errorf("openai request: %w", err)
}

func classifyStatus(status int, message string, cause error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.ErrAuth(message).WithCause(cause)
	case status == http.StatusTooManyRequests:
		return core.ErrRateLimit(message).WithCause(cause)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return core.ErrTimeout(message).WithCause(cause)
	case status >= 500:
		return core.ErrTransport(message).WithCause(cause)
	case status >= 400:
		return core.ErrValidation(core.CodeInvalidConfig, message).WithCause(cause)
	}
	return fmt.Errorf("openai request: %w", cause)
}
