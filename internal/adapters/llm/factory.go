package llm

import (
	"fmt"
	"os"

	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-analyzer/internal/logging"
)

// Provider names accepted in completion.provider.
const (
	ProviderOpenAI = "openai"
	ProviderCLI    = "cli"
	ProviderStatic = "static"
)

// New builds the completion backend selected by cfg.
func New(cfg config.CompletionConfig, logger *logging.Logger) (core.Completer, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	switch cfg.Provider {
	case ProviderOpenAI:
		key := os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, core.ErrValidation(core.CodeInvalidConfig,
				fmt.Sprintf("environment variable %s is not set", cfg.APIKeyEnv))
		}
		c, err := NewOpenAICompleter(OpenAIConfig{
			APIKey:      key,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: float32(cfg.Temperature),
		}, logger.With("provider", ProviderOpenAI))
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderCLI:
		c, err := NewCLICompleter(CLIConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Timeout: cfg.Timeout,
		}, logger.With("provider", ProviderCLI))
		if err != nil {
			return nil, err
		}
		return c, nil
	case ProviderStatic:
		if cfg.StaticResponsesFile == "" {
			return NewStaticCompleter(cfg.StaticResponse), nil
		}
		c, err := LoadStaticResponses(cfg.StaticResponsesFile)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("unknown completion provider %q", cfg.Provider))
	}
}
