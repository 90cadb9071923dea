package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/reqflow/internal/model"
	"go.uber.org/zap"
)

// NewProvider creates a new LLM provider based on configuration
func NewProvider(config Config, logger *zap.Logger) (Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config, logger)

	case "groq":
		return NewGroqProvider(config, logger)

	case "openrouter":
		return NewOpenRouterProvider(config, logger)

	case "anthropic", "claude":
		return NewAnthropicProvider(config, logger)

	case "ollama":
		return NewOllamaProvider(config, logger)

	case "gemini", "google":
		return NewGeminiProvider(config, logger)

	case "":
		return nil, fmt.Errorf("no LLM provider configured (set llm.provider)")

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, groq, openrouter, anthropic, ollama, gemini)", config.Provider)
	}
}

// ConfigFromModel converts model.Config to llm.Config
func ConfigFromModel(cfg model.Config) Config {
	return Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Timeout:     cfg.LLM.Timeout,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		HTTPProxy:   cfg.HTTP.HTTPProxy,
		HTTPSProxy:  cfg.HTTP.HTTPSProxy,
		NoProxy:     cfg.HTTP.NoProxy,
	}
}

// RetryConfigFromModel converts the retry section of model.Config
func RetryConfigFromModel(cfg model.RetryConfig) RetryConfig {
	rc := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BackoffBase > 0 {
		rc.BackoffBase = cfg.BackoffBase
	}
	if cfg.MaxBackoff > 0 {
		rc.MaxBackoff = cfg.MaxBackoff
	}
	return rc
}

// APIKeyFromEnv returns the conventional environment API key (or base URL for ollama)
func APIKeyFromEnv(provider string) (key, baseURL string) {
	switch strings.ToLower(provider) {
	case "openai":
		return os.Getenv("OPENAI_API_KEY"), ""
	case "groq":
		return os.Getenv("GROQ_API_KEY"), ""
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY"), ""
	case "anthropic", "claude":
		return os.Getenv("ANTHROPIC_API_KEY"), ""
	case "gemini", "google":
		key = os.Getenv("GEMINI_API_KEY")
		if key == "" {
			key = os.Getenv("GOOGLE_API_KEY")
		}
		return key, ""
	case "ollama":
		return "", os.Getenv("OLLAMA_BASE_URL")
	default:
		return "", ""
	}
}
