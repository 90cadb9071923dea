package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/reqflow/internal/util"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAI-compatible gateways served through the same client
const (
	groqBaseURL       = "https://api.groq.com/openai/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenAIProvider implements the Provider interface for OpenAI and
// OpenAI-compatible chat completion APIs
type OpenAIProvider struct {
	client  *openai.Client
	config  Config
	name    string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config, logger *zap.Logger) (*OpenAIProvider, error) {
	return newOpenAICompatible("openai", "", config, logger)
}

// NewGroqProvider creates a provider for Groq's OpenAI-compatible endpoint
func NewGroqProvider(config Config, logger *zap.Logger) (*OpenAIProvider, error) {
	return newOpenAICompatible("groq", groqBaseURL, config, logger)
}

// NewOpenRouterProvider creates a provider for OpenRouter's OpenAI-compatible endpoint
func NewOpenRouterProvider(config Config, logger *zap.Logger) (*OpenAIProvider, error) {
	return newOpenAICompatible("openrouter", openRouterBaseURL, config, logger)
}

func newOpenAICompatible(name, defaultBaseURL string, config Config, logger *zap.Logger) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	switch {
	case config.BaseURL != "":
		clientConfig.BaseURL = config.BaseURL
	case defaultBaseURL != "":
		clientConfig.BaseURL = defaultBaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Transport: &http.Transport{
			Proxy: util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy, config.NoProxy),
		},
	}

	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  config,
		name:    name,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

// IsAvailable checks if the provider is properly configured
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	// Listing models is the lightest authenticated call
	if _, err := p.client.ListModels(ctx); err != nil {
		p.logger.Warn("availability check failed", zap.String("provider", p.name), zap.Error(err))
		return false
	}
	return true
}

func (p *OpenAIProvider) buildRequest(req Request) openai.ChatCompletionRequest {
	model, maxTokens, temperature := p.config.resolve(req, openai.GPT4oMini)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return chatReq
}

// Complete generates a response using the Chat Completions API
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctxWithTimeout, p.buildRequest(req))
	if err != nil {
		return nil, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from %s", p.name)
	}

	return &Response{
		Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// Stream generates a response as a sequence of content deltas
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	chatReq := p.buildRequest(req)
	chatReq.Stream = true

	ctxWithTimeout, cancel := context.WithTimeout(ctx, p.timeout)
	stream, err := p.client.CreateChatCompletionStream(ctxWithTimeout, chatReq)
	if err != nil {
		cancel()
		return nil, p.classify(err)
	}
	return &openAIStream{stream: stream, cancel: cancel, provider: p}, nil
}

type openAIStream struct {
	stream   *openai.ChatCompletionStream
	cancel   context.CancelFunc
	provider *OpenAIProvider
}

func (s *openAIStream) Recv() (string, error) {
	for {
		chunk, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", s.provider.classify(err)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	s.cancel()
	return nil
}

// classify maps client errors onto transient/fatal classes
func (p *OpenAIProvider) classify(err error) error {
	wrapped := fmt.Errorf("%s API error: %w", p.name, err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, wrapped)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, wrapped)
	}

	classified := classifyTransport(err)
	switch {
	case IsFatal(classified):
		return NewFatalError(wrapped)
	case IsTransient(classified):
		return NewTransientError(wrapped)
	default:
		return wrapped
	}
}
