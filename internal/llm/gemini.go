package llm

import (
	"context"
	"fmt"
	"io"
	"iter"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const geminiDefaultModel = "gemini-2.0-flash"

// geminiStatusPattern pulls the HTTP code out of genai API error strings ("Error 429, Message: ...")
var geminiStatusPattern = regexp.MustCompile(`Error (\d{3})`)

// GeminiProvider implements the Provider interface for Google Gemini models
type GeminiProvider struct {
	client  *genai.Client
	config  Config
	timeout time.Duration
	logger  *zap.Logger
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(config Config, logger *zap.Logger) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &GeminiProvider{client: client, config: config, timeout: timeout, logger: logger}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// IsAvailable checks if the provider is properly configured
func (p *GeminiProvider) IsAvailable(ctx context.Context) bool {
	model, _, _ := p.config.resolve(Request{}, geminiDefaultModel)
	if _, err := p.client.Models.Get(ctx, model, nil); err != nil {
		p.logger.Warn("availability check failed", zap.String("provider", p.Name()), zap.Error(err))
		return false
	}
	return true
}

func (p *GeminiProvider) buildRequest(req Request) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model, maxTokens, temperature := p.config.resolve(req, geminiDefaultModel)

	var contents []*genai.Content
	for _, m := range req.Conversation() {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		MaxOutputTokens: int32(maxTokens),
	}
	if system := req.System(); system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	return model, contents, cfg
}

// Complete generates a response with GenerateContent
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	model, contents, cfg := p.buildRequest(req)
	resp, err := p.client.Models.GenerateContent(ctxWithTimeout, model, contents, cfg)
	if err != nil {
		return nil, classifyGemini(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("no content in gemini response")
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return &Response{Text: text, Model: model, TokensUsed: tokens}, nil
}

// Stream generates a response with GenerateContentStream
func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, p.timeout)

	model, contents, cfg := p.buildRequest(req)
	next, stop := iter.Pull2(p.client.Models.GenerateContentStream(ctxWithTimeout, model, contents, cfg))

	return &geminiStream{next: next, stop: stop, cancel: cancel}, nil
}

type geminiStream struct {
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	cancel context.CancelFunc
}

func (s *geminiStream) Recv() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", classifyGemini(err)
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.stop()
	s.cancel()
	return nil
}

func classifyGemini(err error) error {
	wrapped := fmt.Errorf("gemini API error: %w", err)
	if m := geminiStatusPattern.FindStringSubmatch(err.Error()); m != nil {
		status, _ := strconv.Atoi(m[1])
		return classifyStatus(status, wrapped)
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
