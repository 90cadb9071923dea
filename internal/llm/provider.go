package llm

import (
	"context"
	"strings"
)

// Provider defines the interface for generative backends
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete returns the whole response as one text blob
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream returns incremental text deltas; Recv reports io.EOF at the end marker
	Stream(ctx context.Context, req Request) (Stream, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// Stream yields text deltas from a streaming completion
type Stream interface {
	// Recv returns the next delta, or io.EOF once the backend signals completion
	Recv() (string, error)
	Close() error
}

// Role of a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged chat message
type Message struct {
	Role    Role
	Content string
}

// Request contains the input for a completion
type Request struct {
	Messages []Message

	// Model overrides the configured model (provider-specific)
	Model string

	// MaxTokens limits the response length
	MaxTokens int

	// Temperature is the sampling temperature; zero uses the configured value
	Temperature float32

	// JSON asks the backend for a strict JSON object response
	JSON bool
}

// System returns the concatenated system messages
func (r Request) System() string {
	var parts []string
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Conversation returns the non-system messages in order
func (r Request) Conversation() []Message {
	out := make([]Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role != RoleSystem {
			out = append(out, m)
		}
	}
	return out
}

// Response contains a completed generation
type Response struct {
	// Text is the generated text
	Text string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "groq", "openrouter", "anthropic", "ollama", "gemini"
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for hosted providers
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama, OpenAI-compatible gateways)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int

	// Temperature default for requests that leave it unset
	Temperature float32

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		Timeout:     60,
		MaxTokens:   2000,
		Temperature: 0.2,
	}
}

// resolve fills request defaults from the provider config
func (c Config) resolve(req Request, fallbackModel string) (model string, maxTokens int, temperature float32) {
	model = req.Model
	if model == "" {
		model = c.Model
	}
	if model == "" {
		model = fallbackModel
	}

	maxTokens = req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = 2000
	}

	temperature = req.Temperature
	if temperature == 0 {
		temperature = c.Temperature
	}
	return model, maxTokens, temperature
}
