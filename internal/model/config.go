package model

import "time"

// Config is the complete reqflow configuration
type Config struct {
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Segmenter   SegmenterConfig   `yaml:"segmenter" mapstructure:"segmenter"`
	Chunk       ChunkConfig       `yaml:"chunk" mapstructure:"chunk"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	HTTP        HTTPConfig        `yaml:"http" mapstructure:"http"`
	Stream      StreamConfig      `yaml:"stream" mapstructure:"stream"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
}

// LLMConfig configures the generative backend
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"` // openai, groq, openrouter, anthropic, ollama, gemini
	Model       string  `yaml:"model" mapstructure:"model"`
	APIKey      string  `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout     int     `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature"`
}

// SegmenterConfig selects and tunes the segmentation strategy
type SegmenterConfig struct {
	Strategy  string `yaml:"strategy" mapstructure:"strategy"` // structure or tokens
	MinWords  int    `yaml:"min_words" mapstructure:"min_words"`
	MaxWords  int    `yaml:"max_words" mapstructure:"max_words"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
	Overlap   int    `yaml:"overlap" mapstructure:"overlap"` // tokens
}

// ChunkConfig tunes per-segment prompting
type ChunkConfig struct {
	Neighbors       int  `yaml:"neighbors" mapstructure:"neighbors"` // related segments on each side
	NeighborChars   int  `yaml:"neighbor_chars" mapstructure:"neighbor_chars"`
	CacheResponses  bool `yaml:"cache_responses" mapstructure:"cache_responses"`
	ResponseTimeout int  `yaml:"response_timeout" mapstructure:"response_timeout"` // seconds, per segment call
}

// ConcurrencyConfig bounds concurrent work
type ConcurrencyConfig struct {
	MapWorkers        int     `yaml:"map_workers" mapstructure:"map_workers"`
	BatchWorkers      int     `yaml:"batch_workers" mapstructure:"batch_workers"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// RetryConfig controls retries of transient backend errors
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`
	MaxBackoff  time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

// StoreConfig selects the version ledger
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // sqlite or memory
	Path   string `yaml:"path" mapstructure:"path"`
}

// CacheConfig configures extracted-text and response caching
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir       string        `yaml:"dir" mapstructure:"dir"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// HTTPConfig configures remote document fetching
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// StreamConfig configures the streaming orchestrator and its sinks
type StreamConfig struct {
	Buffer        int    `yaml:"buffer" mapstructure:"buffer"`
	NATSURL       string `yaml:"nats_url,omitempty" mapstructure:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // console or json
}

// MetricsConfig configures the prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty" mapstructure:"addr"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Timeout:     60,
			MaxTokens:   2000,
			Temperature: 0.2,
		},
		Segmenter: SegmenterConfig{
			Strategy:  "structure",
			MinWords:  40,
			MaxWords:  900,
			MaxTokens: 2000,
			Overlap:   200,
		},
		Chunk: ChunkConfig{
			Neighbors:       1,
			NeighborChars:   1200,
			CacheResponses:  false,
			ResponseTimeout: 120,
		},
		Concurrency: ConcurrencyConfig{
			MapWorkers:        4,
			BatchWorkers:      2,
			RequestsPerSecond: 2.0,
			Burst:             4,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BackoffBase: 2 * time.Second,
			MaxBackoff:  30 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "~/.reqflow/reqflow.db",
		},
		Cache: CacheConfig{
			Enabled:   true,
			Dir:       "~/.reqflow/cache",
			MemoryTTL: 1 * time.Hour,
			DiskTTL:   7 * 24 * time.Hour,
		},
		HTTP: HTTPConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "reqflow/0.1 (+https://github.com/ppiankov/reqflow)",
			MaxBodyBytes:  20_000_000,
			RespectRobots: true,
		},
		Stream: StreamConfig{
			Buffer:        64,
			SubjectPrefix: "reqflow.runs",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
