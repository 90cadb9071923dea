package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryConfig holds retry configuration for backend requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per request.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns sensible retry defaults for backend requests.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// backoff returns the wait before retry number attempt (0-based)
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.BackoffBase)
	for i := 0; i < attempt; i++ {
		d *= c.BackoffMultiplier
	}
	if c.MaxBackoff > 0 && time.Duration(d) > c.MaxBackoff {
		return c.MaxBackoff
	}
	return time.Duration(d)
}

// retrySleepFunc waits between attempts (injectable for tests)
var retrySleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryingProvider retries transient errors of the wrapped provider
type RetryingProvider struct {
	Provider
	config RetryConfig
	logger *zap.Logger
}

// WithRetry wraps p so transient failures are retried with exponential backoff
func WithRetry(p Provider, config RetryConfig, logger *zap.Logger) *RetryingProvider {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingProvider{Provider: p, config: config, logger: logger}
}

// Complete retries transient failures of the wrapped Complete
func (r *RetryingProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		resp, err := r.Provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !r.shouldRetry(ctx, attempt, err) {
			break
		}
	}
	return nil, lastErr
}

// Stream retries opening the stream; deltas already received are never replayed
func (r *RetryingProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	var lastErr error
	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		s, err := r.Provider.Stream(ctx, req)
		if err == nil {
			return s, nil
		}
		lastErr = err
		if !r.shouldRetry(ctx, attempt, err) {
			break
		}
	}
	return nil, lastErr
}

func (r *RetryingProvider) shouldRetry(ctx context.Context, attempt int, err error) bool {
	if !IsTransient(err) || attempt >= r.config.MaxAttempts-1 {
		return false
	}
	wait := r.config.backoff(attempt)
	r.logger.Warn("transient backend error, retrying",
		zap.String("provider", r.Name()),
		zap.Int("attempt", attempt+1),
		zap.Duration("backoff", wait),
		zap.Error(err))
	return retrySleepFunc(ctx, wait) == nil
}
