// Package llm provides chat-completion clients for the providers that back
// extraction workers and the rubric judge.
//
// Clients rate-limit requests, retry transient failures with exponential
// backoff, and never log request bodies (document content may be sensitive).
package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-20241022"
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultMaxTokens        = 2048
	defaultTimeout          = 60 * time.Second
	defaultMaxRetries       = 3
	defaultBaseBackoff      = 1 * time.Second
)

// Rate limiter defaults: 50 requests per minute with small bursts.
const (
	defaultRateLimit = 50.0 / 60.0
	defaultBurst     = 5
)

// Client is a minimal chat-completion interface.
type Client interface {
	// Complete sends a system and user prompt and returns the model's text.
	Complete(ctx context.Context, system, user string) (string, error)

	// Available reports whether the client is configured with credentials.
	Available() bool
}

// Config configures a provider client.
type Config struct {
	// Provider is "anthropic" or "openai".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	APIKey   string `koanf:"api_key"`
	BaseURL  string `koanf:"base_url"`
	// TimeoutSeconds bounds a single HTTP request.
	TimeoutSeconds int `koanf:"timeout_seconds"`
	// MaxRetries bounds transport-level retries (429/5xx/network).
	MaxRetries int `koanf:"max_retries"`
	// MaxTokens caps the response length.
	MaxTokens int `koanf:"max_tokens"`
	// Temperature for sampling; extraction and judging want it low.
	Temperature float64 `koanf:"temperature"`
}

// New creates a client for the configured provider.
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "anthropic":
		return newAnthropicClient(cfg)
	case "openai":
		return newOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unknown provider: %q", cfg.Provider)
	}
}

func newHTTPClient(cfg Config) *http.Client {
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst)
}

func maxRetriesOrDefault(cfg Config) int {
	if cfg.MaxRetries > 0 {
		return cfg.MaxRetries
	}
	return defaultMaxRetries
}

func maxTokensOrDefault(cfg Config) int {
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return defaultMaxTokens
}
