// Package llm is the generation collaborator: a structured-output client over
// interchangeable model providers.
//
// Providers only turn prompts into text. Client owns rate limiting, timeouts,
// bounded jittered retries, JSON extraction, validation, and the one-time
// fallback from schema-constrained to plain JSON output.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/util"
)

// Format is the structured-output mode requested from a provider
type Format string

const (
	// FormatJSONSchema asks for output constrained by a JSON Schema
	FormatJSONSchema Format = "json_schema"
	// FormatJSONObject asks for any single JSON object
	FormatJSONObject Format = "json_object"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete returns the raw model text for a structured-output request
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest is one provider call
type CompletionRequest struct {
	SchemaName   string
	Schema       map[string]any
	SystemPrompt string
	UserPrompt   string
	Format       Format
	Model        string
	MaxTokens    int
}

// Completion is a provider's raw answer
type Completion struct {
	Text       string
	Model      string
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", "gemini"
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic/Gemini
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout per provider call, in seconds
	Timeout int

	// MaxTokens for response generation
	MaxTokens int

	// MaxAttempts bounds retries of one generation, first try included
	MaxAttempts int

	// RequestsPerSecond and Burst shape the client-side rate limit
	RequestsPerSecond float64
	Burst             int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:          "openai",
		Timeout:           60,
		MaxTokens:         2000,
		MaxAttempts:       3,
		RequestsPerSecond: 2,
		Burst:             2,
	}
}

// ConfigFromModel converts model.LLMConfig to llm.Config
func ConfigFromModel(c model.LLMConfig) Config {
	return Config{
		Provider:          c.Provider,
		Model:             c.Model,
		APIKey:            c.APIKey,
		BaseURL:           c.BaseURL,
		Timeout:           c.Timeout,
		MaxTokens:         c.MaxTokens,
		MaxAttempts:       c.MaxAttempts,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		HTTPProxy:         c.HTTPProxy,
		HTTPSProxy:        c.HTTPSProxy,
		NoProxy:           c.NoProxy,
	}
}

func (c Config) proxy() util.Proxy {
	return util.Proxy{HTTP: c.HTTPProxy, HTTPS: c.HTTPSProxy, NoProxy: c.NoProxy}
}

// SystemPrompt extends the caller's system prompt with output instructions
// for providers that have no native response format
func SystemPrompt(req CompletionRequest) string {
	var b strings.Builder
	b.WriteString(req.SystemPrompt)
	b.WriteString("\n\nRespond with a single JSON object and nothing else: no prose, no code fences.")
	if req.Format == FormatJSONSchema && len(req.Schema) > 0 {
		schema, err := json.MarshalIndent(req.Schema, "", "  ")
		if err == nil {
			fmt.Fprintf(&b, "\nThe object must conform to this JSON Schema (%s):\n%s", req.SchemaName, schema)
		}
	}
	return b.String()
}

// modelOr returns the request model, falling back to the configured one and then def
func modelOr(req, configured, def string) string {
	if req != "" {
		return req
	}
	if configured != "" {
		return configured
	}
	return def
}

// maxTokensOr returns the request token limit, falling back to the configured one
func maxTokensOr(req, configured int) int {
	if req > 0 {
		return req
	}
	if configured > 0 {
		return configured
	}
	return 2000
}
