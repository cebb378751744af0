package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/provenant/internal/util"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider talks to a local Ollama server through its chat endpoint
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
	config     Config
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   any             `json:"format,omitempty"` // "json" or a JSON Schema
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllamaProvider creates a provider for config.Model on config.BaseURL
func NewOllamaProvider(config Config) (*OllamaProvider, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("ollama model must be specified (e.g., llama3.1:8b, mistral)")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	return &OllamaProvider{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: util.NewHTTPClient(config.proxy()),
		config:     config,
	}, nil
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// IsAvailable reports whether the server answers and has the configured
// model pulled
func (p *OllamaProvider) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var tags ollamaTags
	if err := p.call(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if sameOllamaModel(m.Name, p.config.Model) {
			return true
		}
	}
	return false
}

// Complete sends the prompts as a two-message chat. The schema is passed as
// the native format constraint and repeated in the system message.
func (p *OllamaProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	var format any = "json"
	if req.Format == FormatJSONSchema && len(req.Schema) > 0 {
		format = req.Schema
	}

	chat := ollamaChatRequest{
		Model: modelOr(req.Model, p.config.Model, ""),
		Messages: []ollamaMessage{
			{Role: "system", Content: SystemPrompt(req)},
			{Role: "user", Content: req.UserPrompt},
		},
		Format: format,
		Options: map[string]any{
			"temperature": 0.2,
			"num_predict": maxTokensOr(req.MaxTokens, p.config.MaxTokens),
		},
	}

	var resp ollamaChatResponse
	if err := p.call(ctx, http.MethodPost, "/api/chat", chat, &resp); err != nil {
		return nil, err
	}
	if !resp.Done {
		return nil, fmt.Errorf("%w: ollama returned a partial message", ErrMalformedResponse)
	}
	if resp.DoneReason == "length" {
		return nil, fmt.Errorf("%w: ollama output truncated at %d tokens", ErrMalformedResponse, resp.EvalCount)
	}

	return &Completion{
		Text:       strings.TrimSpace(resp.Message.Content),
		Model:      resp.Model,
		TokensUsed: resp.PromptEvalCount + resp.EvalCount,
	}, nil
}

// call performs one JSON round trip against the Ollama API
func (p *OllamaProvider) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := string(data)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &StatusError{Provider: "ollama", StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode ollama %s: %v", ErrMalformedResponse, path, err)
	}
	return nil
}

// sameOllamaModel treats an untagged name as the latest tag
func sameOllamaModel(a, b string) bool {
	norm := func(s string) string {
		if !strings.Contains(s, ":") {
			return s + ":latest"
		}
		return s
	}
	return norm(a) == norm(b)
}
