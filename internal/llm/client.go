package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// GenerateRequest asks for one structured object
type GenerateRequest struct {
	SchemaName   string
	Schema       map[string]any
	SystemPrompt string
	UserPrompt   string
	Timeout      time.Duration

	// Validate rejects a parsed object; a rejection counts as a malformed response
	Validate func(obj map[string]any) error
}

// GenerateResponse is a parsed, validated object
type GenerateResponse struct {
	Object   map[string]any
	Raw      string
	Model    string
	Format   Format
	Attempts int
}

// Generator produces structured objects. Client is the production implementation.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Client wraps a Provider with rate limiting, retries and response parsing
type Client struct {
	provider Provider
	limiter  *rate.Limiter
	attempts int
	initial  time.Duration
	timeout  time.Duration
	model    string
	logger   *zap.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithInitialBackoff sets the first retry delay
func WithInitialBackoff(d time.Duration) ClientOption {
	return func(c *Client) { c.initial = d }
}

// NewClient creates a generation client over provider
func NewClient(provider Provider, config Config, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	attempts := config.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	c := &Client{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		attempts: attempts,
		initial:  500 * time.Millisecond,
		timeout:  timeout,
		model:    config.Model,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ready checks that the provider is configured and reachable within the
// per-call timeout. It never spends a generation.
func (c *Client) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if c.provider.IsAvailable(ctx) {
		return nil
	}
	return &GenerationError{
		Kind:     ErrUnavailable,
		Provider: c.provider.Name(),
		Err:      fmt.Errorf("provider not configured or not reachable"),
	}
}

// Generate calls the provider until it returns a valid object, a permanent
// failure occurs, or the attempts are exhausted. After the first malformed
// response the request switches once to the other response format.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	format := FormatJSONSchema
	fellBack := false
	attempt := 0
	var (
		result   *GenerateResponse
		lastKind error = ErrUnavailable
	)

	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		comp, err := c.provider.Complete(callCtx, CompletionRequest{
			SchemaName:   req.SchemaName,
			Schema:       req.Schema,
			SystemPrompt: req.SystemPrompt,
			UserPrompt:   req.UserPrompt,
			Format:       format,
			Model:        c.model,
		})
		deadline := errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			kind, retry := classify(err)
			if deadline {
				kind, retry = ErrTimeout, true
			}
			lastKind = kind
			c.logger.Warn("generation attempt failed",
				zap.String("provider", c.provider.Name()),
				zap.Int("attempt", attempt),
				zap.String("kind", kind.Error()),
				zap.Error(err))
			if !retry {
				return backoff.Permanent(err)
			}
			return err
		}

		obj, err := ParseObject(comp.Text)
		if err == nil && req.Validate != nil {
			if verr := req.Validate(obj); verr != nil {
				err = fmt.Errorf("%w: %v", ErrMalformedResponse, verr)
			}
		}
		if err != nil {
			lastKind = ErrMalformedResponse
			c.logger.Warn("generation response rejected",
				zap.String("provider", c.provider.Name()),
				zap.Int("attempt", attempt),
				zap.String("format", string(format)),
				zap.Error(err))
			if !fellBack {
				fellBack = true
				format = fallbackFormat(format)
			}
			return err
		}

		result = &GenerateResponse{Object: obj, Raw: comp.Text, Model: comp.Model, Format: format, Attempts: attempt}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initial
	bo.MaxInterval = 20 * c.initial
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.attempts-1)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			lastKind = ErrTimeout
		}
		return nil, &GenerationError{Kind: lastKind, Provider: c.provider.Name(), Attempts: attempt, Err: err}
	}
	return result, nil
}

func fallbackFormat(f Format) Format {
	if f == FormatJSONSchema {
		return FormatJSONObject
	}
	return FormatJSONSchema
}

// ParseObject extracts a single JSON object from model text, tolerating code
// fences and surrounding prose
func ParseObject(text string) (map[string]any, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") {
		start := strings.Index(s, "{")
		end := strings.LastIndex(s, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: no JSON object in response", ErrMalformedResponse)
		}
		s = s[start : end+1]
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: null object", ErrMalformedResponse)
	}
	return obj, nil
}
