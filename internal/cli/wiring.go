package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/provenant/internal/cache"
	"github.com/ppiankov/provenant/internal/llm"
	"github.com/ppiankov/provenant/internal/model"
	"github.com/ppiankov/provenant/internal/objstore"
	"github.com/ppiankov/provenant/internal/pipeline"
	"github.com/ppiankov/provenant/internal/queue"
)

// closers collects resources opened while wiring a command
type closers []io.Closer

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil && logger != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}

// openStore builds the object store stack: backend, retries, then the read
// cache for immutable artifacts
func openStore(cfg model.StoreConfig, cl *closers) (objstore.Store, error) {
	var store objstore.Store
	switch strings.ToLower(cfg.Backend) {
	case "", "fs":
		store = objstore.NewFSStore(cfg.Dir)
	case "sqlite":
		s, err := objstore.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		*cl = append(*cl, s)
		store = s
	case "memory":
		store = objstore.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown store backend: %s (supported: fs, sqlite, memory)", cfg.Backend)
	}

	if cfg.RetryAttempts > 1 {
		store = objstore.NewRetryingStore(store, cfg.RetryAttempts, cfg.RetryBackoff)
	}
	if cfg.CacheEnabled {
		store = objstore.NewCachedStore(store, cache.NewMemoryCache(cfg.CacheTTL, cfg.CacheMaxEntry), pipeline.Cacheable)
	}
	return store, nil
}

// openQueue builds the message channel. inline forces an in-process queue.
func openQueue(cfg model.QueueConfig, inline bool, cl *closers) (queue.Queue, error) {
	backend := strings.ToLower(cfg.Backend)
	if inline {
		backend = "memory"
	}
	switch backend {
	case "", "sqlite":
		q, err := queue.NewSQLiteQueue(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite queue: %w", err)
		}
		*cl = append(*cl, q)
		return q, nil
	case "memory":
		return queue.NewMemoryQueue(), nil
	default:
		return nil, fmt.Errorf("unknown queue backend: %s (supported: sqlite, memory)", cfg.Backend)
	}
}

// newGenerator builds the rate-limited, retrying LLM client
func newGenerator(ctx context.Context, cfg model.LLMConfig) (*llm.Client, error) {
	config := llm.ConfigFromModel(cfg)
	provider, err := llm.NewProvider(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create llm provider: %w", err)
	}
	return llm.NewClient(provider, config, logger), nil
}

// checkLLM builds the configured client and asks its provider whether it is ready
func checkLLM(ctx context.Context, cfg model.LLMConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := newGenerator(ctx, cfg)
	if err != nil {
		return err
	}
	return client.Ready(ctx)
}

// openPipeline resolves configuration and wires a pipeline.
// Submit-only commands pass withLLM false and never reach a provider.
func openPipeline(ctx context.Context, inline, withLLM bool) (*pipeline.Pipeline, *model.Config, closers, error) {
	var cl closers
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, cl, err
	}

	store, err := openStore(cfg.Store, &cl)
	if err != nil {
		return nil, nil, cl, err
	}
	q, err := openQueue(cfg.Queue, inline, &cl)
	if err != nil {
		cl.Close()
		return nil, nil, nil, err
	}

	var gen llm.Generator = unavailableGenerator{}
	if withLLM {
		client, err := newGenerator(ctx, cfg.LLM)
		if err != nil {
			cl.Close()
			return nil, nil, nil, err
		}
		// Runs still fail per stage with generation_unavailable; this only warns early.
		if err := client.Ready(ctx); err != nil {
			logger.Warn("llm provider not ready", zap.String("provider", cfg.LLM.Provider), zap.Error(err))
		}
		gen = client
	}

	if verbose {
		logger.Debug("pipeline wired",
			zap.String("store", cfg.Store.Backend),
			zap.String("queue", cfg.Queue.Backend),
			zap.Bool("inline", inline),
			zap.String("llm_provider", cfg.LLM.Provider),
			zap.Duration("lease", cfg.Queue.Lease),
		)
	}
	return pipeline.New(cfg, store, q, gen, logger), cfg, cl, nil
}

// unavailableGenerator stands in for the LLM in processes that only enqueue
// or inspect runs
type unavailableGenerator struct{}

func (unavailableGenerator) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	return nil, &llm.GenerationError{
		Kind:     llm.ErrUnavailable,
		Provider: "none",
		Attempts: 0,
		Err:      fmt.Errorf("no llm configured in this process"),
	}
}

// waitTimeout returns ctx bounded by d when d is positive
func waitTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
