package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the fully resolved process configuration.
// It is built once by the CLI and handed to every component constructor.
type Config struct {
	ResultsRoot string            `yaml:"results_root" mapstructure:"results_root"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Queue       QueueConfig       `yaml:"queue" mapstructure:"queue"`
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Gate        GateConfig        `yaml:"gate" mapstructure:"gate"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
}

// StoreConfig selects and tunes the object store
type StoreConfig struct {
	Backend       string        `yaml:"backend" mapstructure:"backend"` // fs, sqlite, memory
	Dir           string        `yaml:"dir" mapstructure:"dir"`
	SQLitePath    string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	CacheEnabled  bool          `yaml:"cache_enabled" mapstructure:"cache_enabled"`
	CacheTTL      time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	CacheMaxEntry int           `yaml:"cache_max_entry" mapstructure:"cache_max_entry"` // bytes, 0 = no limit
	RetryAttempts int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// QueueNames maps each stage to its queue
type QueueNames struct {
	Evidence string `yaml:"evidence" mapstructure:"evidence"`
	Pillars  string `yaml:"pillars" mapstructure:"pillars"`
	Outline  string `yaml:"outline" mapstructure:"outline"`
	Sections string `yaml:"sections" mapstructure:"sections"`
	Assemble string `yaml:"assemble" mapstructure:"assemble"`
	Router   string `yaml:"router" mapstructure:"router"`
}

// ForStage returns the queue that triggers the given stage
func (q QueueNames) ForStage(s Stage) string {
	switch s {
	case StageEvidence:
		return q.Evidence
	case StagePillarsSynth:
		return q.Pillars
	case StageOutline:
		return q.Outline
	case StageSectionWrites:
		return q.Sections
	case StageAssemble:
		return q.Assemble
	default:
		return ""
	}
}

// QueueConfig selects and tunes the message channel
type QueueConfig struct {
	Backend      string        `yaml:"backend" mapstructure:"backend"` // sqlite, memory
	SQLitePath   string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Names        QueueNames    `yaml:"names" mapstructure:"names"`
	Lease        time.Duration `yaml:"lease" mapstructure:"lease"`
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	BatchSize    int           `yaml:"batch_size" mapstructure:"batch_size"`
	RatePerQueue float64       `yaml:"rate_per_queue" mapstructure:"rate_per_queue"`
}

// LLMConfig configures the generation collaborator
type LLMConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"` // openai, anthropic, ollama, gemini
	Model             string  `yaml:"model" mapstructure:"model"`
	APIKey            string  `yaml:"-" json:"-" mapstructure:"api_key"`
	BaseURL           string  `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout           int     `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens         int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	HTTPProxy         string  `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy        string  `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy           string  `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// GateConfig holds the claim-gating limits
type GateConfig struct {
	MaxPillars          int `yaml:"max_pillars" mapstructure:"max_pillars"`
	MaxClaimsPerPillar  int `yaml:"max_claims_per_pillar" mapstructure:"max_claims_per_pillar"`
	MinTokenLength      int `yaml:"min_token_length" mapstructure:"min_token_length"`
	VisibleClaimCap     int `yaml:"visible_claim_cap" mapstructure:"visible_claim_cap"`
	ReportedIDCap       int `yaml:"reported_id_cap" mapstructure:"reported_id_cap"`
	VisibleTitleChars   int `yaml:"visible_title_chars" mapstructure:"visible_title_chars"`
	VisibleSummaryChars int `yaml:"visible_summary_chars" mapstructure:"visible_summary_chars"`
	VisibleQuoteChars   int `yaml:"visible_quote_chars" mapstructure:"visible_quote_chars"`
	OutlineStringChars  int `yaml:"outline_string_chars" mapstructure:"outline_string_chars"`
}

// ConcurrencyConfig controls worker pools
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// OutputConfig controls logging and console output
type OutputConfig struct {
	Verbose   bool   `yaml:"verbose" mapstructure:"verbose"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format"` // json, console
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ResultsRoot: "results/campaign/",
		Store: StoreConfig{
			Backend:       "fs",
			Dir:           "./provenant-data",
			SQLitePath:    "./provenant-data/store.db",
			CacheEnabled:  true,
			CacheTTL:      10 * time.Minute,
			CacheMaxEntry: 4 << 20,
			RetryAttempts: 3,
			RetryBackoff:  100 * time.Millisecond,
		},
		Queue: QueueConfig{
			Backend:    "sqlite",
			SQLitePath: "./provenant-data/queue.db",
			Names: QueueNames{
				Evidence: "evidence",
				Pillars:  "pillars",
				Outline:  "outline",
				Sections: "sections",
				Assemble: "assemble",
				Router:   "router",
			},
			Lease:        2 * time.Minute,
			MaxAttempts:  5,
			PollInterval: 500 * time.Millisecond,
			BatchSize:    8,
			RatePerQueue: 20,
		},
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			Timeout:           60,
			MaxTokens:         2000,
			MaxAttempts:       3,
			RequestsPerSecond: 2,
			Burst:             2,
		},
		Gate: DefaultGateConfig(),
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		Output: OutputConfig{
			LogFormat: "console",
		},
	}
}

// DefaultGateConfig returns the claim-gating limits
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxPillars:          10,
		MaxClaimsPerPillar:  8,
		MinTokenLength:      3,
		VisibleClaimCap:     60,
		ReportedIDCap:       50,
		VisibleTitleChars:   160,
		VisibleSummaryChars: 400,
		VisibleQuoteChars:   300,
		OutlineStringChars:  280,
	}
}

// Validate reports every setting that would break wiring or routing
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, a ...any) {
		errs = append(errs, fmt.Errorf(format, a...))
	}

	switch strings.ToLower(c.Store.Backend) {
	case "", "fs", "sqlite", "memory":
	default:
		bad("store.backend %q is not one of fs, sqlite, memory", c.Store.Backend)
	}
	if c.Store.CacheMaxEntry < 0 {
		bad("store.cache_max_entry must not be negative")
	}

	switch strings.ToLower(c.Queue.Backend) {
	case "", "sqlite", "memory":
	default:
		bad("queue.backend %q is not one of sqlite, memory", c.Queue.Backend)
	}
	seen := make(map[string]string)
	for _, q := range []struct{ key, name string }{
		{"evidence", c.Queue.Names.Evidence},
		{"pillars", c.Queue.Names.Pillars},
		{"outline", c.Queue.Names.Outline},
		{"sections", c.Queue.Names.Sections},
		{"assemble", c.Queue.Names.Assemble},
		{"router", c.Queue.Names.Router},
	} {
		if q.name == "" {
			bad("queue.names.%s is empty", q.key)
			continue
		}
		if other, dup := seen[q.name]; dup {
			bad("queue.names.%s reuses %q from queue.names.%s", q.key, q.name, other)
		}
		seen[q.name] = q.key
	}
	if c.Queue.Lease <= 0 {
		bad("queue.lease must be positive")
	}
	if c.Queue.MaxAttempts < 1 {
		bad("queue.max_attempts must be at least 1")
	}
	if c.Queue.RatePerQueue < 0 {
		bad("queue.rate_per_queue must not be negative")
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic", "claude", "ollama", "gemini", "google":
	default:
		bad("llm.provider %q is not one of openai, anthropic, ollama, gemini", c.LLM.Provider)
	}

	if c.Gate.MaxPillars < 1 || c.Gate.MaxClaimsPerPillar < 1 {
		bad("gate.max_pillars and gate.max_claims_per_pillar must be at least 1")
	}
	if c.Gate.MinTokenLength < 1 {
		bad("gate.min_token_length must be at least 1")
	}

	switch c.Output.LogFormat {
	case "", "json", "console":
	default:
		bad("output.log_format %q is not one of json, console", c.Output.LogFormat)
	}
	return errors.Join(errs...)
}
