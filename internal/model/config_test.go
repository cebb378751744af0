package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"store backend", func(c *Config) { c.Store.Backend = "s3" }, "store.backend"},
		{"queue backend", func(c *Config) { c.Queue.Backend = "kafka" }, "queue.backend"},
		{"empty queue name", func(c *Config) { c.Queue.Names.Outline = "" }, "queue.names.outline is empty"},
		{"shared queue name", func(c *Config) { c.Queue.Names.Router = "evidence" }, `queue.names.router reuses "evidence"`},
		{"lease", func(c *Config) { c.Queue.Lease = 0 }, "queue.lease"},
		{"provider", func(c *Config) { c.LLM.Provider = "mystery" }, "llm.provider"},
		{"gate", func(c *Config) { c.Gate.MaxPillars = 0 }, "gate.max_pillars"},
		{"log format", func(c *Config) { c.Output.LogFormat = "xml" }, "output.log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_Validate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Backend = "s3"
	cfg.Queue.MaxAttempts = 0
	cfg.LLM.Provider = ""

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"store.backend", "queue.max_attempts", "llm.provider"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestQueueNames_ForStage(t *testing.T) {
	names := DefaultConfig().Queue.Names
	assert.Equal(t, "evidence", names.ForStage(StageEvidence))
	assert.Equal(t, "sections", names.ForStage(StageSectionWrites))
	assert.Equal(t, "", names.ForStage(StageCompleted))
}
