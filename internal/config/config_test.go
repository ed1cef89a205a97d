package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/tickgraph/pkg/orchestration"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.GetHTTPAddr())
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, BackendMemory, cfg.Events.Backend)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, orchestration.FaultFailFast, cfg.FaultPolicy())
	assert.Equal(t, time.Hour, cfg.Timeouts.RunTimeout)
	assert.False(t, cfg.UsesRedis())
	assert.Empty(t, cfg.LLM.APIKey, "the agent graph is optional")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TICKGRAPH_HTTP_PORT", "8181")
	t.Setenv("ENGINE_FAULT_POLICY", "isolate")
	t.Setenv("ENGINE_MAX_ATTEMPTS", "5")
	t.Setenv("STORAGE_BACKEND", "redis")
	t.Setenv("EVENTS_BACKEND", "nats")
	t.Setenv("TIMEOUT_NODE", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.HTTPPort)
	assert.Equal(t, orchestration.FaultIsolate, cfg.FaultPolicy())
	assert.Equal(t, 5, cfg.Engine.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.NodeTimeout)
	assert.True(t, cfg.UsesRedis())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad http port", func(c *Config) { c.HTTPPort = 0 }},
		{"bad grpc port", func(c *Config) { c.GRPCPort = 70000 }},
		{"no attempts", func(c *Config) { c.Engine.MaxAttempts = 0 }},
		{"unknown policy", func(c *Config) { c.Engine.FaultPolicy = "retry_forever" }},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }},
		{"unknown events", func(c *Config) { c.Events.Backend = "kafka" }},
		{"unknown provider", func(c *Config) { c.LLM.APIKey = "k"; c.LLM.Provider = "other" }},
		{"no workers", func(c *Config) { c.Workers.PoolSize = 0 }},
		{"sample ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }},
		{"log level", func(c *Config) { c.LogLevel = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("EVENTS_BACKEND", "kafka")
	_, err := Load()
	assert.Error(t, err)
}
