package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:8710", cfg.Server.Addr)
	assert.Equal(t, 0.7, cfg.Selector.ConfidenceThreshold)
	assert.Equal(t, 10, cfg.Ledger.BatchSize)
	assert.Equal(t, 1000, cfg.Ledger.Retention)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 0.1, cfg.Policy.ExplorationRate)
}

func TestWeightsValidate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
	assert.InDelta(t, 1.0, DefaultWeights().Sum(), 1e-12)

	tests := []struct {
		name string
		w    Weights
	}{
		{"sum above one", Weights{TextMatch: 0.5, SemanticRelevance: 0.5, ContextualPosition: 0.5}},
		{"sum below one", Weights{TextMatch: 0.5}},
		{"negative weight", Weights{TextMatch: -0.1, SemanticRelevance: 0.6, ContextualPosition: 0.2, VisualProminence: 0.2, LearnedPreference: 0.1}},
		{"weight above one", Weights{TextMatch: 1.2, SemanticRelevance: -0.2}},
		{"all zero", Weights{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.w.Validate())
		})
	}
}

func TestValidateRejectsBadRanges(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad weights", func(c *Config) { c.Scoring.Weights.TextMatch = 0.9 }},
		{"min score out of range", func(c *Config) { c.Scoring.MinCandidateScore = 1.5 }},
		{"zero top n", func(c *Config) { c.Scoring.TopN = 0 }},
		{"zero learning rate", func(c *Config) { c.Policy.LearningRate = 0 }},
		{"exploration above one", func(c *Config) { c.Policy.ExplorationRate = 1.2 }},
		{"zero decay", func(c *Config) { c.Policy.ExplorationDecay = 0 }},
		{"floor above start", func(c *Config) { c.Policy.MinExplorationRate = 0.5 }},
		{"threshold above one", func(c *Config) { c.Selector.ConfidenceThreshold = 1.1 }},
		{"zero batch size", func(c *Config) { c.Ledger.BatchSize = 0 }},
		{"retention below batch", func(c *Config) { c.Ledger.Retention = 5 }},
		{"non-positive ttl", func(c *Config) { c.Session.TTL = 0 }},
	}
	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewConfigFromViperAppliesOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("selector.confidence_threshold", 0.85)
	v.Set("session.redis.addr", "127.0.0.1:6379")

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 0.85, cfg.Selector.ConfidenceThreshold)
	assert.Equal(t, "127.0.0.1:6379", cfg.Session.Redis.Addr)
}

func TestNewConfigFromViperRejectsInvalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("scoring.weights.text_match", 0.9)

	_, err := NewConfigFromViper(v)
	assert.Error(t, err)
}

func TestEnvironmentSecrets(t *testing.T) {
	t.Setenv("PAGEPILOT_REDIS_PASSWORD", "hunter2")
	t.Setenv("PAGEPILOT_DATABASE_URL", "postgres://pp@localhost/pagepilot")

	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Session.Redis.Password)
	assert.Equal(t, "postgres://pp@localhost/pagepilot", cfg.Database.URL)
}
