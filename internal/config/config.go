package config

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/viper"
)

// weightSumTolerance absorbs float rounding when validating that the scoring
// weights form a convex combination.
const weightSumTolerance = 1e-9

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Scoring  ScoringConfig  `mapstructure:"scoring" yaml:"scoring"`
	Policy   PolicyConfig   `mapstructure:"policy" yaml:"policy"`
	Selector SelectorConfig `mapstructure:"selector" yaml:"selector"`
	Ledger   LedgerConfig   `mapstructure:"ledger" yaml:"ledger"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ServerConfig configures the request/response API surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Weights defines the convex combination used for the total score.
// The five fields mirror the fixed-shape ScoreBreakdown.
type Weights struct {
	TextMatch          float64 `mapstructure:"text_match" yaml:"text_match"`
	SemanticRelevance  float64 `mapstructure:"semantic_relevance" yaml:"semantic_relevance"`
	ContextualPosition float64 `mapstructure:"contextual_position" yaml:"contextual_position"`
	VisualProminence   float64 `mapstructure:"visual_prominence" yaml:"visual_prominence"`
	LearnedPreference  float64 `mapstructure:"learned_preference" yaml:"learned_preference"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.TextMatch + w.SemanticRelevance + w.ContextualPosition + w.VisualProminence + w.LearnedPreference
}

// Validate rejects any weight vector that is not a convex combination.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"text_match":          w.TextMatch,
		"semantic_relevance":  w.SemanticRelevance,
		"contextual_position": w.ContextualPosition,
		"visual_prominence":   w.VisualProminence,
		"learned_preference":  w.LearnedPreference,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("scoring weight %s must be in [0,1], got %v", name, v)
		}
	}
	if math.Abs(w.Sum()-1.0) > weightSumTolerance {
		return fmt.Errorf("scoring weights must sum to 1.0, got %v", w.Sum())
	}
	return nil
}

// DefaultWeights returns the stock weight vector.
func DefaultWeights() Weights {
	return Weights{
		TextMatch:          0.30,
		SemanticRelevance:  0.25,
		ContextualPosition: 0.20,
		VisualProminence:   0.15,
		LearnedPreference:  0.10,
	}
}

// ScoringConfig tunes the scoring engine.
type ScoringConfig struct {
	Weights Weights `mapstructure:"weights" yaml:"weights"`
	// MinCandidateScore filters weak candidates out of top-N selections.
	MinCandidateScore float64 `mapstructure:"min_candidate_score" yaml:"min_candidate_score"`
	TopN              int     `mapstructure:"top_n" yaml:"top_n"`
	// Parallelism bounds the per-element scoring workers. Zero means GOMAXPROCS.
	Parallelism int `mapstructure:"parallelism" yaml:"parallelism"`
}

// PolicyConfig tunes the preference model and the epsilon-greedy agent.
type PolicyConfig struct {
	LearningRate       float64 `mapstructure:"learning_rate" yaml:"learning_rate"`
	ExplorationRate    float64 `mapstructure:"exploration_rate" yaml:"exploration_rate"`
	ExplorationDecay   float64 `mapstructure:"exploration_decay" yaml:"exploration_decay"`
	MinExplorationRate float64 `mapstructure:"min_exploration_rate" yaml:"min_exploration_rate"`
}

// SelectorConfig tunes the confidence gate.
type SelectorConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
}

// LedgerConfig tunes the experience ledger.
type LedgerConfig struct {
	// Retention bounds the in-memory ledger; oldest entries are evicted.
	Retention int `mapstructure:"retention" yaml:"retention"`
	// BatchSize is the number of unconsumed experiences that triggers one
	// model update and one exploration decay.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

// RedisConfig holds connection details for the session store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// SessionConfig configures session lifecycle and its backing store.
type SessionConfig struct {
	TTL   time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Redis RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

// DatabaseConfig holds the connection details for durable experience storage.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pagepilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.addr", "127.0.0.1:8710")
	v.SetDefault("server.shutdown_timeout", "10s")

	// -- Scoring --
	v.SetDefault("scoring.weights.text_match", 0.30)
	v.SetDefault("scoring.weights.semantic_relevance", 0.25)
	v.SetDefault("scoring.weights.contextual_position", 0.20)
	v.SetDefault("scoring.weights.visual_prominence", 0.15)
	v.SetDefault("scoring.weights.learned_preference", 0.10)
	v.SetDefault("scoring.min_candidate_score", 0.3)
	v.SetDefault("scoring.top_n", 3)
	v.SetDefault("scoring.parallelism", 0)

	// -- Policy --
	v.SetDefault("policy.learning_rate", 0.01)
	v.SetDefault("policy.exploration_rate", 0.1)
	v.SetDefault("policy.exploration_decay", 0.995)
	v.SetDefault("policy.min_exploration_rate", 0.01)

	// -- Selector --
	v.SetDefault("selector.confidence_threshold", 0.7)

	// -- Ledger --
	v.SetDefault("ledger.retention", 1000)
	v.SetDefault("ledger.batch_size", 10)

	// -- Session --
	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.redis.addr", "")
	v.SetDefault("session.redis.db", 0)

	// -- Database --
	v.SetDefault("database.url", "")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with the defaults above.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("session.redis.password", "PAGEPILOT_REDIS_PASSWORD")
	v.BindEnv("database.url", "PAGEPILOT_DATABASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// Weight violations fail fast here rather than surfacing as skewed scores.
func (c *Config) Validate() error {
	if err := c.Scoring.Weights.Validate(); err != nil {
		return err
	}
	if c.Scoring.MinCandidateScore < 0 || c.Scoring.MinCandidateScore > 1 {
		return fmt.Errorf("scoring.min_candidate_score must be in [0,1]")
	}
	if c.Scoring.TopN <= 0 {
		return fmt.Errorf("scoring.top_n must be a positive integer")
	}
	if c.Policy.LearningRate <= 0 {
		return fmt.Errorf("policy.learning_rate must be positive")
	}
	if c.Policy.ExplorationRate < 0 || c.Policy.ExplorationRate > 1 {
		return fmt.Errorf("policy.exploration_rate must be in [0,1]")
	}
	if c.Policy.ExplorationDecay <= 0 || c.Policy.ExplorationDecay > 1 {
		return fmt.Errorf("policy.exploration_decay must be in (0,1]")
	}
	if c.Policy.MinExplorationRate < 0 || c.Policy.MinExplorationRate > c.Policy.ExplorationRate {
		return fmt.Errorf("policy.min_exploration_rate must be in [0, exploration_rate]")
	}
	if c.Selector.ConfidenceThreshold < 0 || c.Selector.ConfidenceThreshold > 1 {
		return fmt.Errorf("selector.confidence_threshold must be in [0,1]")
	}
	if c.Ledger.BatchSize <= 0 {
		return fmt.Errorf("ledger.batch_size must be a positive integer")
	}
	if c.Ledger.Retention < c.Ledger.BatchSize {
		return fmt.Errorf("ledger.retention must be at least ledger.batch_size")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be a positive duration")
	}
	return nil
}
