package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is wrapped by every Validate failure so callers can
// distinguish bad configuration from runtime errors and fail fast.
var ErrInvalidConfig = errors.New("invalid configuration")

// MinEmbedChars is the hard floor for Embedding.MaxChars. Procedure sections
// up to this length must reach the embedding provider without truncation.
const MinEmbedChars = 16000

// Top-k scopes for semantic matching
const (
	TopKPerDelta = "per_delta" // Cap applies to each delta independently
	TopKPerRun   = "per_run"   // Cap applies across the whole run
)

// Config holds all runtime configuration. Components receive it (or a
// sub-struct) at construction; there are no mutable package globals.
type Config struct {
	Matching    MatchingConfig    `yaml:"matching" mapstructure:"matching"`
	Embedding   EmbeddingConfig   `yaml:"embedding" mapstructure:"embedding"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Storage     StorageConfig     `yaml:"storage" mapstructure:"storage"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
}

// MatchingConfig tunes the two-stage impact matcher
type MatchingConfig struct {
	ImpactThreshold         float64 `yaml:"impact_threshold" mapstructure:"impact_threshold"`                   // Min cosine score for semantic impacts
	TopK                    int     `yaml:"top_k" mapstructure:"top_k"`                                         // Max semantic impacts per scope
	ExplicitConfidenceFloor float64 `yaml:"explicit_confidence_floor" mapstructure:"explicit_confidence_floor"` // Min reference confidence for stage 1
	ClausePrefixMatch       bool    `yaml:"clause_prefix_match" mapstructure:"clause_prefix_match"`             // "5.1" also matches refs to "5.1.2"
	TopKScope               string  `yaml:"top_k_scope" mapstructure:"top_k_scope"`                             // per_delta or per_run
}

// EmbeddingConfig selects and tunes the embedding provider
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider" mapstructure:"provider"` // openai, ollama, or "" to disable semantic matching
	Model             string        `yaml:"model" mapstructure:"model"`
	APIKey            string        `yaml:"-" mapstructure:"api_key"` // Never written to config files
	BaseURL           string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries"`
	MaxChars          int           `yaml:"max_chars" mapstructure:"max_chars"` // Must be >= MinEmbedChars
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
}

// ConcurrencyConfig bounds parallel work during ingestion
type ConcurrencyConfig struct {
	EmbedWorkers int `yaml:"embed_workers" mapstructure:"embed_workers"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // memory or sqlite
	Path    string `yaml:"path,omitempty" mapstructure:"path"`
}

// CacheConfig controls the persistent vector cache
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir,omitempty" mapstructure:"dir"`
}

// LoggingConfig controls structured log output
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"` // debug, info, warn, error
	Pretty bool   `yaml:"pretty" mapstructure:"pretty"`
}

// OutputConfig controls operator-facing output
type OutputConfig struct {
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`
}

// DefaultConfig returns the standard configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Matching: MatchingConfig{
			ImpactThreshold:         0.75,
			TopK:                    3,
			ExplicitConfidenceFloor: 0.7,
			ClausePrefixMatch:       true,
			TopKScope:               TopKPerDelta,
		},
		Embedding: EmbeddingConfig{
			Provider:          "openai",
			Model:             "text-embedding-3-small",
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			MaxChars:          32000,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Concurrency: ConcurrencyConfig{
			EmbedWorkers: 8,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Cache: CacheConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Validate rejects configurations that would produce silently wrong results.
// Called once at startup; all failures wrap ErrInvalidConfig.
func (c Config) Validate() error {
	m := c.Matching
	if m.ImpactThreshold < 0 || m.ImpactThreshold > 1 {
		return fmt.Errorf("%w: impact_threshold must be in [0,1], got %v", ErrInvalidConfig, m.ImpactThreshold)
	}
	if m.ExplicitConfidenceFloor < 0 || m.ExplicitConfidenceFloor > 1 {
		return fmt.Errorf("%w: explicit_confidence_floor must be in [0,1], got %v", ErrInvalidConfig, m.ExplicitConfidenceFloor)
	}
	if m.TopK < 1 {
		return fmt.Errorf("%w: top_k must be >= 1, got %d", ErrInvalidConfig, m.TopK)
	}
	if m.TopKScope != TopKPerDelta && m.TopKScope != TopKPerRun {
		return fmt.Errorf("%w: top_k_scope must be %q or %q, got %q", ErrInvalidConfig, TopKPerDelta, TopKPerRun, m.TopKScope)
	}

	e := c.Embedding
	if e.Provider != "" {
		if e.Timeout <= 0 {
			return fmt.Errorf("%w: embedding timeout must be positive, got %v", ErrInvalidConfig, e.Timeout)
		}
		if e.MaxRetries < 0 {
			return fmt.Errorf("%w: max_retries must be >= 0, got %d", ErrInvalidConfig, e.MaxRetries)
		}
		if e.MaxChars < MinEmbedChars {
			return fmt.Errorf("%w: max_chars must be >= %d, got %d", ErrInvalidConfig, MinEmbedChars, e.MaxChars)
		}
		if e.RequestsPerSecond <= 0 {
			return fmt.Errorf("%w: requests_per_second must be positive, got %v", ErrInvalidConfig, e.RequestsPerSecond)
		}
		if e.Burst < 1 {
			return fmt.Errorf("%w: burst must be >= 1, got %d", ErrInvalidConfig, e.Burst)
		}
	}

	if c.Concurrency.EmbedWorkers < 1 {
		return fmt.Errorf("%w: embed_workers must be >= 1, got %d", ErrInvalidConfig, c.Concurrency.EmbedWorkers)
	}

	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: sqlite backend requires storage.path", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}

	return nil
}
