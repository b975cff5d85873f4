package model

import (
	"errors"
	"testing"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig() should validate, got: %v", err)
	}

	if cfg.Matching.ImpactThreshold != 0.75 {
		t.Errorf("default impact_threshold = %v, want 0.75", cfg.Matching.ImpactThreshold)
	}
	if cfg.Matching.TopK != 3 {
		t.Errorf("default top_k = %d, want 3", cfg.Matching.TopK)
	}
	if cfg.Matching.ExplicitConfidenceFloor != 0.7 {
		t.Errorf("default explicit_confidence_floor = %v, want 0.7", cfg.Matching.ExplicitConfidenceFloor)
	}
	if cfg.Embedding.MaxChars < MinEmbedChars {
		t.Errorf("default max_chars = %d, below floor %d", cfg.Embedding.MaxChars, MinEmbedChars)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults pass",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.Matching.ImpactThreshold = 1.5 },
			wantErr: true,
		},
		{
			name:    "threshold negative",
			mutate:  func(c *Config) { c.Matching.ImpactThreshold = -0.1 },
			wantErr: true,
		},
		{
			name:    "zero top_k",
			mutate:  func(c *Config) { c.Matching.TopK = 0 },
			wantErr: true,
		},
		{
			name:    "bad top_k scope",
			mutate:  func(c *Config) { c.Matching.TopKScope = "global" },
			wantErr: true,
		},
		{
			name:    "confidence floor above one",
			mutate:  func(c *Config) { c.Matching.ExplicitConfidenceFloor = 2 },
			wantErr: true,
		},
		{
			name:    "max_chars below floor",
			mutate:  func(c *Config) { c.Embedding.MaxChars = 8000 },
			wantErr: true,
		},
		{
			name: "embedding disabled skips embedding checks",
			mutate: func(c *Config) {
				c.Embedding.Provider = ""
				c.Embedding.MaxChars = 0
			},
			wantErr: false,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Concurrency.EmbedWorkers = 0 },
			wantErr: true,
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "postgres" },
			wantErr: true,
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Storage.Backend = "sqlite" },
			wantErr: true,
		},
		{
			name: "sqlite with path",
			mutate: func(c *Config) {
				c.Storage.Backend = "sqlite"
				c.Storage.Path = "/tmp/reglens.db"
			},
			wantErr: false,
		},
		{
			name:    "negative rate",
			mutate:  func(c *Config) { c.Embedding.RequestsPerSecond = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error should wrap ErrInvalidConfig, got: %v", err)
			}
		})
	}
}
