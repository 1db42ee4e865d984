package config

import (
	"testing"
	"time"

	apperrors "github.com/loopwire/duet/pkg/errors"
)

func TestLoad_AppliesEmbeddedYAMLDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load to succeed with only embedded defaults, got %v", err)
	}
	want := validConfig()
	if cfg.DefaultMaxTurns != want.DefaultMaxTurns {
		t.Errorf("DefaultMaxTurns = %d, want %d", cfg.DefaultMaxTurns, want.DefaultMaxTurns)
	}
	if cfg.Temperature != want.Temperature {
		t.Errorf("Temperature = %v, want %v", cfg.Temperature, want.Temperature)
	}
	if cfg.DataDir != want.DataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, want.DataDir)
	}
	if cfg.MaxBackoff != want.MaxBackoff {
		t.Errorf("MaxBackoff = %v, want %v", cfg.MaxBackoff, want.MaxBackoff)
	}
}

func validConfig() *Config {
	return &Config{
		DefaultMaxTurns:       50,
		DefaultTimeout:        30 * time.Minute,
		Temperature:           0.7,
		MaxTokens:             1024,
		MaxContextMessages:    10,
		SimilarityThreshold:   0.85,
		MaxConsecutiveSimilar: 2,
		MaxMessageLength:      100000,
		InitialBackoff:        2 * time.Second,
		BackoffMultiplier:     2.0,
		MaxBackoff:            120 * time.Second,
		DataDir:               "./data",
		MetricsPort:           8000,
		ProviderAPIKeys:       map[string]string{},
	}
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_RejectsOutOfRangeFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"max turns zero", func(c *Config) { c.DefaultMaxTurns = 0 }},
		{"timeout too short", func(c *Config) { c.DefaultTimeout = 0 }},
		{"temperature negative", func(c *Config) { c.Temperature = -0.1 }},
		{"temperature too high", func(c *Config) { c.Temperature = 2.1 }},
		{"max tokens zero", func(c *Config) { c.MaxTokens = 0 }},
		{"context msgs zero", func(c *Config) { c.MaxContextMessages = 0 }},
		{"similarity negative", func(c *Config) { c.SimilarityThreshold = -0.01 }},
		{"similarity too high", func(c *Config) { c.SimilarityThreshold = 1.01 }},
		{"consecutive similar zero", func(c *Config) { c.MaxConsecutiveSimilar = 0 }},
		{"message length zero", func(c *Config) { c.MaxMessageLength = 0 }},
		{"initial backoff zero", func(c *Config) { c.InitialBackoff = 0 }},
		{"backoff multiplier below one", func(c *Config) { c.BackoffMultiplier = 0.5 }},
		{"max backoff zero", func(c *Config) { c.MaxBackoff = 0 }},
		{"data dir empty", func(c *Config) { c.DataDir = "  " }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !apperrors.Is(err, apperrors.CodeInvalidInput) {
				t.Fatalf("expected CodeInvalidInput, got %v", err)
			}
		})
	}
}

func TestCredentialFor_CaseInsensitiveLookup(t *testing.T) {
	cfg := validConfig()
	cfg.ProviderAPIKeys["anthropic"] = "sk-test"

	key, ok := cfg.CredentialFor("Anthropic")
	if !ok || key != "sk-test" {
		t.Fatalf("expected credential lookup to be case-insensitive, got %q, %v", key, ok)
	}

	if _, ok := cfg.CredentialFor("openai"); ok {
		t.Fatalf("expected no credential for openai")
	}
}

func TestRequireCredentials_ReportsFirstMissing(t *testing.T) {
	cfg := validConfig()
	cfg.ProviderAPIKeys["anthropic"] = "sk-test"

	err := cfg.RequireCredentials("anthropic", "openai")
	if err == nil {
		t.Fatalf("expected missing credential error")
	}
	if !apperrors.Is(err, apperrors.CodeAuth) {
		t.Fatalf("expected CodeAuth, got %v", err)
	}
}
