// Package config resolves the dialogue engine's run-time parameters from
// environment variables, using a layered viper setup seeded from an
// embedded YAML default-config template.
package config

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "github.com/loopwire/duet/pkg/errors"
)

//go:embed default_config.yaml
var defaultConfigYAML []byte

// Config holds every tunable named in the environment/configuration table.
// Durations are stored already-parsed; everything else matches its env
// var's declared type.
type Config struct {
	DefaultMaxTurns       int
	DefaultTimeout        time.Duration
	Temperature           float64
	MaxTokens             int
	MaxContextMessages    int
	SimilarityThreshold   float64
	MaxConsecutiveSimilar int
	MaxMessageLength      int
	InitialBackoff        time.Duration
	BackoffMultiplier     float64
	MaxBackoff            time.Duration
	DataDir               string
	MetricsPort           int

	// ProviderAPIKeys maps a provider name (lowercase, e.g. "anthropic") to
	// its credential, collected from any "<PROVIDER>_API_KEY" env var.
	ProviderAPIKeys map[string]string
}

// knownProviders lists the provider names this binary ships adapters for;
// used to probe "<PROVIDER>_API_KEY" without requiring the caller to name
// every provider up front.
var knownProviders = []string{"anthropic", "openai", "gemini"}

// Load resolves Config from defaults overridden by environment variables.
// There is no config file layer: the environment is the only recognized
// source besides defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	for _, key := range []string{
		"DEFAULT_MAX_TURNS", "DEFAULT_TIMEOUT_MINUTES", "TEMPERATURE",
		"MAX_TOKENS", "MAX_CONTEXT_MSGS", "SIMILARITY_THRESHOLD",
		"MAX_CONSECUTIVE_SIMILAR", "MAX_MESSAGE_LENGTH", "INITIAL_BACKOFF",
		"BACKOFF_MULTIPLIER", "MAX_BACKOFF", "DATA_DIR", "METRICS_PORT",
	} {
		_ = v.BindEnv(key)
	}

	cfg := &Config{
		DefaultMaxTurns:       v.GetInt("DEFAULT_MAX_TURNS"),
		DefaultTimeout:        time.Duration(v.GetFloat64("DEFAULT_TIMEOUT_MINUTES")) * time.Minute,
		Temperature:           v.GetFloat64("TEMPERATURE"),
		MaxTokens:             v.GetInt("MAX_TOKENS"),
		MaxContextMessages:    v.GetInt("MAX_CONTEXT_MSGS"),
		SimilarityThreshold:   v.GetFloat64("SIMILARITY_THRESHOLD"),
		MaxConsecutiveSimilar: v.GetInt("MAX_CONSECUTIVE_SIMILAR"),
		MaxMessageLength:      v.GetInt("MAX_MESSAGE_LENGTH"),
		InitialBackoff:        time.Duration(v.GetFloat64("INITIAL_BACKOFF") * float64(time.Second)),
		BackoffMultiplier:     v.GetFloat64("BACKOFF_MULTIPLIER"),
		MaxBackoff:            time.Duration(v.GetFloat64("MAX_BACKOFF") * float64(time.Second)),
		DataDir:               v.GetString("DATA_DIR"),
		MetricsPort:           v.GetInt("METRICS_PORT"),
		ProviderAPIKeys:       map[string]string{},
	}

	for _, name := range knownProviders {
		key := strings.ToUpper(name) + "_API_KEY"
		if val := v.GetString(key); val != "" {
			cfg.ProviderAPIKeys[name] = val
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds viper from the embedded default_config.yaml template
// rather than a hardcoded literal list, so the shipped defaults live in one
// reviewable file instead of scattered SetDefault calls.
func setDefaults(v *viper.Viper) {
	var defaults map[string]interface{}
	if err := yaml.Unmarshal(defaultConfigYAML, &defaults); err != nil {
		panic(fmt.Sprintf("config: embedded default_config.yaml is invalid: %v", err))
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Validate enforces the bounds declared in the environment table. It
// returns an *apperrors.AppError with CodeInvalidInput so callers (the CLI
// entrypoint) can map it straight to exit code 3.
func (c *Config) Validate() error {
	switch {
	case c.DefaultMaxTurns < 1:
		return apperrors.NewInvalidInput("DEFAULT_MAX_TURNS must be >= 1")
	case c.DefaultTimeout < time.Minute:
		return apperrors.NewInvalidInput("DEFAULT_TIMEOUT_MINUTES must be >= 1")
	case c.Temperature < 0 || c.Temperature > 2:
		return apperrors.NewInvalidInput("TEMPERATURE must be within [0, 2]")
	case c.MaxTokens < 1:
		return apperrors.NewInvalidInput("MAX_TOKENS must be >= 1")
	case c.MaxContextMessages < 1:
		return apperrors.NewInvalidInput("MAX_CONTEXT_MSGS must be >= 1")
	case c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1:
		return apperrors.NewInvalidInput("SIMILARITY_THRESHOLD must be within [0, 1]")
	case c.MaxConsecutiveSimilar < 1:
		return apperrors.NewInvalidInput("MAX_CONSECUTIVE_SIMILAR must be >= 1")
	case c.MaxMessageLength < 1:
		return apperrors.NewInvalidInput("MAX_MESSAGE_LENGTH must be >= 1")
	case c.InitialBackoff <= 0:
		return apperrors.NewInvalidInput("INITIAL_BACKOFF must be > 0")
	case c.BackoffMultiplier < 1:
		return apperrors.NewInvalidInput("BACKOFF_MULTIPLIER must be >= 1")
	case c.MaxBackoff <= 0:
		return apperrors.NewInvalidInput("MAX_BACKOFF must be > 0")
	case strings.TrimSpace(c.DataDir) == "":
		return apperrors.NewInvalidInput("DATA_DIR must not be empty")
	}
	return nil
}

// CredentialFor returns the API key configured for a provider name, and
// whether one was present.
func (c *Config) CredentialFor(provider string) (string, bool) {
	key, ok := c.ProviderAPIKeys[strings.ToLower(provider)]
	return key, ok
}

// RequireCredentials checks that every named provider has a configured
// credential, returning a descriptive error (mapped to exit code 4 by the
// CLI) naming the first missing one.
func (c *Config) RequireCredentials(providers ...string) error {
	for _, p := range providers {
		if _, ok := c.CredentialFor(p); !ok {
			return apperrors.New(apperrors.CodeAuth, fmt.Sprintf("missing credential: %s_API_KEY", strings.ToUpper(p)))
		}
	}
	return nil
}
