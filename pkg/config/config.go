// Package config loads the EverMemoryArchive daemon configuration from a
// YAML file, with environment-variable fallbacks for provider credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LLMConfig configures the LLM provider adapter.
type LLMConfig struct {
	APIKey  string      `yaml:"api_key"`
	BaseURL string      `yaml:"base_url"`
	Model   string      `yaml:"model"`
	Retry   RetryConfig `yaml:"retry"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "500ms".
type Duration time.Duration

// UnmarshalYAML parses a duration from a YAML scalar.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RetryConfig configures the bounded-attempt retry wrapper around LLM calls.
type RetryConfig struct {
	Enabled        bool     `yaml:"enabled"`
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
}

// ActorConfig configures per-actor run behaviour.
type ActorConfig struct {
	MaxSteps     int    `yaml:"max_steps"`
	TokenLimit   int    `yaml:"token_limit"`
	SystemPrompt string `yaml:"system_prompt"`
	Name         string `yaml:"name"`
}

// StorageConfig configures the sqlite persistence layer.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Config is the root daemon configuration.
type Config struct {
	LLM     LLMConfig     `yaml:"llm"`
	Actor   ActorConfig   `yaml:"actor"`
	Storage StorageConfig `yaml:"storage"`
}

// Default returns a configuration with sensible defaults applied.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model: "gpt-4o",
			Retry: RetryConfig{
				Enabled:        true,
				MaxAttempts:    3,
				InitialBackoff: Duration(500 * time.Millisecond),
				MaxBackoff:     Duration(10 * time.Second),
			},
		},
		Actor: ActorConfig{
			MaxSteps:   50,
			TokenLimit: 80000,
			Name:       "Ema",
		},
		Storage: StorageConfig{
			Path: "ema.db",
		},
	}
}

// Load reads a config file, applies defaults for unset fields, and resolves
// environment fallbacks (OPENAI_API_KEY, OPENAI_BASE_URL).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
}

// Validate checks the configuration for values the runtime cannot work with.
func (c *Config) Validate() error {
	if c.Actor.MaxSteps <= 0 {
		return fmt.Errorf("config: actor.max_steps must be positive, got %d", c.Actor.MaxSteps)
	}
	if c.Actor.TokenLimit <= 0 {
		return fmt.Errorf("config: actor.token_limit must be positive, got %d", c.Actor.TokenLimit)
	}
	if c.LLM.Retry.Enabled && c.LLM.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: llm.retry.max_attempts must be at least 1, got %d", c.LLM.Retry.MaxAttempts)
	}
	return nil
}
