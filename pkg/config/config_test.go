package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: test-key
  base_url: http://localhost:8080/v1
  model: gpt-4o-mini
  retry:
    enabled: true
    max_attempts: 5
    initial_backoff: 1s
actor:
  max_steps: 20
  token_limit: 40000
  system_prompt: "You are Ema. {MEMORY_BUFFER}"
  name: Ema
storage:
  path: /tmp/ema-test.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.LLM.Retry.InitialBackoff.Std())
	assert.Equal(t, 20, cfg.Actor.MaxSteps)
	assert.Equal(t, 40000, cfg.Actor.TokenLimit)
	assert.Equal(t, "/tmp/ema-test.db", cfg.Storage.Path)
}

func TestLoad_DefaultsApply(t *testing.T) {
	path := writeConfig(t, `
llm:
  api_key: k
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 50, cfg.Actor.MaxSteps)
	assert.Equal(t, 80000, cfg.Actor.TokenLimit)
	assert.True(t, cfg.LLM.Retry.Enabled)
	assert.Equal(t, 3, cfg.LLM.Retry.MaxAttempts)
}

func TestLoad_EnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OPENAI_BASE_URL", "http://env:1234/v1")

	path := writeConfig(t, `
actor:
  max_steps: 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.LLM.APIKey)
	assert.Equal(t, "http://env:1234/v1", cfg.LLM.BaseURL)
}

func TestLoad_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "NegativeMaxSteps",
			content: "actor:\n  max_steps: -1\n",
			wantErr: "max_steps",
		},
		{
			name:    "NegativeTokenLimit",
			content: "actor:\n  token_limit: -5\n",
			wantErr: "token_limit",
		},
		{
			name:    "BadRetryAttempts",
			content: "llm:\n  retry:\n    enabled: true\n    max_attempts: 0\n",
			wantErr: "max_attempts",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
