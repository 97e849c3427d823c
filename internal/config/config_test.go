package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
llm:
  api_key: ${GROQ_API_KEY}
analysis:
  pacing_delay: 3s
  max_backoff: 30s
`)
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("LLM_MODEL", "llama-3.1-8b-instant")

	cfg, err := Load("test", dir)
	require.NoError(t, err)

	assert.Equal(t, "gsk_test", cfg.LLM.APIKey)
	assert.Equal(t, "llama-3.1-8b-instant", cfg.LLM.Model)
	assert.Equal(t, "https://api.groq.com/openai/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 5, cfg.Analysis.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.Analysis.PacingDelay)
	assert.Equal(t, "email.received", cfg.Ingest.RoutingKey)

	p := cfg.RetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 5*time.Second, p.RateLimitBackoff)
	assert.Equal(t, 30*time.Second, p.MaxBackoff)
}

func TestLLMAPIKeyPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "llm:\n  model: x\n")
	t.Setenv("GROQ_API_KEY", "groq")
	t.Setenv("LLM_API_KEY", "generic")

	cfg, err := Load("test", dir)
	require.NoError(t, err)

	assert.Equal(t, "generic", cfg.LLM.APIKey)
}

func TestOTLPEndpointEnablesTracing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "otel:\n  enabled: false\n")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load("test", dir)
	require.NoError(t, err)

	assert.True(t, cfg.OTel.Enabled)
	assert.Equal(t, "collector:4317", cfg.OTel.Endpoint)
	assert.Equal(t, "mailtriage", cfg.OTel.ServiceName)
}

func TestValidateRejectsInvertedBackoff(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "analysis:\n  min_backoff: 10s\n  max_backoff: 2s\n")

	_, err := Load("test", dir)

	assert.ErrorContains(t, err, "min_backoff")
}
