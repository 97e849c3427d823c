package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfigMergesAndSubstitutes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
  password: ${DB_PASSWORD}
server:
  port: "8080"
llm:
  api_key: ${LOADER_TEST_KEY}
`)
	writeFile(t, dir, "staging.yaml", `
db:
  host: db.internal
`)
	writeFile(t, dir, "secrets.env", "DB_PASSWORD=from-secrets\nLOADER_TEST_KEY=from-secrets\n")
	t.Setenv("LOADER_TEST_KEY", "from-env")

	raw, err := LoadConfig("staging", dir)
	require.NoError(t, err)

	var cfg struct {
		DB     DBConfig     `yaml:"db"`
		Server ServerConfig `yaml:"server"`
		LLM    struct {
			APIKey string `yaml:"api_key"`
		} `yaml:"llm"`
	}
	require.NoError(t, Decode(raw, &cfg))

	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "from-secrets", cfg.DB.Password)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
}

func TestLoadConfigMissingBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	assert.Error(t, err)
}

func TestUnresolvedPlaceholderBecomesEmpty(t *testing.T) {
	assert.Equal(t, "x--y", substituteString("x-${LOADER_TEST_UNSET_VAR}-y", nil))
}

func TestDSNDefaultsSSLMode(t *testing.T) {
	cfg := DBConfig{Host: "h", Port: 1, User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "postgres://u:p@h:1/n?sslmode=disable", cfg.DSN())
}

func TestOverrideServerFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CORS_ORIGINS", "http://a,http://b")

	cfg := ServerConfig{Port: "8080"}
	OverrideServerFromEnv(&cfg)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.CORSOrigins)
}
