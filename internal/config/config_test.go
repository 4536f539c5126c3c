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
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9090\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "memory", cfg.Cache.Kind)
	assert.Equal(t, 10*time.Minute, cfg.Auth.StateTTL.D())
	assert.Equal(t, 24*time.Hour, cfg.Auth.Session.TTL.D())
	assert.Equal(t, "sa_session", cfg.Auth.Session.CookieName)
	assert.Equal(t, 3*time.Minute, cfg.Refresher.Interval.D())
	assert.Equal(t, 6, cfg.Refresher.MaxAttempts)
	assert.Equal(t, 10, cfg.Rate.Login.Limit)
}

func TestLoad_ParsesDurations(t *testing.T) {
	path := writeConfig(t, `
auth:
  state_ttl: 5m
  session:
    ttl: 48h
refresher:
  interval: 90s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Auth.StateTTL.D())
	assert.Equal(t, 48*time.Hour, cfg.Auth.Session.TTL.D())
	assert.Equal(t, 90*time.Second, cfg.Refresher.Interval.D())
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, "auth:\n  state_ttl: banana\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_TrimsBaseURL(t *testing.T) {
	path := writeConfig(t, "server:\n  base_url: \"https://auth.example.com/\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com", cfg.Server.BaseURL)
}

func TestSecretsFallBackToEnv(t *testing.T) {
	t.Setenv("SOCIALAUTH_TOKEN_KEY", "token-key-from-env")
	t.Setenv("SOCIALAUTH_SESSION_KEY", "session-key-from-env")
	t.Setenv("GOOGLE_CLIENT_ID", "gid")
	t.Setenv("GOOGLE_CLIENT_SECRET", "gsecret")

	path := writeConfig(t, "providers:\n  google:\n    enabled: true\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "token-key-from-env", cfg.Security.TokenCipherKey)
	assert.Equal(t, "session-key-from-env", cfg.Auth.Session.SigningKey)
	assert.Equal(t, "gid", cfg.Providers.Google.ClientID)
	assert.Equal(t, "gsecret", cfg.Providers.Google.ClientSecret)

	assert.NoError(t, cfg.Validate())
}

func TestValidate_RequiresSecrets(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())

	cfg.Security.TokenCipherKey = "k"
	require.Error(t, cfg.Validate())

	cfg.Auth.Session.SigningKey = "s"
	require.NoError(t, cfg.Validate())

	cfg.Storage.Driver = "postgres"
	require.Error(t, cfg.Validate(), "postgres requires dsn")

	cfg.Storage.DSN = "postgres://localhost/db"
	require.NoError(t, cfg.Validate())
}
