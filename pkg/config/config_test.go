package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GIGACHAT_API_KEY", "dGVzdC1rZXk=")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "postgres")
	t.Setenv("DB_NAME", "invoices")
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dGVzdC1rZXk=", cfg.GigaChat.APIKey)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "invoices", cfg.Database.DBName)

	// Defaults
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, "GIGACHAT_API_PERS", cfg.GigaChat.Scope)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("GIGACHAT_INSECURE_SKIP_VERIFY", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.False(t, cfg.GigaChat.InsecureSkipVerify)
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GIGACHAT_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GIGACHAT_API_KEY")
}

func TestLoad_MissingDatabaseSetting(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}
