package config_test

import (
	"testing"
	"time"

	"github.com/mantlekit/element/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("PLATFORM_BASE_URL", "https://platform.test")
	t.Setenv("ELEMENT_CLIENT_ID", "client-1")
	t.Setenv("ELEMENT_CLIENT_SECRET", "secret-1")
}

func TestLoad_MissingBaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("PLATFORM_BASE_URL", "")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PLATFORM_BASE_URL")
}

func TestLoad_MissingClientSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("ELEMENT_CLIENT_SECRET", "")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ELEMENT_CLIENT_SECRET")
}

func TestLoad_MissingDBDSN(t *testing.T) {
	// DB_DSN is only required when DB_DRIVER=postgres.
	setRequired(t)
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
}

func TestLoad_SQLiteNoDBDSN(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", "")
	_, err := config.Load()
	require.NoError(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 15*time.Second, cfg.Platform.HTTPTimeout)
	assert.Equal(t, 3, cfg.Platform.RetryMax)
	assert.Equal(t, "read:apps,read:customers,write:customers", cfg.Platform.ExchangeScope)
	assert.Equal(t, 12*time.Hour, cfg.Cookie.MaxAge)
	assert.Equal(t, "lax", cfg.Cookie.SameSite)
	assert.True(t, cfg.Cookie.Secure)
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("PLATFORM_HTTP_TIMEOUT", "soon")
	_, err := config.Load()
	require.Error(t, err)
}
