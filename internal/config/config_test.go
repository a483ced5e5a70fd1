package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAPIBaseURL_Precedence(t *testing.T) {
	t.Setenv(EnvAPIBaseURL, "")
	t.Setenv(EnvAPIBaseURLFallback, "")
	assert.Equal(t, DefaultAPIBaseURL, APIBaseURL())

	t.Setenv(EnvAPIBaseURLFallback, "http://fallback/api/v1")
	assert.Equal(t, "http://fallback/api/v1", APIBaseURL())

	t.Setenv(EnvAPIBaseURL, "http://primary/api/v1")
	assert.Equal(t, "http://primary/api/v1", APIBaseURL())
}

func TestLoad_Defaults(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	t.Setenv(EnvDBPath, "")
	t.Setenv(EnvTimeout, "")
	t.Setenv(EnvKeepAlive, "")
	t.Setenv(EnvTokenKey, "")

	cfg := Load()
	assert.Equal(t, filepath.Join(xdg, AppName, "session.db"), cfg.DBPath)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultKeepAlive, cfg.KeepAlive)
	assert.Empty(t, cfg.TokenKey)
}

func TestLoad_Durations(t *testing.T) {
	t.Setenv(EnvTimeout, "5s")
	t.Setenv(EnvKeepAlive, "not-a-duration")

	cfg := Load()
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, DefaultKeepAlive, cfg.KeepAlive)
}
