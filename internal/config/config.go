package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	AppName     = "noblelift-client"
	EnvFileName = "config.env"

	// DefaultAPIBaseURL is used when neither base URL variable is set.
	DefaultAPIBaseURL = "http://localhost:8000/api/v1"

	DefaultTimeout   = 30 * time.Second
	DefaultKeepAlive = 15 * time.Minute
)

// Base URL variables in precedence order.
const (
	EnvAPIBaseURL         = "NOBLELIFT_API_BASE_URL"
	EnvAPIBaseURLFallback = "API_BASE_URL"
)

const (
	EnvDBPath      = "NOBLELIFT_DB_PATH"
	EnvTokenKey    = "NOBLELIFT_TOKEN_KEY"
	EnvTimeout     = "NOBLELIFT_TIMEOUT"
	EnvKeepAlive   = "NOBLELIFT_KEEPALIVE"
	EnvMetricsAddr = "NOBLELIFT_METRICS_ADDR"
	EnvLogLevel    = "NOBLELIFT_LOG_LEVEL"

	// EnvEmail prefills the login prompt.
	EnvEmail = "NOBLELIFT_EMAIL"
)

// Config holds the resolved client configuration.
type Config struct {
	APIBaseURL string
	DBPath     string
	// TokenKey is the passphrase for at-rest token encryption. When empty,
	// tokens live in memory only and a restart requires a new login.
	TokenKey    string
	Timeout     time.Duration
	KeepAlive   time.Duration
	MetricsAddr string
	LogLevel    string
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
// Variables already present in the environment win over the file.
func LoadEnvFile() {
	_ = godotenv.Load(ConfigPath(EnvFileName))
}

// Load resolves the configuration from the environment.
func Load() Config {
	dbPath := os.Getenv(EnvDBPath)
	if dbPath == "" {
		dbPath = ConfigPath("session.db")
	}

	return Config{
		APIBaseURL:  APIBaseURL(),
		DBPath:      dbPath,
		TokenKey:    os.Getenv(EnvTokenKey),
		Timeout:     durationEnv(EnvTimeout, DefaultTimeout),
		KeepAlive:   durationEnv(EnvKeepAlive, DefaultKeepAlive),
		MetricsAddr: os.Getenv(EnvMetricsAddr),
		LogLevel:    os.Getenv(EnvLogLevel),
	}
}

// APIBaseURL returns the API base URL using precedence:
// NOBLELIFT_API_BASE_URL > API_BASE_URL > DefaultAPIBaseURL.
func APIBaseURL() string {
	for _, name := range []string{EnvAPIBaseURL, EnvAPIBaseURLFallback} {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return DefaultAPIBaseURL
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Warn().Str("var", name).Str("value", raw).Msg("invalid duration, using default")
		return fallback
	}
	return d
}

// ConfigDir returns the XDG config directory for the app.
// Uses $XDG_CONFIG_HOME/noblelift-client or ~/.config/noblelift-client
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", AppName)
}

// ConfigPath returns the full path to a config file.
func ConfigPath(filename string) string {
	return filepath.Join(ConfigDir(), filename)
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	return os.MkdirAll(ConfigDir(), 0700)
}
