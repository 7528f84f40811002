// Package config loads client configuration for privateprompt.
// Values are resolved with the precedence: environment variables > .env file
// > built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"privateprompt/internal/logger"
)

// Configuration keys understood by the client.
const (
	KeyRelayURL       = "relay_url"
	KeyTokenFile      = "token_file"
	KeyRequestTimeout = "request_timeout"
	KeySessionTTL     = "session_ttl"
)

// Config holds the resolved client configuration.
type Config struct {
	// RelayURL is the base URL of the prompt-relay service.
	RelayURL string

	// TokenFile is the path of the persisted session credential record.
	TokenFile string

	// RequestTimeout bounds each relay HTTP request.
	RequestTimeout time.Duration

	// SessionTTL is the credential lifetime assumed when the issuance
	// response does not state one.
	SessionTTL time.Duration
}

// Load resolves the client configuration. A .env file in the working
// directory is loaded first when present; real environment variables win
// over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	} else {
		logger.Debug("Loaded .env file")
	}

	v := viper.New()
	v.SetEnvPrefix("PRIVATEPROMPT")
	v.AutomaticEnv()

	v.SetDefault(KeyRelayURL, "http://localhost:5000")
	v.SetDefault(KeyTokenFile, defaultTokenFile())
	v.SetDefault(KeyRequestTimeout, "30s")
	v.SetDefault(KeySessionTTL, "24h")

	cfg := &Config{
		RelayURL:  v.GetString(KeyRelayURL),
		TokenFile: v.GetString(KeyTokenFile),
	}

	timeout := v.GetDuration(KeyRequestTimeout)
	if timeout <= 0 {
		return nil, fmt.Errorf("invalid %s value: %q", KeyRequestTimeout, v.GetString(KeyRequestTimeout))
	}
	cfg.RequestTimeout = timeout

	ttl := v.GetDuration(KeySessionTTL)
	if ttl <= 0 {
		return nil, fmt.Errorf("invalid %s value: %q", KeySessionTTL, v.GetString(KeySessionTTL))
	}
	cfg.SessionTTL = ttl

	if cfg.RelayURL == "" {
		return nil, fmt.Errorf("%s must not be empty", KeyRelayURL)
	}

	logger.Debug("Configuration loaded",
		"relay_url", cfg.RelayURL,
		"token_file", cfg.TokenFile,
		"request_timeout", cfg.RequestTimeout.String(),
		"session_ttl", cfg.SessionTTL.String())

	return cfg, nil
}

// defaultTokenFile places the credential record under the user's home
// directory, falling back to the working directory when home is unknown.
func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".privateprompt-token.json"
	}
	return filepath.Join(home, ".privateprompt", "token.json")
}
