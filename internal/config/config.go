package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds everything the server consumes as plain values: the accepted
// credentials, the protocol limits and timeouts, and the listen address.
type Config struct {
	Addr                 string
	APIKeys              []string
	SupportedVersions    []string
	MaxRequestSize       int
	BufferSize           int
	AuthorizationTimeout time.Duration
	IdleTimeout          time.Duration
	ClientLimit          int
	RateLimit            RateLimit
}

// RateLimit configures the per-connection token bucket for inbound
// messages.
type RateLimit struct {
	Enabled           bool
	MessagesPerSecond float64
	Burst             int
}

// Default returns the configuration the server ships with. API keys and
// supported versions are empty, so no client can authorize until they are
// set.
func Default() *Config {
	return &Config{
		Addr:                 ":8080",
		MaxRequestSize:       4096,
		BufferSize:           4096,
		AuthorizationTimeout: 5 * time.Second,
		IdleTimeout:          time.Minute,
		ClientLimit:          5,
		RateLimit: RateLimit{
			Enabled:           true,
			MessagesPerSecond: 100,
			Burst:             200,
		},
	}
}

// Load reads the configuration from an optional config file and the
// environment. A .env file in the working directory is loaded first;
// environment variables use the ROOMARCH_ prefix with dots replaced by
// underscores (e.g. ROOMARCH_RATE_LIMIT_BURST).
func Load(path string) (*Config, error) {
	// Missing .env is the normal case outside development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("roomarch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("api_keys", cfg.APIKeys)
	v.SetDefault("supported_versions", cfg.SupportedVersions)
	v.SetDefault("max_request_size", cfg.MaxRequestSize)
	v.SetDefault("buffer_size", cfg.BufferSize)
	v.SetDefault("authorization_timeout", cfg.AuthorizationTimeout)
	v.SetDefault("idle_timeout", cfg.IdleTimeout)
	v.SetDefault("client_limit", cfg.ClientLimit)
	v.SetDefault("rate_limit.enabled", cfg.RateLimit.Enabled)
	v.SetDefault("rate_limit.messages_per_second", cfg.RateLimit.MessagesPerSecond)
	v.SetDefault("rate_limit.burst", cfg.RateLimit.Burst)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.Addr = v.GetString("addr")
	cfg.APIKeys = v.GetStringSlice("api_keys")
	cfg.SupportedVersions = v.GetStringSlice("supported_versions")
	cfg.MaxRequestSize = v.GetInt("max_request_size")
	cfg.BufferSize = v.GetInt("buffer_size")
	cfg.AuthorizationTimeout = v.GetDuration("authorization_timeout")
	cfg.IdleTimeout = v.GetDuration("idle_timeout")
	cfg.ClientLimit = v.GetInt("client_limit")
	cfg.RateLimit.Enabled = v.GetBool("rate_limit.enabled")
	cfg.RateLimit.MessagesPerSecond = v.GetFloat64("rate_limit.messages_per_second")
	cfg.RateLimit.Burst = v.GetInt("rate_limit.burst")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxRequestSize <= 0 {
		return fmt.Errorf("max_request_size must be positive, got %d", c.MaxRequestSize)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.ClientLimit <= 0 {
		return fmt.Errorf("client_limit must be positive, got %d", c.ClientLimit)
	}
	if c.AuthorizationTimeout <= 0 || c.IdleTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	return nil
}
