// Package config loads RoomChat settings from built-in defaults, an optional
// YAML file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds every tunable of the server process.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Security  SecurityConfig  `koanf:"security"`
	Store     StoreConfig     `koanf:"store"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds the HTTP and websocket listener settings.
type ServerConfig struct {
	Port            string        `koanf:"port"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	MaxMessageSize  int64         `koanf:"max_message_size"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `koanf:"burst"`
	RefillInterval time.Duration `koanf:"refill_interval"`
}

// DatabaseConfig points at the sqlite database file.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// RedisConfig enables session-id tokens when Addr is set.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// SecurityConfig holds the token signing settings.
type SecurityConfig struct {
	JWTSecret      string        `koanf:"jwt_secret"`
	SessionTimeout time.Duration `koanf:"session_timeout"`
}

// StoreConfig bounds every datastore call.
type StoreConfig struct {
	Timeout            time.Duration `koanf:"timeout"`
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerCooldown    time.Duration `koanf:"breaker_cooldown"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// MinJWTSecretLength is the shortest accepted signing secret.
const MinJWTSecretLength = 32

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: ":8080",
			AllowedOrigins: []string{
				"http://localhost:8080",
			},
			MaxMessageSize:  512,
			ShutdownTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Database: DatabaseConfig{
			Path: "roomchat.db",
		},
		Redis: RedisConfig{
			KeyPrefix: "roomchat:",
		},
		Security: SecurityConfig{
			SessionTimeout: 24 * time.Hour,
		},
		Store: StoreConfig{
			Timeout:            5 * time.Second,
			BreakerMaxFailures: 5,
			BreakerCooldown:    30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns a Config populated with default values for all settings.
func Default() *Config {
	return defaultConfig()
}

// sanitize replaces zero or negative values with their defaults.
func (c *Config) sanitize() {
	def := defaultConfig()

	if c.Server.Port == "" {
		c.Server.Port = def.Server.Port
	}
	if c.Server.MaxMessageSize <= 0 {
		c.Server.MaxMessageSize = def.Server.MaxMessageSize
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.Store.Timeout <= 0 {
		c.Store.Timeout = def.Store.Timeout
	}
	if c.Store.BreakerMaxFailures == 0 {
		c.Store.BreakerMaxFailures = def.Store.BreakerMaxFailures
	}
	if c.Store.BreakerCooldown <= 0 {
		c.Store.BreakerCooldown = def.Store.BreakerCooldown
	}
	if c.Security.SessionTimeout <= 0 {
		c.Security.SessionTimeout = def.Security.SessionTimeout
	}
}

// Validate reports settings the process cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Security.JWTSecret) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("security.jwt_secret must be at least %d characters", MinJWTSecretLength))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	return errors.Join(errs...)
}
