package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "CONFIG_PATH"

// DefaultPaths are searched in order when PathEnvVar is unset.
var DefaultPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/roomchat/config.yaml",
}

// envKeys maps the supported environment variables to koanf paths.
var envKeys = map[string]string{
	"SERVER_PORT":                "server.port",
	"ALLOWED_ORIGINS":            "server.allowed_origins",
	"MAX_MESSAGE_SIZE":           "server.max_message_size",
	"SHUTDOWN_TIMEOUT":           "server.shutdown_timeout",
	"RATE_LIMIT_BURST":           "rate_limit.burst",
	"RATE_LIMIT_REFILL_INTERVAL": "rate_limit.refill_interval",
	"DATABASE_PATH":              "database.path",
	"REDIS_ADDR":                 "redis.addr",
	"REDIS_PASSWORD":             "redis.password",
	"REDIS_DB":                   "redis.db",
	"REDIS_KEY_PREFIX":           "redis.key_prefix",
	"JWT_SECRET":                 "security.jwt_secret",
	"SESSION_TIMEOUT":            "security.session_timeout",
	"STORE_TIMEOUT":              "store.timeout",
	"STORE_BREAKER_MAX_FAILURES": "store.breaker_max_failures",
	"STORE_BREAKER_COOLDOWN":     "store.breaker_cooldown",
	"LOG_LEVEL":                  "logging.level",
	"LOG_FORMAT":                 "logging.format",
	"LOG_CALLER":                 "logging.caller",
}

// sliceKeys arrive from the environment as comma separated strings.
var sliceKeys = []string{"server.allowed_origins"}

// durationKeys accept a bare integer meaning seconds, as RATE_LIMIT_REFILL_INTERVAL always has.
var durationKeys = []string{
	"server.shutdown_timeout",
	"rate_limit.refill_interval",
	"security.session_timeout",
	"store.timeout",
	"store.breaker_cooldown",
}

// Load builds the configuration: defaults, then the config file if one is
// found, then environment variables. The result is sanitized and validated.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := normalize(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if path := os.Getenv(PathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range DefaultPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform drops every variable that is not in envKeys.
func envTransform(key string) string {
	return envKeys[key]
}

func normalize(k *koanf.Koanf) error {
	for _, path := range sliceKeys {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		if err := k.Set(path, parseList(raw)); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}

	for _, path := range durationKeys {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			if err := k.Set(path, strconv.Itoa(seconds)+"s"); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
