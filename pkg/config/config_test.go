package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Auth.AllowInsecureSecret = false
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	return cfg
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "insecure default secret without opt-in",
			mutate: func(c *Config) { c.Auth.JWTSecret = InsecureDefaultSecret },
		},
		{
			name:   "empty secret",
			mutate: func(c *Config) { c.Auth.JWTSecret = "" },
		},
		{
			name:   "token ttl must be > 0",
			mutate: func(c *Config) { c.Auth.TokenTTL = 0 },
		},
		{
			name:   "pong timeout must exceed ping interval",
			mutate: func(c *Config) { c.Realtime.PongTimeout = c.Realtime.PingInterval },
		},
		{
			name:   "outbox size must be > 0",
			mutate: func(c *Config) { c.Realtime.OutboxSize = 0 },
		},
		{
			name:   "realtime path must be absolute",
			mutate: func(c *Config) { c.Realtime.Path = "ws" },
		},
		{
			name:   "frame burst required with frame rate",
			mutate: func(c *Config) { c.Realtime.FrameBurst = 0 },
		},
		{
			name:   "notification workers must be > 0",
			mutate: func(c *Config) { c.Notifications.Workers = 0 },
		},
		{
			name:   "breaker threshold must be > 0",
			mutate: func(c *Config) { c.Storage.Resilience.BreakerThreshold = 0 },
		},
		{
			name:   "unknown storage backend",
			mutate: func(c *Config) { c.Storage.Backend = "mongo" },
		},
		{
			name: "postgres backend needs dsn",
			mutate: func(c *Config) {
				c.Storage.Backend = "postgres"
				c.Storage.Postgres.DSN = ""
			},
		},
		{
			name: "events need redis address",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Storage.Redis.Address = ""
			},
		},
		{
			name:   "http rps must be > 0",
			mutate: func(c *Config) { c.RateLimiting.HTTP.RequestsPerSecond = 0 },
		},
		{
			name:   "http burst must be > 0",
			mutate: func(c *Config) { c.RateLimiting.HTTP.Burst = 0 },
		},
		{
			name:   "http max concurrent must be >= 0",
			mutate: func(c *Config) { c.RateLimiting.HTTP.MaxConcurrent = -1 },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestValidate_InsecureSecretAllowedWithOptIn(t *testing.T) {
	cfg := validBaseConfig()
	cfg.Auth.JWTSecret = InsecureDefaultSecret
	cfg.Auth.AllowInsecureSecret = true

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected insecure secret to be accepted with opt-in, got: %v", err)
	}
}

func TestLoad_YAMLThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arenalink.yaml")
	yaml := `
server:
  address: ":9090"
auth:
  jwt_secret: "yaml-secret-yaml-secret-yaml-secret"
  allow_insecure_secret: false
  reject_anonymous: false
realtime:
  outbox_size: 32
notifications:
  workers: 2
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("ARENALINK_REJECT_ANONYMOUS", "true")
	t.Setenv("ARENALINK_TOKEN_TTL", "15m")
	t.Setenv("ARENALINK_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("expected address from yaml, got %q", cfg.Server.Address)
	}
	if cfg.Realtime.OutboxSize != 32 || cfg.Notifications.Workers != 2 {
		t.Fatalf("yaml values not applied: outbox=%d workers=%d", cfg.Realtime.OutboxSize, cfg.Notifications.Workers)
	}
	if cfg.Realtime.PingInterval != 25*time.Second {
		t.Fatalf("expected default ping interval to survive, got %v", cfg.Realtime.PingInterval)
	}
	if !cfg.Auth.RejectAnonymous {
		t.Fatalf("expected env override for reject_anonymous")
	}
	if cfg.Auth.TokenTTL != 15*time.Minute {
		t.Fatalf("expected token ttl 15m, got %v", cfg.Auth.TokenTTL)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected log level debug, got %q", cfg.Logging.Level)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected memory backend, got %q", cfg.Storage.Backend)
	}
}

func TestLoad_InvalidEnvBool(t *testing.T) {
	t.Setenv("ARENALINK_EVENTS_ENABLED", "maybe")

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for invalid boolean override")
	}
}
