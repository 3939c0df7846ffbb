package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"arenalink/pkg/tracing"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// InsecureDefaultSecret is the development signing key. Validate refuses it
// unless auth.allow_insecure_secret is set.
const InsecureDefaultSecret = "change-me-in-production"

const envPrefix = "ARENALINK_"

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Realtime struct {
		Path           string        `yaml:"path"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		OutboxSize     int           `yaml:"outbox_size"`
		MaxFrameSize   int64         `yaml:"max_frame_size"`
		MaxConnections int           `yaml:"max_connections"`
		FrameRate      float64       `yaml:"frame_rate"`
		FrameBurst     int           `yaml:"frame_burst"`
		RegistryShards int           `yaml:"registry_shards"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"realtime"`

	Auth struct {
		JWTSecret           string        `yaml:"jwt_secret"`
		TokenTTL            time.Duration `yaml:"token_ttl"`
		RejectAnonymous     bool          `yaml:"reject_anonymous"`
		AllowInsecureSecret bool          `yaml:"allow_insecure_secret"`
	} `yaml:"auth"`

	Notifications struct {
		Workers   int `yaml:"workers"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"notifications"`

	Events struct {
		Enabled bool   `yaml:"enabled"`
		Channel string `yaml:"channel"`
	} `yaml:"events"`

	Storage struct {
		// Backend selects the account stores: memory, redis or postgres.
		Backend  string `yaml:"backend"`
		SeedPath string `yaml:"seed_path"`

		Postgres struct {
			DSN           string `yaml:"dsn"`
			MaxConns      int32  `yaml:"max_conns"`
			MinConns      int32  `yaml:"min_conns"`
			RunMigrations bool   `yaml:"run_migrations"`
		} `yaml:"postgres"`

		Redis struct {
			Address  string `yaml:"address"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`

		// Resilience guards the external (redis, postgres) account stores.
		Resilience struct {
			RetryAttempts    int           `yaml:"retry_attempts"`
			RetryDelay       time.Duration `yaml:"retry_delay"`
			BreakerThreshold int           `yaml:"breaker_threshold"`
			BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
		} `yaml:"resilience"`
	} `yaml:"storage"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Tracing tracing.Config `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// UsesRedis reports whether any component needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Storage.Backend == "redis" || c.Events.Enabled
}

func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be > 0")
	}

	if !strings.HasPrefix(c.Realtime.Path, "/") {
		return fmt.Errorf("realtime.path must start with '/'")
	}
	if c.Realtime.PingInterval <= 0 {
		return fmt.Errorf("realtime.ping_interval must be > 0")
	}
	if c.Realtime.PongTimeout <= c.Realtime.PingInterval {
		return fmt.Errorf("realtime.pong_timeout must be greater than realtime.ping_interval")
	}
	if c.Realtime.WriteTimeout <= 0 || c.Realtime.ConnectTimeout <= 0 {
		return fmt.Errorf("realtime.write_timeout and realtime.connect_timeout must be > 0")
	}
	if c.Realtime.OutboxSize <= 0 {
		return fmt.Errorf("realtime.outbox_size must be > 0")
	}
	if c.Realtime.MaxFrameSize <= 0 {
		return fmt.Errorf("realtime.max_frame_size must be > 0")
	}
	if c.Realtime.MaxConnections <= 0 {
		return fmt.Errorf("realtime.max_connections must be > 0")
	}
	if c.Realtime.FrameRate < 0 {
		return fmt.Errorf("realtime.frame_rate must be >= 0")
	}
	if c.Realtime.FrameRate > 0 && c.Realtime.FrameBurst <= 0 {
		return fmt.Errorf("realtime.frame_burst must be > 0 when frame_rate is set")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.JWTSecret == InsecureDefaultSecret && !c.Auth.AllowInsecureSecret {
		return fmt.Errorf("auth.jwt_secret is the insecure default; set a real secret or auth.allow_insecure_secret")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	if c.Notifications.Workers <= 0 || c.Notifications.QueueSize <= 0 {
		return fmt.Errorf("notifications.workers and notifications.queue_size must be > 0")
	}
	if c.Events.Enabled && c.Events.Channel == "" {
		return fmt.Errorf("events.channel must not be empty when events.enabled=true")
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must not be empty when storage.backend=postgres")
		}
		if c.Storage.Postgres.MinConns > c.Storage.Postgres.MaxConns {
			return fmt.Errorf("storage.postgres.min_conns must be <= max_conns")
		}
	case "redis":
	default:
		return fmt.Errorf("storage.backend must be one of memory, redis, postgres (got %q)", c.Storage.Backend)
	}
	if r := c.Storage.Resilience; r.RetryAttempts < 0 || r.RetryDelay < 0 || r.BreakerThreshold <= 0 || r.BreakerCooldown <= 0 {
		return fmt.Errorf("storage.resilience: retry values must be >= 0, breaker threshold and cooldown > 0")
	}
	if c.UsesRedis() {
		if c.Storage.Redis.Address == "" {
			return fmt.Errorf("storage.redis.address must not be empty")
		}
		if c.Storage.Redis.PoolSize <= 0 {
			return fmt.Errorf("storage.redis.pool_size must be > 0")
		}
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads .env (when present), then the YAML file at configPath (when
// present) over the defaults, then ARENALINK_* environment overrides.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Realtime.Path = "/ws"
	cfg.Realtime.PingInterval = 25 * time.Second
	cfg.Realtime.PongTimeout = 60 * time.Second
	cfg.Realtime.WriteTimeout = 10 * time.Second
	cfg.Realtime.ConnectTimeout = 10 * time.Second
	cfg.Realtime.OutboxSize = 256
	cfg.Realtime.MaxFrameSize = 64 * 1024
	cfg.Realtime.MaxConnections = 10000
	cfg.Realtime.FrameRate = 50
	cfg.Realtime.FrameBurst = 100
	cfg.Realtime.RegistryShards = 32
	cfg.Realtime.AllowedOrigins = []string{"*"}

	cfg.Auth.JWTSecret = InsecureDefaultSecret
	cfg.Auth.TokenTTL = 24 * time.Hour
	cfg.Auth.RejectAnonymous = false
	cfg.Auth.AllowInsecureSecret = true

	cfg.Notifications.Workers = 4
	cfg.Notifications.QueueSize = 1024

	cfg.Events.Enabled = false
	cfg.Events.Channel = "arenalink:notifications"

	cfg.Storage.Backend = "memory"
	cfg.Storage.Postgres.MaxConns = 10
	cfg.Storage.Postgres.MinConns = 2
	cfg.Storage.Postgres.RunMigrations = true
	cfg.Storage.Redis.Address = "localhost:6379"
	cfg.Storage.Redis.PoolSize = 10
	cfg.Storage.Resilience.RetryAttempts = 2
	cfg.Storage.Resilience.RetryDelay = 50 * time.Millisecond
	cfg.Storage.Resilience.BreakerThreshold = 5
	cfg.Storage.Resilience.BreakerCooldown = 10 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Tracing = tracing.DefaultConfig()

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"SERVER_ADDRESS":  &c.Server.Address,
		"LOG_LEVEL":       &c.Logging.Level,
		"LOG_FORMAT":      &c.Logging.Format,
		"JWT_SECRET":      &c.Auth.JWTSecret,
		"STORAGE_BACKEND": &c.Storage.Backend,
		"SEED_PATH":       &c.Storage.SeedPath,
		"POSTGRES_DSN":    &c.Storage.Postgres.DSN,
		"REDIS_ADDRESS":   &c.Storage.Redis.Address,
		"REDIS_PASSWORD":  &c.Storage.Redis.Password,
		"EVENTS_CHANNEL":  &c.Events.Channel,
		"JAEGER_URL":      &c.Tracing.JaegerURL,
	}
	for name, target := range strs {
		if v := os.Getenv(envPrefix + name); v != "" {
			*target = v
		}
	}

	bools := map[string]*bool{
		"REJECT_ANONYMOUS":      &c.Auth.RejectAnonymous,
		"ALLOW_INSECURE_SECRET": &c.Auth.AllowInsecureSecret,
		"EVENTS_ENABLED":        &c.Events.Enabled,
		"TRACING_ENABLED":       &c.Tracing.Enabled,
		"RATE_LIMITING_ENABLED": &c.RateLimiting.Enabled,
	}
	for name, target := range bools {
		if v := os.Getenv(envPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
			}
			*target = b
		}
	}

	if v := os.Getenv(envPrefix + "TOKEN_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sTOKEN_TTL: %w", envPrefix, err)
		}
		c.Auth.TokenTTL = ttl
	}
	return nil
}
