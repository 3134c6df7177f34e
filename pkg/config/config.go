package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/agent-registry/pkg/store"
)

// Config holds server configuration.
type Config struct {
	Port            string          `yaml:"port"`
	LogLevel        string          `yaml:"log_level"`
	Store           StoreConfig     `yaml:"store"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Auth            AuthConfig      `yaml:"auth"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
	AdmissionPolicy string          `yaml:"admission_policy"`
	CORSOrigins     []string        `yaml:"cors_origins"`
	AuditMaxEntries int             `yaml:"audit_max_entries"` // bounds the in-memory audit log
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver         string `yaml:"driver"` // memory | sqlite | postgres | redis | s3 | gcs
	DatabaseURL    string `yaml:"database_url"`
	SQLitePath     string `yaml:"sqlite_path"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	MemoryCapacity int    `yaml:"memory_capacity"`
	ObjectBucket   string `yaml:"object_bucket"`
	ObjectPrefix   string `yaml:"object_prefix"`
	S3Region       string `yaml:"s3_region"`
	S3Endpoint     string `yaml:"s3_endpoint"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AuthConfig struct {
	MaxTokenAge  time.Duration `yaml:"max_token_age"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	Environment string `yaml:"environment"`
}

// Default returns the development defaults: in-memory store, telemetry off.
func Default() *Config {
	return &Config{
		Port:     "8080",
		LogLevel: "INFO",
		Store: StoreConfig{
			Driver:     store.DriverMemory,
			SQLitePath: "agentreg.db",
		},
		RateLimit: RateLimitConfig{RPS: 20, Burst: 40},
		Auth: AuthConfig{
			MaxTokenAge:  5 * time.Minute,
			MaxBodyBytes: 64 << 10,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Environment: "development",
		},
		AuditMaxEntries: 100_000,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// AGENTREG_CONFIG (if set), then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("AGENTREG_CONFIG"); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML config file over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("PORT", &c.Port)
	setString("LOG_LEVEL", &c.LogLevel)
	setString("STORE_DRIVER", &c.Store.Driver)
	setString("DATABASE_URL", &c.Store.DatabaseURL)
	setString("SQLITE_PATH", &c.Store.SQLitePath)
	setString("REDIS_ADDR", &c.Store.RedisAddr)
	setString("REDIS_PASSWORD", &c.Store.RedisPassword)
	setString("OBJECT_BUCKET", &c.Store.ObjectBucket)
	setString("OBJECT_PREFIX", &c.Store.ObjectPrefix)
	setString("AWS_REGION", &c.Store.S3Region)
	setString("S3_REGION", &c.Store.S3Region)
	setString("S3_ENDPOINT", &c.Store.S3Endpoint)
	setString("OTEL_ENDPOINT", &c.Telemetry.Endpoint)
	setString("ADMISSION_POLICY", &c.AdmissionPolicy)

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Store.RedisDB = n
	}
	if v := os.Getenv("AUDIT_MAX_ENTRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUDIT_MAX_ENTRIES: %w", err)
		}
		c.AuditMaxEntries = n
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
		c.RateLimit.RPS = f
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_BURST: %w", err)
		}
		c.RateLimit.Burst = n
	}
	if v := os.Getenv("AUTH_MAX_TOKEN_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AUTH_MAX_TOKEN_AGE: %w", err)
		}
		c.Auth.MaxTokenAge = d
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true"
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case store.DriverMemory, store.DriverSQLite, store.DriverPostgres, store.DriverRedis:
	case store.DriverS3, store.DriverGCS:
		if c.Store.ObjectBucket == "" {
			return fmt.Errorf("store driver %q requires an object bucket", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Port == "" {
		return fmt.Errorf("port must be set")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit must be positive (rps=%v burst=%d)", c.RateLimit.RPS, c.RateLimit.Burst)
	}
	if c.Auth.MaxTokenAge <= 0 {
		return fmt.Errorf("auth max token age must be positive")
	}
	if c.AuditMaxEntries <= 0 {
		return fmt.Errorf("audit max entries must be positive")
	}
	return nil
}

// SlogLevel maps LogLevel onto slog. Unknown values fall back to INFO.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StoreOptions converts the store section for store.Open.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Driver:         c.Store.Driver,
		DatabaseURL:    c.Store.DatabaseURL,
		SQLitePath:     c.Store.SQLitePath,
		RedisAddr:      c.Store.RedisAddr,
		RedisPassword:  c.Store.RedisPassword,
		RedisDB:        c.Store.RedisDB,
		MemoryCapacity: c.Store.MemoryCapacity,
		ObjectBucket:   c.Store.ObjectBucket,
		ObjectPrefix:   c.Store.ObjectPrefix,
		S3Region:       c.Store.S3Region,
		S3Endpoint:     c.Store.S3Endpoint,
	}
}
