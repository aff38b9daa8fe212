package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the campaign scaler.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	Platform   PlatformConfig
	Engine     EngineConfig
	Cron       CronConfig
	Auth       AuthConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
	// AutoMigrate applies the embedded schema at startup.
	AutoMigrate bool
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// ClickHouseConfig configures the secondary execution log store.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     []string
	Database string
	Username string
	Password string
	Table    string
	TTLDays  int
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// PlatformConfig configures the ads platform client.
type PlatformConfig struct {
	BaseURL    string
	APIVersion string
	// TokenSource is "env" (AccessToken/AppSecret below) or "db" (platform_credentials table).
	TokenSource string
	AccessToken string
	AppSecret   string
	Timeout     time.Duration
	// RPS bounds outbound calls per process.
	RPS   float64
	Burst int
}

// EngineConfig holds scaling engine settings.
type EngineConfig struct {
	RetryAttempts int
	RetryDelay    time.Duration
	// MinDailyBudget is the platform floor in minor currency units.
	MinDailyBudget     int64
	PurchaseActionType string
	LockTTL            time.Duration
}

// CronConfig configures the in-process triggers.
type CronConfig struct {
	Enabled      bool
	Timezone     string
	MidnightHour int
}

// Location returns the configured business timezone.
func (c CronConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AuthConfig guards the manual trigger endpoints with a shared API key.
type AuthConfig struct {
	Enabled   bool
	APIKey    string
	SkipPaths []string
}

// RateLimitConfig bounds manual trigger requests per process.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("SCALER_HTTP_ADDR", ":8080"),
			Env:             getEnv("SCALER_ENV", "development"),
			ShutdownTimeout: getDurationEnv("SCALER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("SCALER_DB_HOST", "localhost"),
			Port:     getIntEnv("SCALER_DB_PORT", 5432),
			User:     getEnv("SCALER_DB_USER", "scaler"),
			Password: getEnv("SCALER_DB_PASSWORD", "scaler_secret"),
			DBName:   getEnv("SCALER_DB_NAME", "scaler"),
			SSLMode:  getEnv("SCALER_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("SCALER_DB_MAX_CONNS", 10),
			MinConns: getIntEnv("SCALER_DB_MIN_CONNS", 1),

			AutoMigrate: getBoolEnv("SCALER_DB_AUTO_MIGRATE", false),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("SCALER_CLICKHOUSE_ENABLED", true),
			Addr:     getSliceEnv("SCALER_CLICKHOUSE_ADDR", []string{"localhost:9000"}),
			Database: getEnv("SCALER_CLICKHOUSE_DB", "default"),
			Username: getEnv("SCALER_CLICKHOUSE_USER", "default"),
			Password: getEnv("SCALER_CLICKHOUSE_PASSWORD", ""),
			Table:    getEnv("SCALER_CLICKHOUSE_TABLE", "rule_execution_logs"),
			TTLDays:  getIntEnv("SCALER_CLICKHOUSE_TTL_DAYS", 30),
		},
		Redis: RedisConfig{
			Enabled:  getBoolEnv("SCALER_REDIS_ENABLED", true),
			Addr:     getEnv("SCALER_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("SCALER_REDIS_PASSWORD", ""),
			DB:       getIntEnv("SCALER_REDIS_DB", 0),
		},
		Platform: PlatformConfig{
			BaseURL:     getEnv("SCALER_PLATFORM_BASE_URL", "https://graph.facebook.com"),
			APIVersion:  getEnv("SCALER_PLATFORM_API_VERSION", "v19.0"),
			TokenSource: getEnv("SCALER_PLATFORM_TOKEN_SOURCE", "env"),
			AccessToken: getEnv("SCALER_PLATFORM_ACCESS_TOKEN", ""),
			AppSecret:   getEnv("SCALER_PLATFORM_APP_SECRET", ""),
			Timeout:     getDurationEnv("SCALER_PLATFORM_TIMEOUT", 30*time.Second),
			RPS:         getFloatEnv("SCALER_PLATFORM_RPS", 5),
			Burst:       getIntEnv("SCALER_PLATFORM_BURST", 5),
		},
		Engine: EngineConfig{
			RetryAttempts:      getIntEnv("SCALER_RETRY_ATTEMPTS", 3),
			RetryDelay:         getDurationEnv("SCALER_RETRY_DELAY", 2*time.Second),
			MinDailyBudget:     int64(getIntEnv("SCALER_MIN_DAILY_BUDGET", 100)),
			PurchaseActionType: getEnv("SCALER_PURCHASE_ACTION_TYPE", "omni_purchase"),
			LockTTL:            getDurationEnv("SCALER_LOCK_TTL", 50*time.Minute),
		},
		Cron: CronConfig{
			Enabled:      getBoolEnv("SCALER_CRON_ENABLED", true),
			Timezone:     getEnv("SCALER_TIMEZONE", "UTC"),
			MidnightHour: getIntEnv("SCALER_MIDNIGHT_HOUR", 0),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("SCALER_AUTH_ENABLED", false),
			APIKey:    getEnv("SCALER_API_KEY", ""),
			SkipPaths: getSliceEnv("SCALER_AUTH_SKIP_PATHS", []string{"/health", "/metrics"}),
		},
		RateLimit: RateLimitConfig{
			Enabled: getBoolEnv("SCALER_RATE_LIMIT_ENABLED", true),
			RPS:     getFloatEnv("SCALER_RATE_LIMIT_RPS", 1),
			Burst:   getIntEnv("SCALER_RATE_LIMIT_BURST", 5),
		},
		Log: LogConfig{
			Level:  getEnv("SCALER_LOG_LEVEL", "info"),
			Format: getEnv("SCALER_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("SCALER_METRICS_ENABLED", true),
			Path:    getEnv("SCALER_METRICS_PATH", "/metrics"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	switch c.Platform.TokenSource {
	case "env":
		if c.Platform.AccessToken == "" {
			return fmt.Errorf("SCALER_PLATFORM_ACCESS_TOKEN is required when token source is env")
		}
	case "db":
	default:
		return fmt.Errorf("SCALER_PLATFORM_TOKEN_SOURCE must be env or db, got %q", c.Platform.TokenSource)
	}
	if _, err := time.LoadLocation(c.Cron.Timezone); err != nil {
		return fmt.Errorf("invalid SCALER_TIMEZONE %q: %w", c.Cron.Timezone, err)
	}
	if c.Cron.MidnightHour < 0 || c.Cron.MidnightHour > 23 {
		return fmt.Errorf("SCALER_MIDNIGHT_HOUR must be between 0 and 23")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("SCALER_API_KEY is required when auth is enabled")
	}
	if c.Engine.RetryAttempts < 1 {
		return fmt.Errorf("SCALER_RETRY_ATTEMPTS must be at least 1")
	}
	if c.Engine.MinDailyBudget < 0 {
		return fmt.Errorf("SCALER_MIN_DAILY_BUDGET must not be negative")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
